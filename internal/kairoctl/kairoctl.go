// Package kairoctl is the command-line client for the control plane. Its deploy
// command provisions the caller's instance and waits for it to come up.
package kairoctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kiranshivaraju/kairo/internal/health"
)

// Commands understood by Run.
const (
	CmdDeploy = "deploy"
	CmdStatus = "status"
	CmdDelete = "delete"
)

// Config holds the parsed command line.
type Config struct {
	URL          string
	Token        string
	Command      string
	Interval     time.Duration
	MaxAttempts  int
	InstanceHTTP bool
}

// ParseConfig parses flags into a Config. The session token defaults to
// $KAIRO_SESSION and the server URL to $KAIRO_URL.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{
		URL:         envOr("KAIRO_URL", "http://localhost:8080"),
		Token:       os.Getenv("KAIRO_SESSION"),
		Interval:    health.DefaultInterval,
		MaxAttempts: health.DefaultMaxAttempts,
	}
	fs.StringVar(&cfg.URL, "url", cfg.URL, "control plane base URL")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "session token")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "health poll interval")
	fs.IntVar(&cfg.MaxAttempts, "attempts", cfg.MaxAttempts, "health poll attempts")
	fs.BoolVar(&cfg.InstanceHTTP, "insecure-instance", false, "probe the instance over plain http")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if fs.NArg() != 1 {
		return Config{}, fmt.Errorf("expected one command: %s, %s or %s", CmdDeploy, CmdStatus, CmdDelete)
	}
	cfg.Command = fs.Arg(0)
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Run executes the configured command, writing progress to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if cfg.Token == "" {
		return errors.New("a session token is required (-token or KAIRO_SESSION)")
	}
	c := &client{base: cfg.URL, token: cfg.Token, http: &http.Client{Timeout: 2 * time.Minute}}

	switch cfg.Command {
	case CmdDeploy:
		return deploy(ctx, cfg, c, out)
	case CmdStatus:
		st, err := c.status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "status: %s\n", st.Status)
		if st.Domain != "" {
			fmt.Fprintf(out, "domain: %s\n", st.Domain)
		}
		if st.ErrorMessage != "" {
			fmt.Fprintf(out, "error: %s\n", st.ErrorMessage)
		}
		return nil
	case CmdDelete:
		if err := c.post(ctx, "/instance/delete", nil); err != nil {
			return err
		}
		fmt.Fprintln(out, "instance deleted")
		return nil
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
}

func deploy(ctx context.Context, cfg Config, c *client, out io.Writer) error {
	var provisioned struct {
		Domain string `json:"domain"`
		Status string `json:"status"`
	}
	err := c.postJSON(ctx, "/provision", &provisioned)

	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Code == "ALREADY_PROVISIONED":
		provisioned.Domain = apiErr.Details["domain"]
		provisioned.Status = apiErr.Details["status"]
		fmt.Fprintf(out, "instance already exists at %s (%s)\n", provisioned.Domain, provisioned.Status)
		if provisioned.Status != "provisioning" {
			return nil
		}
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "provisioning %s\n", provisioned.Domain)
	}

	poller := health.NewPoller()
	poller.Interval = cfg.Interval
	poller.MaxAttempts = cfg.MaxAttempts
	if cfg.InstanceHTTP {
		poller.Scheme = "http"
	}

	result, err := poller.Wait(ctx, provisioned.Domain, func(ctx context.Context) error {
		return c.post(ctx, "/instance/status", nil)
	})
	if errors.Is(err, health.ErrTakingLonger) {
		fmt.Fprintln(out, err.Error())
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "instance %s at https://%s\n", result, provisioned.Domain)
	return nil
}

// APIError is a non-2xx answer from the control plane.
type APIError struct {
	Status  int
	Code    string            `json:"code"`
	Message string            `json:"error"`
	Details map[string]string `json:"details"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control plane returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
}

type client struct {
	base  string
	token string
	http  *http.Client
}

type instanceStatus struct {
	Status       string `json:"status"`
	Domain       string `json:"domain"`
	ErrorMessage string `json:"errorMessage"`
}

func (c *client) status(ctx context.Context) (*instanceStatus, error) {
	var st instanceStatus
	if err := c.do(ctx, http.MethodGet, "/instance/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *client) post(ctx context.Context, path string, body any) error {
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *client) postJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, out)
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
