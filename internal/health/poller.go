// Package health waits for a freshly provisioned instance to answer on its
// public health endpoint.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrTakingLonger is returned when the instance did not become healthy within
// the attempt budget. The instance is left as it is.
var ErrTakingLonger = errors.New("your instance is taking longer than expected, check back in a few minutes")

// Result is the outcome of Wait.
type Result string

const (
	ResultReady    Result = "ready"
	ResultTimedOut Result = "timed_out"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 30
)

// Poller probes https://{domain}/health every Interval, at most MaxAttempts times.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Client      *http.Client
	// Scheme defaults to https. Tests point it at plain http servers.
	Scheme string
}

// NewPoller returns a Poller with the default interval and attempt ceiling.
func NewPoller() *Poller {
	return &Poller{
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
		Client:      &http.Client{Timeout: DefaultInterval},
		Scheme:      "https",
	}
}

// Wait polls the instance until it answers 2xx, then calls confirm once and
// returns ResultReady. After MaxAttempts failed probes it returns ResultTimedOut
// and ErrTakingLonger without calling confirm. Each probe waits one Interval
// first.
func (p *Poller) Wait(ctx context.Context, domain string, confirm func(context.Context) error) (Result, error) {
	url := fmt.Sprintf("%s://%s/health", p.scheme(), domain)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		if err := p.probe(ctx, url); err != nil {
			slog.Debug("instance not ready", "domain", domain, "attempt", attempt, "error", err)
			continue
		}

		slog.Info("instance healthy", "domain", domain, "attempt", attempt)
		if err := confirm(ctx); err != nil {
			return "", fmt.Errorf("confirm running: %w", err)
		}
		return ResultReady, nil
	}

	return ResultTimedOut, ErrTakingLonger
}

func (p *Poller) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (p *Poller) scheme() string {
	if p.Scheme == "" {
		return "https"
	}
	return p.Scheme
}
