// Package railway is a client for the Railway GraphQL API, the backend tenant
// instances run on.
package railway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/kairo/internal/config"
)

// Sentinel errors for Railway failures.
var (
	// ErrBackend means Railway answered but refused or failed the operation.
	ErrBackend = errors.New("railway error")
	// ErrUnreachable means Railway could not be reached or answered with a 5xx.
	ErrUnreachable = errors.New("railway unreachable")
)

// Client talks to the Railway GraphQL API. Services are created in one
// configured project and environment.
type Client struct {
	apiURL        string
	token         string
	projectID     string
	environmentID string
	image         string
	client        *http.Client
}

// NewClient creates a Railway client from config.
func NewClient(cfg config.RailwayConfig) *Client {
	return &Client{
		apiURL:        cfg.APIURL,
		token:         cfg.APIToken,
		projectID:     cfg.ProjectID,
		environmentID: cfg.EnvironmentID,
		image:         cfg.Image,
		client:        &http.Client{Timeout: cfg.Timeout},
	}
}

const (
	serviceCreateMutation = `mutation($input: ServiceCreateInput!) {
  serviceCreate(input: $input) { id }
}`
	variablesUpsertMutation = `mutation($input: VariableCollectionUpsertInput!) {
  variableCollectionUpsert(input: $input)
}`
	domainCreateMutation = `mutation($input: ServiceDomainCreateInput!) {
  serviceDomainCreate(input: $input) { domain }
}`
	serviceDeleteMutation = `mutation($id: String!) {
  serviceDelete(id: $id)
}`
)

// CreateService creates a service running the configured image and returns its id.
func (c *Client) CreateService(ctx context.Context, name string) (string, error) {
	var data struct {
		ServiceCreate struct {
			ID string `json:"id"`
		} `json:"serviceCreate"`
	}
	err := c.do(ctx, serviceCreateMutation, map[string]any{
		"input": map[string]any{
			"projectId": c.projectID,
			"name":      name,
			"source":    map[string]string{"image": c.image},
		},
	}, &data)
	if err != nil {
		return "", fmt.Errorf("create service %q: %w", name, err)
	}
	if data.ServiceCreate.ID == "" {
		return "", fmt.Errorf("create service %q: %w: empty service id", name, ErrBackend)
	}
	return data.ServiceCreate.ID, nil
}

// UpsertVariables replaces the service's whole variable set with vars.
func (c *Client) UpsertVariables(ctx context.Context, serviceID string, vars map[string]string) error {
	err := c.do(ctx, variablesUpsertMutation, map[string]any{
		"input": map[string]any{
			"projectId":     c.projectID,
			"environmentId": c.environmentID,
			"serviceId":     serviceID,
			"variables":     vars,
			"replace":       true,
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("upsert variables for %s: %w", serviceID, err)
	}
	return nil
}

// CreateDomain allocates a public domain routed to port and returns it.
func (c *Client) CreateDomain(ctx context.Context, serviceID string, port int) (string, error) {
	var data struct {
		ServiceDomainCreate struct {
			Domain string `json:"domain"`
		} `json:"serviceDomainCreate"`
	}
	err := c.do(ctx, domainCreateMutation, map[string]any{
		"input": map[string]any{
			"serviceId":     serviceID,
			"environmentId": c.environmentID,
			"targetPort":    port,
		},
	}, &data)
	if err != nil {
		return "", fmt.Errorf("create domain for %s: %w", serviceID, err)
	}
	if data.ServiceDomainCreate.Domain == "" {
		return "", fmt.Errorf("create domain for %s: %w: empty domain", serviceID, ErrBackend)
	}
	return data.ServiceDomainCreate.Domain, nil
}

// DeleteService removes a service and everything attached to it.
func (c *Client) DeleteService(ctx context.Context, serviceID string) error {
	if err := c.do(ctx, serviceDeleteMutation, map[string]any{"id": serviceID}, nil); err != nil {
		return fmt.Errorf("delete service %s: %w", serviceID, err)
	}
	return nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnreachable, resp.StatusCode, truncate(raw))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, truncate(raw))
	}

	var gql graphQLResponse
	if err := json.Unmarshal(raw, &gql); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrBackend, err)
	}
	if len(gql.Errors) > 0 {
		msgs := make([]string, 0, len(gql.Errors))
		for _, e := range gql.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("%w: %s", ErrBackend, strings.Join(msgs, ", "))
	}
	if out != nil {
		if err := json.Unmarshal(gql.Data, out); err != nil {
			return fmt.Errorf("%w: decoding data: %v", ErrBackend, err)
		}
	}
	return nil
}

func truncate(b []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(b))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
