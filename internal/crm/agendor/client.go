// Package agendor is a thin client for the Agendor v3 CRM API. The
// scheduler only needs deal-stage updates; failures here never block lead
// completion.
package agendor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.agendor.com.br/v3"

// Config controls how the Agendor client behaves.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the Agendor REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("agendor: token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Funnel is one sales funnel configured in Agendor.
type Funnel struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ListFunnels returns the funnels available to the account.
func (c *Client) ListFunnels(ctx context.Context) ([]Funnel, error) {
	data, err := c.invoke(ctx, http.MethodGet, "/funnels", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Data []Funnel `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("agendor: decode funnels: %w", err)
	}
	return payload.Data, nil
}

// UpdateDealStage moves a deal to the given stage, optionally within a named
// funnel.
func (c *Client) UpdateDealStage(ctx context.Context, dealID int64, stage int, funnel string) error {
	if dealID <= 0 {
		return errors.New("agendor: deal id is required")
	}
	if stage <= 0 {
		return errors.New("agendor: stage must be positive")
	}
	payload := map[string]any{"dealStage": stage}
	if funnel != "" {
		payload["funnel"] = funnel
	}
	_, err := c.invoke(ctx, http.MethodPut, fmt.Sprintf("/deals/%d/stage", dealID), payload)
	return err
}

func (c *Client) invoke(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("agendor: marshal payload: %w", err)
		}
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("agendor: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("agendor: http error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("agendor: read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	var apiErr struct {
		Errors json.RawMessage `json:"errors"`
	}
	msg := ""
	if err := json.Unmarshal(data, &apiErr); err == nil && len(apiErr.Errors) > 0 {
		msg = string(apiErr.Errors)
	}
	if msg == "" {
		return nil, fmt.Errorf("agendor: api returned status %d", resp.StatusCode)
	}
	return nil, fmt.Errorf("agendor: api returned status %d: %s", resp.StatusCode, msg)
}
