// Package zapiclient wraps the Z-API WhatsApp gateway endpoints used by the
// prospecting workers. Each client is bound to one gateway instance; workers
// never share a client.
package zapiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.z-api.io"
	defaultUserAgent = "prospecting-engine/0.1"
)

// Config controls how the Z-API client behaves.
type Config struct {
	BaseURL     string
	InstanceID  string
	Token       string
	ClientToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
	UserAgent   string
}

// Client wraps the Z-API REST endpoints for one gateway instance.
type Client struct {
	baseURL     string
	instanceID  string
	token       string
	clientToken string
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.InstanceID) == "" {
		return nil, errors.New("zapiclient: instance id is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("zapiclient: instance token is required")
	}
	if strings.TrimSpace(cfg.ClientToken) == "" {
		return nil, errors.New("zapiclient: client token is required")
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
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:     baseURL,
		instanceID:  cfg.InstanceID,
		token:       cfg.Token,
		clientToken: cfg.ClientToken,
		httpClient:  httpClient,
		logger:      logger,
		userAgent:   userAgent,
	}, nil
}

// InstanceID returns the gateway instance this client is bound to.
func (c *Client) InstanceID() string {
	return c.instanceID
}

// InstanceConnected reports whether the gateway account behind this instance
// is connected to WhatsApp. A reachable gateway answering "not connected" is
// (false, nil); only transport-level failures return an error.
func (c *Client) InstanceConnected(ctx context.Context) (bool, error) {
	data, err := c.invoke(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.logger.Warn("zapi instance status check rejected", "instance", c.instanceID, "status", apiErr.StatusCode)
			return false, nil
		}
		return false, err
	}
	var status struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return false, fmt.Errorf("zapiclient: decode status: %w", err)
	}
	if !status.Connected && status.Error != "" {
		c.logger.Warn("zapi instance not connected", "instance", c.instanceID, "reason", status.Error)
	}
	return status.Connected, nil
}

// PhoneCheck is the gateway's answer to a phone-exists probe.
type PhoneCheck struct {
	Exists bool `json:"exists"`
	// Phone is the canonical number the gateway resolved, when it differs
	// from the probed one (e.g. Brazilian ninth-digit normalization).
	Phone string `json:"phone"`
}

// PhoneExists asks the gateway whether the phone has a WhatsApp account.
// A definitive "no" is (Exists:false, nil); transport failures are errors so
// the caller can retry instead of writing the lead off.
func (c *Client) PhoneExists(ctx context.Context, phone string) (PhoneCheck, error) {
	if strings.TrimSpace(phone) == "" {
		return PhoneCheck{}, errors.New("zapiclient: phone is required")
	}
	data, err := c.invoke(ctx, http.MethodGet, "/phone-exists/"+url.PathEscape(phone), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return PhoneCheck{Exists: false}, nil
		}
		return PhoneCheck{}, err
	}
	var check PhoneCheck
	if err := json.Unmarshal(data, &check); err != nil {
		return PhoneCheck{}, fmt.Errorf("zapiclient: decode phone check: %w", err)
	}
	return check, nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, phone, message string) error {
	if strings.TrimSpace(phone) == "" || strings.TrimSpace(message) == "" {
		return errors.New("zapiclient: phone and message are required")
	}
	payload := map[string]string{
		"phone":   phone,
		"message": message,
	}
	_, err := c.invoke(ctx, http.MethodPost, "/send-text", payload)
	return err
}

// SendAudio sends a voice note fetched by the gateway from audioURL.
func (c *Client) SendAudio(ctx context.Context, phone, audioURL string) error {
	if strings.TrimSpace(phone) == "" || strings.TrimSpace(audioURL) == "" {
		return errors.New("zapiclient: phone and audio url are required")
	}
	payload := map[string]string{
		"phone": phone,
		"audio": audioURL,
	}
	_, err := c.invoke(ctx, http.MethodPost, "/send-audio", payload)
	return err
}

// SendImage sends an image with a caption.
func (c *Client) SendImage(ctx context.Context, phone, imageURL, caption string) error {
	if strings.TrimSpace(phone) == "" || strings.TrimSpace(imageURL) == "" {
		return errors.New("zapiclient: phone and image url are required")
	}
	payload := map[string]string{
		"phone":   phone,
		"image":   imageURL,
		"caption": caption,
	}
	_, err := c.invoke(ctx, http.MethodPost, "/send-image", payload)
	return err
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("zapiclient: gateway returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("zapiclient: gateway returned status %d: %s", e.StatusCode, e.Message)
}

func (c *Client) invoke(ctx context.Context, method, path string, payload any) ([]byte, error) {
	fullURL := fmt.Sprintf("%s/instances/%s/token/%s%s", c.baseURL, c.instanceID, c.token, path)

	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("zapiclient: marshal payload: %w", err)
		}
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("zapiclient: build request: %w", err)
	}
	req.Header.Set("Client-Token", c.clientToken)
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("zapiclient: http error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("zapiclient: read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, decodeAPIError(resp.StatusCode, data)
}

func decodeAPIError(status int, data []byte) *APIError {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if err := json.Unmarshal(data, &payload); err == nil {
		msg = payload.Error
		if msg == "" {
			msg = payload.Message
		}
	}
	return &APIError{StatusCode: status, Message: msg}
}
