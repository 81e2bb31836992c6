// Package chat wraps the hosted messaging platform the clinic's patients
// reach the system through. It pushes outbound messages, fetches chat
// profiles, and verifies inbound webhook signatures.
package chat

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrPushRejected reports a message the platform refused outright. These
// failures are permanent and must not be retried with the same payload.
var ErrPushRejected = errors.New("chat: push rejected")

// ErrTimeout wraps network timeouts talking to the platform.
var ErrTimeout = errors.New("chat: upstream timeout")

// APIError carries the platform's error response for a failed call.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat: api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat: api error: status %d: %s", e.StatusCode, e.Message)
}

// Profile is the subset of the chat profile the engine cares about.
type Profile struct {
	DisplayName string `json:"displayName"`
	UserID      string `json:"userId"`
}

// Config configures a platform client.
type Config struct {
	BaseURL       string
	ChannelToken  string
	WebhookSecret string
	Timeout       time.Duration
	MaxRetries    int
	Backoff       time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client talks to the messaging platform's REST API.
type Client struct {
	baseURL       string
	channelToken  string
	webhookSecret []byte
	httpClient    *http.Client
	maxRetries    int
	backoff       time.Duration
	logger        *slog.Logger
}

// New builds a Client. BaseURL is required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("chat: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		channelToken:  cfg.ChannelToken,
		webhookSecret: []byte(cfg.WebhookSecret),
		httpClient:    httpClient,
		maxRetries:    maxRetries,
		backoff:       backoff,
		logger:        logger,
	}, nil
}

// Push sends a text message to a chat user. The delivery either reaches the
// platform or returns an error; the platform does not acknowledge per-message
// delivery ids, so success here means accepted for delivery.
func (c *Client) Push(ctx context.Context, chatUserID, text string) error {
	if chatUserID == "" {
		return errors.New("chat: chat user id required")
	}
	body, err := json.Marshal(map[string]any{
		"to": chatUserID,
		"messages": []map[string]string{
			{"type": "text", "text": text},
		},
	})
	if err != nil {
		return fmt.Errorf("chat: marshal push: %w", err)
	}
	_, err = c.invoke(ctx, http.MethodPost, "/message/push", body)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return fmt.Errorf("%w: %s", ErrPushRejected, apiErr.Message)
	}
	return err
}

// GetProfile returns the display name registered on the chat account.
// It satisfies the identity resolver's profile fetcher.
func (c *Client) GetProfile(ctx context.Context, chatUserID string) (string, error) {
	if chatUserID == "" {
		return "", errors.New("chat: chat user id required")
	}
	data, err := c.invoke(ctx, http.MethodGet, "/profile/"+chatUserID, nil)
	if err != nil {
		return "", err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("chat: decode profile: %w", err)
	}
	return p.DisplayName, nil
}

// VerifySignature checks the webhook body against the signature header the
// platform sends, a base64 HMAC-SHA256 over the raw body.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	if len(c.webhookSecret) == 0 || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, c.webhookSecret)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("chat: build request: %w", err)
		}
		if c.channelToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.channelToken)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			err = classifyNetErr(err)
			if attempt == c.maxRetries {
				return nil, err
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("chat: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && retryableStatus(resp.StatusCode) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("chat: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff << attempt
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt, status int, err error) {
	c.logger.Warn("chat request retry", "path", path, "attempt", attempt+1, "status", status, "error", err)
}

func classifyNetErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("chat: http error: %w", err)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func decodeAPIError(status int, data []byte) *APIError {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(data, &payload); err == nil {
		msg = payload.Message
		if msg == "" {
			msg = payload.Error
		}
	}
	return &APIError{StatusCode: status, Message: msg}
}
