// Package sheets talks to the spreadsheet ledger API: a row-oriented CRUD
// surface keyed by 1-based row number. The spreadsheet is authoritative for
// externally-visible row ordering; status lives in the relational mirror.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"log/slog"
)

const defaultUserAgent = "clinic-reservation-engine/0.1"

// ErrTimeout wraps upstream timeouts so callers can retry with backoff.
var ErrTimeout = errors.New("sheets: upstream timeout")

// APIError is a non-2xx response from the ledger API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sheets: api error %d: %s", e.StatusCode, e.Message)
}

// Row is one record in the reorder ledger sheet.
type Row struct {
	Number     int    `json:"row"`
	RequestID  int64  `json:"request_id"`
	PatientRef string `json:"patient_ref"`
	Product    string `json:"product"`
	Status     string `json:"status"`
	Date       string `json:"date"`
}

// Config controls how the ledger client behaves.
type Config struct {
	BaseURL    string
	APIToken   string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client wraps the spreadsheet ledger REST endpoints.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("sheets: base URL is required")
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
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiToken:   cfg.APIToken,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// ListRows returns ledger rows, optionally filtered by an inclusive date
// range (YYYY-MM-DD).
func (c *Client) ListRows(ctx context.Context, from, to string) ([]Row, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	data, err := c.invoke(ctx, http.MethodGet, "/rows", q, nil)
	if err != nil {
		return nil, err
	}
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("sheets: decode rows: %w", err)
	}
	return rows, nil
}

// AppendRow appends a record and returns the row number the ledger assigned.
func (c *Client) AppendRow(ctx context.Context, row Row) (int, error) {
	body, err := json.Marshal(row)
	if err != nil {
		return 0, fmt.Errorf("sheets: marshal row: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/rows", nil, body)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Row int `json:"row"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("sheets: decode append response: %w", err)
	}
	if resp.Row <= 0 {
		return 0, errors.New("sheets: append did not return a row number")
	}
	return resp.Row, nil
}

// UpdateRow overwrites the record stored at the given row number.
func (c *Client) UpdateRow(ctx context.Context, number int, row Row) error {
	if number <= 0 {
		return errors.New("sheets: row number required")
	}
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("sheets: marshal row: %w", err)
	}
	_, err = c.invoke(ctx, http.MethodPut, "/rows/"+strconv.Itoa(number), nil, body)
	return err
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("sheets: build request: %w", err)
		}
		if c.apiToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiToken)
		}
		req.Header.Set("User-Agent", c.userAgent)
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
			return nil, fmt.Errorf("sheets: read response: %w", readErr)
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
	return nil, errors.New("sheets: request failed without response")
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
	c.logger.Warn("sheets request retry", "path", path, "attempt", attempt+1, "status", status, "error", err)
}

func classifyNetErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("sheets: http error: %w", err)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
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
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	return &APIError{StatusCode: status, Message: msg}
}
