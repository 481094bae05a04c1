package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// RESTClient talks to the platform's HTTP command API. Transient failures
// (connect errors, 429, 5xx) are retried with exponential backoff by the
// underlying retryable client; everything else surfaces as a typed error.
type RESTClient struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
	logger  zerolog.Logger
}

// RESTOptions configure the REST client
type RESTOptions struct {
	BaseURL      string
	Token        string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

// NewRESTClient creates a command client for the platform API
func NewRESTClient(opts RESTOptions, logger zerolog.Logger) *RESTClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	if rc.RetryMax == 0 {
		rc.RetryMax = 4
	}
	rc.RetryWaitMin = opts.RetryWaitMin
	if rc.RetryWaitMin == 0 {
		rc.RetryWaitMin = 500 * time.Millisecond
	}
	rc.RetryWaitMax = opts.RetryWaitMax
	if rc.RetryWaitMax == 0 {
		rc.RetryWaitMax = 15 * time.Second
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	rc.Logger = nil

	return &RESTClient{
		baseURL: opts.BaseURL,
		token:   opts.Token,
		http:    rc,
		logger:  logger.With().Str("component", "platform_rest").Logger(),
	}
}

// DeleteMessage removes a message. A 404 maps to ErrNotFound so callers can
// treat an already-deleted message as satisfied.
func (c *RESTClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	url := fmt.Sprintf("%s/channels/%s/messages/%s", c.baseURL, channelID, messageID)

	resp, err := c.do(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &PermanentError{Op: "delete_message", StatusCode: resp.StatusCode, Err: ErrNotFound}
	default:
		return classifyStatus("delete_message", resp.StatusCode)
	}
}

// SendMessage posts content to a channel
func (c *RESTClient) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	url := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, channelID)

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return "", fmt.Errorf("marshal message body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", classifyStatus("send_message", resp.StatusCode)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode send_message response: %w", err)
	}
	return created.ID, nil
}

func (c *RESTClient) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// retryablehttp already exhausted its backoff budget
		return nil, &TransientError{Op: method + " " + url, Err: err}
	}
	return resp, nil
}

// classifyStatus maps a non-success status onto the error taxonomy.
// Retryable statuses only reach here after the retry budget is spent, so
// they still surface as transient for the caller's accounting.
func classifyStatus(op string, status int) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return &TransientError{Op: op, Err: fmt.Errorf("status %d after retries", status)}
	}
	return &PermanentError{Op: op, StatusCode: status, Err: fmt.Errorf("status %d", status)}
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
