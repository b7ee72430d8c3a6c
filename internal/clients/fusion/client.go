// Package fusion talks to the external video generation service that
// fuses a mission's entries into a chapter. The service is treated as
// unreliable: every call goes through retryx with transient/permanent
// classification.
package fusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/retryx"
)

type Client interface {
	// Submit starts a fusion and returns the opaque operation handle.
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	// Poll reports the state of a previously submitted operation.
	Poll(ctx context.Context, handle string) (*PollResult, error)
}

type SubmitRequest struct {
	Prompt      string   `json:"prompt"`
	MediaURLs   []string `json:"media_urls"`
	AspectRatio string   `json:"aspect_ratio"`
	DurationSec int      `json:"duration_sec"`
}

type PollResult struct {
	Done        bool   `json:"done"`
	MediaURL    string `json:"media_url,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
	Watermarked bool   `json:"watermarked,omitempty"`
	Error       string `json:"error,omitempty"`
}

type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RetryOpts retryx.Options
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:   strings.TrimSpace(os.Getenv("FUSION_BASE_URL")),
		APIKey:    strings.TrimSpace(os.Getenv("FUSION_API_KEY")),
		Timeout:   60 * time.Second,
		RetryOpts: retryx.Slow(),
	}
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing FUSION_BASE_URL")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing FUSION_API_KEY")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryOpts.MaxAttempts == 0 {
		cfg.RetryOpts = retryx.Slow()
	}
	return &client{
		log:        log.With("client", "FusionClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("fusion http %d: %s", e.StatusCode, e.Body)
}

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

// Non-retryable HTTP statuses mean the request itself is bad; network
// errors and 5xx/408/429 are worth another attempt.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var httpErr *httpError
	if errors.As(err, &httpErr) && !isRetryableHTTP(httpErr.StatusCode) {
		return retryx.Permanent(err)
	}
	return err
}

func (c *client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", retryx.Permanent(fmt.Errorf("fusion submit: empty prompt"))
	}
	if len(req.MediaURLs) == 0 {
		return "", retryx.Permanent(fmt.Errorf("fusion submit: no media"))
	}
	var resp struct {
		OperationID string `json:"operation_id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/fusions", req, &resp)
	if err != nil {
		return "", err
	}
	if resp.OperationID == "" {
		return "", fmt.Errorf("fusion submit: empty operation id")
	}
	return resp.OperationID, nil
}

func (c *client) Poll(ctx context.Context, handle string) (*PollResult, error) {
	if strings.TrimSpace(handle) == "" {
		return nil, retryx.Permanent(fmt.Errorf("fusion poll: empty handle"))
	}
	var resp struct {
		Done   bool   `json:"done"`
		Error  string `json:"error"`
		Output *struct {
			MediaURL    string `json:"media_url"`
			DurationSec int    `json:"duration_sec"`
			Watermarked bool   `json:"watermarked"`
		} `json:"output"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/fusions/"+handle, nil, &resp)
	if err != nil {
		return nil, err
	}
	out := &PollResult{Done: resp.Done, Error: resp.Error}
	if resp.Output != nil {
		out.MediaURL = resp.Output.MediaURL
		out.DurationSec = resp.Output.DurationSec
		out.Watermarked = resp.Output.Watermarked
	}
	return out, nil
}

func (c *client) doJSON(ctx context.Context, method, path string, body, out any) error {
	_, err := retryx.Do(ctx, c.log, method+" "+path, c.cfg.RetryOpts, func(ctx context.Context) (struct{}, error) {
		raw, err := c.doOnce(ctx, method, path, body)
		if err != nil {
			return struct{}{}, classify(err)
		}
		if out != nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return struct{}{}, retryx.Permanent(fmt.Errorf("fusion decode error: %w; raw=%s", uErr, string(raw)))
			}
		}
		return struct{}{}, nil
	})
	return err
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
