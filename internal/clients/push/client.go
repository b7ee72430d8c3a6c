// Package push delivers mobile notifications through an Expo-style push
// API. Delivery is best effort: callers must never let a push failure
// block the transition that triggered it.
package push

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

const maxBatchSize = 100

type Client interface {
	// Send pushes one message to all tokens, chunked to the API's batch
	// limit. Returns the number of tokens accepted.
	Send(ctx context.Context, tokens []string, title, body string) (int, error)
}

type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
	RetryOpts retryx.Options
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:   strings.TrimSpace(os.Getenv("PUSH_BASE_URL")),
		AuthToken: strings.TrimSpace(os.Getenv("PUSH_AUTH_TOKEN")),
		Timeout:   15 * time.Second,
		RetryOpts: retryx.Fast(),
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
		cfg.BaseURL = "https://exp.host/--/api/v2"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryOpts.MaxAttempts == 0 {
		cfg.RetryOpts = retryx.Fast()
	}
	return &client{
		log:        log.With("client", "PushClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

type pushMessage struct {
	To    []string `json:"to"`
	Title string   `json:"title"`
	Body  string   `json:"body"`
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("push http %d: %s", e.StatusCode, e.Body)
}

func (c *client) Send(ctx context.Context, tokens []string, title, body string) (int, error) {
	cleaned := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if strings.TrimSpace(t) != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return 0, nil
	}
	sent := 0
	for start := 0; start < len(cleaned); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(cleaned) {
			end = len(cleaned)
		}
		batch := cleaned[start:end]
		if err := c.sendBatch(ctx, pushMessage{To: batch, Title: title, Body: body}); err != nil {
			return sent, err
		}
		sent += len(batch)
	}
	return sent, nil
}

func (c *client) sendBatch(ctx context.Context, msg pushMessage) error {
	_, err := retryx.Do(ctx, c.log, "push send", c.cfg.RetryOpts, func(ctx context.Context) (struct{}, error) {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(msg); err != nil {
			return struct{}{}, retryx.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/push/send", &buf)
		if err != nil {
			return struct{}{}, retryx.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			herr := &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 408 && resp.StatusCode != 429 {
				return struct{}{}, retryx.Permanent(herr)
			}
			return struct{}{}, herr
		}
		return struct{}{}, nil
	})
	var herr *httpError
	if err != nil && errors.As(err, &herr) {
		c.log.Warn("Push batch rejected", "status", herr.StatusCode)
	}
	return err
}
