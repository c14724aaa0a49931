package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type failureClass int

const (
	classRetryable failureClass = iota
	classTerminal
)

// classifyStatus decides whether a provider response is worth retrying.
// Rate limits and server errors are transient; any other 4xx means the
// request itself is wrong and a retry would only repeat it.
func classifyStatus(code int) failureClass {
	if code == http.StatusTooManyRequests || code >= 500 {
		return classRetryable
	}
	return classTerminal
}

type ClientConfig struct {
	BaseURL    string
	SecretKey  string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Logger     *zap.Logger
	// Calls counts outcomes per operation; optional.
	Calls *prometheus.CounterVec
}

// Client wraps the provider's payment-intent REST API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
	calls      *prometheus.CounterVec
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		logger:     cfg.Logger,
		calls:      cfg.Calls,
	}
}

type IntentRequest struct {
	AmountCents  int64
	Currency     string
	OrderID      string
	ReceiptEmail string
}

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type intentBody struct {
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
	ReceiptEmail string            `json:"receipt_email,omitempty"`
}

type providerError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateIntent registers a pending charge with the provider. The order id
// travels in the intent metadata so the webhook side can join back to us.
func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	body := intentBody{
		Amount:       req.AmountCents,
		Currency:     req.Currency,
		Metadata:     map[string]string{"order_id": req.OrderID},
		ReceiptEmail: req.ReceiptEmail,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal intent request: %w", err)
	}
	return c.intentCall(ctx, "create_intent", http.MethodPost, "/v1/payment_intents", raw)
}

func (c *Client) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	return c.intentCall(ctx, "retrieve_intent", http.MethodGet, "/v1/payment_intents/"+intentID, nil)
}

func (c *Client) CancelIntent(ctx context.Context, intentID string) error {
	_, err := c.intentCall(ctx, "cancel_intent", http.MethodPost, "/v1/payment_intents/"+intentID+"/cancel", nil)
	return err
}

func (c *Client) intentCall(ctx context.Context, op, method, path string, body []byte) (*Intent, error) {
	raw, err := c.doWithRetry(ctx, op, method, path, body)
	if err != nil {
		return nil, err
	}
	var intent Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return &intent, nil
}

// doWithRetry runs one provider call through a bounded retry loop. Transient
// failures (network errors, 429, 5xx) are retried with exponential backoff
// plus jitter; terminal rejections return *RequestError immediately.
func (c *Client) doWithRetry(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("build provider request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("provider request failed: %w", err)
			c.count(op, "retryable_error")
			c.logger.Warn("provider call failed", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read provider response: %w", err)
			c.count(op, "retryable_error")
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.count(op, "ok")
			return respBody, nil
		}

		perr := &RequestError{Status: resp.StatusCode, Message: "provider error"}
		var decoded providerError
		if json.Unmarshal(respBody, &decoded) == nil && decoded.Error.Message != "" {
			perr.Code = decoded.Error.Code
			perr.Message = decoded.Error.Message
		}

		if classifyStatus(resp.StatusCode) == classRetryable {
			lastErr = perr
			c.count(op, "retryable_error")
			c.logger.Warn("provider call rejected, will retry",
				zap.String("op", op), zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt))
			continue
		}

		c.count(op, "terminal_error")
		return nil, perr
	}

	c.count(op, "exhausted")
	return nil, fmt.Errorf("%w: %d attempts: %v", ErrProviderUnavailable, c.maxRetries+1, lastErr)
}

func (c *Client) count(op, outcome string) {
	if c.calls != nil {
		c.calls.WithLabelValues(op, outcome).Inc()
	}
}
