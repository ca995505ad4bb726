package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	BaseURL         string
	APIKey          string
	Email           string
	InitiateTimeout time.Duration
	StatusTimeout   time.Duration
}

// HTTPClient talks to the gateway's JSON API.
type HTTPClient struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

func NewHTTPClient(cfg Config, log *zap.Logger) *HTTPClient {
	if cfg.InitiateTimeout <= 0 {
		cfg.InitiateTimeout = 30 * time.Second
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPClient{cfg: cfg, http: &http.Client{}, log: log}
}

type initiateBody struct {
	Phone     string  `json:"phone"`
	Amount    float64 `json:"amount"`
	Reference string  `json:"reference"`
}

type statusEnvelope struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    PaymentStatus `json:"data"`
}

func (c *HTTPClient) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.InitiateTimeout)
	defer cancel()

	body := initiateBody{Phone: req.Phone, Amount: req.Amount.InexactFloat64(), Reference: req.Reference}
	var out InitiateResult
	if err := c.do(ctx, http.MethodPost, "/payments/initiate", body, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.TransactionReference == "" {
		msg := out.Message
		if msg == "" {
			msg = "payment initiation failed"
		}
		return nil, &RejectedError{StatusCode: http.StatusOK, Message: msg}
	}
	c.log.Info("gateway payment initiated",
		zap.String("reference", req.Reference),
		zap.String("gateway_reference", out.TransactionReference))
	return &out, nil
}

func (c *HTTPClient) QueryStatus(ctx context.Context, transactionReference string) (*PaymentStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StatusTimeout)
	defer cancel()

	var out statusEnvelope
	if err := c.do(ctx, http.MethodGet, "/payments/status/"+url.PathEscape(transactionReference), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("X-Email", c.cfg.Email)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gateway read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rejected := &RejectedError{StatusCode: resp.StatusCode, Message: ExtractMessage(raw)}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("gateway %s %s: %w", method, path, rejected)
		}
		return rejected
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gateway decode response: %w", err)
	}
	return nil
}

// ExtractMessage pulls a human readable error out of a gateway body, falling
// back to the trimmed raw text.
func ExtractMessage(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, key := range []string{"message", "error", "error_message", "detail"} {
			switch v := body[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if m, ok := v["message"].(string); ok && m != "" {
					return m
				}
			}
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return "unknown gateway error"
	}
	return msg
}
