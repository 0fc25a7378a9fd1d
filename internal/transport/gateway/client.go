package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pulsewire/internal/transport"
	logx "pulsewire/pkg/logx"
)

const (
	defaultBaseURL = "https://api.twilio.com"
	defaultTimeout = 15 * time.Second
	// Provider error bodies are kept verbatim but capped.
	maxErrorBody = 4 << 10
)

var ErrNotConfigured = errors.New("gateway credentials not configured")

type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	Timeout    time.Duration
}

// ProviderError is a non-2xx answer from the gateway. Error() is the raw
// provider text so operators see exactly what the provider said.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway returned HTTP %d", e.StatusCode)
	}
	return e.Body
}

// Client sends messages through the provider's Messages endpoint.
// It is safe for concurrent use; Apply swaps credentials at runtime.
type Client struct {
	mu   sync.RWMutex
	cfg  Config
	http *http.Client
	log  logx.Logger
}

var _ transport.Sender = (*Client)(nil)

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{log: log, http: &http.Client{}}
	c.Apply(cfg)
	return c
}

func (c *Client) Apply(cfg Config) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Client) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

type sendResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// Send issues one form-encoded POST. Any non-2xx status is a *ProviderError.
func (c *Client) Send(ctx context.Context, from, to, body string) (transport.Receipt, error) {
	cfg := c.config()
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return transport.Receipt{}, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := cfg.BaseURL + "/2010-04-01/Accounts/" + url.PathEscape(cfg.AccountSID) + "/Messages.json"

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return transport.Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return transport.Receipt{}, fmt.Errorf("gateway request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return transport.Receipt{}, fmt.Errorf("gateway read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Debug("gateway send rejected", logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))
		return transport.Receipt{}, &ProviderError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return transport.Receipt{}, fmt.Errorf("gateway decode response: %w", err)
	}
	c.log.Trace("gateway send accepted", logx.String("sid", out.SID), logx.Duration("took", time.Since(start)))
	return transport.Receipt{MessageID: out.SID, Status: out.Status}, nil
}
