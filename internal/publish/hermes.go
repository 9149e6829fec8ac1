package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/piukhq/midas-sub000/internal/core"
)

// HermesConfig configures the downstream account service client.
type HermesConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RateLimit      int // requests per minute
	RateBurst      int
	BreakerEnabled bool
}

// APIError is a non-2xx response from the downstream service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hermes api error (%d): %s", e.Status, e.Body)
}

// StatusUpdate is the body of a status notification.
type StatusUpdate struct {
	Status   int           `json:"status"`
	Journey  string        `json:"journey"`
	UserInfo core.UserInfo `json:"user_info"`
}

// HermesClient talks to the downstream account service.
type HermesClient struct {
	cfg     HermesConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewHermesClient creates a client.
func NewHermesClient(cfg HermesConfig) *HermesClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &HermesClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit)/60, burst)
	}
	if cfg.BreakerEnabled {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "hermes",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 10 && counts.TotalFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				var apiErr *APIError
				if errors.As(err, &apiErr) {
					return apiErr.Status < 500
				}
				return err == nil
			},
		})
	}
	return c
}

func accountPath(id int64, resource string) string {
	return "/schemes/accounts/" + strconv.FormatInt(id, 10) + "/" + resource
}

func (c *HermesClient) PostStatus(ctx context.Context, schemeAccountID int64, update StatusUpdate) error {
	return c.do(ctx, http.MethodPost, accountPath(schemeAccountID, "status"), update)
}

func (c *HermesClient) PostBalance(ctx context.Context, schemeAccountID int64, balance *core.Balance) error {
	return c.do(ctx, http.MethodPost, accountPath(schemeAccountID, "balance"), balance)
}

func (c *HermesClient) PostTransactions(ctx context.Context, schemeAccountID int64, txs []core.Transaction) error {
	return c.do(ctx, http.MethodPost, accountPath(schemeAccountID, "transactions"), map[string]any{
		"scheme_account_id": schemeAccountID,
		"transactions":      txs,
	})
}

func (c *HermesClient) PutCredentials(ctx context.Context, schemeAccountID int64, identifiers map[string]string) error {
	return c.do(ctx, http.MethodPut, accountPath(schemeAccountID, "credentials"), identifiers)
}

func (c *HermesClient) DeleteCredentials(ctx context.Context, schemeAccountID int64) error {
	return c.do(ctx, http.MethodDelete, accountPath(schemeAccountID, "credentials"), nil)
}

// Ping checks the downstream service is reachable.
func (c *HermesClient) Ping(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/healthz", nil)
}

func (c *HermesClient) do(ctx context.Context, method, path string, body any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if c.breaker == nil {
		return c.doRequest(ctx, method, path, body)
	}
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.doRequest(ctx, method, path, body)
	})
	return err
}

func (c *HermesClient) doRequest(ctx context.Context, method, path string, body any) error {
	url := c.cfg.BaseURL + path

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(bodyBytes)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
