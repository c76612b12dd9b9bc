package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"credit-backend/internal/config"
	apperrors "credit-backend/internal/errors"
	"credit-backend/internal/metrics"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// APIError non-2xx (other than 404) response from the internal API
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("internal API %s %s failed with status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// InternalAPIClient talks to the internal data API. Responses are wrapped as {"data": ...}.
// A 404 returns an error wrapping apperrors.ErrNotFound.
type InternalAPIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewInternalAPIClient creates the client with a circuit breaker around every request
func NewInternalAPIClient(cfg config.InternalAPIConfig, logger *logrus.Logger) *InternalAPIClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := 10 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	c := &InternalAPIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "internal-api",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// expected client-side answers do not trip the breaker
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, apperrors.ErrNotFound) {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.StatusCode < 500
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("[InternalAPI] circuit breaker state changed")
		},
	})
	return c
}

// Get performs GET path and decodes the response data into out (which may be nil)
func (c *InternalAPIClient) Get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post performs POST path with a JSON body and decodes the response data into out
func (c *InternalAPIClient) Post(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *InternalAPIClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	endpoint := path
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, body, out)
	})

	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrNotFound):
		status = "not_found"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		status = "circuit_open"
	default:
		status = "error"
	}
	metrics.InternalAPIRequests.WithLabelValues(endpoint, status).Inc()
	return err
}

func (c *InternalAPIClient) roundTrip(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, apperrors.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	payload := envelope.Data
	if len(payload) == 0 {
		payload = raw
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}

// AccountResolver maps wallets to internal master accounts
type AccountResolver struct {
	api *InternalAPIClient
}

// NewAccountResolver creates a resolver over the internal API
func NewAccountResolver(api *InternalAPIClient) *AccountResolver {
	return &AccountResolver{api: api}
}

type walletLookupResponse struct {
	MasterAccountID string `json:"masterAccountId"`
}

// ResolveWallet returns the master account ID of a wallet.
// An unknown wallet returns an error wrapping apperrors.ErrNotFound.
func (r *AccountResolver) ResolveWallet(ctx context.Context, address string) (string, error) {
	var resp walletLookupResponse
	path := "/internal/v1/data/auth/wallets/lookup?address=" + url.QueryEscape(address)
	if err := r.api.Get(ctx, path, &resp); err != nil {
		return "", err
	}
	if resp.MasterAccountID == "" {
		return "", fmt.Errorf("wallet %s: %w", address, apperrors.ErrNotFound)
	}
	return resp.MasterAccountID, nil
}

// WithdrawalExecutor asks the execution service to pay out a recorded request
type WithdrawalExecutor struct {
	api *InternalAPIClient
}

// NewWithdrawalExecutor creates an executor over the internal API
func NewWithdrawalExecutor(api *InternalAPIClient) *WithdrawalExecutor {
	return &WithdrawalExecutor{api: api}
}

// ExecuteWithdrawal triggers execution of the request recorded by txHash
func (e *WithdrawalExecutor) ExecuteWithdrawal(ctx context.Context, txHash string) error {
	body := map[string]string{"requestTxHash": txHash}
	if err := e.api.Post(ctx, "/internal/v1/data/withdrawals/execute", body, nil); err != nil {
		return fmt.Errorf("execute withdrawal %s: %w", txHash, err)
	}
	return nil
}

// Healthy reports whether the breaker currently lets requests through
func (c *InternalAPIClient) Healthy() bool {
	return c.breaker.State() != gobreaker.StateOpen
}
