package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finpulse/internal/types"
)

// ratesAPIBase is the default exchange-rate API base URL (Frankfurter, ECB
// reference rates, no API key). Overridable in tests via RatesClientConfig.
const ratesAPIBase = "https://api.frankfurter.dev"

// RatesProvider abstracts the exchange-rate vendor. Returns the rate from
// the base currency into each requested symbol.
type RatesProvider interface {
	GetRates(ctx context.Context, base string, symbols []string) (map[string]decimal.Decimal, error)
}

// RatesClientConfig holds the configuration for creating a RatesAPIClient.
type RatesClientConfig struct {
	BaseURL string // Override for testing; defaults to ratesAPIBase
	Logger  *slog.Logger
}

// ratesResponse is the JSON body returned by the /v1/latest endpoint.
type ratesResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// RatesAPIClient implements RatesProvider by calling the exchange-rate REST
// API through BaseClient, inheriting circuit breaking and retry behavior.
// Callers treat rate lookup as best-effort; the fx converter degrades to
// pass-through when this client fails.
type RatesAPIClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewRatesClient creates a new RatesAPIClient. Rate lookups sit on the
// notification path, so the retry budget is kept small.
func NewRatesClient(
	httpClient *http.Client,
	cfg RatesClientConfig,
) *RatesAPIClient {
	base := NewBaseClient(
		httpClient,
		"rates",
		RetryPolicy{
			MaxRetries: 1,
			MinWait:    250 * time.Millisecond,
			MaxWait:    2 * time.Second,
		},
		"FinPulse/1.0",
	)
	return NewRatesClientWithBase(base, cfg)
}

// NewRatesClientWithBase creates a RatesAPIClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration (e.g., disable retries).
func NewRatesClientWithBase(base *BaseClient, cfg RatesClientConfig) *RatesAPIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ratesAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RatesAPIClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// GetRates fetches the latest rates from base into the given symbols via
// GET /v1/latest?base=X&symbols=A,B.
func (c *RatesAPIClient) GetRates(ctx context.Context, base string, symbols []string) (map[string]decimal.Decimal, error) {
	if base == "" || len(symbols) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"rate lookup requires a base currency and at least one symbol",
			nil,
		)
	}

	q := url.Values{}
	q.Set("base", base)
	q.Set("symbols", strings.Join(symbols, ","))
	reqURL := c.baseURL + "/v1/latest?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create rates request",
			err,
		)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.wrapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamRates,
			"failed to decode rates response",
			err,
		)
	}
	if len(body.Rates) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamRates,
			fmt.Sprintf("rates API returned no rates for base %s", base),
			nil,
		)
	}

	return body.Rates, nil
}

// handleErrorResponse reads the error body from a non-2xx response that made
// it past the BaseClient retry logic (4xx other than 429).
func (c *RatesAPIClient) handleErrorResponse(resp *http.Response) *types.AppError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	c.logger.Error("rates API error",
		"status_code", resp.StatusCode,
		"response_body", string(bodyBytes),
	)

	return types.NewAppError(
		types.ErrCodeUpstreamRates,
		fmt.Sprintf("rates API returned %d", resp.StatusCode),
		fmt.Errorf("rates API returned %d: %s", resp.StatusCode, string(bodyBytes)),
	)
}

// wrapError converts BaseClient transport errors into rates-specific errors,
// preserving codes that already classify the failure (rate limit, breaker).
func (c *RatesAPIClient) wrapError(err error) error {
	var appErr *types.AppError
	if isAppError(err, &appErr) {
		return types.NewAppError(
			appErr.Code,
			fmt.Sprintf("rates lookup: %s", appErr.Message),
			appErr.Err,
		)
	}
	return types.NewAppError(
		types.ErrCodeUpstreamRates,
		"rates lookup failed",
		err,
	)
}

// Compile-time interface compliance check.
var _ RatesProvider = (*RatesAPIClient)(nil)
