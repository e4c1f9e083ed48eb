// Package fx provides currency conversion and amount formatting for
// notification payloads. Conversion is best-effort: rate lookup failures
// degrade to the original amount rather than failing the notification.
package fx

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"finpulse/internal/external"
	"finpulse/internal/types"
)

// cachedRate is one remembered exchange rate. Entries past the TTL are
// refreshed on demand but kept around: a stale rate beats no rate when the
// provider is down.
type cachedRate struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Converter converts amounts between display currencies using a rate
// provider, with an in-process TTL cache in front of it.
type Converter struct {
	provider external.RatesProvider
	clock    types.Clock
	logger   *slog.Logger
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]cachedRate // key: "FROM/TO"
}

// NewConverter creates a Converter. A nil clock falls back to the real clock.
func NewConverter(provider external.RatesProvider, ttl time.Duration, clock types.Clock, logger *slog.Logger) *Converter {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		provider: provider,
		clock:    clock,
		logger:   logger,
		ttl:      ttl,
		cache:    make(map[string]cachedRate),
	}
}

// Convert converts amount from one currency into another. It returns the
// resulting amount and the currency code it is denominated in: the target
// code on success, the source code when conversion was not possible. Rate
// failures are logged and absorbed here; callers format whatever comes back.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, string) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	if from == to || from == "" || to == "" {
		return amount, from
	}

	rate, ok := c.lookupRate(ctx, from, to)
	if !ok {
		return amount, from
	}
	return amount.Mul(rate), to
}

// lookupRate returns the rate from->to, consulting the cache first.
func (c *Converter) lookupRate(ctx context.Context, from, to string) (decimal.Decimal, bool) {
	key := from + "/" + to
	now := c.clock.Now()

	c.mu.Lock()
	entry, cached := c.cache[key]
	c.mu.Unlock()

	if cached && now.Sub(entry.fetchedAt) < c.ttl {
		return entry.rate, true
	}

	rates, err := c.provider.GetRates(ctx, from, []string{to})
	if err == nil {
		rate, found := rates[to]
		if found {
			c.mu.Lock()
			c.cache[key] = cachedRate{rate: rate, fetchedAt: now}
			c.mu.Unlock()
			return rate, true
		}
		err = types.NewAppError(types.ErrCodeUpstreamRates,
			"rates response missing requested symbol", nil)
	}

	// Expired entries still serve during provider outages.
	if cached {
		c.logger.WarnContext(ctx, "rate lookup failed, serving stale rate",
			"pair", key,
			"fetched_at", entry.fetchedAt,
			"error", err.Error(),
		)
		return entry.rate, true
	}

	c.logger.WarnContext(ctx, "rate lookup failed, passing amount through unconverted",
		"pair", key,
		"error", err.Error(),
	)
	return decimal.Decimal{}, false
}
