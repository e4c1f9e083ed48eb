package fx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// fakeRates is a scripted RatesProvider.
type fakeRates struct {
	rates map[string]decimal.Decimal
	err   error
	calls int
}

func (f *fakeRates) GetRates(ctx context.Context, base string, symbols []string) (map[string]decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rates, nil
}

// fakeClock returns a controllable now.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConvert_SameCurrencyShortCircuits(t *testing.T) {
	provider := &fakeRates{}
	conv := NewConverter(provider, time.Hour, nil, discardLogger())

	amount := decimal.NewFromInt(100)
	got, code := conv.Convert(context.Background(), amount, "USD", "USD")
	if !got.Equal(amount) || code != "USD" {
		t.Errorf("got %s %s, want 100 USD", got, code)
	}
	if provider.calls != 0 {
		t.Errorf("provider should not be called for same-currency conversion, got %d calls", provider.calls)
	}
}

func TestConvert_Success(t *testing.T) {
	provider := &fakeRates{rates: map[string]decimal.Decimal{
		"EUR": decimal.RequireFromString("0.9"),
	}}
	conv := NewConverter(provider, time.Hour, nil, discardLogger())

	got, code := conv.Convert(context.Background(), decimal.NewFromInt(100), "USD", "EUR")
	if code != "EUR" {
		t.Errorf("expected EUR, got %s", code)
	}
	if !got.Equal(decimal.NewFromInt(90)) {
		t.Errorf("expected 90, got %s", got)
	}
}

func TestConvert_CachesWithinTTL(t *testing.T) {
	provider := &fakeRates{rates: map[string]decimal.Decimal{
		"EUR": decimal.RequireFromString("0.9"),
	}}
	clock := &fakeClock{now: time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)}
	conv := NewConverter(provider, time.Hour, clock, discardLogger())

	conv.Convert(context.Background(), decimal.NewFromInt(100), "USD", "EUR")
	conv.Convert(context.Background(), decimal.NewFromInt(50), "USD", "EUR")
	if provider.calls != 1 {
		t.Errorf("expected 1 provider call within TTL, got %d", provider.calls)
	}

	// Advance past the TTL; the next conversion refetches.
	clock.now = clock.now.Add(2 * time.Hour)
	conv.Convert(context.Background(), decimal.NewFromInt(25), "USD", "EUR")
	if provider.calls != 2 {
		t.Errorf("expected refetch after TTL, got %d calls", provider.calls)
	}
}

func TestConvert_DegradesToPassThrough(t *testing.T) {
	provider := &fakeRates{err: errors.New("connection refused")}
	conv := NewConverter(provider, time.Hour, nil, discardLogger())

	amount := decimal.RequireFromString("123.45")
	got, code := conv.Convert(context.Background(), amount, "USD", "EUR")
	if code != "USD" {
		t.Errorf("degraded conversion must keep the source currency, got %s", code)
	}
	if !got.Equal(amount) {
		t.Errorf("degraded conversion must keep the amount, got %s", got)
	}
}

func TestConvert_ServesStaleRateOnOutage(t *testing.T) {
	provider := &fakeRates{rates: map[string]decimal.Decimal{
		"EUR": decimal.RequireFromString("0.9"),
	}}
	clock := &fakeClock{now: time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)}
	conv := NewConverter(provider, time.Hour, clock, discardLogger())

	// Prime the cache, then break the provider and expire the entry.
	conv.Convert(context.Background(), decimal.NewFromInt(100), "USD", "EUR")
	provider.err = errors.New("provider down")
	clock.now = clock.now.Add(3 * time.Hour)

	got, code := conv.Convert(context.Background(), decimal.NewFromInt(200), "USD", "EUR")
	if code != "EUR" {
		t.Errorf("expected stale rate to still convert, got %s", code)
	}
	if !got.Equal(decimal.NewFromInt(180)) {
		t.Errorf("expected 180 from stale 0.9 rate, got %s", got)
	}
}

func TestConvert_MissingSymbolDegrades(t *testing.T) {
	provider := &fakeRates{rates: map[string]decimal.Decimal{
		"GBP": decimal.RequireFromString("0.8"),
	}}
	conv := NewConverter(provider, time.Hour, nil, discardLogger())

	amount := decimal.NewFromInt(10)
	got, code := conv.Convert(context.Background(), amount, "USD", "EUR")
	if code != "USD" || !got.Equal(amount) {
		t.Errorf("missing symbol should pass through, got %s %s", got, code)
	}
}

func TestConvert_NormalizesCase(t *testing.T) {
	provider := &fakeRates{rates: map[string]decimal.Decimal{
		"EUR": decimal.RequireFromString("0.9"),
	}}
	conv := NewConverter(provider, time.Hour, nil, discardLogger())

	_, code := conv.Convert(context.Background(), decimal.NewFromInt(100), "usd", "eur")
	if code != "EUR" {
		t.Errorf("expected EUR after case normalization, got %s", code)
	}
}
