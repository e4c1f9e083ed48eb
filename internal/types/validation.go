package types

import (
	"fmt"
	"net/url"
	"time"
)

// Validation constraint constants.
const (
	MaxNameLength     = 200
	MaxCategoryLength = 100
	MaxNoteLength     = 500
	MaxChannels       = 10
	MinPreviewCount   = 1
	MaxPreviewCount   = 36
	MaxReminderDays   = 30
)

// CurrencyMetadata defines formatting rules for a supported display currency.
type CurrencyMetadata struct {
	Code        string `json:"code"`
	Symbol      string `json:"symbol"`
	MinorUnits  int    `json:"minor_units"`
	SymbolFirst bool   `json:"symbol_first"`
}

// SupportedCurrencies defines the authoritative set of display currencies.
// All components MUST validate currency codes against this map.
var SupportedCurrencies = map[string]CurrencyMetadata{
	"USD": {Code: "USD", Symbol: "$", MinorUnits: 2, SymbolFirst: true},
	"EUR": {Code: "EUR", Symbol: "€", MinorUnits: 2, SymbolFirst: true},
	"GBP": {Code: "GBP", Symbol: "£", MinorUnits: 2, SymbolFirst: true},
	"JPY": {Code: "JPY", Symbol: "¥", MinorUnits: 0, SymbolFirst: true},
	"CHF": {Code: "CHF", Symbol: "CHF", MinorUnits: 2, SymbolFirst: true},
	"CAD": {Code: "CAD", Symbol: "$", MinorUnits: 2, SymbolFirst: true},
	"AUD": {Code: "AUD", Symbol: "$", MinorUnits: 2, SymbolFirst: true},
	"PLN": {Code: "PLN", Symbol: "zł", MinorUnits: 2, SymbolFirst: false},
	"UAH": {Code: "UAH", Symbol: "₴", MinorUnits: 2, SymbolFirst: false},
	"INR": {Code: "INR", Symbol: "₹", MinorUnits: 2, SymbolFirst: true},
	"BRL": {Code: "BRL", Symbol: "R$", MinorUnits: 2, SymbolFirst: true},
}

// ValidCurrency reports whether code is a supported ISO 4217 display currency.
func ValidCurrency(code string) bool {
	_, ok := SupportedCurrencies[code]
	return ok
}

// Validate checks a rule's invariants before persistence. Amount must be
// positive for both kinds; the sign is derived from Kind at read time.
func (r *RecurringRule) Validate() error {
	if r.Name == "" {
		return NewAppError(ErrCodeValidationMissingField, "rule name is required", nil)
	}
	if len(r.Name) > MaxNameLength {
		return NewAppError(ErrCodeValidationMissingField,
			fmt.Sprintf("rule name exceeds %d characters", MaxNameLength), nil)
	}
	if r.Kind != KindExpense && r.Kind != KindIncome {
		return NewAppError(ErrCodeValidationMissingField, "rule kind must be expense or income", nil)
	}
	if !r.Amount.IsPositive() {
		return NewAppError(ErrCodeValidationInvalidAmount, "amount must be positive", nil)
	}
	if !ValidCurrency(r.Currency) {
		return NewAppError(ErrCodeValidationInvalidCurrency,
			fmt.Sprintf("unsupported currency '%s'", r.Currency), nil)
	}
	if !r.Frequency.Valid() {
		return NewAppError(ErrCodeValidationInvalidFrequency,
			fmt.Sprintf("unsupported frequency '%s'", r.Frequency), nil)
	}
	if r.AnchorDate.IsZero() {
		return NewAppError(ErrCodeValidationInvalidAnchor, "anchor date is required", nil)
	}
	if r.EndDate != nil && r.EndDate.Before(r.AnchorDate) {
		return NewAppError(ErrCodeValidationEndBeforeAnchor, "end date precedes anchor date", nil)
	}
	return nil
}

// ValidateWebhookURL checks that a URL is safe for webhook delivery.
func ValidateWebhookURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("%s: invalid URL", ErrCodeValidationInvalidWebhook)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("%s: must use HTTPS", ErrCodeValidationInvalidWebhook)
	}
	// SSRF check is performed at delivery time, not validation
	return nil
}

// ParseDayOfWeek maps a lowercase three-letter day name to time.Weekday.
// Used by quiet-hours schedule validation and evaluation.
func ParseDayOfWeek(day string) (time.Weekday, bool) {
	switch day {
	case "sun":
		return time.Sunday, true
	case "mon":
		return time.Monday, true
	case "tue":
		return time.Tuesday, true
	case "wed":
		return time.Wednesday, true
	case "thu":
		return time.Thursday, true
	case "fri":
		return time.Friday, true
	case "sat":
		return time.Saturday, true
	}
	return 0, false
}

// SSRFBlockedCIDRs defines the IP ranges that MUST be blocked for SSRF protection.
var SSRFBlockedCIDRs = []string{
	"127.0.0.0/8",     // Localhost
	"10.0.0.0/8",      // Private Class A
	"172.16.0.0/12",   // Private Class B
	"192.168.0.0/16",  // Private Class C
	"169.254.0.0/16",  // Link-local (cloud metadata!)
	"0.0.0.0/8",       // Current network
	"224.0.0.0/4",     // Multicast
	"240.0.0.0/4",     // Reserved
	"100.64.0.0/10",   // Carrier-grade NAT
	"198.18.0.0/15",   // Benchmark testing
	"::1/128",         // IPv6 localhost
	"fc00::/7",        // IPv6 unique local
	"fe80::/10",       // IPv6 link-local
}
