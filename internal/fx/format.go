package fx

import (
	"strings"

	"github.com/shopspring/decimal"

	"finpulse/internal/types"
)

// Format renders an amount for notification text using the currency's
// display metadata. Separators follow the en-US convention regardless of
// currency ("$1,234.50", "1,234.50 zł"); unsupported codes fall back to
// "1234.50 XYZ".
func Format(amount decimal.Decimal, code string) string {
	meta, ok := types.SupportedCurrencies[strings.ToUpper(code)]
	if !ok {
		return amount.StringFixed(2) + " " + strings.ToUpper(code)
	}

	fixed := amount.StringFixed(int32(meta.MinorUnits))

	neg := strings.HasPrefix(fixed, "-")
	if neg {
		fixed = fixed[1:]
	}

	intPart := fixed
	fracPart := ""
	if i := strings.IndexByte(fixed, '.'); i >= 0 {
		intPart, fracPart = fixed[:i], fixed[i:]
	}

	grouped := groupThousands(intPart) + fracPart

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	if meta.SymbolFirst {
		b.WriteString(meta.Symbol)
		b.WriteString(grouped)
	} else {
		b.WriteString(grouped)
		b.WriteByte(' ')
		b.WriteString(meta.Symbol)
	}
	return b.String()
}

// groupThousands inserts comma separators into a bare digit string.
func groupThousands(digits string) string {
	n := len(digits)
	if n <= 3 {
		return digits
	}
	var b strings.Builder
	b.Grow(n + n/3)
	lead := n % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
