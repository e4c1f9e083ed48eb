// Package email implements the email notification channel. It renders
// notices into HTML and plain-text bodies from embedded templates, delivers
// them through an external EmailProvider (SendGrid), and feeds the
// provider's bounce and complaint events back into channel health.
package email

import (
	"errors"

	"finpulse/internal/types"
)

// IsSuppressionError reports whether the provider refused the recipient
// outright (suppression list, spam block). A suppressed address is dead;
// resending the same message cannot succeed.
func IsSuppressionError(err error) bool {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Code == types.ErrCodeDeliveryRejected
	}
	return false
}
