package email

import "strings"

// RedactEmail masks an address for log output, keeping only the first
// character of the local part and the domain: "ada@example.com" becomes
// "a***@example.com". Addresses are PII and must never be logged raw.
//
// Strings without an "@" are masked entirely.
func RedactEmail(address string) string {
	if address == "" {
		return ""
	}

	parts := strings.SplitN(address, "@", 2)
	if len(parts) != 2 {
		return "***"
	}

	local, domain := parts[0], parts[1]
	if local == "" {
		return "***@" + domain
	}
	return string(local[0]) + "***@" + domain
}
