package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Compile-time assertion that SignatureManager implements Signer.
var _ Signer = (*SignatureManager)(nil)

// SignatureManager handles HMAC-SHA256 payload signing with dual-validity
// support for zero-downtime secret rotation.
//
// Header format: X-FinPulse-Signature: t=<unix>,v1=<hmac>[,v1_old=<hmac>]
type SignatureManager struct{}

// NewSignatureManager creates a new SignatureManager instance.
func NewSignatureManager() *SignatureManager {
	return &SignatureManager{}
}

// SignPayload generates the signature header value for a webhook payload.
//
// The secretConfig map is expected to contain:
//   - "secret" (string): The current signing secret (required).
//   - "previous_secret" (string): The old secret during rotation (optional).
//   - "previous_secret_expires_at" (string, RFC3339): Expiration time for
//     the previous secret (optional, only used if previous_secret is present).
//
// The signed content is "{unix_timestamp}.{payload}" using HMAC-SHA256.
//
// If previous_secret exists and now <= previous_secret_expires_at, the header
// includes a v1_old signature. If the previous_secret has expired, v1_old is
// omitted even when previous_secret is still present in config.
func (sm *SignatureManager) SignPayload(payload []byte, secretConfig map[string]any, now time.Time) (string, error) {
	secret, ok := secretConfig["secret"].(string)
	if !ok || secret == "" {
		return "", fmt.Errorf("webhook signature: missing or empty 'secret' in config")
	}

	timestamp := now.Unix()

	// The signed content is "{timestamp}.{payload}".
	signedContent := fmt.Sprintf("%d.%s", timestamp, string(payload))

	v1 := computeHMAC(signedContent, secret)
	header := fmt.Sprintf("t=%d,v1=%s", timestamp, v1)

	// Dual-validity: also sign with the previous secret while its grace
	// period lasts.
	prevSecret, hasPrevSecret := secretConfig["previous_secret"].(string)
	if hasPrevSecret && prevSecret != "" {
		expiresAtStr, hasExpiry := secretConfig["previous_secret_expires_at"].(string)
		if hasExpiry && expiresAtStr != "" {
			expiresAt, err := time.Parse(time.RFC3339, expiresAtStr)
			if err != nil {
				// A malformed expiration must not extend the validity
				// of an old secret, so omit v1_old.
				return header, nil
			}

			// Include v1_old only while now <= expiresAt.
			if !now.After(expiresAt) {
				v1Old := computeHMAC(signedContent, prevSecret)
				header = fmt.Sprintf("%s,v1_old=%s", header, v1Old)
			}
		}
		// A previous_secret without an expiry has unknowable validity,
		// so v1_old is omitted.
	}

	return header, nil
}

// VerifySignature checks a payload against a signature header using the
// provided secrets. It supports both current and previous secrets for
// dual-validity verification.
//
// The secrets map should contain:
//   - "current": The current signing secret.
//   - "previous" (optional): The previous secret for rotation support.
//
// Returns true if the payload matches either the v1 or v1_old signature
// in the header using the corresponding secret.
func (sm *SignatureManager) VerifySignature(payload []byte, header string, secrets map[string]string) bool {
	parts := parseSignatureHeader(header)
	if parts.timestamp == "" || parts.v1 == "" {
		return false
	}

	signedContent := fmt.Sprintf("%s.%s", parts.timestamp, string(payload))

	// v1 against current secret.
	if currentSecret, ok := secrets["current"]; ok && currentSecret != "" {
		expected := computeHMAC(signedContent, currentSecret)
		if hmac.Equal([]byte(parts.v1), []byte(expected)) {
			return true
		}
	}

	// v1_old against previous secret.
	if parts.v1Old != "" {
		if prevSecret, ok := secrets["previous"]; ok && prevSecret != "" {
			expected := computeHMAC(signedContent, prevSecret)
			if hmac.Equal([]byte(parts.v1Old), []byte(expected)) {
				return true
			}
		}
	}

	// v1 against previous secret, for a verifier that still holds the old
	// key after the sender rotated.
	if prevSecret, ok := secrets["previous"]; ok && prevSecret != "" {
		expected := computeHMAC(signedContent, prevSecret)
		if hmac.Equal([]byte(parts.v1), []byte(expected)) {
			return true
		}
	}

	return false
}

// signatureParts holds the parsed components of a signature header.
type signatureParts struct {
	timestamp string
	v1        string
	v1Old     string
}

// parseSignatureHeader breaks a signature header into its component parts.
// Expected format: "t=<unix>,v1=<hex>[,v1_old=<hex>]"
func parseSignatureHeader(header string) signatureParts {
	var parts signatureParts
	for _, segment := range strings.Split(header, ",") {
		kv := strings.SplitN(segment, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		switch key {
		case "t":
			parts.timestamp = value
		case "v1":
			parts.v1 = value
		case "v1_old":
			parts.v1Old = value
		}
	}
	return parts
}

// computeHMAC computes the HMAC-SHA256 of content using the given key
// and returns it as a lowercase hex string.
func computeHMAC(content, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}
