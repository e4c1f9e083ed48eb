package email

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
)

// EventVerifier checks the ECDSA signature SendGrid's signed Event Webhook
// attaches to every delivery. The provider signs timestamp+body with a
// P-256 key; the matching public key is shown once in the SendGrid UI and
// configured as SENDGRID_EVENT_WEBHOOK_KEY.
type EventVerifier struct {
	key *ecdsa.PublicKey
}

// NewEventVerifier parses the base64-encoded public key from the provider
// settings page.
func NewEventVerifier(publicKey string) (*EventVerifier, error) {
	der, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, fmt.Errorf("event verifier: key is not valid base64: %w", err)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("event verifier: failed to parse public key: %w", err)
	}

	ecKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("event verifier: key is %T, want ECDSA", parsed)
	}

	return &EventVerifier{key: ecKey}, nil
}

// Verify checks the signature over timestamp+body. The timestamp and
// signature come from the X-Twilio-Email-Event-Webhook-Timestamp and
// -Signature headers; the signature is a base64 ASN.1 DER encoding.
func (v *EventVerifier) Verify(timestamp, signature string, body []byte) error {
	if timestamp == "" || signature == "" {
		return fmt.Errorf("event verifier: missing timestamp or signature")
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("event verifier: signature is not valid base64: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(timestamp))
	h.Write(body)

	if !ecdsa.VerifyASN1(v.key, h.Sum(nil), sig) {
		return fmt.Errorf("event verifier: signature mismatch")
	}
	return nil
}
