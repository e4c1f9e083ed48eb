package external

import "context"

// EmailMessage is a fully rendered email ready for transmission. The sender
// identity (from address/name) belongs to the provider client configuration,
// not to individual messages.
type EmailMessage struct {
	To          string
	ToName      string
	Subject     string
	TextBody    string
	HTMLBody    string
	ReferenceID string // internal notification ID for provider-side correlation
}

// EmailProvider abstracts the transactional email vendor (SendGrid).
// Implementations transmit pre-rendered content and return the provider's
// message ID for tracking.
type EmailProvider interface {
	Send(ctx context.Context, msg EmailMessage) (providerMsgID string, err error)
}
