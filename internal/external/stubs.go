package external

import (
	"context"
	"fmt"
	"log/slog"
)

// StubEmailProvider implements EmailProvider by logging calls and returning
// a fake message ID. Used when APP_ENV=local so the engine can boot without
// real SendGrid credentials.
type StubEmailProvider struct {
	logger *slog.Logger
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, msg EmailMessage) (string, error) {
	s.logger.InfoContext(ctx, "stub: Send email called",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return fmt.Sprintf("msg_stub_%s", msg.ReferenceID), nil
}

var _ EmailProvider = (*StubEmailProvider)(nil)
