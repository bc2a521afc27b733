package external

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// StubEmailProvider implements EmailProvider by logging sends and returning
// synthetic message ids. Used when no RESEND_API_KEY is configured, so the
// service boots in local mode without real credentials and nothing leaves
// the process.
type StubEmailProvider struct {
	logger *slog.Logger
	seq    atomic.Int64
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input SendInput) (string, error) {
	s.logger.InfoContext(ctx, "stub: Send called",
		"to", input.To,
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
	)
	return fmt.Sprintf("stub_%d", s.seq.Add(1)), nil
}

// Compile-time assertion that StubEmailProvider satisfies EmailProvider.
var _ EmailProvider = (*StubEmailProvider)(nil)
