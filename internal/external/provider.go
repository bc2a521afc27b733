// Package external provides the boundary between lightalert's domain logic
// and third-party APIs. All outbound HTTP calls route through the
// BaseClient, which enforces circuit breaking, retries with backoff, and
// error mapping in one place.
package external

import "context"

// SendInput is the provider-independent description of one outbound email.
type SendInput struct {
	FromAddress string
	FromName    string
	To          []string
	CC          []string
	Subject     string
	BodyHTML    string
	BodyText    string
	// ReferenceID correlates provider events back to the message row.
	ReferenceID string
}

// EmailProvider transmits a rendered email and returns the provider's
// message id for audit.
type EmailProvider interface {
	Send(ctx context.Context, input SendInput) (string, error)
}
