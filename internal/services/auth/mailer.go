package auth

import (
	"context"
	"log"
)

// Mailer delivers one-time login codes. Delivery is external to this layer;
// implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, email, code string) error
}

// LogMailer writes codes to the process log instead of sending mail.
// It is the development fallback when no real mailer is configured.
type LogMailer struct{}

// Send implements Mailer.
func (LogMailer) Send(_ context.Context, email, code string) error {
	log.Printf("auth: login code for %s: %s", email, code)
	return nil
}
