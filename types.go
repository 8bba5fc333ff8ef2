package auth

import (
	"context"
	"time"
)

// Logger is the logging contract used by every service in this package
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetAccessTokenTTL() time.Duration
	GetRegistrationTokenTTL() time.Duration
	GetPasswordResetTokenTTL() time.Duration
	GetCookieName() string
	GetCookieDomain() string
	GetCookieSecure() bool
	GetAppURL() string
	GetVerifyEmailPath() string
	GetResetPasswordPath() string
	GetPasswordPolicy() PasswordPolicy
}

// PasswordHasher hashes and verifies credentials
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, digest string) (bool, error)
}

// TokenDenylist revokes tokens by id before their natural expiry
type TokenDenylist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Mailer delivers a single message. Implementations may block.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MailerFunc adapts a function to the Mailer interface
type MailerFunc func(ctx context.Context, to, subject, body string) error

// Send implements Mailer
func (f MailerFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}
