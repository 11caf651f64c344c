package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds auth options. Secrets and expirations are independent per
// token kind; a host loads them once at process start and hands the value in.
type Config interface {
	GetAccessTokenSecret() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenSecret() string
	GetRefreshTokenTTL() time.Duration
	GetEmailVerifyTokenSecret() string
	GetEmailVerifyTokenTTL() time.Duration
	GetForgotPasswordTokenSecret() string
	GetForgotPasswordTokenTTL() time.Duration
	GetIssuer() string
	GetAudience() []string
	GetContextKey() string
	GetTokenLookup() string
	GetAuthScheme() string
}

// Mailer delivers outbound account email. The package only hands over a
// recipient and a signed token; rendering and transport belong to the host.
type Mailer interface {
	SendVerifyEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// secretFor maps a kind to its configured secret.
func secretFor(cfg Config, kind TokenKind) string {
	switch kind {
	case AccessToken:
		return cfg.GetAccessTokenSecret()
	case RefreshTokenKind:
		return cfg.GetRefreshTokenSecret()
	case EmailVerifyToken:
		return cfg.GetEmailVerifyTokenSecret()
	case ForgotPasswordToken:
		return cfg.GetForgotPasswordTokenSecret()
	}
	return ""
}

// ttlFor maps a kind to its configured expiry duration.
func ttlFor(cfg Config, kind TokenKind) time.Duration {
	switch kind {
	case AccessToken:
		return cfg.GetAccessTokenTTL()
	case RefreshTokenKind:
		return cfg.GetRefreshTokenTTL()
	case EmailVerifyToken:
		return cfg.GetEmailVerifyTokenTTL()
	case ForgotPasswordToken:
		return cfg.GetForgotPasswordTokenTTL()
	}
	return 0
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(format string) string {
	if !strings.HasSuffix(format, "\n") {
		format = format + "\n"
	}
	return format
}

type noopMailer struct{}

func (noopMailer) SendVerifyEmail(context.Context, string, string) error {
	return nil
}

func (noopMailer) SendPasswordResetEmail(context.Context, string, string) error {
	return nil
}

// NoopMailer discards outbound email. Useful for tests and for hosts that
// deliver notifications out of band.
func NoopMailer() Mailer {
	return noopMailer{}
}
