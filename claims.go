package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind discriminates the four token families. Every kind is signed with
// its own secret, so a kind mismatch is a hard verification failure even
// before the signature check settles it.
type TokenKind string

const (
	// AccessToken authenticates regular API requests.
	AccessToken TokenKind = "access"
	// RefreshTokenKind backs long-lived sessions; rows are persisted per login.
	RefreshTokenKind TokenKind = "refresh"
	// EmailVerifyToken is mailed out to confirm an address.
	EmailVerifyToken TokenKind = "email_verify"
	// ForgotPasswordToken authorizes a password reset.
	ForgotPasswordToken TokenKind = "forgot_password"
)

// Kinds lists every token kind, in issuance-frequency order.
func Kinds() []TokenKind {
	return []TokenKind{AccessToken, RefreshTokenKind, EmailVerifyToken, ForgotPasswordToken}
}

// AuthClaims is the decoded payload of a signed token as consumed by the
// validation pipeline and the account service.
type AuthClaims interface {
	UserID() string
	UserUUID() (uuid.UUID, error)
	TokenKind() TokenKind
	VerifyStatus() VerifyStatus
	Expires() time.Time
	IssuedAt() time.Time
}

// TokenClaims is the concrete implementation of AuthClaims
type TokenClaims struct {
	jwt.RegisteredClaims
	UID    string       `json:"uid,omitempty"`
	Kind   TokenKind    `json:"kind,omitempty"`
	Verify VerifyStatus `json:"verify"`
}

// Verify interface compliance
var _ AuthClaims = (*TokenClaims)(nil)

// UserID returns the user ID
func (c *TokenClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// UserUUID parses the user ID into a uuid.UUID.
func (c *TokenClaims) UserUUID() (uuid.UUID, error) {
	return uuid.Parse(c.UserID())
}

// TokenKind returns the kind claim
func (c *TokenClaims) TokenKind() TokenKind {
	return c.Kind
}

// VerifyStatus returns the verification-status snapshot taken at issuance.
// Access and refresh tokens carry it so downstream gates can branch without a
// fresh store lookup.
func (c *TokenClaims) VerifyStatus() VerifyStatus {
	return c.Verify
}

// Verified reports whether the status snapshot passed verification. The
// token middleware gates on this without importing the status enum.
func (c *TokenClaims) Verified() bool {
	return c.Verify == StatusVerified
}

// Expires returns the expiration time
func (c *TokenClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *TokenClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
