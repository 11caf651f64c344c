package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerifyStatus gates whether a user may perform verified-only actions.
type VerifyStatus int

const (
	// StatusUnverified is the status of a freshly registered account.
	StatusUnverified VerifyStatus = iota
	// StatusVerified means the account confirmed its email address.
	StatusVerified
	// StatusBanned accounts fail every verified-only gate.
	StatusBanned
)

// String returns a stable label for logs and audit events.
func (s VerifyStatus) String() string {
	switch s {
	case StatusUnverified:
		return "unverified"
	case StatusVerified:
		return "verified"
	case StatusBanned:
		return "banned"
	}
	return "unknown"
}

// User is the user model
type User struct {
	bun.BaseModel       `bun:"table:users,alias:usr"`
	ID                  uuid.UUID    `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name                string       `bun:"name,notnull" json:"name,omitempty"`
	Email               string       `bun:"email,notnull,unique" json:"email,omitempty"`
	Username            string       `bun:"username,unique,nullzero" json:"username,omitempty"`
	PasswordHash        string       `bun:"password_hash" json:"-"`
	DateOfBirth         *time.Time   `bun:"date_of_birth,nullzero" json:"date_of_birth,omitempty"`
	Verify              VerifyStatus `bun:"verify,notnull,default:0" json:"verify,omitempty"`
	EmailVerifyToken    string       `bun:"email_verify_token,nullzero" json:"-"`
	ForgotPasswordToken string       `bun:"forgot_password_token,nullzero" json:"-"`
	Bio                 string       `bun:"bio,nullzero" json:"bio,omitempty"`
	Location            string       `bun:"location,nullzero" json:"location,omitempty"`
	Website             string       `bun:"website,nullzero" json:"website,omitempty"`
	Phone               string       `bun:"phone_number,nullzero" json:"phone_number,omitempty"`
	Avatar              string       `bun:"avatar,nullzero" json:"avatar,omitempty"`
	CoverPhoto          string       `bun:"cover_photo,nullzero" json:"cover_photo,omitempty"`
	CreatedAt           *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt           *time.Time   `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsVerified reports whether the account passed email verification.
func (u *User) IsVerified() bool {
	return u != nil && u.Verify == StatusVerified
}

// PublicProfile is the outward projection of a User. Credential and token
// columns never leave the package through it.
type PublicProfile struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name,omitempty"`
	Email       string     `json:"email,omitempty"`
	Username    string     `json:"username,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Bio         string     `json:"bio,omitempty"`
	Location    string     `json:"location,omitempty"`
	Website     string     `json:"website,omitempty"`
	Phone       string     `json:"phone_number,omitempty"`
	Avatar      string     `json:"avatar,omitempty"`
	CoverPhoto  string     `json:"cover_photo,omitempty"`
}

// Public projects the user into its external shape.
func (u *User) Public() *PublicProfile {
	if u == nil {
		return nil
	}
	return &PublicProfile{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Username:    u.Username,
		DateOfBirth: u.DateOfBirth,
		Bio:         u.Bio,
		Location:    u.Location,
		Website:     u.Website,
		Phone:       u.Phone,
		Avatar:      u.Avatar,
		CoverPhoto:  u.CoverPhoto,
	}
}

// RefreshToken is a persisted refresh session. A row exists only between a
// successful login or registration and an explicit logout; the store owns it.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rtk"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Token         string     `bun:"token,notnull,unique" json:"token,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Follower is a follow edge keyed by (follower, followed).
type Follower struct {
	bun.BaseModel  `bun:"table:followers,alias:flw"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID         uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	FollowedUserID uuid.UUID  `bun:"followed_user_id,notnull,type:uuid" json:"followed_user_id,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}
