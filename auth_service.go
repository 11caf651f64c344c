package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// serviceTimeout bounds every store-touching operation. The deadline covers
// the whole transaction, not individual statements.
const serviceTimeout = time.Second * 10

// AccountService implements registration, sessions, verification, and the
// profile operations. Validators have already classified the request by the
// time a method here runs, so the service deals in resolved users and claims,
// not raw request input.
type AccountService struct {
	repo             RepositoryManager
	codec            *Codec
	hasher           PasswordAuthenticator
	mailer           Mailer
	sink             ActivitySink
	logger           Logger
	deterministicIDs bool
}

// AccountOption customizes an AccountService.
type AccountOption func(*AccountService)

// WithLogger sets the service logger.
func WithLogger(logger Logger) AccountOption {
	return func(s *AccountService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMailer sets the outbound mailer for verification and reset emails.
func WithMailer(mailer Mailer) AccountOption {
	return func(s *AccountService) {
		if mailer != nil {
			s.mailer = mailer
		}
	}
}

// WithActivitySink routes audit events to the given sink.
func WithActivitySink(sink ActivitySink) AccountOption {
	return func(s *AccountService) {
		s.sink = normalizeActivitySink(sink)
	}
}

// WithPasswordAuthenticator replaces the default bcrypt hasher.
func WithPasswordAuthenticator(hasher PasswordAuthenticator) AccountOption {
	return func(s *AccountService) {
		if hasher != nil {
			s.hasher = hasher
		}
	}
}

// WithDeterministicIDs derives user IDs from the registration email instead
// of random UUIDs. Useful for fixtures and idempotent imports.
func WithDeterministicIDs(enabled bool) AccountOption {
	return func(s *AccountService) {
		s.deterministicIDs = enabled
	}
}

// NewAccountService wires an AccountService with its collaborators.
func NewAccountService(repo RepositoryManager, codec *Codec, opts ...AccountOption) *AccountService {
	s := &AccountService{
		repo:   repo,
		codec:  codec,
		hasher: BcryptHasher{},
		mailer: NoopMailer(),
		sink:   noopActivitySink{},
		logger: defLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterInput is the resolved registration payload.
type RegisterInput struct {
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	Password    string     `json:"password"`
	DateOfBirth *time.Time `json:"date_of_birth"`
}

// Session pairs a user with the tokens that authenticate them.
type Session struct {
	User   *PublicProfile `json:"user"`
	Tokens *TokenPair     `json:"tokens"`
}

// Register creates an account and opens its first session. The new user
// starts Unverified; a verification email goes out after the transaction
// commits. The unique index on email is the authoritative duplicate guard,
// the pipeline pre-check only narrows the race window.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	hash, err := s.hasher.HashPassword(input.Password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		Name:         input.Name,
		Email:        input.Email,
		Username:     defaultUsername(input.Username, input.Email),
		PasswordHash: hash,
		DateOfBirth:  input.DateOfBirth,
		Verify:       StatusUnverified,
	}

	if s.deterministicIDs {
		if id, err := hashid.NewUUID(input.Email); err == nil {
			user.ID = id
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	verifyToken, err := s.codec.Sign(user.ID.String(), EmailVerifyToken, StatusUnverified)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign verify token")
	}
	user.EmailVerifyToken = verifyToken

	var tokens *TokenPair

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := s.repo.Users().RegisterTx(ctx, tx, user)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateRecord
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
		}
		user = created

		tokens, err = s.codec.IssuePair(ctx, user.ID.String(), StatusUnverified)
		if err != nil {
			return err
		}

		_, err = s.repo.RefreshTokens().StoreTx(ctx, tx, user.ID, tokens.RefreshToken)
		return err
	})
	if err != nil {
		return nil, classifyServiceError(err, "user registration failed")
	}

	if err := s.mailer.SendVerifyEmail(ctx, user.Email, verifyToken); err != nil {
		s.logger.Error("failed to send verification email", "user", user.ID, "error", err)
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventRegister,
		UserID:    user.ID.String(),
		ToStatus:  StatusUnverified,
	})

	return &Session{User: user.Public(), Tokens: tokens}, nil
}

// Login opens a session for an already authenticated user. Existing refresh
// tokens stay valid; concurrent sessions are allowed.
func (s *AccountService) Login(ctx context.Context, user *User) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	tokens, err := s.codec.IssuePair(ctx, user.ID.String(), user.Verify)
	if err != nil {
		return nil, err
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := s.repo.RefreshTokens().StoreTx(ctx, tx, user.ID, tokens.RefreshToken)
		return err
	})
	if err != nil {
		return nil, classifyServiceError(err, "login failed")
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    user.ID.String(),
		ToStatus:  user.Verify,
	})

	return &Session{User: user.Public(), Tokens: tokens}, nil
}

// NoteLoginFailure records a failed credential check for auditing. The error
// returned to the caller stays uniform regardless.
func (s *AccountService) NoteLoginFailure(ctx context.Context, email string) {
	s.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Metadata:  map[string]any{"email": email},
	})
}

// Logout deletes the refresh-token row for the session. Deleting a token
// already gone is not an error here; the pipeline established existence
// before this runs.
func (s *AccountService) Logout(ctx context.Context, userID, refreshToken string) error {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	if _, err := s.repo.RefreshTokens().DeleteByToken(ctx, refreshToken); err != nil {
		return classifyServiceError(err, "logout failed")
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		UserID:    userID,
	})

	return nil
}

// ResendVerifyEmail issues a fresh verification token and overwrites the
// stored one. Last write wins: a token mailed earlier stops verifying the
// moment the overwrite lands, because verification re-checks the stored
// value.
func (s *AccountService) ResendVerifyEmail(ctx context.Context, user *User) error {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	verifyToken, err := s.codec.Sign(user.ID.String(), EmailVerifyToken, user.Verify)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign verify token")
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.repo.Users().SetEmailVerifyTokenTx(ctx, tx, user.ID, verifyToken)
	})
	if err != nil {
		return classifyServiceError(err, "could not store verify token")
	}

	if err := s.mailer.SendVerifyEmail(ctx, user.Email, verifyToken); err != nil {
		s.logger.Error("failed to send verification email", "user", user.ID, "error", err)
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventVerifyEmailResent,
		UserID:    user.ID.String(),
	})

	return nil
}

// VerifyEmail flips the account to Verified and issues a session pair that
// carries the new status. The status flip and the pair issuance run
// concurrently and both must succeed; a failed flip discards the pair.
func (s *AccountService) VerifyEmail(ctx context.Context, user *User) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	type verifyResult struct {
		tokens *TokenPair
		err    error
	}

	results := make(chan verifyResult, 2)

	go func() {
		err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return s.repo.Users().MarkVerifiedTx(ctx, tx, user.ID)
		})
		results <- verifyResult{err: err}
	}()

	go func() {
		tokens, err := s.codec.IssuePair(ctx, user.ID.String(), StatusVerified)
		results <- verifyResult{tokens: tokens, err: err}
	}()

	var tokens *TokenPair
	var firstErr error

	for i := 0; i < 2; i++ {
		select {
		case <-ctx.Done():
			return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during email verification")
		case res := <-results:
			if res.err != nil && firstErr == nil {
				firstErr = res.err
			}
			if res.tokens != nil {
				tokens = res.tokens
			}
		}
	}

	if firstErr != nil {
		return nil, classifyServiceError(firstErr, "email verification failed")
	}

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := s.repo.RefreshTokens().StoreTx(ctx, tx, user.ID, tokens.RefreshToken)
		return err
	})
	if err != nil {
		return nil, classifyServiceError(err, "email verification failed")
	}

	s.record(ctx, ActivityEvent{
		EventType:  ActivityEventEmailVerified,
		UserID:     user.ID.String(),
		FromStatus: user.Verify,
		ToStatus:   StatusVerified,
	})

	verified := *user
	verified.Verify = StatusVerified
	verified.EmailVerifyToken = ""

	return &Session{User: verified.Public(), Tokens: tokens}, nil
}

// ForgotPassword issues a reset token, stores it on the account, and mails
// it out. A second request overwrites the first token, invalidating it.
func (s *AccountService) ForgotPassword(ctx context.Context, user *User) error {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	resetToken, err := s.codec.Sign(user.ID.String(), ForgotPasswordToken, user.Verify)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign reset token")
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.repo.Users().SetForgotPasswordTokenTx(ctx, tx, user.ID, resetToken)
	})
	if err != nil {
		return classifyServiceError(err, "could not store reset token")
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, resetToken); err != nil {
		s.logger.Error("failed to send reset email", "user", user.ID, "error", err)
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		UserID:    user.ID.String(),
	})

	return nil
}

// ResetPassword overwrites the password hash and clears the stored reset
// token in a single update, so a reset link is single use.
func (s *AccountService) ResetPassword(ctx context.Context, user *User, newPassword string) error {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	hash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.repo.Users().ResetPasswordTx(ctx, tx, user.ID, hash)
	})
	if err != nil {
		return classifyServiceError(err, "could not reset password")
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		UserID:    user.ID.String(),
	})

	return nil
}

// GetMe returns the caller's profile through the public projection.
func (s *AccountService) GetMe(ctx context.Context, userID string) (*PublicProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	user, err := s.repo.Users().GetByID(ctx, userID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrEntityNotFound
		}
		return nil, classifyServiceError(err, "could not load profile")
	}

	return user.Public(), nil
}

// UpdateMeInput names the profile fields a user may change. Nil means leave
// the field alone; an empty string clears it.
type UpdateMeInput struct {
	Name        *string    `json:"name"`
	Username    *string    `json:"username"`
	Bio         *string    `json:"bio"`
	Location    *string    `json:"location"`
	Website     *string    `json:"website"`
	Phone       *string    `json:"phone_number"`
	Avatar      *string    `json:"avatar"`
	CoverPhoto  *string    `json:"cover_photo"`
	DateOfBirth *time.Time `json:"date_of_birth"`
}

// UpdateMe applies a partial profile update and returns the new projection.
// Credential and token columns are not reachable from here.
func (s *AccountService) UpdateMe(ctx context.Context, userID string, input UpdateMeInput) (*PublicProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	var user *User

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.repo.Users().GetByID(ctx, userID)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrEntityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not load profile")
		}

		applyProfileUpdate(user, input)

		user, err = s.repo.Users().UpdateTx(ctx, tx, user)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateRecord
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not update profile")
		}
		return nil
	})
	if err != nil {
		return nil, classifyServiceError(err, "profile update failed")
	}

	return user.Public(), nil
}

// Follow adds a follow edge and reports whether it already existed. Adding an
// existing edge is not an error.
func (s *AccountService) Follow(ctx context.Context, userID, targetID uuid.UUID) (alreadyFollowed bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	alreadyFollowed, err = s.repo.Followers().Follow(ctx, userID, targetID)
	if err != nil {
		return false, classifyServiceError(err, "follow failed")
	}
	return alreadyFollowed, nil
}

// UnFollow removes a follow edge and reports whether one was removed.
func (s *AccountService) UnFollow(ctx context.Context, userID, targetID uuid.UUID) (unfollowed bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	unfollowed, err = s.repo.Followers().UnFollow(ctx, userID, targetID)
	if err != nil {
		return false, classifyServiceError(err, "unfollow failed")
	}
	return unfollowed, nil
}

func (s *AccountService) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := s.sink.Record(ctx, event); err != nil {
		s.logger.Error("failed to record activity event", "type", event.EventType, "error", err)
	}
}

func applyProfileUpdate(user *User, input UpdateMeInput) {
	if input.Name != nil {
		user.Name = *input.Name
	}
	if input.Username != nil {
		user.Username = *input.Username
	}
	if input.Bio != nil {
		user.Bio = *input.Bio
	}
	if input.Location != nil {
		user.Location = *input.Location
	}
	if input.Website != nil {
		user.Website = *input.Website
	}
	if input.Phone != nil {
		user.Phone = *input.Phone
	}
	if input.Avatar != nil {
		user.Avatar = *input.Avatar
	}
	if input.CoverPhoto != nil {
		user.CoverPhoto = *input.CoverPhoto
	}
	if input.DateOfBirth != nil {
		user.DateOfBirth = input.DateOfBirth
	}
}

func defaultUsername(username, email string) string {
	if username != "" {
		return username
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return username
}

// isUniqueViolation sniffs driver error text for uniqueness failures. Both
// the sqlite and postgres phrasings are covered.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "constraint failed")
}

func classifyServiceError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
