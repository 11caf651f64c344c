package auth

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	repository "github.com/goliatone/go-repository-bun"
)

// ValidateCredentials resolves the account for an email and compares the
// password against the stored hash. Both failure modes collapse into the same
// error so the response never reveals whether the email is registered.
func ValidateCredentials(repo RepositoryManager, hasher PasswordAuthenticator, email, password string) Validator {
	return ValidatorFunc(func(ctx context.Context, rc *RequestContext) error {
		user, err := repo.Users().GetByIdentifier(ctx, email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrInvalidCredentials
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "credential lookup failed")
		}

		if err := hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
			return ErrInvalidCredentials
		}

		return rc.SetUser(user)
	})
}

// ValidateAccessToken decodes a bearer token and stores its claims. A missing
// token and a failed verification are distinct errors; the codec already
// separates expiry from every other decode failure.
func ValidateAccessToken(codec *Codec, token string) Validator {
	return ValidatorFunc(func(ctx context.Context, rc *RequestContext) error {
		if token == "" {
			return ErrAccessTokenRequired
		}

		claims, err := codec.Verify(token, AccessToken)
		if err != nil {
			return err
		}

		return rc.SetClaims(AccessToken, claims)
	})
}

// ValidateRefreshToken checks a refresh token two ways at once: the signature
// must verify under the refresh secret, and a row for (token, session owner)
// must exist in the store. Both checks run concurrently and the step waits for
// both; any failure collapses into the single refresh-token error so a caller
// cannot tell a forged token from a revoked one.
//
// The session owner comes from the access claims, so this validator must run
// after ValidateAccessToken.
func ValidateRefreshToken(repo RepositoryManager, codec *Codec, token string) Validator {
	return ValidatorFunc(func(ctx context.Context, rc *RequestContext) error {
		access, ok := rc.Claims(AccessToken)
		if !ok {
			return ErrAccessTokenRequired
		}

		if token == "" {
			return ErrRefreshTokenInvalid
		}

		userID, err := access.UserUUID()
		if err != nil {
			return ErrRefreshTokenInvalid
		}

		type refreshResult struct {
			claims *TokenClaims
			record *RefreshToken
			err    error
		}

		results := make(chan refreshResult, 2)

		go func() {
			claims, err := codec.Verify(token, RefreshTokenKind)
			results <- refreshResult{claims: claims, err: err}
		}()

		go func() {
			record, err := repo.RefreshTokens().GetByTokenAndUser(ctx, token, userID)
			results <- refreshResult{record: record, err: err}
		}()

		var claims *TokenClaims
		var record *RefreshToken
		var failed bool

		for i := 0; i < 2; i++ {
			select {
			case <-ctx.Done():
				return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during refresh validation")
			case res := <-results:
				if res.err != nil {
					failed = true
					continue
				}
				if res.claims != nil {
					claims = res.claims
				}
				if res.record != nil {
					record = res.record
				}
			}
		}

		if failed || claims == nil || record == nil {
			return ErrRefreshTokenInvalid
		}

		// a stored session older than the refresh TTL is dead regardless of
		// what the signature says
		if record.CreatedAt != nil {
			fresh, err := IsWithinThresholdPeriod(*record.CreatedAt, codec.TTL(RefreshTokenKind).String())
			if err != nil || !fresh {
				return ErrRefreshTokenInvalid
			}
		}

		if err := rc.SetClaims(RefreshTokenKind, claims); err != nil {
			return err
		}
		return rc.SetRefreshToken(record)
	})
}

// ValidateEmailVerifyToken decodes a verification token and checks it is
// still the one stored on the account. A token superseded by a resend fails
// the equality check even though its signature is fine.
func ValidateEmailVerifyToken(repo RepositoryManager, codec *Codec, token string) Validator {
	return ValidatorFunc(func(ctx context.Context, rc *RequestContext) error {
		claims, err := codec.Verify(token, EmailVerifyToken)
		if err != nil {
			return ErrEmailVerifyTokenInvalid
		}

		user, err := repo.Users().GetByID(ctx, claims.UserID())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrEmailVerifyTokenInvalid
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "verify token lookup failed")
		}

		if user.IsVerified() {
			return ErrUserAlreadyVerified
		}

		if user.EmailVerifyToken == "" || user.EmailVerifyToken != token {
			return ErrEmailVerifyTokenInvalid
		}

		if err := rc.SetClaims(EmailVerifyToken, claims); err != nil {
			return err
		}
		return rc.SetUser(user)
	})
}

// ValidateForgotPasswordToken is the reset-flow twin of
// ValidateEmailVerifyToken: decode under the forgot-password secret, then
// require equality with the stored token. Requesting a new reset link
// invalidates the old one through the same equality check.
func ValidateForgotPasswordToken(repo RepositoryManager, codec *Codec, token string) Validator {
	return ValidatorFunc(func(ctx context.Context, rc *RequestContext) error {
		claims, err := codec.Verify(token, ForgotPasswordToken)
		if err != nil {
			return ErrForgotPasswordTokenInvalid
		}

		user, err := repo.Users().GetByID(ctx, claims.UserID())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrForgotPasswordTokenInvalid
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "reset token lookup failed")
		}

		if user.ForgotPasswordToken == "" || user.ForgotPasswordToken != token {
			return ErrForgotPasswordTokenInvalid
		}

		if err := rc.SetClaims(ForgotPasswordToken, claims); err != nil {
			return err
		}
		return rc.SetUser(user)
	})
}

// RequireVerifiedUser gates verified-only actions on the status snapshot the
// access token carries. A user verified after the token was issued stays
// gated until they refresh their session.
func RequireVerifiedUser() Validator {
	return ValidatorFunc(func(ctx context.Context, rc *RequestContext) error {
		claims, ok := rc.Claims(AccessToken)
		if !ok {
			return ErrAccessTokenRequired
		}
		if claims.VerifyStatus() != StatusVerified {
			return ErrUserNotVerified
		}
		return nil
	})
}

// RequireUnverifiedUser gates the resend-verification flow. Unlike
// RequireVerifiedUser this reads the store, not the token snapshot, so a user
// who verified moments ago cannot trigger another email.
func RequireUnverifiedUser(repo RepositoryManager) Validator {
	return ValidatorFunc(func(ctx context.Context, rc *RequestContext) error {
		claims, ok := rc.Claims(AccessToken)
		if !ok {
			return ErrAccessTokenRequired
		}

		user, err := repo.Users().GetByID(ctx, claims.UserID())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrEntityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "user lookup failed")
		}

		if user.IsVerified() {
			return ErrUserAlreadyVerified
		}

		return rc.SetUser(user)
	})
}

// ValidateAccountByEmail resolves the account behind an email for flows that
// identify the caller by address alone, like forgot-password.
func ValidateAccountByEmail(repo RepositoryManager, email string) Validator {
	return ValidatorFunc(func(ctx context.Context, rc *RequestContext) error {
		user, err := repo.Users().GetByIdentifier(ctx, email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrEntityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "account lookup failed")
		}
		return rc.SetUser(user)
	})
}

// ValidateEmailAvailable is the registration pre-check. It reports the taken
// address as a field error; the unique index on email remains the
// authoritative guard and catches the race this check can lose.
func ValidateEmailAvailable(repo RepositoryManager, email string) Validator {
	return ValidatorFunc(func(ctx context.Context, rc *RequestContext) error {
		exists, err := repo.Users().EmailExists(ctx, email)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "email lookup failed")
		}
		if exists {
			return validation.Errors{
				"email": errors.New("email already exists"),
			}
		}
		return nil
	})
}

// ValidateUsernameAvailable checks a requested username against every account
// except the caller's own. An empty username always passes; it means the
// caller is not changing it.
func ValidateUsernameAvailable(repo RepositoryManager, username string, excludeID uuid.UUID) Validator {
	return ValidatorFunc(func(ctx context.Context, rc *RequestContext) error {
		if username == "" {
			return nil
		}
		exists, err := repo.Users().UsernameExists(ctx, username, excludeID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "username lookup failed")
		}
		if exists {
			return validation.Errors{
				"username": errors.New("username already exists"),
			}
		}
		return nil
	})
}

// ValidateFollowTarget resolves the account a follow or unfollow operates on.
// A missing target and an unverified target produce the same not-found error,
// so the endpoint cannot be used to probe which accounts exist.
func ValidateFollowTarget(repo RepositoryManager, selfID, targetID string) Validator {
	return ValidatorFunc(func(ctx context.Context, rc *RequestContext) error {
		parsed, err := uuid.Parse(targetID)
		if err != nil {
			return validation.Errors{
				"followed_user_id": errors.New("must be a valid UUID"),
			}
		}

		if targetID == selfID {
			return validation.Errors{
				"followed_user_id": errors.New("cannot follow yourself"),
			}
		}

		target, err := repo.Users().GetByID(ctx, parsed.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrEntityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "follow target lookup failed")
		}

		if !target.IsVerified() {
			return ErrEntityNotFound
		}

		return rc.SetTarget(target)
	})
}
