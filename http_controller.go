package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Patch(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// AuthController exposes the account API over JSON routes. Every handler
// builds a validator chain for its inputs, runs it, and hands the resolved
// request context to the service.
type AuthController struct {
	Debug   bool
	Logger  Logger
	Repo    RepositoryManager
	Codec   *Codec
	Service *AccountService
	Config  Config
}

// AuthControllerOption customizes an AuthController.
type AuthControllerOption func(*AuthController) *AuthController

// WithControllerLogger sets the controller logger.
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithDebug enables payload dumps on registration and login.
func WithDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

// NewAuthController wires a controller. Repo, Codec, Service, and Config are
// required; the constructor panics on missing collaborators the same way the
// route registrar would fail later, just earlier and louder.
func NewAuthController(repo RepositoryManager, codec *Codec, service *AccountService, cfg Config, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:  defLogger{},
		Repo:    repo,
		Codec:   codec,
		Service: service,
		Config:  cfg,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}
	if c.Codec == nil {
		panic("Missing Codec in auth controller...")
	}
	if c.Service == nil {
		panic("Missing AccountService in auth controller...")
	}

	return c
}

// RegisterRoutes mounts the account API on the given registrar. Routes that
// need a signed-in caller go behind the token middleware; the verified gate
// is applied where the route demands a confirmed address.
func (a *AuthController) RegisterRoutes(group RouteRegistrar) {
	errHandler := MakeAPIErrorHandler(a.Logger)
	protected := ProtectedRoute(a.Config, a.Codec, errHandler)
	verified := VerifiedRoute(a.Config, a.Codec, errHandler)

	group.Post("/register", a.Register)
	group.Post("/login", a.Login)
	group.Post("/logout", a.Logout, protected)
	group.Post("/verify-email", a.VerifyEmail)
	group.Post("/resend-verify-email", a.ResendVerifyEmail, protected)
	group.Post("/forgot-password", a.ForgotPassword)
	group.Get("/verify-forgot-password", a.VerifyForgotPassword)
	group.Post("/reset-password", a.ResetPassword)
	group.Get("/me", a.GetMe, verified)
	group.Patch("/me", a.UpdateMe, verified)
	group.Post("/follow", a.Follow, verified)
	group.Delete("/follow/:id", a.UnFollow, verified)
}

// RegisterPayload is the registration body.
type RegisterPayload struct {
	Name            string `json:"name" form:"name"`
	Email           string `json:"email" form:"email"`
	Username        string `json:"username" form:"username"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
	DateOfBirth     string `json:"date_of_birth" form:"date_of_birth"`
}

// Validate will run validation rules
func (r RegisterPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Username, validation.Length(3, 30)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 50)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
		validation.Field(&r.DateOfBirth, validation.By(ValidateISODate)),
	)
}

func (r RegisterPayload) dateOfBirth() *time.Time {
	if r.DateOfBirth == "" {
		return nil
	}
	if t, err := parseISODate(r.DateOfBirth); err == nil {
		return &t
	}
	return nil
}

// Register creates an account and returns its first session.
func (a *AuthController) Register(ctx router.Context) error {
	payload := new(RegisterPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= AUTH REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("============================")
	}

	chain := NewChain(
		PayloadValidator(payload),
		ValidateEmailAvailable(a.Repo, payload.Email),
		ValidateUsernameAvailable(a.Repo, payload.Username, uuidNil()),
	).WithLogger(a.Logger)

	if _, err := chain.Run(ctx.Context()); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	session, err := a.Service.Register(ctx.Context(), RegisterInput{
		Name:        payload.Name,
		Email:       payload.Email,
		Username:    payload.Username,
		Password:    payload.Password,
		DateOfBirth: payload.dateOfBirth(),
	})
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return RespondData(ctx, fiber.StatusOK, "Register success", session)
}

// LoginPayload is the credential body.
type LoginPayload struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// Login checks credentials and opens a session.
func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	chain := NewChain(
		PayloadValidator(payload),
		ValidateCredentials(a.Repo, a.Service.hasher, payload.Email, payload.Password),
	).WithLogger(a.Logger)

	rc, err := chain.Run(ctx.Context())
	if err != nil {
		if IsAuthFailure(err) {
			a.Service.NoteLoginFailure(ctx.Context(), payload.Email)
		}
		return WriteError(ctx, a.Logger, err)
	}

	user, _ := rc.User()
	session, err := a.Service.Login(ctx.Context(), user)
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return RespondData(ctx, fiber.StatusOK, "Login success", session)
}

// LogoutPayload carries the refresh token to revoke.
type LogoutPayload struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

// Validate will run validation rules
func (r LogoutPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// Logout revokes one refresh token. The access token rode in on the header
// and was already decoded by the route middleware; the refresh token is
// re-validated against both its secret and the store before deletion.
func (a *AuthController) Logout(ctx router.Context) error {
	payload := new(LogoutPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	claims, ok := GetRouterClaims(ctx, a.Config.GetContextKey())
	if !ok {
		return WriteError(ctx, a.Logger, ErrAccessTokenRequired)
	}

	chain := NewChain(
		PayloadValidator(payload),
		seedAccessClaims(claims),
		ValidateRefreshToken(a.Repo, a.Codec, payload.RefreshToken),
	).WithLogger(a.Logger)

	if _, err := chain.Run(ctx.Context()); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	if err := a.Service.Logout(ctx.Context(), claims.UserID(), payload.RefreshToken); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return RespondData(ctx, fiber.StatusOK, "Logout success", nil)
}

// VerifyEmailPayload carries the mailed verification token.
type VerifyEmailPayload struct {
	Token string `json:"token" form:"token"`
}

// Validate will run validation rules
func (r VerifyEmailPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

// VerifyEmail consumes a verification token and returns a session that
// carries the Verified status.
func (a *AuthController) VerifyEmail(ctx router.Context) error {
	payload := new(VerifyEmailPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	chain := NewChain(
		PayloadValidator(payload),
		ValidateEmailVerifyToken(a.Repo, a.Codec, payload.Token),
	).WithLogger(a.Logger)

	rc, err := chain.Run(ctx.Context())
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	user, _ := rc.User()
	session, err := a.Service.VerifyEmail(ctx.Context(), user)
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return RespondData(ctx, fiber.StatusOK, "Email verified", session)
}

// ResendVerifyEmail issues a fresh verification token for a signed-in user
// who has not verified yet.
func (a *AuthController) ResendVerifyEmail(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.Config.GetContextKey())
	if !ok {
		return WriteError(ctx, a.Logger, ErrAccessTokenRequired)
	}

	chain := NewChain(
		seedAccessClaims(claims),
		RequireUnverifiedUser(a.Repo),
	).WithLogger(a.Logger)

	rc, err := chain.Run(ctx.Context())
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	user, _ := rc.User()
	if err := a.Service.ResendVerifyEmail(ctx.Context(), user); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return RespondData(ctx, fiber.StatusOK, "Verification email sent", nil)
}

// ForgotPasswordPayload identifies the account by address.
type ForgotPasswordPayload struct {
	Email string `json:"email" form:"email"`
}

// Validate will run validation rules
func (r ForgotPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// ForgotPassword issues a reset token and mails it out.
func (a *AuthController) ForgotPassword(ctx router.Context) error {
	payload := new(ForgotPasswordPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	chain := NewChain(
		PayloadValidator(payload),
		ValidateAccountByEmail(a.Repo, payload.Email),
	).WithLogger(a.Logger)

	rc, err := chain.Run(ctx.Context())
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	user, _ := rc.User()
	if err := a.Service.ForgotPassword(ctx.Context(), user); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return RespondData(ctx, fiber.StatusOK, "Password reset email sent", nil)
}

// VerifyForgotPassword checks a reset token without consuming it, so a reset
// form can validate the link before showing the password fields.
func (a *AuthController) VerifyForgotPassword(ctx router.Context) error {
	token := ctx.Query("token", "")

	chain := NewChain(
		ValidateForgotPasswordToken(a.Repo, a.Codec, token),
	).WithLogger(a.Logger)

	if _, err := chain.Run(ctx.Context()); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return RespondData(ctx, fiber.StatusOK, "Token is valid", nil)
}

// ResetPasswordPayload carries the reset token and the replacement password.
type ResetPasswordPayload struct {
	Token           string `json:"token" form:"token"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
}

// Validate will run validation rules
func (r ResetPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 50)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

// ResetPassword consumes a reset token and replaces the password.
func (a *AuthController) ResetPassword(ctx router.Context) error {
	payload := new(ResetPasswordPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	chain := NewChain(
		PayloadValidator(payload),
		ValidateForgotPasswordToken(a.Repo, a.Codec, payload.Token),
	).WithLogger(a.Logger)

	rc, err := chain.Run(ctx.Context())
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	user, _ := rc.User()
	if err := a.Service.ResetPassword(ctx.Context(), user, payload.Password); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return RespondData(ctx, fiber.StatusOK, "Password reset success", nil)
}

// GetMe returns the caller's profile.
func (a *AuthController) GetMe(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.Config.GetContextKey())
	if !ok {
		return WriteError(ctx, a.Logger, ErrAccessTokenRequired)
	}
	if !HasUserUUID(claims) {
		return WriteError(ctx, a.Logger, ErrTokenMalformed)
	}

	profile, err := a.Service.GetMe(ctx.Context(), claims.UserID())
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return RespondData(ctx, fiber.StatusOK, "OK", profile)
}

// UpdateMePayload is the partial-update body. Pointer fields distinguish
// "leave alone" from "clear".
type UpdateMePayload struct {
	Name        *string `json:"name"`
	Username    *string `json:"username"`
	Bio         *string `json:"bio"`
	Location    *string `json:"location"`
	Website     *string `json:"website"`
	Phone       *string `json:"phone_number"`
	Avatar      *string `json:"avatar"`
	CoverPhoto  *string `json:"cover_photo"`
	DateOfBirth *string `json:"date_of_birth"`
}

// Validate will run validation rules
func (r UpdateMePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.By(optional(validateLength(1, 100)))),
		validation.Field(&r.Username, validation.By(optional(validateLength(3, 30)))),
		validation.Field(&r.Bio, validation.By(optional(validateLength(0, 500)))),
		validation.Field(&r.Website, validation.By(optional(validateURL))),
		validation.Field(&r.Phone, validation.By(optional(ValidatePhoneNumber))),
		validation.Field(&r.DateOfBirth, validation.By(optional(ValidateISODate))),
	)
}

// UpdateMe applies a partial profile update.
func (a *AuthController) UpdateMe(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.Config.GetContextKey())
	if !ok {
		return WriteError(ctx, a.Logger, ErrAccessTokenRequired)
	}

	payload := new(UpdateMePayload)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	userID, err := claimsUUID(claims)
	if err != nil {
		return WriteError(ctx, a.Logger, ErrTokenMalformed)
	}

	chain := NewChain(
		PayloadValidator(payload),
		ValidateUsernameAvailable(a.Repo, deref(payload.Username), userID),
	).WithLogger(a.Logger)

	if _, err := chain.Run(ctx.Context()); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	profile, err := a.Service.UpdateMe(ctx.Context(), claims.UserID(), UpdateMeInput{
		Name:        payload.Name,
		Username:    payload.Username,
		Bio:         payload.Bio,
		Location:    payload.Location,
		Website:     payload.Website,
		Phone:       payload.Phone,
		Avatar:      payload.Avatar,
		CoverPhoto:  payload.CoverPhoto,
		DateOfBirth: parseOptionalDate(payload.DateOfBirth),
	})
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return RespondData(ctx, fiber.StatusOK, "Profile updated", profile)
}

// FollowPayload names the account to follow.
type FollowPayload struct {
	FollowedUserID string `json:"followed_user_id" form:"followed_user_id"`
}

// Validate will run validation rules
func (r FollowPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FollowedUserID, validation.Required, is.UUID),
	)
}

// Follow adds a follow edge. Re-following reports the edge as existing
// rather than erroring.
func (a *AuthController) Follow(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.Config.GetContextKey())
	if !ok {
		return WriteError(ctx, a.Logger, ErrAccessTokenRequired)
	}

	payload := new(FollowPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	userID, err := claimsUUID(claims)
	if err != nil {
		return WriteError(ctx, a.Logger, ErrTokenMalformed)
	}

	chain := NewChain(
		PayloadValidator(payload),
		ValidateFollowTarget(a.Repo, claims.UserID(), payload.FollowedUserID),
	).WithLogger(a.Logger)

	rc, err := chain.Run(ctx.Context())
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	target, _ := rc.Target()
	already, err := a.Service.Follow(ctx.Context(), userID, target.ID)
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return RespondData(ctx, fiber.StatusOK, "Follow success", map[string]any{
		"already_followed": already,
	})
}

// UnFollow removes a follow edge. Removing an absent edge reports failure in
// the body, not an error status.
func (a *AuthController) UnFollow(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.Config.GetContextKey())
	if !ok {
		return WriteError(ctx, a.Logger, ErrAccessTokenRequired)
	}

	userID, err := claimsUUID(claims)
	if err != nil {
		return WriteError(ctx, a.Logger, ErrTokenMalformed)
	}

	targetID := ctx.Param("id")

	chain := NewChain(
		ValidateFollowTarget(a.Repo, claims.UserID(), targetID),
	).WithLogger(a.Logger)

	rc, err := chain.Run(ctx.Context())
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	target, _ := rc.Target()
	unfollowed, err := a.Service.UnFollow(ctx.Context(), userID, target.ID)
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return RespondData(ctx, fiber.StatusOK, "Unfollow success", map[string]any{
		"unfollowed": unfollowed,
	})
}

func (a *AuthController) badRequest(ctx router.Context, err error) error {
	a.Logger.Error("failed to parse request body", "error", err)
	return ctx.JSON(fiber.StatusBadRequest, APIError{
		Message: "Failed to parse request body",
		Status:  fiber.StatusBadRequest,
	})
}

// seedAccessClaims plants middleware-decoded claims into the chain so
// validators that depend on them can run without re-verifying the header.
func seedAccessClaims(claims AuthClaims) Validator {
	return ValidatorFunc(func(ctx context.Context, rc *RequestContext) error {
		return rc.SetClaims(AccessToken, claims)
	})
}

func claimsUUID(claims AuthClaims) (uuid.UUID, error) {
	return claims.UserUUID()
}

func uuidNil() uuid.UUID {
	return uuid.Nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseISODate accepts a full RFC 3339 timestamp or a bare YYYY-MM-DD date.
func parseISODate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseOptionalDate(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	if t, err := parseISODate(*s); err == nil {
		return &t
	}
	return nil
}

// ValidateStringEquals enforces that a field matches another value.
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// ValidateISODate accepts an empty string, an RFC 3339 timestamp, or a
// YYYY-MM-DD date.
func ValidateISODate(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := parseISODate(s); err != nil {
		return errors.New("must be a valid ISO 8601 date")
	}
	return nil
}

// ValidatePhoneNumber parses the value as an international phone number.
func ValidatePhoneNumber(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	num, err := phonenumbers.Parse(s, "US")
	if err != nil {
		return errors.New("must be a valid phone number")
	}
	if !phonenumbers.IsValidNumber(num) {
		return errors.New("must be a valid phone number")
	}
	return nil
}

// optional lifts a string rule over a *string, passing when the pointer is nil.
func optional(rule validation.RuleFunc) validation.RuleFunc {
	return func(value any) error {
		s, ok := value.(*string)
		if !ok || s == nil {
			return nil
		}
		return rule(*s)
	}
}

func validateLength(min, max int) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if len(s) < min || (max > 0 && len(s) > max) {
			return fmt.Errorf("the length must be between %d and %d", min, max)
		}
		return nil
	}
}

func validateURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	return validation.Validate(s, is.URL)
}
