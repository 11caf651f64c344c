package auth

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-social-auth/middleware/tokenware"
)

// APIResponse is the success envelope every endpoint returns.
type APIResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// APIError is the failure envelope. Errors carries the field map for
// unprocessable-entity responses and is absent otherwise.
type APIError struct {
	Message string            `json:"message"`
	Status  int               `json:"status"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// RespondData writes the success envelope.
func RespondData(ctx router.Context, status int, message string, data any) error {
	return ctx.JSON(status, APIResponse{Message: message, Data: data})
}

// WriteError classifies err and writes the failure envelope. Field-scoped
// failures carry their field map; everything unclassified becomes a generic
// server fault so no failure path produces a silent success.
func WriteError(ctx router.Context, logger Logger, err error) error {
	if logger == nil {
		logger = defLogger{}
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		rich = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	status := rich.Code
	if status == 0 {
		status = goerrors.CodeInternal
	}

	if status >= 500 {
		logger.Error("request failed",
			"error", rich.Message,
			"category", rich.Category,
			"details", print.MaybePrettyJSON(rich.Metadata),
		)
	}

	return ctx.JSON(status, APIError{
		Message: rich.Message,
		Status:  status,
		Errors:  FormatValidationErrorToMap(rich),
	})
}

// MakeAPIErrorHandler adapts WriteError into the middleware error-handler
// shape, translating raw middleware failures into the package's rich errors.
func MakeAPIErrorHandler(logger Logger) func(router.Context, error) error {
	return func(ctx router.Context, err error) error {
		var rich *goerrors.Error
		switch {
		case goerrors.As(err, &rich):
		// the missing-token sentinel reads "missing or malformed JWT" and
		// would otherwise trip the malformed check below
		case errors.Is(err, tokenware.ErrTokenMissingOrInvalid):
			rich = ErrAccessTokenRequired
		case IsTokenExpiredError(err):
			rich = ErrTokenExpired
		case IsMalformedError(err):
			rich = ErrTokenMalformed
		case err == tokenware.ErrNotVerified:
			rich = ErrUserNotVerified
		default:
			rich = ErrAccessTokenRequired
		}
		return WriteError(ctx, logger, rich)
	}
}

// kindValidator fixes a Codec to one token kind so it satisfies the
// middleware's TokenValidator without importing this package's claim types.
type kindValidator struct {
	codec *Codec
	kind  TokenKind
}

// Validate implements tokenware.TokenValidator.
func (v kindValidator) Validate(tokenString string) (tokenware.AuthClaims, error) {
	claims, err := v.codec.Verify(tokenString, v.kind)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// NewKindValidator exposes the codec as a middleware validator for a kind.
func NewKindValidator(codec *Codec, kind TokenKind) tokenware.TokenValidator {
	return kindValidator{codec: codec, kind: kind}
}

// ProtectedRoute guards a route behind a valid access token. Decoded claims
// land in Locals under the configured context key.
func ProtectedRoute(cfg Config, codec *Codec, errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	return protectedRoute(cfg, codec, errorHandler, false)
}

// VerifiedRoute is ProtectedRoute plus the verified-account gate. The gate
// reads the status snapshot carried by the token, so a user verified after
// issuance stays gated until their session refreshes.
func VerifiedRoute(cfg Config, codec *Codec, errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	return protectedRoute(cfg, codec, errorHandler, true)
}

func protectedRoute(cfg Config, codec *Codec, errorHandler func(router.Context, error) error, requireVerified bool) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return tokenware.New(tokenware.Config{
			ErrorHandler:    errorHandler,
			TokenValidator:  NewKindValidator(codec, AccessToken),
			AuthScheme:      cfg.GetAuthScheme(),
			ContextKey:      cfg.GetContextKey(),
			TokenLookup:     cfg.GetTokenLookup(),
			RequireVerified: requireVerified,
			ContextEnricher: func(ctx context.Context, claims tokenware.AuthClaims) context.Context {
				if tc, ok := claims.(*TokenClaims); ok {
					return WithClaimsContext(ctx, tc)
				}
				return ctx
			},
		})(hf)
	}
}
