package tokenware_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"

	"github.com/goliatone/go-social-auth/middleware/tokenware"
)

type stubClaims struct {
	id       string
	verified bool
}

func (c stubClaims) UserID() string { return c.id }
func (c stubClaims) Verified() bool { return c.verified }

// stubValidator accepts exactly one token string.
type stubValidator struct {
	accept string
	claims tokenware.AuthClaims
}

func (v stubValidator) Validate(tokenString string) (tokenware.AuthClaims, error) {
	if tokenString != v.accept {
		return nil, tokenware.ErrTokenMissingOrInvalid
	}
	return v.claims, nil
}

func TestTokenware_BasicHeaderExtraction(t *testing.T) {
	cfg := tokenware.Config{
		TokenValidator: stubValidator{
			accept: "valid-token",
			claims: stubClaims{id: "12345", verified: true},
		},
		ErrorHandler: func(ctx router.Context, err error) error {
			return err
		},
	}
	handler := tokenware.New(cfg)(nil)

	// valid token
	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer valid-token"
	ctx.On("GetString", "Authorization", "").Return("Bearer valid-token")
	ctx.On("Locals", "user", mock.Anything).Return(nil)

	if err := handler(ctx); err != nil {
		t.Fatalf("unexpected error for valid token: %v", err)
	}
	if !ctx.NextCalled {
		t.Errorf("expected NextCalled to be true, but got false")
	}

	// missing token
	ctx = router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return("")
	err := handler(ctx)
	if err == nil {
		t.Fatal("expected error for missing token, got nil")
	}
	if !strings.Contains(err.Error(), tokenware.ErrTokenMissingOrInvalid.Error()) {
		t.Errorf("expected missing token error, got: %v", err)
	}

	// wrong token
	ctx = router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer forged-token"
	ctx.On("GetString", "Authorization", "").Return("Bearer forged-token")
	if err := handler(ctx); err == nil {
		t.Fatal("expected error for rejected token, got nil")
	}
}

func TestTokenware_ClaimsStoredInLocals(t *testing.T) {
	cfg := tokenware.GetDefaultConfig(tokenware.Config{
		TokenValidator: stubValidator{
			accept: "valid-token",
			claims: stubClaims{id: "u-12345", verified: true},
		},
	})
	handler := tokenware.New(cfg)(nil)

	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer valid-token"
	ctx.On("GetString", "Authorization", "").Return("Bearer valid-token")
	ctx.On("Locals", cfg.ContextKey, mock.Anything).Return(nil)

	if err := handler(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	val := ctx.Locals(cfg.ContextKey)
	if val == nil {
		t.Fatal("expected claims to be stored in ctx locals under " + cfg.ContextKey)
	}
	claims, ok := val.(tokenware.AuthClaims)
	if !ok {
		t.Fatalf("expected AuthClaims, got %T", val)
	}
	if claims.UserID() != "u-12345" {
		t.Errorf("expected user id 'u-12345', got %s", claims.UserID())
	}
}

func TestTokenware_RequireVerified(t *testing.T) {
	cfg := tokenware.Config{
		TokenValidator: stubValidator{
			accept: "unverified-token",
			claims: stubClaims{id: "12345", verified: false},
		},
		RequireVerified: true,
		ErrorHandler: func(ctx router.Context, err error) error {
			return err
		},
	}
	handler := tokenware.New(cfg)(nil)

	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer unverified-token"
	ctx.On("GetString", "Authorization", "").Return("Bearer unverified-token")

	err := handler(ctx)
	if !errors.Is(err, tokenware.ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified, got: %v", err)
	}
	if ctx.NextCalled {
		t.Error("unverified request must not reach the handler")
	}

	// same gate lets verified claims through
	cfg.TokenValidator = stubValidator{
		accept: "unverified-token",
		claims: stubClaims{id: "12345", verified: true},
	}
	handler = tokenware.New(cfg)(nil)

	ctx = router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer unverified-token"
	ctx.On("GetString", "Authorization", "").Return("Bearer unverified-token")
	ctx.On("Locals", "user", mock.Anything).Return(nil)

	if err := handler(ctx); err != nil {
		t.Fatalf("expected no error for verified claims, got %v", err)
	}
	if !ctx.NextCalled {
		t.Error("expected Next to be invoked for verified claims")
	}
}

func TestTokenware_ValidationListeners(t *testing.T) {
	seen := []string{}
	cfg := tokenware.Config{
		TokenValidator: stubValidator{
			accept: "valid-token",
			claims: stubClaims{id: "12345", verified: true},
		},
		ValidationListeners: []tokenware.ValidationListener{
			func(ctx router.Context, claims tokenware.AuthClaims) error {
				seen = append(seen, claims.UserID())
				return nil
			},
		},
		ErrorHandler: func(ctx router.Context, err error) error {
			return err
		},
	}
	handler := tokenware.New(cfg)(nil)

	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer valid-token"
	ctx.On("GetString", "Authorization", "").Return("Bearer valid-token")
	ctx.On("Locals", "user", mock.Anything).Return(nil)

	if err := handler(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(seen) != 1 || seen[0] != "12345" {
		t.Errorf("expected listener to observe user 12345, got %v", seen)
	}

	// a failing listener blocks the request
	cfg.ValidationListeners = []tokenware.ValidationListener{
		func(ctx router.Context, claims tokenware.AuthClaims) error {
			return errors.New("listener rejected")
		},
	}
	handler = tokenware.New(cfg)(nil)

	ctx = router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer valid-token"
	ctx.On("GetString", "Authorization", "").Return("Bearer valid-token")

	err := handler(ctx)
	if err == nil || !strings.Contains(err.Error(), "listener rejected") {
		t.Fatalf("expected listener error, got: %v", err)
	}
}

// customPathMock overrides Path() from our base MockContext.
type customPathMock struct {
	*router.MockContext
	pathOverride string
}

func (m *customPathMock) Path() string {
	return m.pathOverride
}

func TestTokenware_FilterFunction(t *testing.T) {
	cfg := tokenware.Config{
		TokenValidator: stubValidator{accept: "never"},
		Filter: func(ctx router.Context) bool {
			// skip the middleware on "/public"
			return ctx.Path() == "/public"
		},
	}
	handler := tokenware.New(cfg)(nil)

	ctx := &customPathMock{
		MockContext:  router.NewMockContext(),
		pathOverride: "/public",
	}

	if err := handler(ctx); err != nil {
		t.Fatalf("expected no error because Filter should skip, got %v", err)
	}
	if !ctx.NextCalled {
		t.Errorf("expected Next() to be invoked due to Filter skip")
	}
}

func TestTokenware_Extractors(t *testing.T) {
	cfg := tokenware.GetDefaultConfig(tokenware.Config{
		TokenValidator: stubValidator{
			accept: "valid-token",
			claims: stubClaims{id: "12345", verified: true},
		},
		ErrorHandler: func(ctx router.Context, err error) error {
			return err
		},
		TokenLookup: "header:Authorization,query:token,param:token,cookie:session_token",
	})
	handler := tokenware.New(cfg)(nil)

	tests := []struct {
		name      string
		setToken  func(*router.MockContext)
		wantError bool
	}{
		{
			name: "token in header -> success",
			setToken: func(ctx *router.MockContext) {
				ctx.HeadersM["Authorization"] = "Bearer valid-token"
				ctx.On("GetString", "Authorization", "").Return("Bearer valid-token").Maybe()
				ctx.On("Locals", cfg.ContextKey, mock.Anything).Return(nil).Maybe()
			},
		},
		{
			name: "token in query -> success",
			setToken: func(ctx *router.MockContext) {
				ctx.QueriesM["token"] = "valid-token"
				ctx.On("GetString", "Authorization", "").Return("").Maybe()
				ctx.On("Locals", cfg.ContextKey, mock.Anything).Return(nil).Maybe()
			},
		},
		{
			name: "token in param -> success",
			setToken: func(ctx *router.MockContext) {
				ctx.ParamsM["token"] = "valid-token"
				ctx.On("GetString", "Authorization", "").Return("").Maybe()
				ctx.On("Locals", cfg.ContextKey, mock.Anything).Return(nil).Maybe()
			},
		},
		{
			name: "token in cookie -> success",
			setToken: func(ctx *router.MockContext) {
				ctx.CookiesM["session_token"] = "valid-token"
				ctx.On("GetString", "Authorization", "").Return("").Maybe()
				ctx.On("Locals", cfg.ContextKey, mock.Anything).Return(nil).Maybe()
			},
		},
		{
			name: "no token anywhere -> error",
			setToken: func(ctx *router.MockContext) {
				ctx.On("GetString", "Authorization", "").Return("").Maybe()
			},
			wantError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := router.NewMockContext()
			tc.setToken(ctx)

			err := handler(ctx)
			if tc.wantError {
				if err == nil {
					t.Errorf("expected an error, but got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !ctx.NextCalled {
				t.Errorf("middleware did not call Next() on success")
			}
		})
	}
}
