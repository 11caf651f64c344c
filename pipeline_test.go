package auth_test

import (
	"context"
	"errors"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-social-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestContextWriteOnce(t *testing.T) {
	rc := auth.NewRequestContext()

	user := &auth.User{Email: "pepe@rone.com"}
	require.NoError(t, rc.SetUser(user))
	assert.ErrorIs(t, rc.SetUser(&auth.User{}), auth.ErrContextValueTaken)

	got, ok := rc.User()
	require.True(t, ok)
	assert.Same(t, user, got)

	_, ok = rc.Target()
	assert.False(t, ok)

	claims := &auth.TokenClaims{UID: "user-123", Kind: auth.AccessToken}
	require.NoError(t, rc.SetClaims(auth.AccessToken, claims))
	assert.ErrorIs(t, rc.SetClaims(auth.AccessToken, claims), auth.ErrContextValueTaken)

	stored, ok := rc.Claims(auth.AccessToken)
	require.True(t, ok)
	assert.Equal(t, "user-123", stored.UserID())

	_, ok = rc.Claims(auth.RefreshTokenKind)
	assert.False(t, ok)
}

func TestChainStopsAtFirstFailure(t *testing.T) {
	calls := 0
	counting := auth.ValidatorFunc(func(ctx context.Context, rc *auth.RequestContext) error {
		calls++
		return nil
	})
	failing := auth.ValidatorFunc(func(ctx context.Context, rc *auth.RequestContext) error {
		return auth.ErrInvalidCredentials
	})

	chain := auth.NewChain(counting, failing, counting, counting)
	_, err := chain.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, 1, calls, "validators after the failure must not run")

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, goerrors.CodeUnauthorized, rich.Code)
}

func TestChainSkipsNilValidators(t *testing.T) {
	calls := 0
	counting := auth.ValidatorFunc(func(ctx context.Context, rc *auth.RequestContext) error {
		calls++
		return nil
	})

	rc, err := auth.NewChain(nil, counting, nil).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rc)
	assert.Equal(t, 1, calls)
}

func TestChainHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	never := auth.ValidatorFunc(func(ctx context.Context, rc *auth.RequestContext) error {
		t.Fatal("validator ran after cancellation")
		return nil
	})

	_, err := auth.NewChain(never).Run(ctx)
	require.Error(t, err)
}

func TestClassifyValidationErrorFoldsFieldErrors(t *testing.T) {
	err := auth.ClassifyValidationError(validation.Errors{
		"email":    errors.New("must be a valid email address"),
		"password": errors.New("the length must be between 8 and 50"),
	})

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, auth.CodeUnprocessableEntity, rich.Code)
	assert.Equal(t, "VALIDATION_ERROR", rich.TextCode)

	fields := auth.FormatValidationErrorToMap(rich)
	require.NotNil(t, fields)
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Equal(t, "the length must be between 8 and 50", fields["password"])
}

func TestClassifyValidationErrorStatusErrorPreempts(t *testing.T) {
	err := auth.ClassifyValidationError(validation.Errors{
		"credentials": auth.ErrInvalidCredentials,
	})

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, goerrors.CodeUnauthorized, rich.Code)
	assert.Equal(t, auth.ErrInvalidCredentials.TextCode, rich.TextCode)
}

func TestClassifyValidationErrorPassesRichThrough(t *testing.T) {
	err := auth.ClassifyValidationError(auth.ErrEntityNotFound)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, goerrors.CodeNotFound, rich.Code)
}

func TestClassifyValidationErrorNil(t *testing.T) {
	assert.NoError(t, auth.ClassifyValidationError(nil))
}

func TestPayloadValidator(t *testing.T) {
	good := testPayload{err: nil}
	rc, err := auth.NewChain(auth.PayloadValidator(good)).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rc)

	bad := testPayload{err: validation.Errors{"name": errors.New("cannot be blank")}}
	_, err = auth.NewChain(auth.PayloadValidator(bad)).Run(context.Background())
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, auth.CodeUnprocessableEntity, rich.Code)
	assert.Equal(t, "cannot be blank", auth.FormatValidationErrorToMap(rich)["name"])
}

type testPayload struct {
	err error
}

func (p testPayload) Validate() error { return p.err }
