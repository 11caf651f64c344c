package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// RequestContext accumulates what validators discover while a chain runs:
// decoded claims per token kind, the matched user, the matched refresh-token
// row, and the follow target. Every slot is write-once; a second write is a
// chain-composition bug, not a runtime condition.
type RequestContext struct {
	claims       map[TokenKind]AuthClaims
	user         *User
	target       *User
	refreshToken *RefreshToken
}

// NewRequestContext returns an empty per-request context value.
func NewRequestContext() *RequestContext {
	return &RequestContext{
		claims: make(map[TokenKind]AuthClaims, 2),
	}
}

// SetClaims stores decoded claims for a kind.
func (rc *RequestContext) SetClaims(kind TokenKind, claims AuthClaims) error {
	if _, ok := rc.claims[kind]; ok {
		return ErrContextValueTaken
	}
	rc.claims[kind] = claims
	return nil
}

// Claims returns the decoded claims for a kind, if a validator stored them.
func (rc *RequestContext) Claims(kind TokenKind) (AuthClaims, bool) {
	claims, ok := rc.claims[kind]
	return claims, ok
}

// SetUser stores the user matched during validation.
func (rc *RequestContext) SetUser(user *User) error {
	if rc.user != nil {
		return ErrContextValueTaken
	}
	rc.user = user
	return nil
}

// User returns the matched user, if any.
func (rc *RequestContext) User() (*User, bool) {
	return rc.user, rc.user != nil
}

// SetTarget stores the foreign user a request operates on (follow target).
func (rc *RequestContext) SetTarget(user *User) error {
	if rc.target != nil {
		return ErrContextValueTaken
	}
	rc.target = user
	return nil
}

// Target returns the foreign user, if any.
func (rc *RequestContext) Target() (*User, bool) {
	return rc.target, rc.target != nil
}

// SetRefreshToken stores the matched refresh-token row.
func (rc *RequestContext) SetRefreshToken(record *RefreshToken) error {
	if rc.refreshToken != nil {
		return ErrContextValueTaken
	}
	rc.refreshToken = record
	return nil
}

// RefreshToken returns the matched refresh-token row, if any.
func (rc *RequestContext) RefreshToken() (*RefreshToken, bool) {
	return rc.refreshToken, rc.refreshToken != nil
}

// Validator is a single pipeline step. It either passes, optionally
// annotating the RequestContext, or fails and aborts the remaining steps.
type Validator interface {
	Validate(ctx context.Context, rc *RequestContext) error
}

// ValidatorFunc adapts a function into a Validator.
type ValidatorFunc func(ctx context.Context, rc *RequestContext) error

// Validate satisfies the Validator interface.
func (f ValidatorFunc) Validate(ctx context.Context, rc *RequestContext) error {
	if f == nil {
		return nil
	}
	return f(ctx, rc)
}

// Chain is an ordered validator list. A run never retries and never executes
// a validator after the first failure.
type Chain struct {
	validators []Validator
	logger     Logger
}

// NewChain filters nil validators and returns a chain.
func NewChain(validators ...Validator) *Chain {
	filtered := make([]Validator, 0, len(validators))
	for _, v := range validators {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &Chain{validators: filtered, logger: defLogger{}}
}

// WithLogger replaces the chain logger.
func (c *Chain) WithLogger(logger Logger) *Chain {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Run executes the chain against a fresh RequestContext and returns it on
// success. Failures come back classified: field-scoped problems as an
// unprocessable-entity error carrying a field map, everything else as the
// rich error the validator raised.
func (c *Chain) Run(ctx context.Context) (*RequestContext, error) {
	rc := NewRequestContext()

	for _, v := range c.validators {
		select {
		case <-ctx.Done():
			return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during validation")
		default:
		}

		if err := v.Validate(ctx, rc); err != nil {
			return nil, ClassifyValidationError(err)
		}
	}

	return rc, nil
}

// PayloadValidator lifts a payload's own Validate method (ozzo rules) into
// the chain as its first, store-free step.
func PayloadValidator(payload interface{ Validate() error }) Validator {
	return ValidatorFunc(func(context.Context, *RequestContext) error {
		return payload.Validate()
	})
}

// ClassifyValidationError decides between the two failure shapes. An ozzo
// field map folds into a single unprocessable-entity error, unless one of the
// field errors is itself a rich error with a non-422 status, in which case
// that error preempts the aggregation and is forwarded untouched.
func ClassifyValidationError(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validation.Errors
	if !goerrors.As(err, &fieldErrs) {
		var rich *goerrors.Error
		if goerrors.As(err, &rich) {
			return rich
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "validation failed")
	}

	fields := make(map[string]string, len(fieldErrs))
	for field, ferr := range fieldErrs {
		if ferr == nil {
			continue
		}
		var rich *goerrors.Error
		if goerrors.As(ferr, &rich) && rich.Code != CodeUnprocessableEntity {
			return rich
		}
		fields[field] = ferr.Error()
	}

	return NewEntityError(fields)
}

// NewEntityError aggregates field-level failures under a fixed
// unprocessable-entity status.
func NewEntityError(fields map[string]string) *goerrors.Error {
	return goerrors.New("validation failed", goerrors.CategoryValidation).
		WithTextCode("VALIDATION_ERROR").
		WithCode(CodeUnprocessableEntity).
		WithMetadata(map[string]any{"errors": fields})
}

// FormatValidationErrorToMap extracts the field map from a classified
// validation error, for response shaping and tests.
func FormatValidationErrorToMap(err error) map[string]string {
	if err == nil {
		return nil
	}

	var fieldErrs validation.Errors
	if goerrors.As(err, &fieldErrs) {
		fields := make(map[string]string, len(fieldErrs))
		for field, ferr := range fieldErrs {
			if ferr != nil {
				fields[field] = ferr.Error()
			}
		}
		return fields
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Metadata == nil {
		return nil
	}

	if fields, ok := rich.Metadata["errors"].(map[string]string); ok {
		return fields
	}

	return nil
}
