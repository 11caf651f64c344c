package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenPair is an access+refresh pair issued as a unit: both signings run
// concurrently and both must succeed before the pair is returned.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Codec signs and verifies claim sets for the four token kinds, each with an
// independent secret and expiry.
type Codec struct {
	secrets  map[TokenKind][]byte
	ttls     map[TokenKind]time.Duration
	issuer   string
	audience jwt.ClaimStrings
	logger   Logger
}

// NewCodec creates a Codec instance from the given configuration
func NewCodec(cfg Config, logger Logger) *Codec {
	if logger == nil {
		logger = defLogger{}
	}

	secrets := make(map[TokenKind][]byte, 4)
	ttls := make(map[TokenKind]time.Duration, 4)
	for _, kind := range Kinds() {
		secrets[kind] = []byte(secretFor(cfg, kind))
		ttls[kind] = ttlFor(cfg, kind)
	}

	return &Codec{
		secrets:  secrets,
		ttls:     ttls,
		issuer:   cfg.GetIssuer(),
		audience: cfg.GetAudience(),
		logger:   logger,
	}
}

// Sign creates a token of the given kind carrying the user id and the
// verification-status snapshot taken at issuance time.
func (c *Codec) Sign(userID string, kind TokenKind, status VerifyStatus) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			Audience:  c.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttls[kind])),
		},
		UID:    userID,
		Kind:   kind,
		Verify: status,
	}

	ensureTokenID(&claims.RegisteredClaims)

	return c.SignClaims(claims)
}

// SignClaims signs arbitrary claims with the secret of their kind claim.
func (c *Codec) SignClaims(claims *TokenClaims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	secret, ok := c.secrets[claims.Kind]
	if !ok {
		return "", goerrors.New("unknown token kind", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"kind": string(claims.Kind)})
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(secret)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Verify parses and validates a token string against the given kind's secret.
// A token signed for any other kind fails: the secrets differ, and the kind
// claim is checked on top in case two kinds share a secret in a bad config.
func (c *Codec) Verify(tokenString string, kind TokenKind) (*TokenClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if c.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(c.issuer))
	}
	if len(c.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(c.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			c.logger.Error("Codec verify encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secrets[kind], nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(goerrors.CodeUnauthorized)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		c.logger.Error("Codec verify could not decode or validate claims")
		return nil, ErrUnableToDecodeClaims
	}

	if claims.Kind != kind {
		return nil, goerrors.New("token kind mismatch", ErrTokenMalformed.Category).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(goerrors.CodeUnauthorized).
			WithMetadata(map[string]any{"want": string(kind), "got": string(claims.Kind)})
	}

	return claims, nil
}

// TTL exposes the configured expiry for a kind.
func (c *Codec) TTL(kind TokenKind) time.Duration {
	return c.ttls[kind]
}

type signResult struct {
	kind  TokenKind
	token string
	err   error
}

// IssuePair signs an access and a refresh token concurrently. The two
// signings are independent but are awaited jointly; any failure fails the
// pair as a unit.
func (c *Codec) IssuePair(ctx context.Context, userID string, status VerifyStatus) (*TokenPair, error) {
	results := make(chan signResult, 2)

	for _, kind := range []TokenKind{AccessToken, RefreshTokenKind} {
		go func(kind TokenKind) {
			token, err := c.Sign(userID, kind, status)
			results <- signResult{kind: kind, token: token, err: err}
		}(kind)
	}

	pair := &TokenPair{}
	var firstErr error

	for i := 0; i < 2; i++ {
		select {
		case <-ctx.Done():
			// buffered channel, pending sends cannot leak
			return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during token issuance")
		case res := <-results:
			if res.err != nil {
				if firstErr == nil {
					firstErr = res.err
				}
				continue
			}
			switch res.kind {
			case AccessToken:
				pair.AccessToken = res.token
			case RefreshTokenKind:
				pair.RefreshToken = res.token
			}
		}
	}

	if firstErr != nil {
		return nil, goerrors.Wrap(firstErr, goerrors.CategoryInternal, "failed to issue token pair")
	}

	return pair, nil
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = newTokenID()
	}
}
