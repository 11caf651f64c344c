package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RefreshTokens interface {
	repository.Repository[*RefreshToken]

	Store(ctx context.Context, userID uuid.UUID, token string) (*RefreshToken, error)
	StoreTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, token string) (*RefreshToken, error)
	GetByTokenAndUser(ctx context.Context, token string, userID uuid.UUID) (*RefreshToken, error)
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteByTokenTx(ctx context.Context, tx bun.IDB, token string) (bool, error)
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

type refreshTokens struct {
	repository.Repository[*RefreshToken]
	db *bun.DB
}

var (
	_ RefreshTokens                        = (*refreshTokens)(nil)
	_ repository.Repository[*RefreshToken] = (*refreshTokens)(nil)
)

func NewRefreshTokensRepository(db *bun.DB) RefreshTokens {
	repo := repository.NewRepository[*RefreshToken](db, repository.ModelHandlers[*RefreshToken]{
		NewRecord: func() *RefreshToken { return &RefreshToken{} },
		GetID: func(r *RefreshToken) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *RefreshToken, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token"
		},
	})

	return &refreshTokens{
		Repository: repo,
		db:         db,
	}
}

func (a *refreshTokens) Store(ctx context.Context, userID uuid.UUID, token string) (*RefreshToken, error) {
	return a.StoreTx(ctx, a.db, userID, token)
}

func (a *refreshTokens) StoreTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, token string) (*RefreshToken, error) {
	record := &RefreshToken{
		ID:     uuid.New(),
		Token:  token,
		UserID: userID,
	}
	return a.Repository.CreateTx(ctx, tx, record)
}

// GetByTokenAndUser matches on both the token string and its owner, so a
// stolen token presented with another user's access token never resolves.
func (a *refreshTokens) GetByTokenAndUser(ctx context.Context, token string, userID uuid.UUID) (*RefreshToken, error) {
	record := &RefreshToken{}

	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Where("?TableAlias.user_id = ?", userID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id": userID.String(),
				})
		}
		return nil, err
	}

	return record, nil
}

// DeleteByToken removes exactly one session row. Deleting an absent token is
// not an error; the boolean reports whether a row actually went away.
func (a *refreshTokens) DeleteByToken(ctx context.Context, token string) (bool, error) {
	return a.DeleteByTokenTx(ctx, a.db, token)
}

func (a *refreshTokens) DeleteByTokenTx(ctx context.Context, tx bun.IDB, token string) (bool, error) {
	res, err := tx.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("?TableAlias.token = ?", token).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// PurgeOlderThan is the expiry-driven cleanup hook; hosts run it on a timer
// with the refresh-token TTL.
func (a *refreshTokens) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)

	res, err := a.db.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("?TableAlias.created_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
