package auth

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Followers interface {
	repository.Repository[*Follower]

	GetEdge(ctx context.Context, userID, followedID uuid.UUID) (*Follower, error)
	Follow(ctx context.Context, userID, followedID uuid.UUID) (alreadyFollowed bool, err error)
	UnFollow(ctx context.Context, userID, followedID uuid.UUID) (unfollowed bool, err error)
}

type followers struct {
	repository.Repository[*Follower]
	db *bun.DB
}

var (
	_ Followers                        = (*followers)(nil)
	_ repository.Repository[*Follower] = (*followers)(nil)
)

func NewFollowersRepository(db *bun.DB) Followers {
	repo := repository.NewRepository[*Follower](db, repository.ModelHandlers[*Follower]{
		NewRecord: func() *Follower { return &Follower{} },
		GetID: func(f *Follower) uuid.UUID {
			if f == nil {
				return uuid.Nil
			}
			return f.ID
		},
		SetID: func(f *Follower, id uuid.UUID) {
			if f != nil {
				f.ID = id
			}
		},
	})

	return &followers{
		Repository: repo,
		db:         db,
	}
}

func (a *followers) GetEdge(ctx context.Context, userID, followedID uuid.UUID) (*Follower, error) {
	record := &Follower{}

	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.followed_user_id = ?", followedID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id":          userID.String(),
					"followed_user_id": followedID.String(),
				})
		}
		return nil, err
	}

	return record, nil
}

// Follow is an idempotent set insert: a second call reports the edge already
// existed instead of erroring or duplicating it.
func (a *followers) Follow(ctx context.Context, userID, followedID uuid.UUID) (bool, error) {
	_, err := a.GetEdge(ctx, userID, followedID)
	if err == nil {
		return true, nil
	}
	if !repository.IsRecordNotFound(err) {
		return false, err
	}

	record := &Follower{
		ID:             uuid.New(),
		UserID:         userID,
		FollowedUserID: followedID,
	}

	if _, err := a.Repository.Create(ctx, record); err != nil {
		return false, err
	}

	return false, nil
}

// UnFollow reports unfollowed=false when the edge did not exist; state is
// left unchanged in that case.
func (a *followers) UnFollow(ctx context.Context, userID, followedID uuid.UUID) (bool, error) {
	res, err := a.db.NewDelete().
		Model((*Follower)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.followed_user_id = ?", followedID).
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
