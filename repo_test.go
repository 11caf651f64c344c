package auth_test

import (
	"context"
	"database/sql"
	"io/fs"
	"sort"
	"testing"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-social-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) auth.RepositoryManager {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	// single connection keeps the private in-memory database alive
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	migrations := auth.GetMigrationsFS()
	var files []string
	err = fs.WalkDir(migrations, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)

	for _, file := range files {
		stmt, err := fs.ReadFile(migrations, file)
		require.NoError(t, err)
		_, err = db.Exec(string(stmt))
		require.NoError(t, err, "migration %s", file)
	}

	return auth.NewRepositoryManager(db)
}

func seedUser(t *testing.T, repo auth.RepositoryManager, email string) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)

	user, err := repo.Users().Register(context.Background(), &auth.User{
		Name:         "Pepe Rone",
		Email:        email,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, user.ID)
	return user
}

func TestUsersRegisterAndLookup(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	user := seedUser(t, repo, "pepe@rone.com")
	assert.Equal(t, auth.StatusUnverified, user.Verify)

	byEmail, err := repo.Users().GetByIdentifier(ctx, "pepe@rone.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byID, err := repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "pepe@rone.com", byID.Email)

	_, err = repo.Users().GetByIdentifier(ctx, "nobody@rone.com")
	require.Error(t, err)
	assert.True(t, repository.IsRecordNotFound(err))
}

func TestUsersEmailExists(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	seedUser(t, repo, "pepe@rone.com")

	exists, err := repo.Users().EmailExists(ctx, "pepe@rone.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Users().EmailExists(ctx, "other@rone.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUsersUsernameExists(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	user, err := repo.Users().Register(ctx, &auth.User{
		Name:         "Pepe Rone",
		Email:        "pepe@rone.com",
		Username:     "peperone",
		PasswordHash: hash,
	})
	require.NoError(t, err)

	exists, err := repo.Users().UsernameExists(ctx, "peperone", uuid.Nil)
	require.NoError(t, err)
	assert.True(t, exists)

	// the owner keeping their own username is not a collision
	exists, err = repo.Users().UsernameExists(ctx, "peperone", user.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = repo.Users().UsernameExists(ctx, "someoneelse", uuid.Nil)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUsersVerifyTokenLifecycle(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	user := seedUser(t, repo, "pepe@rone.com")

	require.NoError(t, repo.Users().SetEmailVerifyToken(ctx, user.ID, "verify-token"))

	stored, err := repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "verify-token", stored.EmailVerifyToken)

	require.NoError(t, repo.Users().MarkVerified(ctx, user.ID))

	stored, err = repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, auth.StatusVerified, stored.Verify)
	assert.Empty(t, stored.EmailVerifyToken, "verification consumes the token")
}

func TestUsersResetPasswordClearsToken(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	user := seedUser(t, repo, "pepe@rone.com")

	require.NoError(t, repo.Users().SetForgotPasswordToken(ctx, user.ID, "forgot-token"))

	stored, err := repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "forgot-token", stored.ForgotPasswordToken)

	newHash, err := auth.HashPassword("newpassword123")
	require.NoError(t, err)
	require.NoError(t, repo.Users().ResetPassword(ctx, user.ID, newHash))

	stored, err = repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Empty(t, stored.ForgotPasswordToken, "reset consumes the token")
	assert.NoError(t, auth.ComparePasswordAndHash("newpassword123", stored.PasswordHash))
}

func TestRefreshTokensStoreAndDelete(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	user := seedUser(t, repo, "pepe@rone.com")

	record, err := repo.RefreshTokens().Store(ctx, user.ID, "session-token")
	require.NoError(t, err)
	assert.Equal(t, user.ID, record.UserID)

	found, err := repo.RefreshTokens().GetByTokenAndUser(ctx, "session-token", user.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)

	_, err = repo.RefreshTokens().GetByTokenAndUser(ctx, "session-token", uuid.New())
	require.Error(t, err, "token is scoped to its owner")

	deleted, err := repo.RefreshTokens().DeleteByToken(ctx, "session-token")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.RefreshTokens().DeleteByToken(ctx, "session-token")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete finds nothing")
}

func TestRefreshTokensMultipleSessions(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	user := seedUser(t, repo, "pepe@rone.com")

	_, err := repo.RefreshTokens().Store(ctx, user.ID, "session-one")
	require.NoError(t, err)
	_, err = repo.RefreshTokens().Store(ctx, user.ID, "session-two")
	require.NoError(t, err)

	deleted, err := repo.RefreshTokens().DeleteByToken(ctx, "session-one")
	require.NoError(t, err)
	assert.True(t, deleted)

	// the other session survives
	_, err = repo.RefreshTokens().GetByTokenAndUser(ctx, "session-two", user.ID)
	require.NoError(t, err)
}

func TestRefreshTokensPurgeOlderThan(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	user := seedUser(t, repo, "pepe@rone.com")
	_, err := repo.RefreshTokens().Store(ctx, user.ID, "fresh-session")
	require.NoError(t, err)

	purged, err := repo.RefreshTokens().PurgeOlderThan(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, purged, "fresh sessions are kept")
}

func TestFollowersFollowAndUnfollow(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	alice := seedUser(t, repo, "alice@rone.com")
	bob := seedUser(t, repo, "bob@rone.com")

	already, err := repo.Followers().Follow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = repo.Followers().Follow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, already, "second follow reports the existing edge")

	edge, err := repo.Followers().GetEdge(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, edge.UserID)
	assert.Equal(t, bob.ID, edge.FollowedUserID)

	// the edge is directional
	_, err = repo.Followers().GetEdge(ctx, bob.ID, alice.ID)
	require.Error(t, err)

	unfollowed, err := repo.Followers().UnFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, unfollowed)

	unfollowed, err = repo.Followers().UnFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, unfollowed, "unfollow without an edge is a no-op")
}
