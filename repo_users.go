package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var VerifyUserEmailSQL = `UPDATE "users" AS "usr"
SET
	"verify" = ?,
	"email_verify_token" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE (
	"usr"."id" = ?
) RETURNING *;`

var SetEmailVerifyTokenSQL = `UPDATE "users" AS "usr"
SET
	"email_verify_token" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE (
	"usr"."id" = ?
) RETURNING *;`

var SetForgotPasswordTokenSQL = `UPDATE "users" AS "usr"
SET
	"forgot_password_token" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE (
	"usr"."id" = ?
) RETURNING *;`

var ResetUserPasswordSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"forgot_password_token" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE (
	"usr"."id" = ?
) RETURNING *;`

type Users interface {
	repository.Repository[*User]

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)

	EmailExists(ctx context.Context, email string) (bool, error)
	UsernameExists(ctx context.Context, username string, excludeID uuid.UUID) (bool, error)

	SetEmailVerifyToken(ctx context.Context, id uuid.UUID, token string) error
	SetEmailVerifyTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error
	MarkVerified(ctx context.Context, id uuid.UUID) error
	MarkVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	SetForgotPasswordToken(ctx context.Context, id uuid.UUID, token string) error
	SetForgotPasswordTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error
	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	return a.CreateTx(ctx, tx, user)
}

// GetByIdentifier resolves a user by id, email, or username, in that order.
func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	options := resolveUserIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &User{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

// EmailExists is the pipeline's fast-fail uniqueness pre-check. The unique
// index on users.email stays the authoritative guard.
func (a *users) EmailExists(ctx context.Context, email string) (bool, error) {
	return a.db.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.email = ?", email).
		Exists(ctx)
}

// UsernameExists ignores the requesting user's own row so a profile update
// can resubmit an unchanged username.
func (a *users) UsernameExists(ctx context.Context, username string, excludeID uuid.UUID) (bool, error) {
	q := a.db.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.username = ?", username)

	if excludeID != uuid.Nil {
		q = q.Where("?TableAlias.id != ?", excludeID)
	}

	return q.Exists(ctx)
}

func (a *users) SetEmailVerifyToken(ctx context.Context, id uuid.UUID, token string) error {
	return a.SetEmailVerifyTokenTx(ctx, a.db, id, token)
}

func (a *users) SetEmailVerifyTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error {
	return a.execUserUpdate(ctx, tx, SetEmailVerifyTokenSQL, token, id.String())
}

// MarkVerified clears the stored verify token and flips the status in one
// update, so a concurrent resend cannot resurrect a consumed token.
func (a *users) MarkVerified(ctx context.Context, id uuid.UUID) error {
	return a.MarkVerifiedTx(ctx, a.db, id)
}

func (a *users) MarkVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	return a.execUserUpdate(ctx, tx, VerifyUserEmailSQL, int(StatusVerified), id.String())
}

func (a *users) SetForgotPasswordToken(ctx context.Context, id uuid.UUID, token string) error {
	return a.SetForgotPasswordTokenTx(ctx, a.db, id, token)
}

func (a *users) SetForgotPasswordTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string) error {
	return a.execUserUpdate(ctx, tx, SetForgotPasswordTokenSQL, token, id.String())
}

func (a *users) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	return a.execUserUpdate(ctx, tx, ResetUserPasswordSQL, passwordHash, id.String())
}

func (a *users) execUserUpdate(ctx context.Context, tx bun.IDB, sql string, args ...any) error {
	res, err := a.Repository.RawTx(ctx, tx, sql, args...)
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"args": args,
			})
	}

	return nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 3)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  trimmed,
		})
	}

	options = append(options, identifierOption{
		column: "username",
		value:  trimmed,
	})

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
