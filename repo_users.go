package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerifyUserEmailSQL flips the verification flag. One way: the guard on
// email_verified keeps the transition false -> true only.
var VerifyUserEmailSQL = `UPDATE "users" AS "usr"
SET
	"email_verified" = TRUE,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."deleted_at" IS NULL
AND "usr"."email_verified" = FALSE
AND (
	"usr"."id" = ?
) RETURNING *;`

// ResetUserPasswordSQL replaces the credential and stamps reseted_at, which
// changes the token fingerprint and invalidates outstanding reset tokens.
// Verification state is untouched: an unverified account that completes a
// reset stays unverified and stays gated at login.
var ResetUserPasswordSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"reseted_at" = CURRENT_TIMESTAMP,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

// Users is the account store contract
type Users interface {
	Create(ctx context.Context, record *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	Update(ctx context.Context, record *User) (*User, error)
	UpdateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	Delete(ctx context.Context, record *User) error
	DeleteTx(ctx context.Context, tx bun.IDB, record *User) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) (*User, error)
	MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
}

type users struct {
	repo repository.Repository[*User]
	db   *bun.DB
}

var _ Users = (*users)(nil)

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
		repo: repo,
		db:   db,
	}
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	return a.CreateTx(ctx, a.db, record)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record)

	created, err := a.repo.CreateTx(ctx, tx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "username or email already in use").
				WithTextCode(TextCodeDuplicateIdentity).
				WithCode(goerrors.CodeConflict).
				WithMetadata(map[string]any{
					"username": record.Username,
					"email":    record.Email,
				})
		}
		return nil, err
	}

	return created, nil
}

func (a *users) GetByID(ctx context.Context, id string) (*User, error) {
	return a.getByColumnTx(ctx, a.db, "id", id)
}

// GetByIDTx reads through the transaction. Lookups that feed a
// check-then-write inside RunInTx must use this, a read on the pooled handle
// escapes the transaction and can starve a small pool.
func (a *users) GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*User, error) {
	return a.getByColumnTx(ctx, tx, "id", id)
}

func (a *users) GetByUsername(ctx context.Context, username string) (*User, error) {
	return a.getByColumnTx(ctx, a.db, "username", username)
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.getByColumnTx(ctx, a.db, "email", email)
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return a.getByIdentifierTx(ctx, a.db, identifier)
}

func (a *users) getByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string) (*User, error) {
	for _, opt := range resolveUserIdentifier(identifier) {
		record, err := a.getByColumnTx(ctx, tx, opt.column, opt.value)
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

func (a *users) getByColumnTx(ctx context.Context, tx bun.IDB, column, value string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					column: value,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) Update(ctx context.Context, record *User) (*User, error) {
	return a.UpdateTx(ctx, a.db, record)
}

func (a *users) UpdateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	now := time.Now()
	record.UpdatedAt = &now
	return a.repo.UpdateTx(ctx, tx, record, repository.UpdateByID(record.ID.String()))
}

func (a *users) Delete(ctx context.Context, record *User) error {
	return a.DeleteTx(ctx, a.db, record)
}

// DeleteTx removes the row for real. A soft delete would keep the unique
// email and username occupied, which would block the identity from ever
// registering again after a rollback.
func (a *users) DeleteTx(ctx context.Context, tx bun.IDB, record *User) error {
	_, err := tx.NewDelete().
		Model(record).
		Where("?TableAlias.id = ?", record.ID).
		ForceDelete().
		Exec(ctx)
	return err
}

func (a *users) MarkEmailVerified(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.MarkEmailVerifiedTx(ctx, a.db, id)
}

func (a *users) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	res, err := a.repo.RawTx(ctx, tx, VerifyUserEmailSQL, id.String())
	if err != nil {
		return nil, err
	}

	// an empty result means the flag was already set, the caller decides
	// whether that counts as idempotent success
	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return res[0], nil
}

func (a *users) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := a.repo.RawTx(ctx, tx, ResetUserPasswordSQL, passwordHash, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.UserType == "" {
		record.UserType = TypeCommunity
	}

	record.IsActive = true

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

type identifierOption struct {
	column string
	value  string
}

// resolveUserIdentifier maps a raw identifier to the lookup columns to try,
// most specific first. An email-shaped input is resolved by email before
// falling back to a literal username match.
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
