package auth

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

var findActiveUserByIDSQL = `SELECT * FROM "users" AS "usr"
WHERE
	"usr"."deleted_at" IS NULL
AND "usr"."user_status" = 'active'
AND "usr"."id" = ?
LIMIT 1;`

var resetUserPasswordSQL = `UPDATE "users"
SET
	"hashed_password" = ?,
	"updated_at" = ?
WHERE
	"deleted_at" IS NULL
AND "user_status" = 'active'
AND "id" = ?
RETURNING *;`

// LookupScope selects which lifecycle states a lookup can see
type LookupScope int

const (
	// ActiveOnly hides suspended rows, used by authentication and reset
	ActiveOnly LookupScope = iota
	// IncludeSuspended also returns suspended rows, used by the restore path
	IncludeSuspended
)

// Users is the row store for accounts. Every method has a Tx variant
// so flows can compose several calls in one transaction.
type Users interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string, scope LookupScope) (*User, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string, scope LookupScope) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error)
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	FindByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string) (*User, error)

	Create(ctx context.Context, record *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to UserStatus, opts ...StatusUpdateOption) (*User, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, from, to UserStatus, opts ...StatusUpdateOption) (*User, error)
	UpdateProfile(ctx context.Context, record *User, columns ...string) (*User, error)
	UpdateProfileTx(ctx context.Context, tx bun.IDB, record *User, columns ...string) (*User, error)
	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, at time.Time) error
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var _ Users = (*users)(nil)

// NewUsersRepository returns the bun backed Users store
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
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.FindByIDTx(ctx, a.db, id)
}

func (a *users) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	var res []*User
	err := tx.NewRaw(findActiveUserByIDSQL, id.String()).Scan(ctx, &res)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find user by id")
	}

	if len(res) == 0 || res[0] == nil {
		return nil, ErrNotFound
	}

	return res[0], nil
}

func (a *users) FindByEmail(ctx context.Context, email string, scope LookupScope) (*User, error) {
	return a.FindByEmailTx(ctx, a.db, email, scope)
}

// FindByEmailTx prefers the active row when suspended rows share the email
func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string, scope LookupScope) (*User, error) {
	return a.findOneTx(ctx, tx, "email", strings.TrimSpace(email), scope)
}

func (a *users) FindByUsername(ctx context.Context, username string) (*User, error) {
	return a.FindByUsernameTx(ctx, a.db, username)
}

func (a *users) FindByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error) {
	return a.findOneTx(ctx, tx, "username", strings.TrimSpace(username), ActiveOnly)
}

func (a *users) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return a.FindByIdentifierTx(ctx, a.db, identifier)
}

// FindByIdentifierTx matches an active user by email or username
func (a *users) FindByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string) (*User, error) {
	for _, opt := range resolveUserIdentifier(identifier) {
		record, err := a.findOneTx(ctx, tx, opt.column, opt.value, ActiveOnly)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (a *users) findOneTx(ctx context.Context, tx bun.IDB, column, value string, scope LookupScope) (*User, error) {
	if value == "" {
		return nil, ErrNotFound
	}

	record := &User{}
	q := tx.NewSelect().
		Model(record).
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value)

	if scope == ActiveOnly {
		q = q.Apply(activeOnly)
	}

	err := q.
		OrderExpr("CASE WHEN ?TableAlias.deleted_at IS NULL THEN 0 ELSE 1 END").
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find user by "+column)
	}

	return record, nil
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	return a.CreateTx(ctx, a.db, record)
}

// CreateTx inserts record. A unique index violation means another active
// row owns the email or username and is reported as ErrConflict.
func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record)

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user")
	}

	return record, nil
}

func (a *users) UpdateStatus(ctx context.Context, id uuid.UUID, from, to UserStatus, opts ...StatusUpdateOption) (*User, error) {
	return a.UpdateStatusTx(ctx, a.db, id, from, to, opts...)
}

// UpdateStatusTx moves the row from one status to another. The update
// only applies while the row is still in the from status.
func (a *users) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, from, to UserStatus, opts ...StatusUpdateOption) (*User, error) {
	upd := &statusUpdate{
		record:  &User{ID: id, Status: to},
		columns: []string{"user_status", "deleted_at", "updated_at"},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(upd)
		}
	}

	res, err := tx.NewUpdate().
		Model(upd.record).
		Column(upd.columns...).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.user_status = ?", from).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user status")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	record := &User{}
	if err := tx.NewSelect().Model(record).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reload user")
	}

	return record, nil
}

func (a *users) UpdateProfile(ctx context.Context, record *User, columns ...string) (*User, error) {
	return a.UpdateProfileTx(ctx, a.db, record, columns...)
}

// UpdateProfileTx writes the given columns of an active user
func (a *users) UpdateProfileTx(ctx context.Context, tx bun.IDB, record *User, columns ...string) (*User, error) {
	if record == nil {
		return nil, ErrNotFound
	}

	columns = append(columns, "updated_at")

	res, err := tx.NewUpdate().
		Model(record).
		Column(columns...).
		Where("?TableAlias.id = ?", record.ID).
		Apply(activeOnlyUpdate).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user profile")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	return record, nil
}

func (a *users) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash, at)
}

// ResetPasswordTx replaces only the password digest of an active user
func (a *users) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, at time.Time) error {
	var res []*User
	err := tx.NewRaw(resetUserPasswordSQL, passwordHash, at, id.String()).Scan(ctx, &res)
	if err != nil {
		if isRecordNotFound(err) {
			return ErrNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reset password")
	}

	if len(res) == 0 {
		return ErrNotFound
	}

	return nil
}

// StatusUpdateOption adds fields to a status transition update
type StatusUpdateOption func(*statusUpdate)

type statusUpdate struct {
	record  *User
	columns []string
}

// WithDeletedAt sets deleted_at, nil clears it
func WithDeletedAt(at *time.Time) StatusUpdateOption {
	return func(u *statusUpdate) {
		u.record.DeletedAt = at
	}
}

// WithUpdatedAt stamps updated_at
func WithUpdatedAt(at time.Time) StatusUpdateOption {
	return func(u *statusUpdate) {
		u.record.UpdatedAt = at
	}
}

// WithCredentials overwrites username and password digest in the same update
func WithCredentials(username, passwordHash string) StatusUpdateOption {
	return func(u *statusUpdate) {
		u.record.Username = username
		u.record.PasswordHash = passwordHash
		u.columns = append(u.columns, "username", "hashed_password")
	}
}

func activeOnly(q *bun.SelectQuery) *bun.SelectQuery {
	return q.
		Where("?TableAlias.deleted_at IS NULL").
		Where("?TableAlias.user_status = ?", UserStatusActive)
}

func activeOnlyUpdate(q *bun.UpdateQuery) *bun.UpdateQuery {
	return q.
		Where("?TableAlias.deleted_at IS NULL").
		Where("?TableAlias.user_status = ?", UserStatusActive)
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = DefaultRole
	}

	record.EnsureStatus()

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

	options := make([]identifierOption, 0, 2)

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
