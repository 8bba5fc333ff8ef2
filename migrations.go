package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// CreateSchema creates the users table and its indexes if missing.
// Email and username are unique among rows that are not soft deleted,
// so a suspended row can later be restored with the same email.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().
		Model((*User)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create users table")
	}

	indexes := []struct {
		name   string
		column string
	}{
		{name: "users_active_email_uidx", column: "email"},
		{name: "users_active_username_uidx", column: "username"},
	}

	for _, idx := range indexes {
		if _, err := db.NewCreateIndex().
			Model((*User)(nil)).
			Index(idx.name).
			Unique().
			IfNotExists().
			Column(idx.column).
			Where("deleted_at IS NULL").
			Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create index "+idx.name)
		}
	}

	return nil
}
