package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	auth "github.com/dbd-fish/templete-web-system"
)

func newUserRecord(email, username string) *auth.User {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return &auth.User{
		Email:        email,
		Username:     username,
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplace",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestUsers_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	users := auth.NewUsersRepository(newTestDB(t))

	created, err := users.Create(ctx, newUserRecord("alice@example.com", "alice"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, auth.RoleFree, created.Role)
	assert.Equal(t, auth.UserStatusActive, created.Status)

	byID, err := users.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byID.Email)

	byEmail, err := users.FindByEmail(ctx, " alice@example.com ", auth.ActiveOnly)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byUsername, err := users.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byUsername.ID)

	for _, identifier := range []string{"alice", "alice@example.com"} {
		found, err := users.FindByIdentifier(ctx, identifier)
		require.NoError(t, err, identifier)
		assert.Equal(t, created.ID, found.ID)
	}
}

func TestUsers_FindMissing(t *testing.T) {
	ctx := context.Background()
	users := auth.NewUsersRepository(newTestDB(t))

	_, err := users.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, auth.ErrNotFound)

	_, err = users.FindByEmail(ctx, "nobody@example.com", auth.IncludeSuspended)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	_, err = users.FindByIdentifier(ctx, "   ")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUsers_CreateConflicts(t *testing.T) {
	ctx := context.Background()
	users := auth.NewUsersRepository(newTestDB(t))

	_, err := users.Create(ctx, newUserRecord("alice@example.com", "alice"))
	require.NoError(t, err)

	_, err = users.Create(ctx, newUserRecord("alice@example.com", "alice2"))
	assert.ErrorIs(t, err, auth.ErrConflict)

	_, err = users.Create(ctx, newUserRecord("other@example.com", "alice"))
	assert.ErrorIs(t, err, auth.ErrConflict)
}

func TestUsers_SuspendedRowsAreHidden(t *testing.T) {
	ctx := context.Background()
	users := auth.NewUsersRepository(newTestDB(t))

	created, err := users.Create(ctx, newUserRecord("alice@example.com", "alice"))
	require.NoError(t, err)

	deletedAt := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	suspended, err := users.UpdateStatus(ctx, created.ID, auth.UserStatusActive, auth.UserStatusSuspended,
		auth.WithDeletedAt(&deletedAt),
		auth.WithUpdatedAt(deletedAt),
	)
	require.NoError(t, err)
	assert.Equal(t, auth.UserStatusSuspended, suspended.Status)
	require.NotNil(t, suspended.DeletedAt)

	_, err = users.FindByID(ctx, created.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	_, err = users.FindByEmail(ctx, "alice@example.com", auth.ActiveOnly)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	_, err = users.FindByIdentifier(ctx, "alice")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	found, err := users.FindByEmail(ctx, "alice@example.com", auth.IncludeSuspended)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.True(t, found.IsSuspended())

	// a suspended row does not block a new active row with the same email
	_, err = users.Create(ctx, newUserRecord("alice@example.com", "alice"))
	require.NoError(t, err)

	found, err = users.FindByEmail(ctx, "alice@example.com", auth.IncludeSuspended)
	require.NoError(t, err)
	assert.True(t, found.IsActive())
}

func TestUsers_UpdateStatusRequiresExpectedState(t *testing.T) {
	ctx := context.Background()
	users := auth.NewUsersRepository(newTestDB(t))

	created, err := users.Create(ctx, newUserRecord("alice@example.com", "alice"))
	require.NoError(t, err)

	_, err = users.UpdateStatus(ctx, created.ID, auth.UserStatusSuspended, auth.UserStatusActive)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	_, err = users.UpdateStatus(ctx, uuid.New(), auth.UserStatusActive, auth.UserStatusSuspended)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUsers_UpdateStatusWithCredentials(t *testing.T) {
	ctx := context.Background()
	users := auth.NewUsersRepository(newTestDB(t))

	created, err := users.Create(ctx, newUserRecord("alice@example.com", "alice"))
	require.NoError(t, err)

	at := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	_, err = users.UpdateStatus(ctx, created.ID, auth.UserStatusActive, auth.UserStatusSuspended, auth.WithDeletedAt(&at))
	require.NoError(t, err)

	restored, err := users.UpdateStatus(ctx, created.ID, auth.UserStatusSuspended, auth.UserStatusActive,
		auth.WithDeletedAt(nil),
		auth.WithUpdatedAt(at),
		auth.WithCredentials("alice2", "new-digest"),
	)
	require.NoError(t, err)
	assert.Equal(t, created.ID, restored.ID)
	assert.Equal(t, "alice2", restored.Username)
	assert.Equal(t, "new-digest", restored.PasswordHash)
	assert.Nil(t, restored.DeletedAt)
	assert.True(t, restored.IsActive())
}

func TestUsers_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	users := auth.NewUsersRepository(newTestDB(t))

	alice, err := users.Create(ctx, newUserRecord("alice@example.com", "alice"))
	require.NoError(t, err)
	_, err = users.Create(ctx, newUserRecord("bob@example.com", "bob"))
	require.NoError(t, err)

	alice.ContactNumber = "+819012345678"
	_, err = users.UpdateProfile(ctx, alice, "contact_number")
	require.NoError(t, err)

	found, err := users.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "+819012345678", found.ContactNumber)

	found.Username = "bob"
	_, err = users.UpdateProfile(ctx, found, "username")
	assert.ErrorIs(t, err, auth.ErrConflict)

	_, err = users.UpdateProfile(ctx, &auth.User{ID: uuid.New()}, "username")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUsers_ResetPassword(t *testing.T) {
	ctx := context.Background()
	users := auth.NewUsersRepository(newTestDB(t))

	created, err := users.Create(ctx, newUserRecord("alice@example.com", "alice"))
	require.NoError(t, err)

	at := time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)
	require.NoError(t, users.ResetPassword(ctx, created.ID, "replaced-digest", at))

	found, err := users.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "replaced-digest", found.PasswordHash)
	assert.Equal(t, "alice", found.Username)
	assert.True(t, found.UpdatedAt.Equal(at))

	err = users.ResetPassword(ctx, uuid.New(), "digest", at)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUsers_RawQueriesInsideTransaction(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := auth.NewUsersRepository(db)
	at := time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)

	var created *auth.User
	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = users.CreateTx(ctx, tx, newUserRecord("alice@example.com", "alice"))
		if err != nil {
			return err
		}

		found, err := users.FindByIDTx(ctx, tx, created.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, "alice", found.Username)

		return users.ResetPasswordTx(ctx, tx, created.ID, "replaced-digest", at)
	})
	require.NoError(t, err)

	found, err := users.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "replaced-digest", found.PasswordHash)

	_, err = users.UpdateStatus(ctx, created.ID, auth.UserStatusActive, auth.UserStatusSuspended, auth.WithDeletedAt(&at))
	require.NoError(t, err)

	_, err = users.FindByID(ctx, created.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	err = users.ResetPassword(ctx, created.ID, "another-digest", at)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestRepositoryManager_Validate(t *testing.T) {
	repo := auth.NewRepositoryManager(newTestDB(t))
	assert.NoError(t, repo.Validate())
	assert.NotPanics(t, repo.MustValidate)
	assert.NotNil(t, repo.Users())
}
