package auth_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/dbd-fish/templete-web-system"
)

func TestRegistration_TwoPhaseSignup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.service.RequestRegistration(ctx, " alice@example.com ", " alice ", testPassword)
	require.NoError(t, err)

	// nothing is stored before the link is followed
	_, err = h.repo.Users().FindByEmail(ctx, "alice@example.com", auth.IncludeSuspended)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	h.service.Wait()
	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Contains(t, sent[0].Subject, "Confirm your email address")
	assert.Contains(t, sent[0].Body, "https://app.example.com/signup-verify-complete?token=")
	assert.Contains(t, sent[0].Body, "24 hours")

	token := h.lastMailToken(t)
	claims, err := h.tokens.DecodeRegistrationToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "alice", claims.Username)

	user, err := h.service.Register(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, auth.RoleFree, user.Role)
	assert.True(t, user.IsActive())
	assert.NotEqual(t, testPassword, user.PasswordHash)

	ok, err := h.hasher.Verify(ctx, testPassword, user.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []auth.ActivityEventType{
		auth.ActivityEventRegistrationRequested,
		auth.ActivityEventUserCreated,
	}, h.sink.Types())
}

func TestRegistration_RequestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		username string
		password string
	}{
		{name: "invalid email", email: "alice", username: "alice", password: testPassword},
		{name: "empty username", email: "alice@example.com", username: " ", password: testPassword},
		{name: "weak password", email: "alice@example.com", username: "alice", password: "password"},
		{name: "long password", email: "alice@example.com", username: "alice", password: "Aa1" + strings.Repeat("x", 80)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.service.RequestRegistration(ctx, tt.email, tt.username, tt.password)
			require.Error(t, err)
			assert.True(t, auth.IsValidationError(err))
		})
	}

	h.service.Wait()
	assert.Empty(t, h.mailer.Sent())
}

func TestRegistration_RequestConflictsWithActiveAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "alice", testPassword)

	err := h.service.RequestRegistration(ctx, "alice@example.com", "alice2", testPassword)
	assert.ErrorIs(t, err, auth.ErrConflict)

	h.service.Wait()
	assert.Empty(t, h.mailer.Sent())
}

func TestRegistration_RegisterRejectsBadTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.Register(ctx, "")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	_, err = h.service.Register(ctx, "not.a.token")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	// a reset token is not a registration token
	reset, err := h.tokens.IssuePasswordResetToken("alice@example.com", time.Hour)
	require.NoError(t, err)
	_, err = h.service.Register(ctx, reset)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	token, err := h.tokens.IssueRegistrationToken(auth.RegistrationClaims{
		Email:    "alice@example.com",
		Username: "alice",
		Password: testPassword,
	}, time.Hour)
	require.NoError(t, err)

	h.clock.Advance(time.Hour + time.Second)
	_, err = h.service.Register(ctx, token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestRegistration_RegisterTwiceConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	token, err := h.tokens.IssueRegistrationToken(auth.RegistrationClaims{
		Email:    "alice@example.com",
		Username: "alice",
		Password: testPassword,
	}, time.Hour)
	require.NoError(t, err)

	_, err = h.service.Register(ctx, token)
	require.NoError(t, err)

	_, err = h.service.Register(ctx, token)
	assert.ErrorIs(t, err, auth.ErrConflict)
}

func TestRegistration_UsernameTakenConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "alice", testPassword)

	token, err := h.tokens.IssueRegistrationToken(auth.RegistrationClaims{
		Email:    "other@example.com",
		Username: "alice",
		Password: testPassword,
	}, time.Hour)
	require.NoError(t, err)

	_, err = h.service.Register(ctx, token)
	assert.ErrorIs(t, err, auth.ErrConflict)
}

func TestRegistration_RestoresSuspendedAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	original := h.register(t, "alice@example.com", "alice", testPassword)
	require.NoError(t, h.service.SoftDelete(ctx, auth.ActorRef{}, original.ID))

	// a suspended account does not block a new signup request
	newPassword := "N3wPassword"
	require.NoError(t, h.service.RequestRegistration(ctx, "alice@example.com", "alice-returns", newPassword))

	restored, err := h.service.Register(ctx, h.lastMailToken(t))
	require.NoError(t, err)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, "alice@example.com", restored.Email)
	assert.Equal(t, "alice-returns", restored.Username)
	assert.True(t, restored.IsActive())
	assert.Nil(t, restored.DeletedAt)

	_, err = h.service.Authenticate(ctx, "alice@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrAuthenticationFailed)

	user, err := h.service.Authenticate(ctx, "alice-returns", newPassword)
	require.NoError(t, err)
	assert.Equal(t, original.ID, user.ID)

	assert.Contains(t, h.sink.Types(), auth.ActivityEventUserRestored)
}

func TestService_RestoreValidatesCredentials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user := h.register(t, "alice@example.com", "alice", testPassword)
	require.NoError(t, h.service.SoftDelete(ctx, auth.ActorRef{}, user.ID))

	suspended, err := h.repo.Users().FindByEmail(ctx, "alice@example.com", auth.IncludeSuspended)
	require.NoError(t, err)

	_, err = h.service.Restore(ctx, auth.ActorRef{Type: "admin"}, suspended, "alice", "weak")
	assert.True(t, auth.IsValidationError(err))

	restored, err := h.service.Restore(ctx, auth.ActorRef{Type: "admin"}, suspended, " alice ", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "alice", restored.Username)
	assert.True(t, restored.IsActive())
}

func TestRegistration_HashedIDs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	service := auth.NewService(auth.ServiceDeps{
		Repo:      h.repo,
		Hasher:    h.hasher,
		Tokens:    h.tokens,
		Logger:    testLogger(),
		Clock:     h.clock.Now,
		HashedIDs: true,
	}, h.cfg)

	token, err := h.tokens.IssueRegistrationToken(auth.RegistrationClaims{
		Email:    "alice@example.com",
		Username: "alice",
		Password: testPassword,
	}, time.Hour)
	require.NoError(t, err)

	first, err := service.Register(ctx, token)
	require.NoError(t, err)

	other := newHarness(t)
	second, err := auth.NewService(auth.ServiceDeps{
		Repo:      other.repo,
		Hasher:    other.hasher,
		Tokens:    h.tokens,
		Logger:    testLogger(),
		Clock:     h.clock.Now,
		HashedIDs: true,
	}, other.cfg).Register(ctx, token)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestRegistration_HashedIDsAfterEmailChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	service := auth.NewService(auth.ServiceDeps{
		Repo:      h.repo,
		Hasher:    h.hasher,
		Tokens:    h.tokens,
		Logger:    testLogger(),
		Clock:     h.clock.Now,
		HashedIDs: true,
	}, h.cfg)

	issue := func(email, username string) string {
		token, err := h.tokens.IssueRegistrationToken(auth.RegistrationClaims{
			Email:    email,
			Username: username,
			Password: testPassword,
		}, time.Hour)
		require.NoError(t, err)
		return token
	}

	first, err := service.Register(ctx, issue("x@example.com", "alice"))
	require.NoError(t, err)

	_, _, err = service.UpdateProfile(ctx, auth.UpdateProfileMessage{
		UserID: first.ID,
		Email:  ptr("y@example.com"),
	})
	require.NoError(t, err)

	_, err = h.repo.Users().FindByEmail(ctx, "x@example.com", auth.IncludeSuspended)
	require.ErrorIs(t, err, auth.ErrNotFound)

	second, err := service.Register(ctx, issue("x@example.com", "bob"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "x@example.com", second.Email)

	moved, err := h.repo.Users().FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "y@example.com", moved.Email)
}

func TestRegistration_ConcurrentSignupsForOneEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const attempts = 4
	tokens := make([]string, attempts)
	for i := range tokens {
		token, err := h.tokens.IssueRegistrationToken(auth.RegistrationClaims{
			Email:    "alice@example.com",
			Username: fmt.Sprintf("alice-%d", i),
			Password: testPassword,
		}, time.Hour)
		require.NoError(t, err)
		tokens[i] = token
	}

	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.service.Register(ctx, tokens[i])
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, auth.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)

	user, err := h.repo.Users().FindByEmail(ctx, "alice@example.com", auth.IncludeSuspended)
	require.NoError(t, err)
	assert.True(t, user.IsActive())
}

func TestRegistration_RestoreWithTakenUsername(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	original := h.register(t, "alice@example.com", "alice", testPassword)
	require.NoError(t, h.service.SoftDelete(ctx, auth.ActorRef{}, original.ID))
	h.register(t, "bob@example.com", "bob", testPassword)

	token, err := h.tokens.IssueRegistrationToken(auth.RegistrationClaims{
		Email:    "alice@example.com",
		Username: "bob",
		Password: testPassword,
	}, time.Hour)
	require.NoError(t, err)

	_, err = h.service.Register(ctx, token)
	assert.ErrorIs(t, err, auth.ErrConflict)

	suspended, err := h.repo.Users().FindByEmail(ctx, "alice@example.com", auth.IncludeSuspended)
	require.NoError(t, err)
	assert.Equal(t, original.ID, suspended.ID)
	assert.True(t, suspended.IsSuspended())
	assert.Equal(t, "alice", suspended.Username)
}
