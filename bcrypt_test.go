package auth_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/dbd-fish/templete-web-system"
)

func TestBcryptHasher_HashAndVerify(t *testing.T) {
	h := newTestHasher()
	ctx := context.Background()

	digest, err := h.Hash(ctx, testPassword)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(digest, "$2a$"))

	ok, err := h.Verify(ctx, testPassword, digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(ctx, "Wr0ngPassword", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcryptHasher_SaltedDigests(t *testing.T) {
	h := newTestHasher()
	ctx := context.Background()

	first, err := h.Hash(ctx, testPassword)
	require.NoError(t, err)
	second, err := h.Hash(ctx, testPassword)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestBcryptHasher_EmptyPassword(t *testing.T) {
	_, err := newTestHasher().Hash(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrNoEmptyString)
	assert.True(t, auth.IsValidationError(err))
}

func TestBcryptHasher_TooLong(t *testing.T) {
	_, err := newTestHasher().Hash(context.Background(), strings.Repeat("a", 73))
	require.Error(t, err)
	assert.True(t, auth.IsValidationError(err))
}

func TestBcryptHasher_MalformedDigest(t *testing.T) {
	ok, err := newTestHasher().Verify(context.Background(), testPassword, "not-a-digest")
	assert.False(t, ok)
	assert.ErrorIs(t, err, auth.ErrMalformedHash)
}

func TestBcryptHasher_Cost(t *testing.T) {
	assert.Equal(t, bcrypt.MinCost, newTestHasher().Cost())

	// out of range costs are ignored
	h := auth.NewBcryptHasher(auth.WithHashCost(bcrypt.MaxCost + 1))
	assert.GreaterOrEqual(t, h.Cost(), bcrypt.DefaultCost)
}

func TestBcryptHasher_CancelledContext(t *testing.T) {
	h := auth.NewBcryptHasher(auth.WithHashCost(bcrypt.MinCost), auth.WithHashConcurrency(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Hash(ctx, testPassword)
	require.Error(t, err)

	_, err = h.Verify(ctx, testPassword, "$2a$04$invalid")
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrMalformedHash)
}

func TestBcryptHasher_VerifyDecoy(t *testing.T) {
	h := newTestHasher()
	assert.NotPanics(t, func() {
		h.VerifyDecoy(context.Background(), testPassword)
		h.VerifyDecoy(context.Background(), "")
	})
}

func TestBcryptHasher_Concurrent(t *testing.T) {
	h := auth.NewBcryptHasher(auth.WithHashCost(bcrypt.MinCost), auth.WithHashConcurrency(2))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			digest, err := h.Hash(ctx, testPassword)
			if err != nil {
				errs <- err
				return
			}
			ok, err := h.Verify(ctx, testPassword, digest)
			if err == nil && !ok {
				err = assert.AnError
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
}
