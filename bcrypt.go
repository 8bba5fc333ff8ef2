package auth

import (
	"context"
	"errors"
	"runtime"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// BcryptHasher hashes passwords with bcrypt. Hash and Verify run on a
// bounded number of worker slots so a burst of logins cannot occupy
// every CPU at once.
type BcryptHasher struct {
	cost  int
	slots *semaphore.Weighted

	decoyOnce sync.Once
	decoy     string
}

var _ PasswordHasher = (*BcryptHasher)(nil)

// HasherOption configures a BcryptHasher
type HasherOption func(*BcryptHasher)

// WithHashCost overrides the bcrypt cost factor
func WithHashCost(cost int) HasherOption {
	return func(h *BcryptHasher) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			h.cost = cost
		}
	}
}

// WithHashConcurrency limits how many digests are computed at the same time
func WithHashConcurrency(n int) HasherOption {
	return func(h *BcryptHasher) {
		if n > 0 {
			h.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewBcryptHasher returns a hasher using the default cost and one slot per CPU
func NewBcryptHasher(opts ...HasherOption) *BcryptHasher {
	h := &BcryptHasher{
		cost:  passwordHashCost(),
		slots: semaphore.NewWeighted(int64(runtime.NumCPU())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Hash will generate a salted password digest.
// The context only bounds the wait for a free slot, a running hash is never interrupted.
func (h *BcryptHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrNoEmptyString
	}

	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.slots.Release(1)

	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", NewValidationError(err, "password is too long")
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(digest), nil
}

// Verify will validate the given cleartext password matches the digest.
// A mismatch is reported as false, a digest that cannot be parsed as ErrMalformedHash.
func (h *BcryptHasher) Verify(ctx context.Context, plaintext, digest string) (bool, error) {
	if err := h.acquire(ctx); err != nil {
		return false, err
	}
	defer h.slots.Release(1)

	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, ErrMalformedHash
	}
}

// VerifyDecoy burns the same amount of work as a real verification. Used
// when the account does not exist so response timing does not reveal it.
func (h *BcryptHasher) VerifyDecoy(ctx context.Context, plaintext string) {
	h.decoyOnce.Do(func() {
		digest, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), h.cost)
		if err == nil {
			h.decoy = string(digest)
		}
	})
	if h.decoy == "" {
		return
	}
	_, _ = h.Verify(ctx, plaintext, h.decoy)
}

// Cost returns the configured bcrypt cost
func (h *BcryptHasher) Cost() int {
	return h.cost
}

func (h *BcryptHasher) acquire(ctx context.Context) error {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "context cancelled waiting for hash worker")
	}
	return nil
}
