package auth

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RegisterUserMessage completes a signup with the emailed token
type RegisterUserMessage struct {
	Token      string `json:"token"`
	OnResponse func(user *User)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

type RegisterUserHandler struct {
	repo      RepositoryManager
	hasher    PasswordHasher
	tokens    *TokenService
	lifecycle UserLifecycle
	useHashid bool
	logger    Logger
}

// NewRegisterUserHandler creates a handler with sane defaults.
func NewRegisterUserHandler(repo RepositoryManager, hasher PasswordHasher, tokens *TokenService, lifecycle UserLifecycle) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:      repo,
		hasher:    hasher,
		tokens:    tokens,
		lifecycle: lifecycle,
		logger:    defaultLogger(),
	}
}

// WithHashedIDs derives new user ids from the email instead of random ids
func (h *RegisterUserHandler) WithHashedIDs(enabled bool) *RegisterUserHandler {
	h.useHashid = enabled
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	if err := contextCancelled(ctx, "user registration"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	claims, err := h.tokens.DecodeRegistrationToken(event.Token)
	if err != nil {
		h.logger.Debug("registration token rejected: %v", err)
		return ErrTokenInvalid
	}

	hash, err := h.hasher.Hash(ctx, claims.Password)
	if err != nil {
		return commandError(err, "failed to hash password")
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	actor := ActorRef{Type: "self", ID: claims.Email}
	var user *User

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := h.repo.Users().FindByEmailTx(ctx, tx, claims.Email, IncludeSuspended)
		switch {
		case err == nil && existing.IsActive():
			return ErrConflict
		case err == nil:
			user, err = h.lifecycle.Restore(ctx, actor, existing, claims.Username, hash,
				WithTransitionTx(tx),
				WithTransitionReason("re-registration"),
			)
			return err
		case !errors.Is(err, ErrNotFound):
			return err
		}

		record := &User{
			Email:        claims.Email,
			Username:     claims.Username,
			PasswordHash: hash,
			Role:         DefaultRole,
		}
		if h.useHashid {
			id, err := h.hashedID(ctx, tx, claims.Email)
			if err != nil {
				return err
			}
			record.ID = id
		}

		user, err = h.lifecycle.Create(ctx, actor, record,
			WithTransitionTx(tx),
			WithTransitionReason("registration"),
		)
		return err
	})
	if err != nil {
		return commandError(err, "user registration transaction failed")
	}

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

// hashedID derives the id from email. A row that has since moved to another
// email keeps the derived id, so the new account gets a random one instead.
func (h *RegisterUserHandler) hashedID(ctx context.Context, tx bun.IDB, email string) (uuid.UUID, error) {
	id, err := hashid.NewUUID(email)
	if err != nil {
		h.logger.Warn("hashed id for registration failed: %v", err)
		return uuid.New(), nil
	}

	taken, err := tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.id = ?", id).
		Exists(ctx)
	if err != nil {
		return uuid.Nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check user id")
	}
	if taken {
		h.logger.Info("hashed id %s already taken, using a random id", id)
		return uuid.New(), nil
	}

	return id, nil
}
