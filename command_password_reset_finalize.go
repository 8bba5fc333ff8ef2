package auth

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// FinalizePasswordResetMessage replaces the password named by a reset token
type FinalizePasswordResetMessage struct {
	Token    string `json:"token"`
	Password string `json:"new_password"`
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	hasher   PasswordHasher
	tokens   *TokenService
	policy   PasswordPolicy
	activity ActivitySink
	logger   Logger
	now      Clock
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, hasher PasswordHasher, tokens *TokenService, opts Config) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		hasher:   hasher,
		tokens:   tokens,
		policy:   opts.GetPasswordPolicy(),
		activity: noopActivitySink{},
		logger:   defaultLogger(),
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects the clock used to stamp updated_at
func (h *FinalizePasswordResetHandler) WithClock(clock Clock) *FinalizePasswordResetHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := contextCancelled(ctx, "password reset finalization"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	claims, err := h.tokens.DecodePasswordResetToken(event.Token)
	if err != nil {
		return err
	}

	if err := h.policy.ValidatePassword(event.Password); err != nil {
		return err
	}

	hash, err := h.hasher.Hash(ctx, event.Password)
	if err != nil {
		return commandError(err, "failed to hash password")
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var user *User
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = h.repo.Users().FindByEmailTx(ctx, tx, claims.Email, ActiveOnly)
		if err != nil {
			return err
		}
		return h.repo.Users().ResetPasswordTx(ctx, tx, user.ID, hash, h.now())
	})
	if err != nil {
		return commandError(err, "failed to finalize password reset")
	}

	recordActivity(ctx, h.activity, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     ActorRef{Type: "user", ID: user.ID.String()},
		UserID:    user.ID.String(),
	})

	return nil
}
