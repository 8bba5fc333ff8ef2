package auth

import (
	"context"
	"strings"
	"time"
)

// InitializePasswordResetMessage asks for a reset link to be mailed
type InitializePasswordResetMessage struct {
	Email string `json:"email"`
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset.request" }

type InitializePasswordResetHandler struct {
	repo      RepositoryManager
	tokens    *TokenService
	notifier  *Notifier
	ttl       time.Duration
	resetPath string
	activity  ActivitySink
	logger    Logger
	now       Clock
}

// NewInitializePasswordResetHandler creates a handler with sane defaults.
func NewInitializePasswordResetHandler(repo RepositoryManager, tokens *TokenService, notifier *Notifier, opts Config) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:      repo,
		tokens:    tokens,
		notifier:  notifier,
		ttl:       opts.GetPasswordResetTokenTTL(),
		resetPath: opts.GetResetPasswordPath(),
		activity:  noopActivitySink{},
		logger:    defaultLogger(),
		now:       time.Now,
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := contextCancelled(ctx, "password reset initialization"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

// execute reports ErrNotFound for unknown and suspended emails, which
// tells the caller whether an account exists.
func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	user, err := h.repo.Users().FindByEmail(ctx, strings.TrimSpace(event.Email), ActiveOnly)
	if err != nil {
		return commandError(err, "failed to retrieve user for password reset")
	}

	token, err := h.tokens.IssuePasswordResetToken(user.Email, h.ttl)
	if err != nil {
		return commandError(err, "failed to issue password reset token")
	}

	if err := h.notifier.SendPasswordReset(ctx, user.Email, h.resetPath, token, h.ttl); err != nil {
		return commandError(err, "failed to compose password reset mail")
	}

	recordActivity(ctx, h.activity, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		Actor:     ActorRef{Type: "anonymous"},
		UserID:    user.ID.String(),
	})

	return nil
}
