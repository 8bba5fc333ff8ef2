package auth

import (
	"context"
	"errors"
	"time"
)

// RequestRegistrationMessage starts a signup. Nothing is stored until the
// emailed token comes back through RegisterUserMessage.
type RequestRegistrationMessage struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (e RequestRegistrationMessage) Type() string { return "user.registration.request" }

type RequestRegistrationHandler struct {
	repo       RepositoryManager
	tokens     *TokenService
	notifier   *Notifier
	policy     PasswordPolicy
	ttl        time.Duration
	verifyPath string
	activity   ActivitySink
	logger     Logger
	now        Clock
}

// NewRequestRegistrationHandler creates a handler with sane defaults.
func NewRequestRegistrationHandler(repo RepositoryManager, tokens *TokenService, notifier *Notifier, opts Config) *RequestRegistrationHandler {
	return &RequestRegistrationHandler{
		repo:       repo,
		tokens:     tokens,
		notifier:   notifier,
		policy:     opts.GetPasswordPolicy(),
		ttl:        opts.GetRegistrationTokenTTL(),
		verifyPath: opts.GetVerifyEmailPath(),
		activity:   noopActivitySink{},
		logger:     defaultLogger(),
		now:        time.Now,
	}
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RequestRegistrationHandler) WithActivitySink(sink ActivitySink) *RequestRegistrationHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RequestRegistrationHandler) WithLogger(logger Logger) *RequestRegistrationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RequestRegistrationHandler) Execute(ctx context.Context, event RequestRegistrationMessage) error {
	if err := contextCancelled(ctx, "registration request"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *RequestRegistrationHandler) execute(ctx context.Context, event RequestRegistrationMessage) error {
	email, username, err := h.policy.ValidateRegistration(event.Email, event.Username, event.Password)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	// only active rows block a signup, a suspended row is restored in phase two
	_, err = h.repo.Users().FindByEmail(ctx, email, ActiveOnly)
	switch {
	case err == nil:
		return ErrConflict
	case !errors.Is(err, ErrNotFound):
		return commandError(err, "failed to check existing account")
	}

	token, err := h.tokens.IssueRegistrationToken(RegistrationClaims{
		Email:    email,
		Username: username,
		Password: event.Password,
	}, h.ttl)
	if err != nil {
		return commandError(err, "failed to issue registration token")
	}

	if err := h.notifier.SendVerification(ctx, email, username, h.verifyPath, token, h.ttl); err != nil {
		return commandError(err, "failed to compose verification mail")
	}

	recordActivity(ctx, h.activity, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventRegistrationRequested,
		Actor:     ActorRef{Type: "anonymous"},
		Metadata:  map[string]any{"email": email},
	})

	return nil
}
