package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service bundles the account operations behind one value. It is built
// once at startup and shared by every request.
type Service struct {
	repo      RepositoryManager
	hasher    PasswordHasher
	tokens    *TokenService
	lifecycle UserLifecycle
	auther    *Auther
	notifier  *Notifier
	policy    PasswordPolicy

	requestRegistration *RequestRegistrationHandler
	registerUser        *RegisterUserHandler
	initializeReset     *InitializePasswordResetHandler
	finalizeReset       *FinalizePasswordResetHandler
	updateProfile       *UpdateProfileHandler
	deleteAccount       *DeleteAccountHandler
}

// ServiceDeps are the collaborators a Service needs
type ServiceDeps struct {
	Repo         RepositoryManager
	Hasher       PasswordHasher
	Tokens       *TokenService
	Notifier     *Notifier
	Denylist     TokenDenylist
	ActivitySink ActivitySink
	Logger       Logger
	Clock        Clock
	HashedIDs    bool
	PhoneRegion  string
}

// NewService wires the handlers around deps
func NewService(deps ServiceDeps, opts Config) *Service {
	logger := normalizeLogger(deps.Logger)
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	lifecycle := NewUserLifecycle(deps.Repo.Users(),
		WithLifecycleClock(clock),
		WithLifecycleActivitySink(deps.ActivitySink),
		WithLifecycleLogger(logger),
	)

	auther := NewAuthenticator(deps.Repo.Users(), deps.Hasher, deps.Tokens, opts).
		WithLogger(logger).
		WithActivitySink(deps.ActivitySink).
		WithDenylist(deps.Denylist).
		WithClock(clock)

	return &Service{
		repo:      deps.Repo,
		hasher:    deps.Hasher,
		tokens:    deps.Tokens,
		lifecycle: lifecycle,
		auther:    auther,
		notifier:  deps.Notifier,
		policy:    opts.GetPasswordPolicy(),

		requestRegistration: NewRequestRegistrationHandler(deps.Repo, deps.Tokens, deps.Notifier, opts).
			WithActivitySink(deps.ActivitySink).
			WithLogger(logger),
		registerUser: NewRegisterUserHandler(deps.Repo, deps.Hasher, deps.Tokens, lifecycle).
			WithHashedIDs(deps.HashedIDs).
			WithLogger(logger),
		initializeReset: NewInitializePasswordResetHandler(deps.Repo, deps.Tokens, deps.Notifier, opts).
			WithActivitySink(deps.ActivitySink).
			WithLogger(logger),
		finalizeReset: NewFinalizePasswordResetHandler(deps.Repo, deps.Hasher, deps.Tokens, opts).
			WithActivitySink(deps.ActivitySink).
			WithLogger(logger).
			WithClock(clock),
		updateProfile: NewUpdateProfileHandler(deps.Repo, lifecycle, opts).
			WithPhoneRegion(deps.PhoneRegion).
			WithLogger(logger).
			WithClock(clock),
		deleteAccount: NewDeleteAccountHandler(deps.Repo, lifecycle),
	}
}

// Authenticator returns the credential checker
func (s *Service) Authenticator() *Auther {
	return s.auther
}

// Lifecycle returns the user state machine
func (s *Service) Lifecycle() UserLifecycle {
	return s.lifecycle
}

func (s *Service) HashPassword(ctx context.Context, plaintext string) (string, error) {
	return s.hasher.Hash(ctx, plaintext)
}

func (s *Service) VerifyPassword(ctx context.Context, plaintext, digest string) (bool, error) {
	return s.hasher.Verify(ctx, plaintext, digest)
}

func (s *Service) IssueToken(claims Claims, ttl time.Duration) (string, error) {
	return s.tokens.Issue(claims, ttl)
}

func (s *Service) DecodeToken(token string) (Claims, error) {
	return s.tokens.Decode(token)
}

func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*User, error) {
	return s.auther.Authenticate(ctx, identifier, password)
}

// RequestRegistration validates the signup and mails the verification link
func (s *Service) RequestRegistration(ctx context.Context, email, username, password string) error {
	return s.requestRegistration.Execute(ctx, RequestRegistrationMessage{
		Email:    email,
		Username: username,
		Password: password,
	})
}

// Register completes a signup from its verification token, creating or
// restoring the account.
func (s *Service) Register(ctx context.Context, token string) (*User, error) {
	var user *User
	err := s.registerUser.Execute(ctx, RegisterUserMessage{
		Token:      token,
		OnResponse: func(u *User) { user = u },
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	return s.initializeReset.Execute(ctx, InitializePasswordResetMessage{Email: email})
}

func (s *Service) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	return s.finalizeReset.Execute(ctx, FinalizePasswordResetMessage{
		Token:    token,
		Password: newPassword,
	})
}

// SoftDelete suspends the account with the given id
func (s *Service) SoftDelete(ctx context.Context, actor ActorRef, userID uuid.UUID) error {
	return s.deleteAccount.Execute(ctx, DeleteAccountMessage{
		UserID: userID,
		Actor:  actor,
		Reason: "account deleted",
	})
}

// Restore reactivates a suspended user with new credentials
func (s *Service) Restore(ctx context.Context, actor ActorRef, user *User, username, password string) (*User, error) {
	username, err := s.policy.ValidateUsername(username)
	if err != nil {
		return nil, err
	}
	if err := s.policy.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return nil, err
	}

	return s.lifecycle.Restore(ctx, actor, user, username, hash)
}

// UpdateProfile applies msg and reports whether the email, the token
// subject, changed.
func (s *Service) UpdateProfile(ctx context.Context, msg UpdateProfileMessage) (*User, bool, error) {
	var (
		user    *User
		changed bool
	)
	msg.OnResponse = func(u *User, emailChanged bool) {
		user = u
		changed = emailChanged
	}
	if err := s.updateProfile.Execute(ctx, msg); err != nil {
		return nil, false, err
	}
	return user, changed, nil
}

// Wait blocks until background mail was attempted
func (s *Service) Wait() {
	s.notifier.Wait()
}
