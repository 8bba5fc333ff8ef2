package auth

import (
	"context"
	"errors"
	"time"
)

// LoginResult is handed to the transport layer, which delivers the
// token (for example as a cookie) and uses ExpiresAt as its own expiry.
type LoginResult struct {
	User      *User
	Token     string
	TokenID   string
	ExpiresAt time.Time
	MaxAge    time.Duration
}

type decoyVerifier interface {
	VerifyDecoy(ctx context.Context, plaintext string)
}

// Auther checks credentials and manages access tokens
type Auther struct {
	users        Users
	hasher       PasswordHasher
	tokens       *TokenService
	denylist     TokenDenylist
	accessTTL    time.Duration
	logger       Logger
	activitySink ActivitySink
	now          Clock
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(users Users, hasher PasswordHasher, tokens *TokenService, opts Config) *Auther {
	return &Auther{
		users:        users,
		hasher:       hasher,
		tokens:       tokens,
		denylist:     noopDenylist{},
		accessTTL:    opts.GetAccessTokenTTL(),
		logger:       defaultLogger(),
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = normalizeLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithDenylist enables revocation of access tokens on logout
func (s *Auther) WithDenylist(denylist TokenDenylist) *Auther {
	s.denylist = normalizeDenylist(denylist)
	return s
}

// WithClock injects the clock used for revocation windows
func (s *Auther) WithClock(clock Clock) *Auther {
	if clock != nil {
		s.now = clock
	}
	return s
}

// AccessTokenTTL is the lifetime of issued access tokens. Transports should
// use it for their own session expiry.
func (s *Auther) AccessTokenTTL() time.Duration {
	return s.accessTTL
}

// Authenticate returns the Active user matching identifier (email or
// username) and password. Every failure returns ErrAuthenticationFailed.
func (s *Auther) Authenticate(ctx context.Context, identifier, password string) (*User, error) {
	user, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("authenticate lookup failed: %v", err)
			return nil, err
		}
		if decoy, ok := s.hasher.(decoyVerifier); ok {
			decoy.VerifyDecoy(ctx, password)
		}
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, "", map[string]any{
			"identifier": identifier,
			"reason":     "unknown_identifier",
		})
		return nil, ErrAuthenticationFailed
	}

	ok, err := s.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		if errors.Is(err, ErrMalformedHash) {
			s.logger.Error("stored digest for user %s is malformed", user.ID)
		} else {
			return nil, err
		}
	}

	if !ok || !user.IsActive() {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, user.ID.String(), map[string]any{
			"identifier": identifier,
			"reason":     "bad_credentials",
		})
		return nil, ErrAuthenticationFailed
	}

	return user, nil
}

// Login authenticates and issues an access token bound to clientIP for audit
func (s *Auther) Login(ctx context.Context, identifier, password, clientIP string) (*LoginResult, error) {
	user, err := s.Authenticate(ctx, identifier, password)
	if err != nil {
		return nil, err
	}

	result, err := s.IssueSession(ctx, user, clientIP)
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, user.ID.String(), map[string]any{
		"client_ip": clientIP,
	})

	return result, nil
}

// IssueSession issues an access token for an already verified user
func (s *Auther) IssueSession(_ context.Context, user *User, clientIP string) (*LoginResult, error) {
	token, claims, err := s.tokens.IssueAccessToken(user.Email, clientIP, s.accessTTL)
	if err != nil {
		s.logger.Error("failed to issue access token: %v", err)
		return nil, err
	}

	return &LoginResult{
		User:      user,
		Token:     token,
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt,
		MaxAge:    s.accessTTL,
	}, nil
}

// CurrentUser resolves an access token to its Active user.
// Revoked tokens and users that are gone fail with ErrAuthenticationFailed.
func (s *Auther) CurrentUser(ctx context.Context, token string) (*User, AccessClaims, error) {
	claims, err := s.tokens.DecodeAccessToken(token)
	if err != nil {
		return nil, AccessClaims{}, err
	}

	revoked, err := s.denylist.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		return nil, AccessClaims{}, err
	}
	if revoked {
		return nil, AccessClaims{}, ErrAuthenticationFailed
	}

	user, err := s.users.FindByEmail(ctx, claims.Subject, ActiveOnly)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, AccessClaims{}, ErrAuthenticationFailed
		}
		return nil, AccessClaims{}, err
	}

	return user, claims, nil
}

// Logout revokes the token when a denylist is configured. Without one
// the token stays valid until exp and only the transport forgets it.
func (s *Auther) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.DecodeAccessToken(token)
	if err != nil {
		// nothing worth revoking
		return nil
	}

	if err := s.denylist.Revoke(ctx, claims.TokenID, claims.ExpiresAt.Add(time.Second)); err != nil {
		s.logger.Error("failed to revoke token %s: %v", claims.TokenID, err)
		return err
	}

	s.emitAuthEvent(ctx, ActivityEventLogout, "", map[string]any{
		"subject": claims.Subject,
	})
	return nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, userID string, metadata map[string]any) {
	actor := ActorRef{Type: "user", ID: userID}
	if userID == "" {
		actor = ActorRef{Type: "unknown"}
	}
	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	})
}
