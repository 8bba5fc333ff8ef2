package auth

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// DefaultSessionKey is the fiber Locals key protected routes store the session under
const DefaultSessionKey = "session"

// Session is the authenticated caller of a protected route
type Session struct {
	User   *User
	Token  string
	Claims AccessClaims
}

func (s *Session) GetUserID() uuid.UUID {
	if s == nil || s.User == nil {
		return uuid.Nil
	}
	return s.User.ID
}

func (s *Session) GetExpiresAt() time.Time {
	return s.Claims.ExpiresAt
}

// Actor describes the session owner for lifecycle transitions
func (s *Session) Actor() ActorRef {
	if s == nil || s.User == nil {
		return ActorRef{Type: "unknown"}
	}
	return ActorRef{Type: "user", ID: s.User.ID.String()}
}

// GetSession returns the session stored by the protected route middleware
func GetSession(c *fiber.Ctx, key string) (*Session, error) {
	if key == "" {
		key = DefaultSessionKey
	}

	raw := c.Locals(key)
	if raw == nil {
		return nil, ErrUnableToFindSession
	}

	session, ok := raw.(*Session)
	if !ok || session == nil || session.User == nil {
		return nil, ErrUnableToDecodeSession
	}
	return session, nil
}
