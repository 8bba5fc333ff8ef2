package auth

import (
	"fmt"
	"strings"
	"time"
)

const (
	ClaimExpiresAt = "exp"
	ClaimSubject   = "sub"
	ClaimClientIP  = "client_ip"
	ClaimTokenID   = "jti"
	ClaimEmail     = "email"
	ClaimUsername  = "username"
	ClaimPassword  = "password"
)

// Claims is the decoded payload of a token
type Claims map[string]any

// String returns the claim as a string, or "" when missing or not a string
func (c Claims) String(key string) string {
	if c == nil {
		return ""
	}
	s, _ := c[key].(string)
	return s
}

// ExpiresAt returns the exp claim
func (c Claims) ExpiresAt() (time.Time, bool) {
	switch v := c[ClaimExpiresAt].(type) {
	case int64:
		return time.Unix(v, 0), true
	case float64:
		return time.Unix(int64(v), 0), true
	case int:
		return time.Unix(int64(v), 0), true
	}
	return time.Time{}, false
}

func (c Claims) requireStrings(keys ...string) error {
	missing := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.TrimSpace(c.String(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing claims: %s", strings.Join(missing, ", "))
	}
	return nil
}

// AccessClaims identifies a logged in user. ClientIP is recorded for audit only.
type AccessClaims struct {
	Subject   string
	ClientIP  string
	TokenID   string
	ExpiresAt time.Time
}

func (a AccessClaims) toClaims() Claims {
	c := Claims{
		ClaimSubject:  a.Subject,
		ClaimClientIP: a.ClientIP,
	}
	if a.TokenID != "" {
		c[ClaimTokenID] = a.TokenID
	}
	return c
}

// RegistrationClaims carries a pending signup between the two registration phases
type RegistrationClaims struct {
	Email    string
	Username string
	Password string
}

func (r RegistrationClaims) toClaims() Claims {
	return Claims{
		ClaimEmail:    r.Email,
		ClaimUsername: r.Username,
		ClaimPassword: r.Password,
	}
}

// PasswordResetClaims names the account whose password may be replaced
type PasswordResetClaims struct {
	Email string
}
