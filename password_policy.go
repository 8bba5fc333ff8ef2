package auth

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

var (
	lowerRe = regexp.MustCompile(`\p{Ll}`)
	upperRe = regexp.MustCompile(`\p{Lu}`)
	digitRe = regexp.MustCompile(`\p{Nd}`)
)

// bcrypt ignores everything past 72 bytes
const maxPasswordBytes = 72

// PasswordPolicy holds the credential rules enforced at registration and reset
type PasswordPolicy struct {
	MinLength         int
	MaxLength         int
	RequireLower      bool
	RequireUpper      bool
	RequireDigit      bool
	UsernameMinLength int
	UsernameMaxLength int
}

// DefaultPasswordPolicy returns the policy used when none is configured
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:         8,
		MaxLength:         maxPasswordBytes,
		RequireLower:      true,
		RequireUpper:      true,
		RequireDigit:      true,
		UsernameMinLength: 3,
		UsernameMaxLength: 50,
	}
}

func (p PasswordPolicy) normalized() PasswordPolicy {
	def := DefaultPasswordPolicy()
	if p.MinLength <= 0 {
		p.MinLength = def.MinLength
	}
	if p.MaxLength <= 0 || p.MaxLength > maxPasswordBytes {
		p.MaxLength = maxPasswordBytes
	}
	if p.UsernameMinLength <= 0 {
		p.UsernameMinLength = 1
	}
	if p.UsernameMaxLength <= 0 {
		p.UsernameMaxLength = def.UsernameMaxLength
	}
	return p
}

func (p PasswordPolicy) passwordRules() []validation.Rule {
	p = p.normalized()
	rules := []validation.Rule{
		validation.Required,
		validation.Length(p.MinLength, p.MaxLength),
		validation.By(func(value interface{}) error {
			if s, _ := value.(string); len(s) > maxPasswordBytes {
				return errors.New("must be at most 72 bytes long")
			}
			return nil
		}),
	}
	if p.RequireLower {
		rules = append(rules, validation.Match(lowerRe).Error("must contain a lowercase letter"))
	}
	if p.RequireUpper {
		rules = append(rules, validation.Match(upperRe).Error("must contain an uppercase letter"))
	}
	if p.RequireDigit {
		rules = append(rules, validation.Match(digitRe).Error("must contain a digit"))
	}
	return rules
}

func (p PasswordPolicy) usernameRules() []validation.Rule {
	p = p.normalized()
	return []validation.Rule{
		validation.Required,
		validation.Length(p.UsernameMinLength, p.UsernameMaxLength),
	}
}

// ValidatePassword checks a single password against the policy
func (p PasswordPolicy) ValidatePassword(password string) error {
	in := struct {
		Password string `json:"password"`
	}{password}

	err := validation.ValidateStruct(&in,
		validation.Field(&in.Password, p.passwordRules()...),
	)
	return NewValidationError(err, "password does not satisfy the policy")
}

// ValidateUsername trims the username and checks it against the policy
func (p PasswordPolicy) ValidateUsername(username string) (string, error) {
	in := struct {
		Username string `json:"username"`
	}{strings.TrimSpace(username)}

	err := validation.ValidateStruct(&in,
		validation.Field(&in.Username, p.usernameRules()...),
	)
	if err != nil {
		return "", NewValidationError(err, "username does not satisfy the policy")
	}
	return in.Username, nil
}

// ValidateRegistration checks every field submitted on signup.
// It returns the normalized email and username.
func (p PasswordPolicy) ValidateRegistration(email, username, password string) (string, string, error) {
	in := struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}{
		Email:    strings.TrimSpace(email),
		Username: strings.TrimSpace(username),
		Password: password,
	}

	err := validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.Username, p.usernameRules()...),
		validation.Field(&in.Password, p.passwordRules()...),
	)
	if err != nil {
		return "", "", NewValidationError(err, "registration data is invalid")
	}
	return in.Email, in.Username, nil
}
