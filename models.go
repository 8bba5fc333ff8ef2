package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserStatus is the lifecycle state of an account
type UserStatus string

const (
	// UserStatusActive accounts are visible to lookups and can authenticate
	UserStatusActive UserStatus = "active"
	// UserStatusSuspended accounts are soft deleted and can only be restored
	UserStatusSuspended UserStatus = "suspended"
)

// IsValid reports whether s is a canonical status
func (s UserStatus) IsValid() bool {
	return s == UserStatusActive || s == UserStatusSuspended
}

// StatusFromLegacyCode maps the integer codes stored by older deployments
// (1 active, 2 suspended or deleted) to a canonical status.
func StatusFromLegacyCode(code int) (UserStatus, bool) {
	switch code {
	case 1:
		return UserStatusActive, true
	case 2:
		return UserStatusSuspended, true
	}
	return "", false
}

// ParseStatus accepts canonical names and the legacy "deleted" alias
func ParseStatus(status string) (UserStatus, bool) {
	switch UserStatus(status) {
	case UserStatusActive:
		return UserStatusActive, true
	case UserStatusSuspended, "deleted":
		return UserStatusSuspended, true
	}
	return "", false
}

// User is the user model.
// A row is suspended if and only if DeletedAt is set.
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email          string     `bun:"email,notnull" json:"email"`
	Username       string     `bun:"username,notnull" json:"username"`
	PasswordHash   string     `bun:"hashed_password,notnull" json:"-"`
	ContactNumber  string     `bun:"contact_number" json:"contact_number,omitempty"`
	DateOfBirth    *time.Time `bun:"date_of_birth,nullzero" json:"date_of_birth,omitempty"`
	Role           UserRole   `bun:"user_role,notnull" json:"user_role"`
	Status         UserStatus `bun:"user_status,notnull" json:"user_status"`
	CreatedAt      time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull" json:"updated_at"`
	DeletedAt      *time.Time `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
}

// IsActive reports whether the account can authenticate
func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive && u.DeletedAt == nil
}

// IsSuspended reports whether the account is soft deleted
func (u *User) IsSuspended() bool {
	return u != nil && u.Status == UserStatusSuspended
}

// EnsureStatus repairs a status that disagrees with DeletedAt.
// DeletedAt wins since it is the column every lookup filters on.
func (u *User) EnsureStatus() {
	if u == nil {
		return
	}
	if u.DeletedAt != nil {
		u.Status = UserStatusSuspended
		return
	}
	u.Status = UserStatusActive
}

// ProfileUpdate carries the mutable profile fields. Nil fields are left untouched.
type ProfileUpdate struct {
	Username      *string
	Email         *string
	ContactNumber *string
	DateOfBirth   *time.Time
}

// IsEmpty reports whether the update changes nothing
func (p ProfileUpdate) IsEmpty() bool {
	return p.Username == nil && p.Email == nil && p.ContactNumber == nil && p.DateOfBirth == nil
}
