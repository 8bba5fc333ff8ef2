package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// DefaultPhoneRegion is used to parse contact numbers without a country prefix
const DefaultPhoneRegion = "JP"

// UpdateProfileMessage changes the mutable profile fields of the acting user.
// Nil fields are left untouched, an empty ContactNumber clears it.
type UpdateProfileMessage struct {
	UserID        uuid.UUID  `json:"-"`
	Username      *string    `json:"username,omitempty"`
	Email         *string    `json:"email,omitempty"`
	ContactNumber *string    `json:"contact_number,omitempty"`
	DateOfBirth   *time.Time `json:"date_of_birth,omitempty"`
	OnResponse    func(user *User, emailChanged bool)
}

func (m UpdateProfileMessage) Type() string { return "user.profile.update" }

type UpdateProfileHandler struct {
	repo      RepositoryManager
	lifecycle UserLifecycle
	policy    PasswordPolicy
	region    string
	logger    Logger
	now       Clock
}

// NewUpdateProfileHandler creates a handler with sane defaults.
func NewUpdateProfileHandler(repo RepositoryManager, lifecycle UserLifecycle, opts Config) *UpdateProfileHandler {
	return &UpdateProfileHandler{
		repo:      repo,
		lifecycle: lifecycle,
		policy:    opts.GetPasswordPolicy(),
		region:    DefaultPhoneRegion,
		logger:    defaultLogger(),
		now:       time.Now,
	}
}

// WithPhoneRegion sets the region used for numbers without a country code
func (h *UpdateProfileHandler) WithPhoneRegion(region string) *UpdateProfileHandler {
	if region != "" {
		h.region = strings.ToUpper(region)
	}
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *UpdateProfileHandler) WithLogger(logger Logger) *UpdateProfileHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects the clock used to validate the date of birth
func (h *UpdateProfileHandler) WithClock(clock Clock) *UpdateProfileHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *UpdateProfileHandler) Execute(ctx context.Context, event UpdateProfileMessage) error {
	if err := contextCancelled(ctx, "profile update"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *UpdateProfileHandler) execute(ctx context.Context, event UpdateProfileMessage) error {
	update, err := h.normalize(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var (
		user         *User
		emailChanged bool
	)
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := h.repo.Users().FindByIDTx(ctx, tx, event.UserID)
		if err != nil {
			return err
		}
		previousEmail := current.Email

		user, err = h.lifecycle.UpdateProfile(ctx, ActorRef{Type: "user", ID: current.ID.String()}, current, update,
			WithTransitionTx(tx),
		)
		if err != nil {
			return err
		}
		emailChanged = user.Email != previousEmail
		return nil
	})
	if err != nil {
		return commandError(err, "failed to update profile")
	}

	if event.OnResponse != nil {
		event.OnResponse(user, emailChanged)
	}
	return nil
}

func (h *UpdateProfileHandler) normalize(event UpdateProfileMessage) (ProfileUpdate, error) {
	update := ProfileUpdate{DateOfBirth: event.DateOfBirth}

	if event.Username != nil {
		username, err := h.policy.ValidateUsername(*event.Username)
		if err != nil {
			return ProfileUpdate{}, err
		}
		update.Username = &username
	}

	if event.Email != nil {
		email := strings.TrimSpace(*event.Email)
		if err := validation.Validate(email, validation.Required, is.Email); err != nil {
			return ProfileUpdate{}, NewValidationError(validation.Errors{"email": err}, "email is invalid")
		}
		update.Email = &email
	}

	if event.ContactNumber != nil {
		number, err := h.normalizePhone(*event.ContactNumber)
		if err != nil {
			return ProfileUpdate{}, NewValidationError(validation.Errors{"contact_number": err}, "contact number is invalid")
		}
		update.ContactNumber = &number
	}

	if event.DateOfBirth != nil && event.DateOfBirth.After(h.now()) {
		return ProfileUpdate{}, NewValidationError(
			validation.Errors{"date_of_birth": errors.New("must be in the past")},
			"date of birth is invalid",
		)
	}

	return update, nil
}

// normalizePhone formats the number as E.164
func (h *UpdateProfileHandler) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	num, err := phonenumbers.Parse(raw, h.region)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("is not a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
