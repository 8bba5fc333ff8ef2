package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid user state transition", goerrors.CategoryOperation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor ActorRef
	User  *User
	From  UserStatus
	To    UserStatus
	Meta  TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionOption customizes a single lifecycle operation.
type TransitionOption func(*transitionOptions)

// UserLifecycle governs creation, soft deletion, restoration and profile
// updates of a user row. Active and Suspended are the only states, the
// only edges are Active to Suspended and back.
type UserLifecycle interface {
	Create(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error)
	SoftDelete(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error)
	Restore(ctx context.Context, actor ActorRef, user *User, username, passwordHash string, opts ...TransitionOption) (*User, error)
	UpdateProfile(ctx context.Context, actor ActorRef, user *User, update ProfileUpdate, opts ...TransitionOption) (*User, error)
	Transition(ctx context.Context, actor ActorRef, user *User, target UserStatus, opts ...TransitionOption) (*User, error)
	CurrentStatus(user *User) UserStatus
}

// LifecycleOption customizes lifecycle construction.
type LifecycleOption func(*userLifecycle)

// WithLifecycleClock injects a custom clock (useful for tests).
func WithLifecycleClock(clock Clock) LifecycleOption {
	return func(sm *userLifecycle) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithLifecycleActivitySink sets the ActivitySink used to publish lifecycle events.
func WithLifecycleActivitySink(sink ActivitySink) LifecycleOption {
	return func(sm *userLifecycle) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithLifecycleLogger overrides the logger used for sink failures.
func WithLifecycleLogger(logger Logger) LifecycleOption {
	return func(sm *userLifecycle) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionTx runs the persistence calls on tx
func WithTransitionTx(tx bun.IDB) TransitionOption {
	return func(opts *transitionOptions) {
		opts.tx = tx
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewUserLifecycle returns the default implementation backed by the provided repository.
func NewUserLifecycle(users Users, opts ...LifecycleOption) UserLifecycle {
	sm := &userLifecycle{
		users: users,
		transitions: map[UserStatus]map[UserStatus]struct{}{
			UserStatusActive: {
				UserStatusSuspended: {},
			},
			UserStatusSuspended: {
				UserStatusActive: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	sm.logger = normalizeLogger(sm.logger)

	return sm
}

type userLifecycle struct {
	users        Users
	transitions  map[UserStatus]map[UserStatus]struct{}
	now          Clock
	activitySink ActivitySink
	logger       Logger
}

type transitionOptions struct {
	tx          bun.IDB
	metadata    TransitionMetadata
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
	credentials *credentials
}

type credentials struct {
	username     string
	passwordHash string
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

// Create inserts user as a new Active row
func (sm *userLifecycle) Create(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error) {
	if user == nil || strings.TrimSpace(user.Email) == "" || user.PasswordHash == "" {
		return nil, ErrInvalidTransition
	}

	options := sm.buildTransitionOptions(opts...)

	existing, err := sm.findByEmail(ctx, options, user.Email)
	switch {
	case err == nil && existing != nil:
		return nil, ErrConflict
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}

	now := sm.now()
	user.Status = UserStatusActive
	user.DeletedAt = nil
	user.CreatedAt = now
	user.UpdatedAt = now

	ctxData := TransitionContext{
		Actor: actor,
		User:  user,
		To:    UserStatusActive,
		Meta:  options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData); err != nil {
		return nil, err
	}

	var created *User
	if options.tx != nil {
		created, err = sm.users.CreateTx(ctx, options.tx, user)
	} else {
		created, err = sm.users.Create(ctx, user)
	}
	if err != nil {
		return nil, err
	}

	if err := sm.runHooks(ctx, options.afterHooks, ctxData); err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventUserCreated,
		Actor:     actor,
		UserID:    created.ID.String(),
		ToStatus:  UserStatusActive,
		Metadata:  sm.transitionMetadata(ctxData.Meta),
	})

	return created, nil
}

// SoftDelete moves an Active user to Suspended and stamps deleted_at
func (sm *userLifecycle) SoftDelete(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error) {
	return sm.Transition(ctx, actor, user, UserStatusSuspended, opts...)
}

// Restore reactivates a Suspended user, reusing its id and email and
// replacing its username and password digest.
func (sm *userLifecycle) Restore(ctx context.Context, actor ActorRef, user *User, username, passwordHash string, opts ...TransitionOption) (*User, error) {
	if strings.TrimSpace(username) == "" || passwordHash == "" {
		return nil, ErrInvalidTransition
	}

	opts = append(opts, func(o *transitionOptions) {
		o.credentials = &credentials{username: username, passwordHash: passwordHash}
	})

	return sm.Transition(ctx, actor, user, UserStatusActive, opts...)
}

func (sm *userLifecycle) Transition(ctx context.Context, actor ActorRef, user *User, target UserStatus, opts ...TransitionOption) (*User, error) {
	if user == nil || !target.IsValid() {
		return nil, ErrInvalidTransition
	}

	from := sm.CurrentStatus(user)
	if !sm.canTransition(from, target) {
		sm.logger.Debug("rejected transition user=%s from=%s to=%s", user.ID, from, target)
		return nil, ErrInvalidTransition
	}

	options := sm.buildTransitionOptions(opts...)

	ctxData := TransitionContext{
		Actor: actor,
		User:  user,
		From:  from,
		To:    target,
		Meta:  options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData); err != nil {
		return nil, err
	}

	now := sm.now()
	statusOpts := []StatusUpdateOption{WithUpdatedAt(now)}
	if target == UserStatusSuspended {
		statusOpts = append(statusOpts, WithDeletedAt(&now))
	} else {
		statusOpts = append(statusOpts, WithDeletedAt(nil))
	}
	if options.credentials != nil {
		statusOpts = append(statusOpts, WithCredentials(options.credentials.username, options.credentials.passwordHash))
	}

	var (
		updated *User
		err     error
	)
	if options.tx != nil {
		updated, err = sm.users.UpdateStatusTx(ctx, options.tx, user.ID, from, target, statusOpts...)
	} else {
		updated, err = sm.users.UpdateStatus(ctx, user.ID, from, target, statusOpts...)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// row is gone or changed state since it was read
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	sm.applyUpdates(user, updated, target, now, options.credentials)

	if err := sm.runHooks(ctx, options.afterHooks, ctxData); err != nil {
		return nil, err
	}

	eventType := ActivityEventUserStatusChanged
	if options.credentials != nil {
		eventType = ActivityEventUserRestored
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		UserID:     user.ID.String(),
		FromStatus: from,
		ToStatus:   target,
		Metadata:   sm.transitionMetadata(ctxData.Meta),
	})

	return user, nil
}

// UpdateProfile applies a partial update to an Active user. The status is never changed.
func (sm *userLifecycle) UpdateProfile(ctx context.Context, actor ActorRef, user *User, update ProfileUpdate, opts ...TransitionOption) (*User, error) {
	if user == nil || sm.CurrentStatus(user) != UserStatusActive {
		return nil, ErrInvalidTransition
	}

	if update.IsEmpty() {
		return user, nil
	}

	options := sm.buildTransitionOptions(opts...)

	next := *user
	columns := make([]string, 0, 4)
	changed := map[string]any{}

	if update.Username != nil && *update.Username != user.Username {
		if err := sm.ensureUnclaimed(ctx, options, "username", *update.Username, user); err != nil {
			return nil, err
		}
		next.Username = *update.Username
		columns = append(columns, "username")
		changed["username"] = next.Username
	}

	if update.Email != nil && *update.Email != user.Email {
		if err := sm.ensureUnclaimed(ctx, options, "email", *update.Email, user); err != nil {
			return nil, err
		}
		next.Email = *update.Email
		columns = append(columns, "email")
		changed["email"] = next.Email
	}

	if update.ContactNumber != nil && *update.ContactNumber != user.ContactNumber {
		next.ContactNumber = *update.ContactNumber
		columns = append(columns, "contact_number")
		changed["contact_number"] = true
	}

	if update.DateOfBirth != nil {
		dob := *update.DateOfBirth
		next.DateOfBirth = &dob
		columns = append(columns, "date_of_birth")
		changed["date_of_birth"] = true
	}

	if len(columns) == 0 {
		return user, nil
	}

	next.UpdatedAt = sm.now()

	var err error
	if options.tx != nil {
		_, err = sm.users.UpdateProfileTx(ctx, options.tx, &next, columns...)
	} else {
		_, err = sm.users.UpdateProfile(ctx, &next, columns...)
	}
	if err != nil {
		return nil, err
	}

	*user = next

	meta := sm.transitionMetadata(options.cloneMetadata())
	if meta == nil {
		meta = map[string]any{}
	}
	meta["changed"] = changed

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventProfileUpdated,
		Actor:      actor,
		UserID:     user.ID.String(),
		FromStatus: UserStatusActive,
		ToStatus:   UserStatusActive,
		Metadata:   meta,
	})

	return user, nil
}

func (sm *userLifecycle) CurrentStatus(user *User) UserStatus {
	if user == nil {
		return ""
	}
	user.EnsureStatus()
	return user.Status
}

func (sm *userLifecycle) ensureUnclaimed(ctx context.Context, options *transitionOptions, column, value string, owner *User) error {
	var (
		other *User
		err   error
	)
	switch column {
	case "email":
		other, err = sm.findByEmail(ctx, options, value)
	default:
		if options.tx != nil {
			other, err = sm.users.FindByUsernameTx(ctx, options.tx, value)
		} else {
			other, err = sm.users.FindByUsername(ctx, value)
		}
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case other != nil && other.ID != owner.ID:
		return ErrConflict
	}
	return nil
}

func (sm *userLifecycle) findByEmail(ctx context.Context, options *transitionOptions, email string) (*User, error) {
	if options.tx != nil {
		return sm.users.FindByEmailTx(ctx, options.tx, email, ActiveOnly)
	}
	return sm.users.FindByEmail(ctx, email, ActiveOnly)
}

func (sm *userLifecycle) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

func (sm *userLifecycle) canTransition(from, to UserStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *userLifecycle) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *userLifecycle) applyUpdates(user, updated *User, target UserStatus, now time.Time, creds *credentials) {
	if updated != nil {
		*user = *updated
		user.EnsureStatus()
		return
	}

	user.Status = target
	user.UpdatedAt = now
	if target == UserStatusSuspended {
		user.DeletedAt = &now
	} else {
		user.DeletedAt = nil
	}
	if creds != nil {
		user.Username = creds.username
		user.PasswordHash = creds.passwordHash
	}
}

func (sm *userLifecycle) recordActivity(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, event)
}

func (sm *userLifecycle) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
