package auth

import (
	"context"
)

var userCtxKey = &contextKey{"user"}
var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// WithSessionContext stores the session and its user in ctx
func WithSessionContext(ctx context.Context, session *Session) context.Context {
	ctx = context.WithValue(ctx, sessionCtxKey, session)
	if session != nil {
		ctx = WithContext(ctx, session.User)
	}
	return ctx
}

// SessionFromContext extracts the Session from the standard context
func SessionFromContext(ctx context.Context) (*Session, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(*Session)
	return raw, ok && raw != nil
}

// ActorFromContext returns the session owner, or an unknown actor
func ActorFromContext(ctx context.Context) ActorRef {
	if session, ok := SessionFromContext(ctx); ok {
		return session.Actor()
	}
	return ActorRef{Type: "unknown"}
}
