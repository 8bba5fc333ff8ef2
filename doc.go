// Package auth implements account management for the web system: two
// phase email signup, login with JWT access tokens, password reset,
// profile updates and account deletion.
//
// User lifecycle:
//   - Users are persisted with Bun and carry a UserStatus. Only active and
//     suspended exist. Deleting an account suspends it and stamps deleted_at,
//     signing up again with the same email restores the row under its
//     original id.
//   - UserLifecycle owns the transition graph, timestamps, hooks and
//     persistence. Pass a transaction with WithTransitionTx to compose a
//     transition with other writes.
//
// Tokens:
//   - TokenService signs HS256 access, registration and password reset
//     tokens. Each kind is recognised by the claims it requires. Registration
//     tokens hold the whole signup request, so no pending row exists before
//     the email is confirmed.
//
// Activity sinks:
//   - ActivitySink receives login, lifecycle and password reset events from
//     Auther, UserLifecycle and Service. Sinks run best effort and errors are
//     only logged. See the activitymap package for a structured zerolog sink.
//
// HTTP:
//   - Controller registers the fiber routes. Protected routes read the access
//     token from the auth cookie first and fall back to the Authorization
//     header.
package auth
