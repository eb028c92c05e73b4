// Package auth implements the bus authorization layer: credential
// challenges against a pluggable validator, per-subject security rules, and
// the session authentication lifecycle.
//
// The adapter keeps one invariant at all times: a session's authentication
// token is present exactly when the session is authenticated, which is
// exactly when the Authenticated role sits in the session's descriptor.
// Process self-heals the descriptor toward the token on every pass.
//
// Per session the state machine is
//
//	Anonymous -> (successful challenge) -> Authenticated -> (end session) -> Anonymous
//
// with no intermediate states; a failed challenge leaves the session
// anonymous no matter how often it is retried.
package auth
