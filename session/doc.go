// Package session provides server-side client session state for the bus:
// per-session attribute storage, the authorization descriptor (the set of
// roles granted to a session), and a TTL-swept store keyed by session ID.
//
// Mutation of a single session is serialized by that session's own lock, so
// concurrent requests for the same session never race when toggling
// authentication state, while requests for different sessions proceed
// independently. A session with no authentication token is anonymous.
package session
