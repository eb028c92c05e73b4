// Package service provides the bus façade: the single entry point that
// accepts inbound messages, gates them through the authorization adapter,
// and dispatches the survivors to their subject's subscribers.
//
// Store enqueues onto a subject-sharded worker pool, so dispatch is
// concurrent across subjects while staying FIFO within one. The built-in
// AuthorizationService subject is handled here: AuthRequest runs a
// credential challenge, EndSession logs the session out.
package service
