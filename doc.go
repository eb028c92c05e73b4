// Package errai provides a subject-routed message bus with session-scoped,
// role-based authorization, a WebSocket client gateway, and NATS federation.
//
// # Architecture
//
// Every message names a subject; subscribers register per subject and the
// bus fans each message out in FIFO order per subject. An authorization
// adapter sits in front of dispatch: subjects with security rules only
// accept messages from sessions holding the required roles.
//
//	┌─────────────┐  WebSocket   ┌──────────────────────────────┐
//	│   Clients   ├─────────────→│           Gateway            │
//	└─────────────┘              └──────────────┬───────────────┘
//	                                            │ Store
//	┌─────────────┐   NATS       ┌──────────────▼───────────────┐
//	│ Peer buses  ├─────────────→│           Service            │
//	└─────────────┘    Relay     │  (authorization + dispatch)  │
//	                             └──────────────┬───────────────┘
//	                                            │ SendMessage
//	                             ┌──────────────▼───────────────┐
//	                             │          MessageBus          │
//	                             │   (per-subject FIFO fanout)  │
//	                             └──────────────────────────────┘
//
// # Packages
//
// Core:
//   - message: the wire unit (subject, ordered named parts, session reference)
//   - bus: subject registration and FIFO delivery
//   - session: server-side sessions with role descriptors and TTL sweeping
//   - auth: credential challenge, security rules, the authorization adapter
//   - service: the bus façade gating every stored message through the adapter
//
// Edges:
//   - gateway: WebSocket endpoint binding each connection to one session
//   - relay: NATS federation between bus instances
//
// Infrastructure:
//   - config: layered JSON configuration with environment overrides
//   - errors: classified errors (transient, invalid, fatal)
//   - health: component health reporting
//   - metric: Prometheus metrics and the metrics endpoint
//   - pkg/worker: subject-sharded dispatch pool
//   - pkg/retry: retry policies with backoff
//
// # Binary
//
// Build and run the bus server:
//
//	go build -o bin/errai ./cmd/errai
//	./bin/errai --config configs/errai.json
//
// The server loads its configuration, installs the configured security
// rules, and serves clients on the gateway address. Federation and the
// metrics endpoint are enabled per config.
package errai
