// Package relay federates the message bus across instances through NATS.
//
// Export subjects are mirrored from the local bus onto NATS; import subjects
// flow the other way, entering the local bus through the service façade so
// security rules apply to federated traffic exactly as they do to local
// traffic. Federated messages carry no session and are therefore anonymous:
// a subject gated on any role never accepts them.
//
// Loop prevention is two-layered. The NATS connection uses no-echo so an
// instance never consumes its own publishes, and every exported frame is
// stamped with its origin so a message that already crossed the relay once
// is not exported again.
package relay
