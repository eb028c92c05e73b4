// Package bus implements the subject-routed message bus. Subscribers
// register handlers against subject names; Send enqueues a message for its
// subject without blocking the caller and a per-subject dispatch goroutine
// invokes the handlers in subscription order.
//
// One queue per subject means delivery is FIFO for every sender/subject
// pair: two messages sent to the same subject are handled in the order they
// were enqueued, while distinct subjects dispatch independently.
//
// The bus performs no authorization itself; the service layer gates inbound
// traffic through the authorization adapter before it reaches Send.
package bus
