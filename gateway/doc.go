// Package gateway exposes the message bus to remote clients over WebSocket.
//
// Each accepted connection is bound to a freshly created server session for
// its whole lifetime. Inbound frames are decoded into command messages,
// stamped with the connection's session, and handed to the bus service for
// authorized dispatch; the client can never forge its session reference
// because inbound SessionData is stripped during decoding.
//
// Outbound delivery is subscription driven. Every connection implicitly
// receives the LoginClient subject, filtered to its own session, so
// authentication outcomes and security challenges reach the client that
// caused them. Further subjects are added and removed with RemoteSubscribe
// and RemoteUnsubscribe commands addressed to the ServerBus subject.
package gateway
