// Package message defines the command message envelope routed by the Errai
// bus, together with the well-known part keys, commands, and subjects that
// make up the bus wire protocol.
//
// A CommandMessage is an addressable envelope: a destination subject fixed at
// construction, plus an ordered mapping of named parts carrying the payload.
// Parts are read and written throughout processing; the subject never changes
// once the message exists.
//
// Messages bound to a client session carry an opaque SessionRef in the
// SessionData part. The ref is server-side only and never crosses the wire.
//
// Example:
//
//	msg := message.New(message.SubjectAuthorizationService, "login-form").
//	    Set(message.CommandType, string(message.AuthRequest)).
//	    Set(message.Name, "alice").
//	    Set(message.Password, "secret")
package message
