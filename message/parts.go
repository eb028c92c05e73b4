package message

// Part names a well-known slot in a command message. Part keys are protocol
// constants shared by every bus participant.
type Part string

// Well-known message parts
const (
	// CommandType carries the command verb for service subjects
	CommandType Part = "CommandType"
	// Name carries a principal name during a credential exchange
	Name Part = "Name"
	// Password carries the password half of a credential pair
	Password Part = "Password"
	// SessionData carries the opaque server-side session reference
	SessionData Part = "SessionData"
	// Credentials carries the set of role tokens granted to a session
	Credentials Part = "Credentials"
	// MessageText carries free-form display text, such as a login MOTD
	MessageText Part = "MessageText"
	// ReplyTo names the subject a conversational reply should target
	ReplyTo Part = "ReplyTo"
	// ToSubject names the destination subject when a message is enveloped
	// for transport outside the bus
	ToSubject Part = "ToSubject"
)

// Command is the verb carried in the CommandType part of messages addressed
// to built-in service subjects.
type Command string

// Security protocol commands
const (
	// AuthRequest asks the authorization service to validate a
	// name/password credential pair
	AuthRequest Command = "AuthRequest"
	// SuccessfulAuth notifies the reply subject of a successful login
	SuccessfulAuth Command = "SuccessfulAuth"
	// FailedAuth notifies the reply subject of a rejected login
	FailedAuth Command = "FailedAuth"
	// EndSession asks the authorization service to log the session out
	EndSession Command = "EndSession"
	// SecurityChallenge tells a client its message was rejected by a
	// security rule; the ToSubject part names the gated subject
	SecurityChallenge Command = "SecurityChallenge"
)

// Bus protocol commands, addressed to the ServerBus subject by remote
// clients managing their subscriptions.
const (
	// RemoteSubscribe asks the bus to forward a subject to the sending
	// connection; the ToSubject part names the subject
	RemoteSubscribe Command = "RemoteSubscribe"
	// RemoteUnsubscribe cancels a previous RemoteSubscribe
	RemoteUnsubscribe Command = "RemoteUnsubscribe"
)

// Well-known subjects
const (
	// SubjectLoginClient receives asynchronous authentication outcomes
	SubjectLoginClient = "LoginClient"
	// SubjectAuthorizationService is the built-in subject handling
	// AuthRequest and EndSession commands
	SubjectAuthorizationService = "AuthorizationService"
	// SubjectServerBus handles RemoteSubscribe and RemoteUnsubscribe
	// commands from remote connections
	SubjectServerBus = "ServerBus"
)

// RoleAuthenticated is the role token granted to every authenticated
// session. Its presence in a session's descriptor mirrors the session
// authentication token.
const RoleAuthenticated = "Authenticated"
