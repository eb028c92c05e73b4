package auth

import "context"

// CredentialRequest is a structured name/password pair extracted from a
// challenge message.
type CredentialRequest struct {
	Name     string
	Password string
}

// CredentialResult is the outcome of a credential exchange. Accepted plus
// the authenticated principal name; validators may grant additional roles
// beyond the standard Authenticated role.
type CredentialResult struct {
	Accepted  bool
	Principal string
	Roles     []string
}

// CredentialValidator validates a credential pair against an external
// authentication provider. The call may block on network or disk I/O; the
// adapter never holds shared locks across it.
//
// A rejected credential is reported through CredentialResult.Accepted, not
// through the error. A non-nil error means the provider itself failed.
type CredentialValidator interface {
	Validate(ctx context.Context, req CredentialRequest) (CredentialResult, error)
}

// ValidatorFunc adapts a function to the CredentialValidator interface.
type ValidatorFunc func(ctx context.Context, req CredentialRequest) (CredentialResult, error)

// Validate implements CredentialValidator.
func (f ValidatorFunc) Validate(ctx context.Context, req CredentialRequest) (CredentialResult, error) {
	return f(ctx, req)
}
