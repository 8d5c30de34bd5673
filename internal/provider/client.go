// Package provider is the client for the external identity provider: wire
// types, the HTTP implementation, and the response recorder the MFA
// coordinator uses to recover results from hung verify calls.
package provider

import "context"

// Client is the identity-provider surface the auth core consumes. The HTTP
// implementation is the production one; tests substitute fakes.
type Client interface {
	// SignInWithPassword exchanges credentials for a fresh aal1 session.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignUp registers a new account and returns its first session.
	SignUp(ctx context.Context, email, password string) (*Session, error)

	// CurrentSession returns the provider's in-memory session without any
	// network traffic, or nil when none is held yet.
	CurrentSession() *Session

	// RefreshSession presents a refresh token and returns the renewed
	// session, installing it as current.
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)

	// ListFactors returns the account's enrolled TOTP factors.
	ListFactors(ctx context.Context) ([]Factor, error)

	// ChallengeAndVerify runs the combined challenge-and-verify handshake
	// for one factor and, on success, installs and returns the stepped-up
	// aal2 session.
	ChallengeAndVerify(ctx context.Context, factorID, code string) (*Session, error)

	// SignOut clears the in-memory session and revokes it server-side.
	SignOut(ctx context.Context, scope SignOutScope) error

	// OnAuthStateChange registers a listener for session changes. The
	// returned func unsubscribes it.
	OnAuthStateChange(fn func(StateChange)) (unsubscribe func())
}
