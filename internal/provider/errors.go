package provider

import "errors"

// Error taxonomy of the auth core. User-initiated operations surface these
// directly; background reconciliation logs and degrades instead.
var (
	// ErrInvalidCredentials rejects a sign-in; retry with different input.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNetworkTimeout marks an operation that hit its deadline; retryable.
	ErrNetworkTimeout = errors.New("network timeout")
	// ErrInvalidCode rejects an MFA code; the same challenge stays retryable.
	ErrInvalidCode = errors.New("invalid mfa code")
	// ErrNoFactorFound means the account has no verified second factor to
	// challenge; terminal, requires re-enrollment.
	ErrNoFactorFound = errors.New("no verified factor found")
	// ErrSessionMissing means the provider holds no session for this client.
	ErrSessionMissing = errors.New("no session")
	// ErrRefreshRejected means the refresh token was refused as invalid;
	// the cached token set is irrecoverable and must be cleared.
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrAbortedTransient is a spurious abort from the provider's own
	// internals. It must never clear a valid user.
	ErrAbortedTransient = errors.New("aborted: transient provider signal")
	// ErrUserExists rejects a sign-up for an already registered email.
	ErrUserExists = errors.New("user already registered")
	// ErrUnavailable covers provider responses that fit no other bucket.
	ErrUnavailable = errors.New("identity provider unavailable")
)
