package provider

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AssuranceLevel is the server-asserted authentication strength of a
// session: aal1 is password only, aal2 is password plus a verified factor.
type AssuranceLevel string

const (
	AAL1 AssuranceLevel = "aal1"
	AAL2 AssuranceLevel = "aal2"
)

// Identity is the authenticated user as the provider reports it, plus the
// cosmetic profile fields layered on by enrichment.
type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// HasProfile reports whether the identity already carries display fields,
// allowing enrichment to be skipped.
func (i Identity) HasProfile() bool {
	return i.Name != "" && i.AvatarURL != ""
}

// Session is the provider-issued token set for one authenticated user.
//
// Unconfirmed marks a session reconstructed from the durable cache without
// the provider having vouched for it in this process; policy still applies
// to it, and a later provider event replaces it.
type Session struct {
	AccessToken    string         `json:"access_token"`
	RefreshToken   string         `json:"refresh_token"`
	ExpiresAt      time.Time      `json:"expires_at"`
	User           Identity       `json:"user"`
	AssuranceLevel AssuranceLevel `json:"assurance_level,omitempty"`
	Unconfirmed    bool           `json:"-"`
}

// Expired reports whether the access token's lifetime has passed.
func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// EffectiveAAL resolves the session's assurance level. When the provider
// response carried no explicit level, the `aal` claim of the access token
// is the authority; the token is not signature-checked here because the
// claim only gates a client-side decision and the server re-checks on use.
func (s *Session) EffectiveAAL() AssuranceLevel {
	if s.AssuranceLevel == AAL1 || s.AssuranceLevel == AAL2 {
		return s.AssuranceLevel
	}
	if s.AccessToken != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err == nil {
			if aal, ok := claims["aal"].(string); ok {
				switch AssuranceLevel(aal) {
				case AAL1, AAL2:
					return AssuranceLevel(aal)
				}
			}
		}
	}
	return AAL1
}

// FactorStatus is the enrollment state of a second factor.
type FactorStatus string

const (
	FactorUnverified FactorStatus = "unverified"
	FactorVerified   FactorStatus = "verified"
)

// Factor is a second-factor method registered on the account.
type Factor struct {
	ID     string       `json:"id"`
	Type   string       `json:"factor_type"`
	Status FactorStatus `json:"status"`
}

// Challenge is one ephemeral verification attempt bound to a factor. It is
// valid for a single submit.
type Challenge struct {
	FactorID string
	IssuedAt time.Time
}

// SignOutScope selects whether revocation hits this client's session only
// or every session of the account.
type SignOutScope string

const (
	SignOutLocal  SignOutScope = "local"
	SignOutGlobal SignOutScope = "global"
)

// AuthEvent names a session-change notification.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventMFAVerified    AuthEvent = "MFA_CHALLENGE_VERIFIED"
)

// StateChange is delivered to OnAuthStateChange listeners. Err is set for
// degraded notifications such as a transient abort bubbling out of the
// provider's internals; such events carry the session that remains valid.
type StateChange struct {
	Event   AuthEvent
	Session *Session
	Err     error
}
