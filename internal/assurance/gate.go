// Package assurance decides whether a session is strong enough to expose
// its user to the rest of the application.
package assurance

import (
	"context"

	"github.com/Ilkenza/siteorg-auth/internal/config"
	"github.com/Ilkenza/siteorg-auth/internal/provider"
	"github.com/Ilkenza/siteorg-auth/internal/retry"
	"go.uber.org/zap"
)

// Decision is the gate's verdict for one session. Exactly one of the two
// outcomes is populated: a granted User, or NeedsMFA with the factor to
// challenge. Both empty means signed out.
type Decision struct {
	User     *provider.Identity
	NeedsMFA bool

	// FactorID is the verified TOTP factor to step up with. It can be
	// empty even when NeedsMFA is set, when factor discovery failed; the
	// challenge coordinator rediscovers it on entry.
	FactorID string
}

// Gate applies the assurance policy: a user is exposed only at aal2, or
// at aal1 when the account has no verified factor to step up with.
type Gate struct {
	client provider.Client
	cfg    *config.AuthConfig
	log    *zap.Logger
}

func NewGate(client provider.Client, cfg *config.Config, log *zap.Logger) *Gate {
	return &Gate{client: client, cfg: &cfg.Auth, log: log}
}

// Decide evaluates one session. It must be re-run on every session change,
// restored sessions included, because a cached token can carry either
// assurance level.
func (g *Gate) Decide(ctx context.Context, sess *provider.Session) Decision {
	if sess == nil {
		return Decision{}
	}
	if sess.EffectiveAAL() == provider.AAL2 {
		user := sess.User
		return Decision{User: &user}
	}

	factor, err := g.verifiedFactor(ctx)
	if err != nil {
		// Fail closed: an aal1 session whose factor list cannot be read
		// must not be treated as fully authenticated.
		g.log.Warn("factor discovery failed, withholding identity", zap.Error(err))
		return Decision{NeedsMFA: true}
	}
	if factor == nil {
		user := sess.User
		return Decision{User: &user}
	}
	return Decision{NeedsMFA: true, FactorID: factor.ID}
}

// verifiedFactor returns the account's first verified TOTP factor, or nil
// when none is enrolled.
func (g *Gate) verifiedFactor(ctx context.Context) (*provider.Factor, error) {
	policy := retry.Policy{
		Attempts: g.cfg.FactorDiscoveryAttempts,
		Backoff:  g.cfg.FactorDiscoveryBackoff,
	}
	factors, err := retry.DoValue(ctx, policy, func(ctx context.Context) ([]provider.Factor, error) {
		return g.client.ListFactors(ctx)
	})
	if err != nil {
		return nil, err
	}
	for i := range factors {
		if factors[i].Status == provider.FactorVerified {
			return &factors[i], nil
		}
	}
	return nil, nil
}
