package tokencache

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Ilkenza/siteorg-auth/internal/provider"
	"go.uber.org/zap"
)

const (
	tokenKeyPrefix  = "siteorg.auth.token"
	factorKeyPrefix = "siteorg.auth.mfa-factor"
	keyVersion      = "v1"
)

// PersistedToken is the serialized subset of a session written to durable
// storage. It can go stale independently of the in-memory session.
type PersistedToken struct {
	AccessToken    string            `json:"access_token"`
	RefreshToken   string            `json:"refresh_token"`
	ExpiresAt      int64             `json:"expires_at"`
	AssuranceLevel string            `json:"assurance_level"`
	User           provider.Identity `json:"user"`
}

// FromSession captures the persistable subset of a session. The effective
// assurance level is resolved at write time so a restore never has to
// re-derive it from token claims.
func FromSession(s *provider.Session) *PersistedToken {
	tok := &PersistedToken{
		AccessToken:    s.AccessToken,
		RefreshToken:   s.RefreshToken,
		AssuranceLevel: string(s.EffectiveAAL()),
		User:           s.User,
	}
	if !s.ExpiresAt.IsZero() {
		tok.ExpiresAt = s.ExpiresAt.Unix()
	}
	return tok
}

// Session rebuilds a session from the persisted payload. Callers mark it
// Unconfirmed when it was not vouched for by the provider in this process.
func (t *PersistedToken) Session() *provider.Session {
	sess := &provider.Session{
		AccessToken:    t.AccessToken,
		RefreshToken:   t.RefreshToken,
		AssuranceLevel: provider.AssuranceLevel(t.AssuranceLevel),
		User:           t.User,
	}
	if t.ExpiresAt > 0 {
		sess.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	}
	return sess
}

// Cache wraps a Storage with the app-scoped keys and the swallow-failures
// contract: Get never errors, Put and Clear degrade to logging.
type Cache struct {
	storage   Storage
	tokenKey  string
	factorKey string
	log       *zap.Logger
}

// New creates a cache scoped to one project ref so two deployments sharing
// a storage backend cannot clobber each other's entries.
func New(storage Storage, projectRef string, log *zap.Logger) *Cache {
	scope := projectRef
	if scope == "" {
		scope = "default"
	}
	return &Cache{
		storage:   storage,
		tokenKey:  tokenKeyPrefix + "." + scope + "." + keyVersion,
		factorKey: factorKeyPrefix + "." + scope + "." + keyVersion,
		log:       log,
	}
}

// Get returns the last known persisted token, or nil. It never errors:
// unreadable storage and corrupt entries both degrade to "no token".
func (c *Cache) Get() *PersistedToken {
	raw, err := c.storage.Get(c.tokenKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.log.Warn("token cache unreadable, degrading to memory-only", zap.Error(err))
		}
		return nil
	}
	var tok PersistedToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		c.log.Warn("token cache entry corrupt, ignoring", zap.Error(err))
		return nil
	}
	if tok.AccessToken == "" || tok.User.ID == "" {
		return nil
	}
	return &tok
}

// Put overwrites the persisted token, best-effort.
func (c *Cache) Put(tok *PersistedToken) {
	raw, err := json.Marshal(tok)
	if err != nil {
		c.log.Warn("failed to encode token for cache", zap.Error(err))
		return
	}
	if err := c.storage.Set(c.tokenKey, string(raw)); err != nil {
		c.log.Warn("token cache write failed, session stays memory-only", zap.Error(err))
	}
}

// Clear removes the persisted token, best-effort.
func (c *Cache) Clear() {
	if err := c.storage.Remove(c.tokenKey); err != nil {
		c.log.Warn("token cache clear failed", zap.Error(err))
	}
}

// PendingFactor returns the factor ID persisted for an in-progress MFA
// challenge, or empty. Survives process restarts mid-verification.
func (c *Cache) PendingFactor() string {
	id, err := c.storage.Get(c.factorKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.log.Warn("pending factor unreadable", zap.Error(err))
		}
		return ""
	}
	return id
}

// PutPendingFactor persists the challenge's factor ID, best-effort.
func (c *Cache) PutPendingFactor(id string) {
	if err := c.storage.Set(c.factorKey, id); err != nil {
		c.log.Warn("pending factor write failed", zap.Error(err))
	}
}

// ClearPendingFactor removes the persisted factor ID, best-effort.
func (c *Cache) ClearPendingFactor() {
	if err := c.storage.Remove(c.factorKey); err != nil {
		c.log.Warn("pending factor clear failed", zap.Error(err))
	}
}
