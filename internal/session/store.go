// Package session owns the live session for this process: acquiring it at
// startup, reacting to provider events, and persisting every change.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Ilkenza/siteorg-auth/internal/config"
	"github.com/Ilkenza/siteorg-auth/internal/provider"
	"github.com/Ilkenza/siteorg-auth/internal/retry"
	"github.com/Ilkenza/siteorg-auth/internal/tokencache"
	"go.uber.org/zap"
)

const revokeTimeout = 5 * time.Second

// Change is delivered to subscribers whenever the session changes. A nil
// Session means signed out.
type Change struct {
	Event   provider.AuthEvent
	Session *provider.Session
}

// Store reconciles the in-memory provider session with the durable token
// cache. All session mutations funnel through a single dispatch goroutine,
// so subscriber callbacks are serialized, never interleaved.
type Store struct {
	client provider.Client
	cache  *tokencache.Cache
	cfg    *config.AuthConfig
	log    *zap.Logger

	mu      sync.RWMutex
	current *provider.Session
	subs    map[int]func(Change)
	nextSub int

	events        chan provider.StateChange
	done          chan struct{}
	closeOnce     sync.Once
	unsubProvider func()
}

// NewStore wires the store to the provider's auth-change stream and starts
// the dispatch goroutine.
func NewStore(client provider.Client, cache *tokencache.Cache, cfg *config.Config, log *zap.Logger) *Store {
	s := &Store{
		client: client,
		cache:  cache,
		cfg:    &cfg.Auth,
		log:    log,
		subs:   make(map[int]func(Change)),
		events: make(chan provider.StateChange, 64),
		done:   make(chan struct{}),
	}
	s.unsubProvider = client.OnAuthStateChange(s.enqueue)
	go s.run()
	return s
}

// Close stops the dispatch goroutine and detaches from the provider.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.unsubProvider != nil {
			s.unsubProvider()
		}
		close(s.done)
	})
}

// Current returns the session this store holds right now, or nil.
func (s *Store) Current() *provider.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers fn for serialized session-change notifications. The
// returned func unsubscribes it.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Acquire resolves the session at startup. The ladder: poll the provider's
// in-memory session with fixed backoff, then hydrate from the cached
// refresh token under a hard deadline, then fall back to an unconfirmed
// session built from the cached payload so the caller is never stuck
// waiting. A nil result with nil error is a decisive signed-out.
func (s *Store) Acquire(ctx context.Context) (*provider.Session, error) {
	if cur := s.Current(); cur != nil {
		return cur, nil
	}

	poll := retry.Policy{Attempts: s.cfg.AcquireAttempts, Backoff: s.cfg.AcquireBackoff}
	sess, err := retry.DoValue(ctx, poll, func(ctx context.Context) (*provider.Session, error) {
		if cur := s.client.CurrentSession(); cur != nil {
			return cur, nil
		}
		return nil, provider.ErrSessionMissing
	})
	if err == nil {
		if sess.Expired() && sess.RefreshToken != "" {
			if renewed := s.renew(ctx, sess.RefreshToken); renewed != nil {
				return renewed, nil
			}
		}
		s.enqueue(provider.StateChange{Event: provider.EventSignedIn, Session: sess})
		return sess, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cached := s.cache.Get()
	if cached == nil {
		return nil, nil
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HydrateTimeout)
	defer cancel()
	sess, err = s.client.RefreshSession(hctx, cached.RefreshToken)
	if err == nil {
		return sess, nil
	}
	if errors.Is(err, provider.ErrRefreshRejected) {
		// The cached token set is dead; holding onto it would loop forever.
		s.log.Info("cached refresh token rejected, clearing cache")
		s.cache.Clear()
		return nil, nil
	}

	s.log.Warn("session hydrate stalled, using unconfirmed cached session", zap.Error(err))
	sess = cached.Session()
	sess.Unconfirmed = true
	s.enqueue(provider.StateChange{Event: provider.EventSignedIn, Session: sess})
	return sess, nil
}

// renew trades the refresh token for a fresh session. A failure is not
// fatal here; callers fall back to the token they already hold.
func (s *Store) renew(ctx context.Context, refreshToken string) *provider.Session {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.HydrateTimeout)
	defer cancel()
	sess, err := s.client.RefreshSession(rctx, refreshToken)
	if err != nil {
		s.log.Warn("refresh of expired session failed", zap.Error(err))
		return nil
	}
	return sess
}

// SignIn exchanges credentials for a fresh session, bounded by the
// configured sign-in timeout.
func (s *Store) SignIn(ctx context.Context, email, password string) (*provider.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SignInTimeout)
	defer cancel()
	return s.client.SignInWithPassword(ctx, email, password)
}

// SignUp registers a new account.
func (s *Store) SignUp(ctx context.Context, email, password string) (*provider.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SignInTimeout)
	defer cancel()
	return s.client.SignUp(ctx, email, password)
}

// SignOut clears local state synchronously and fires the revoke call in
// the background, so the caller can navigate away without network latency.
func (s *Store) SignOut() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	s.cache.Clear()
	s.cache.ClearPendingFactor()
	s.enqueue(provider.StateChange{Event: provider.EventSignedOut})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
		defer cancel()
		if err := s.client.SignOut(ctx, provider.SignOutLocal); err != nil {
			s.log.Debug("background revoke failed", zap.Error(err))
		}
	}()
}

// Adopt installs a session produced outside the provider event stream,
// such as the result of a recovered MFA verification.
func (s *Store) Adopt(sess *provider.Session, event provider.AuthEvent) {
	s.enqueue(provider.StateChange{Event: event, Session: sess})
}

// Persist rewrites the cached token for the current session, picking up
// enriched profile fields.
func (s *Store) Persist() {
	if cur := s.Current(); cur != nil {
		s.cache.Put(tokencache.FromSession(cur))
	}
}

// UpdateUser merges enriched identity fields into the current session and
// rewrites the cached token. No-op when signed out.
func (s *Store) UpdateUser(user provider.Identity) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	updated := *s.current
	updated.User = user
	s.current = &updated
	s.mu.Unlock()

	s.Persist()
}

func (s *Store) enqueue(ev provider.StateChange) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Store) run() {
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.done:
			return
		}
	}
}

func (s *Store) handle(ev provider.StateChange) {
	s.mu.Lock()
	cur := s.current

	// A spurious abort from the provider's internals must never clear a
	// valid user.
	if ev.Err != nil && ev.Session == nil && cur != nil {
		s.mu.Unlock()
		s.log.Warn("ignoring transient abort from provider", zap.Error(ev.Err))
		return
	}

	// Echo suppression: the background revoke and the local clear both
	// produce a signed-out event.
	if ev.Session == nil && cur == nil && ev.Event == provider.EventSignedOut {
		s.mu.Unlock()
		return
	}

	if sameSession(cur, ev.Session) {
		s.current = ev.Session
		s.mu.Unlock()
		return
	}

	s.current = ev.Session
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	if ev.Session != nil {
		s.cache.Put(tokencache.FromSession(ev.Session))
	} else if ev.Event == provider.EventSignedOut {
		s.cache.Clear()
	}

	change := Change{Event: ev.Event, Session: ev.Session}
	for _, fn := range fns {
		fn(change)
	}
}

func sameSession(a, b *provider.Session) bool {
	if a == nil || b == nil {
		return false
	}
	return a.AccessToken == b.AccessToken && a.Unconfirmed == b.Unconfirmed
}
