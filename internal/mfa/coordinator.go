// Package mfa drives the TOTP step-up handshake: one challenge at a time,
// a bounded retry budget, and recovery of verify results that the
// transport delivered but never returned.
package mfa

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

const recorderPollInterval = time.Second

// State is the coordinator's position in the challenge lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateAwaitingCode State = "awaiting_code"
	StateVerifying    State = "verifying"
	StateVerified     State = "verified"
	StateFailed       State = "failed"
)

// Reason classifies why the last verify attempt failed.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonInvalidCode Reason = "invalid_code"
	ReasonTimeout     Reason = "timeout"
	ReasonUnknown     Reason = "unknown"
)

var (
	// ErrNoChallenge is returned by Submit when no challenge is active.
	ErrNoChallenge = errors.New("mfa: no active challenge")

	// ErrAttemptsExhausted is returned when the retry budget for the
	// current challenge is spent.
	ErrAttemptsExhausted = errors.New("mfa: verification attempts exhausted")

	// ErrSuperseded is returned when a newer challenge replaced this one
	// while its verify call was in flight.
	ErrSuperseded = errors.New("mfa: challenge superseded")
)

// Recorder is the slice of the transport recorder the coordinator polls
// when a verify call outlives the soft timeout.
type Recorder interface {
	Latest(factorID string, maxAge time.Duration) *provider.RecordedResponse
}

// Coordinator owns the challenge state machine. The same factor stays
// valid across failed submits until the attempt budget runs out; a new
// EnterChallenge supersedes everything in flight.
type Coordinator struct {
	client   provider.Client
	recorder Recorder
	cache    *tokencache.Cache
	cfg      *config.AuthConfig
	log      *zap.Logger

	pollInterval time.Duration

	mu       sync.Mutex
	state    State
	factorID string
	epoch    uint64
	attempts int
	reason   Reason
}

func NewCoordinator(client provider.Client, recorder Recorder, cache *tokencache.Cache, cfg *config.Config, log *zap.Logger) *Coordinator {
	return &Coordinator{
		client:       client,
		recorder:     recorder,
		cache:        cache,
		cfg:          &cfg.Auth,
		log:          log,
		pollInterval: recorderPollInterval,
		state:        StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FactorID returns the factor of the active challenge, or empty.
func (c *Coordinator) FactorID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.factorID
}

// LastReason returns the classified reason of the most recent failure.
func (c *Coordinator) LastReason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// AttemptsLeft returns how many submits remain for the active challenge.
func (c *Coordinator) AttemptsLeft() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	left := c.cfg.MFAMaxAttempts - c.attempts
	if left < 0 {
		return 0
	}
	return left
}

// EnterChallenge starts a challenge for factorID. No network call happens
// here; the factor is persisted so a restart can resume the challenge.
// Any in-flight verify for a previous challenge is logically discarded.
func (c *Coordinator) EnterChallenge(factorID string) {
	c.mu.Lock()
	c.epoch++
	c.state = StateAwaitingCode
	c.factorID = factorID
	c.attempts = 0
	c.reason = ReasonNone
	c.mu.Unlock()

	c.cache.PutPendingFactor(factorID)
}

// Rehydrate resumes a challenge after a restart: first from the persisted
// factor, otherwise by rediscovering the account's verified factor with a
// bounded retry loop. Returns the factor now being challenged.
func (c *Coordinator) Rehydrate(ctx context.Context) (string, error) {
	if id := c.cache.PendingFactor(); id != "" {
		c.EnterChallenge(id)
		return id, nil
	}

	policy := retry.Policy{
		Attempts: c.cfg.FactorDiscoveryAttempts,
		Backoff:  c.cfg.FactorDiscoveryBackoff,
	}
	factors, err := retry.DoValue(ctx, policy, func(ctx context.Context) ([]provider.Factor, error) {
		return c.client.ListFactors(ctx)
	})
	if err != nil {
		return "", provider.ErrNoFactorFound
	}
	for _, f := range factors {
		if f.Status == provider.FactorVerified {
			c.EnterChallenge(f.ID)
			return f.ID, nil
		}
	}
	return "", provider.ErrNoFactorFound
}

// Reset abandons any challenge and returns to Idle.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.epoch++
	c.state = StateIdle
	c.factorID = ""
	c.attempts = 0
	c.reason = ReasonNone
	c.mu.Unlock()

	c.cache.ClearPendingFactor()
}

// Submit runs one verify attempt with the given 6-digit code. On success
// the returned session is aal2 and already persisted. Failures leave the
// same challenge retryable until the budget is exhausted.
func (c *Coordinator) Submit(ctx context.Context, code string) (*provider.Session, error) {
	if !validCode(code) {
		return nil, provider.ErrInvalidCode
	}

	c.mu.Lock()
	switch c.state {
	case StateAwaitingCode, StateFailed:
	default:
		c.mu.Unlock()
		return nil, ErrNoChallenge
	}
	if c.attempts >= c.cfg.MFAMaxAttempts {
		c.mu.Unlock()
		return nil, ErrAttemptsExhausted
	}
	c.attempts++
	c.state = StateVerifying
	epoch := c.epoch
	factorID := c.factorID
	c.mu.Unlock()

	sess, err := c.verify(ctx, factorID, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		// A newer challenge took over while this verify was in flight.
		return nil, ErrSuperseded
	}
	if err != nil {
		c.state = StateFailed
		c.reason = classify(err)
		return nil, err
	}

	c.state = StateVerified
	c.reason = ReasonNone
	c.cache.ClearPendingFactor()
	c.cache.Put(tokencache.FromSession(sess))
	return sess, nil
}

// verify races the combined challenge-and-verify call against two
// deadlines. Past the soft one it starts polling the recorder, because
// the transport sometimes hangs after its response already arrived; the
// hard one fails the attempt unconditionally.
func (c *Coordinator) verify(ctx context.Context, factorID, code string) (*provider.Session, error) {
	hardCtx, cancel := context.WithTimeout(ctx, c.cfg.HardVerifyTimeout)
	defer cancel()

	type result struct {
		sess *provider.Session
		err  error
	}
	done := make(chan result, 1)
	issued := time.Now()
	go func() {
		sess, err := c.client.ChallengeAndVerify(hardCtx, factorID, code)
		done <- result{sess, err}
	}()

	soft := time.NewTimer(c.cfg.SoftVerifyTimeout)
	defer soft.Stop()

	select {
	case r := <-done:
		return r.sess, r.err
	case <-hardCtx.Done():
		return nil, provider.ErrNetworkTimeout
	case <-soft.C:
	}

	c.log.Warn("verify call passed soft timeout, watching recorder",
		zap.String("factor_id", factorID))

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			return r.sess, r.err
		case <-hardCtx.Done():
			return nil, provider.ErrNetworkTimeout
		case <-ticker.C:
			if sess := c.recovered(factorID, time.Since(issued)); sess != nil {
				c.log.Info("recovered verify result from recorder",
					zap.String("factor_id", factorID))
				return sess, nil
			}
		}
	}
}

// recovered checks the recorder for a successful verify response captured
// since the attempt was issued.
func (c *Coordinator) recovered(factorID string, window time.Duration) *provider.Session {
	if c.recorder == nil {
		return nil
	}
	entry := c.recorder.Latest(factorID, window)
	if entry == nil || entry.StatusCode >= 300 {
		return nil
	}
	sess, err := provider.ParseSessionPayload(entry.Body)
	if err != nil {
		c.log.Debug("recorded verify body did not parse as a session", zap.Error(err))
		return nil
	}
	if sess.AssuranceLevel == "" {
		// A successful verify always yields a stepped-up session.
		sess.AssuranceLevel = provider.AAL2
	}
	return sess
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, provider.ErrInvalidCode):
		return ReasonInvalidCode
	case errors.Is(err, provider.ErrNetworkTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonUnknown
	}
}

func validCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
