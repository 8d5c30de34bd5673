// Package providertest is an in-memory fake of the identity provider for
// package tests.
package providertest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Ilkenza/siteorg-auth/internal/provider"
)

// FakeClient implements provider.Client with pluggable behavior per
// operation and call counters for side-effect assertions.
type FakeClient struct {
	mu        sync.Mutex
	session   *provider.Session
	listeners map[int]func(provider.StateChange)
	nextID    int

	SignInFunc      func(ctx context.Context, email, password string) (*provider.Session, error)
	SignUpFunc      func(ctx context.Context, email, password string) (*provider.Session, error)
	RefreshFunc     func(ctx context.Context, refreshToken string) (*provider.Session, error)
	ListFactorsFunc func(ctx context.Context) ([]provider.Factor, error)
	VerifyFunc      func(ctx context.Context, factorID, code string) (*provider.Session, error)
	SignOutFunc     func(ctx context.Context, scope provider.SignOutScope) error

	SignInCalls      atomic.Int32
	RefreshCalls     atomic.Int32
	ListFactorsCalls atomic.Int32
	VerifyCalls      atomic.Int32
	SignOutCalls     atomic.Int32
}

// NewFakeClient returns a fake with no session and all operations failing
// with provider.ErrUnavailable until configured.
func NewFakeClient() *FakeClient {
	return &FakeClient{listeners: make(map[int]func(provider.StateChange))}
}

// SetSession installs a session without emitting an event, as if it had
// been there all along.
func (f *FakeClient) SetSession(s *provider.Session) {
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
}

// Emit delivers a raw state change to all listeners.
func (f *FakeClient) Emit(change provider.StateChange) {
	f.mu.Lock()
	if change.Session != nil || change.Err == nil {
		f.session = change.Session
	}
	fns := make([]func(provider.StateChange), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

// CurrentSession implements provider.Client.
func (f *FakeClient) CurrentSession() *provider.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// SignInWithPassword implements provider.Client.
func (f *FakeClient) SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error) {
	f.SignInCalls.Add(1)
	if f.SignInFunc == nil {
		return nil, provider.ErrUnavailable
	}
	sess, err := f.SignInFunc(ctx, email, password)
	if err != nil {
		return nil, err
	}
	f.Emit(provider.StateChange{Event: provider.EventSignedIn, Session: sess})
	return sess, nil
}

// SignUp implements provider.Client.
func (f *FakeClient) SignUp(ctx context.Context, email, password string) (*provider.Session, error) {
	if f.SignUpFunc == nil {
		return nil, provider.ErrUnavailable
	}
	sess, err := f.SignUpFunc(ctx, email, password)
	if err != nil {
		return nil, err
	}
	f.Emit(provider.StateChange{Event: provider.EventSignedIn, Session: sess})
	return sess, nil
}

// RefreshSession implements provider.Client.
func (f *FakeClient) RefreshSession(ctx context.Context, refreshToken string) (*provider.Session, error) {
	f.RefreshCalls.Add(1)
	if f.RefreshFunc == nil {
		return nil, provider.ErrUnavailable
	}
	sess, err := f.RefreshFunc(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	f.Emit(provider.StateChange{Event: provider.EventTokenRefreshed, Session: sess})
	return sess, nil
}

// ListFactors implements provider.Client.
func (f *FakeClient) ListFactors(ctx context.Context) ([]provider.Factor, error) {
	f.ListFactorsCalls.Add(1)
	if f.ListFactorsFunc == nil {
		return nil, provider.ErrUnavailable
	}
	return f.ListFactorsFunc(ctx)
}

// ChallengeAndVerify implements provider.Client.
func (f *FakeClient) ChallengeAndVerify(ctx context.Context, factorID, code string) (*provider.Session, error) {
	f.VerifyCalls.Add(1)
	if f.VerifyFunc == nil {
		return nil, provider.ErrUnavailable
	}
	sess, err := f.VerifyFunc(ctx, factorID, code)
	if err != nil {
		return nil, err
	}
	f.Emit(provider.StateChange{Event: provider.EventMFAVerified, Session: sess})
	return sess, nil
}

// SignOut implements provider.Client.
func (f *FakeClient) SignOut(ctx context.Context, scope provider.SignOutScope) error {
	f.SignOutCalls.Add(1)
	f.Emit(provider.StateChange{Event: provider.EventSignedOut})
	if f.SignOutFunc == nil {
		return nil
	}
	return f.SignOutFunc(ctx, scope)
}

// OnAuthStateChange implements provider.Client.
func (f *FakeClient) OnAuthStateChange(fn func(provider.StateChange)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}
