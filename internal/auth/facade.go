// Package auth is the public surface of the authentication core. The
// facade composes session acquisition, the assurance gate, the MFA
// coordinator, and profile enrichment into one view the rest of the
// application consumes.
package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/Ilkenza/siteorg-auth/internal/assurance"
	"github.com/Ilkenza/siteorg-auth/internal/config"
	"github.com/Ilkenza/siteorg-auth/internal/mfa"
	"github.com/Ilkenza/siteorg-auth/internal/profile"
	"github.com/Ilkenza/siteorg-auth/internal/provider"
	"github.com/Ilkenza/siteorg-auth/internal/session"
	"go.uber.org/zap"
)

// Phase is the composed auth state machine's position.
type Phase string

const (
	PhaseStarting        Phase = "starting"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseMfaPending      Phase = "mfa_pending"
)

// View is what the application sees. It is derived state, recomputed on
// every session change; never a source of truth. User and NeedsMFA are
// mutually exclusive, and Loading is true only until the first decisive
// outcome after startup.
type View struct {
	User     *provider.Identity
	Loading  bool
	NeedsMFA bool
}

// Facade owns the composed state machine
// Starting -> {Authenticated, Unauthenticated, MfaPending}.
type Facade struct {
	store    *session.Store
	gate     *assurance.Gate
	mfa      *mfa.Coordinator
	enricher *profile.Enricher
	cfg      *config.AuthConfig
	log      *zap.Logger

	// evalMu serializes evaluations so two enrichments never race to
	// write conflicting views.
	evalMu sync.Mutex

	mu          sync.RWMutex
	phase       Phase
	view        View
	watchers    map[int]func(View)
	nextWatcher int
	lastToken   string

	unsub     func()
	stopOnce  sync.Once
	startOnce sync.Once
}

func NewFacade(store *session.Store, gate *assurance.Gate, coordinator *mfa.Coordinator, enricher *profile.Enricher, cfg *config.Config, log *zap.Logger) *Facade {
	return &Facade{
		store:    store,
		gate:     gate,
		mfa:      coordinator,
		enricher: enricher,
		cfg:      &cfg.Auth,
		log:      log,
		phase:    PhaseStarting,
		view:     View{Loading: true},
		watchers: make(map[int]func(View)),
	}
}

// Start subscribes to session changes and kicks off startup acquisition
// in the background. It returns immediately; the view reaches a decisive
// phase within the startup timeout.
func (f *Facade) Start(ctx context.Context) error {
	f.startOnce.Do(func() {
		f.unsub = f.store.Subscribe(func(c session.Change) {
			f.evaluate(context.Background(), c.Session)
		})
		go f.startup()
	})
	return nil
}

// Stop detaches from the session store and shuts it down.
func (f *Facade) Stop(ctx context.Context) error {
	f.stopOnce.Do(func() {
		if f.unsub != nil {
			f.unsub()
		}
		f.store.Close()
	})
	return nil
}

func (f *Facade) startup() {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.StartupTimeout)
	defer cancel()

	sess, err := f.store.Acquire(ctx)
	if err != nil {
		f.log.Warn("startup session acquisition failed", zap.Error(err))
		f.evaluate(ctx, nil)
		return
	}
	f.evaluate(ctx, sess)
}

// evaluate reconciles one session against the assurance policy and
// publishes the resulting view. It is the single writer of phase/view.
func (f *Facade) evaluate(ctx context.Context, sess *provider.Session) {
	f.evalMu.Lock()
	defer f.evalMu.Unlock()

	if sess == nil {
		f.setView(PhaseUnauthenticated, View{}, "")
		return
	}

	// The same session arriving twice must not re-run the gate and
	// enrichment it already settled.
	f.mu.RLock()
	settled := f.phase != PhaseStarting && f.lastToken == sess.AccessToken
	f.mu.RUnlock()
	if settled {
		return
	}

	decision := f.gate.Decide(ctx, sess)
	switch {
	case decision.User != nil:
		enriched := f.enricher.Enrich(ctx, *decision.User, sess.AccessToken)
		f.store.UpdateUser(enriched)
		f.setView(PhaseAuthenticated, View{User: &enriched}, sess.AccessToken)

	case decision.NeedsMFA:
		f.setView(PhaseMfaPending, View{NeedsMFA: true}, sess.AccessToken)
		if decision.FactorID != "" {
			f.mfa.EnterChallenge(decision.FactorID)
			return
		}
		if _, err := f.mfa.Rehydrate(ctx); err != nil {
			// Terminal for this account until a factor is re-enrolled.
			// The user stays gated and can only sign out.
			f.log.Warn("no verified factor available for step-up", zap.Error(err))
		}

	default:
		f.setView(PhaseUnauthenticated, View{}, "")
	}
}

func (f *Facade) setView(phase Phase, view View, token string) {
	f.mu.Lock()
	f.phase = phase
	f.view = view
	f.lastToken = token
	fns := make([]func(View), 0, len(f.watchers))
	for _, fn := range f.watchers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(view)
	}
}

// Phase returns the composed state machine's current phase.
func (f *Facade) Phase() Phase {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.phase
}

// CurrentView returns the view as of the last evaluation.
func (f *Facade) CurrentView() View {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.view
}

// Watch registers fn for view updates. The returned func unregisters it.
func (f *Facade) Watch(fn func(View)) func() {
	f.mu.Lock()
	id := f.nextWatcher
	f.nextWatcher++
	f.watchers[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}
}

// SignIn exchanges credentials for a session. The view settles to
// Authenticated or MfaPending through the session-change stream; the
// returned error is only the immediate exchange failure.
func (f *Facade) SignIn(ctx context.Context, email, password string) error {
	_, err := f.store.SignIn(ctx, email, password)
	return err
}

// SignUp registers a new account and signs it in.
func (f *Facade) SignUp(ctx context.Context, email, password string) error {
	_, err := f.store.SignUp(ctx, email, password)
	return err
}

// SignOut tears down local auth state synchronously.
func (f *Facade) SignOut() {
	f.mfa.Reset()
	f.store.SignOut()
	f.evaluate(context.Background(), nil)
}

// SubmitCode runs one MFA verify attempt. On success the stepped-up
// session is adopted and the view becomes Authenticated. Exhausting the
// attempt budget signs the user out.
func (f *Facade) SubmitCode(ctx context.Context, code string) error {
	sess, err := f.mfa.Submit(ctx, code)
	if err != nil {
		if errors.Is(err, mfa.ErrAttemptsExhausted) {
			f.log.Warn("mfa attempt budget exhausted, signing out")
			f.SignOut()
		}
		return err
	}
	f.store.Adopt(sess, provider.EventMFAVerified)
	return nil
}

// RefreshUser re-runs profile enrichment for the current session and
// merges the result into the view. Failures keep the existing fields.
func (f *Facade) RefreshUser(ctx context.Context) {
	sess := f.store.Current()
	if sess == nil {
		return
	}
	f.mu.RLock()
	authenticated := f.phase == PhaseAuthenticated
	f.mu.RUnlock()
	if !authenticated {
		return
	}

	bare := sess.User
	bare.Name = ""
	bare.AvatarURL = ""
	fresh := f.enricher.Enrich(ctx, bare, sess.AccessToken)

	merged := sess.User
	if fresh.Name != "" {
		merged.Name = fresh.Name
	}
	if fresh.AvatarURL != "" {
		merged.AvatarURL = fresh.AvatarURL
	}

	f.store.UpdateUser(merged)
	f.setView(PhaseAuthenticated, View{User: &merged}, sess.AccessToken)
}
