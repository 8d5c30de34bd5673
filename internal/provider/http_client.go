package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Ilkenza/siteorg-auth/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HTTPClient talks to a GoTrue-style identity provider over REST. It owns
// the in-memory session for this process and fans session changes out to
// OnAuthStateChange listeners.
type HTTPClient struct {
	baseURL  string
	anonKey  string
	client   *http.Client
	verifier *http.Client
	recorder *Recorder
	log      *zap.Logger

	mu        sync.RWMutex
	current   *Session
	listeners map[int]func(StateChange)
	nextID    int
}

// NewHTTPClient creates the production provider client. All traffic flows
// through a Recorder so verify payloads stay recoverable after a hang.
func NewHTTPClient(cfg *config.ProviderConfig, log *zap.Logger) *HTTPClient {
	rec := NewRecorder(http.DefaultTransport)
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		anonKey: cfg.AnonKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: rec,
		},
		// Verify calls are bounded by the caller's hard deadline, not the
		// general client timeout, so a slow handshake can still settle.
		verifier:  &http.Client{Transport: rec},
		recorder:  rec,
		log:       log,
		listeners: make(map[int]func(StateChange)),
	}
}

// Recorder exposes the response interceptor for the MFA coordinator.
func (c *HTTPClient) Recorder() *Recorder { return c.recorder }

// CurrentSession implements Client.
func (c *HTTPClient) CurrentSession() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// SignInWithPassword implements Client.
func (c *HTTPClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	payload, err := c.do(ctx, c.client, http.MethodPost, "/token?grant_type=password", body, "")
	if err != nil {
		return nil, mapCredentialError(err)
	}
	sess, err := sessionFromPayload(payload)
	if err != nil {
		return nil, err
	}
	c.setSession(sess, EventSignedIn)
	return sess, nil
}

// SignUp implements Client.
func (c *HTTPClient) SignUp(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	payload, err := c.do(ctx, c.client, http.MethodPost, "/signup", body, "")
	if err != nil {
		var pe *providerError
		if errors.As(err, &pe) && pe.status == http.StatusUnprocessableEntity {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, pe.message)
		}
		return nil, mapCredentialError(err)
	}
	sess, err := sessionFromPayload(payload)
	if err != nil {
		return nil, err
	}
	c.setSession(sess, EventSignedIn)
	return sess, nil
}

// RefreshSession implements Client.
func (c *HTTPClient) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	payload, err := c.do(ctx, c.client, http.MethodPost, "/token?grant_type=refresh_token", body, "")
	if err != nil {
		var pe *providerError
		if errors.As(err, &pe) && (pe.status == http.StatusBadRequest || pe.status == http.StatusUnauthorized) {
			return nil, fmt.Errorf("%w: %s", ErrRefreshRejected, pe.message)
		}
		return nil, err
	}
	sess, err := sessionFromPayload(payload)
	if err != nil {
		return nil, err
	}
	c.setSession(sess, EventTokenRefreshed)
	return sess, nil
}

// ListFactors implements Client.
func (c *HTTPClient) ListFactors(ctx context.Context) ([]Factor, error) {
	payload, err := c.do(ctx, c.client, http.MethodGet, "/factors", nil, c.accessToken())
	if err != nil {
		return nil, err
	}
	var out struct {
		TOTP []Factor `json:"totp"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed factors payload: %v", ErrUnavailable, err)
	}
	return out.TOTP, nil
}

// ChallengeAndVerify implements Client.
func (c *HTTPClient) ChallengeAndVerify(ctx context.Context, factorID, code string) (*Session, error) {
	body := map[string]string{"code": code}
	path := fmt.Sprintf("/factors/%s/verify", url.PathEscape(factorID))
	payload, err := c.do(ctx, c.verifier, http.MethodPost, path, body, c.accessToken())
	if err != nil {
		var pe *providerError
		if errors.As(err, &pe) && (pe.status == http.StatusBadRequest || pe.status == http.StatusUnprocessableEntity) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCode, pe.message)
		}
		return nil, err
	}
	sess, err := sessionFromPayload(payload)
	if err != nil {
		return nil, err
	}
	c.setSession(sess, EventMFAVerified)
	return sess, nil
}

// SignOut implements Client. The in-memory session is dropped before the
// revoke call goes out; revocation failure does not resurrect it.
func (c *HTTPClient) SignOut(ctx context.Context, scope SignOutScope) error {
	token := c.accessToken()
	c.setSession(nil, EventSignedOut)
	if token == "" {
		return nil
	}
	if scope == "" {
		scope = SignOutLocal
	}
	_, err := c.do(ctx, c.client, http.MethodPost, "/logout?scope="+url.QueryEscape(string(scope)), nil, token)
	return err
}

// OnAuthStateChange implements Client.
func (c *HTTPClient) OnAuthStateChange(fn func(StateChange)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *HTTPClient) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return ""
	}
	return c.current.AccessToken
}

func (c *HTTPClient) setSession(s *Session, event AuthEvent) {
	c.mu.Lock()
	c.current = s
	fns := make([]func(StateChange), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	change := StateChange{Event: event, Session: s}
	for _, fn := range fns {
		fn(change)
	}
}

// providerError is a non-2xx provider response before taxonomy mapping.
type providerError struct {
	status  int
	code    string
	message string
}

func (e *providerError) Error() string {
	return fmt.Sprintf("provider responded %d (%s): %s", e.status, e.code, e.message)
}

func mapCredentialError(err error) error {
	var pe *providerError
	if errors.As(err, &pe) {
		switch pe.status {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrInvalidCredentials, pe.message)
		}
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, client *http.Client, method, path string, body any, bearer string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.log.Debug("provider call timed out",
				zap.String("path", path),
				zap.String("request_id", requestID),
			)
			return nil, fmt.Errorf("%w: %s %s", ErrNetworkTimeout, method, path)
		}
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var wire struct {
			Error       string `json:"error"`
			ErrorCode   string `json:"error_code"`
			Description string `json:"error_description"`
			Msg         string `json:"msg"`
		}
		_ = json.Unmarshal(payload, &wire)
		msg := wire.Description
		if msg == "" {
			msg = wire.Msg
		}
		if msg == "" {
			msg = wire.Error
		}
		code := wire.ErrorCode
		if code == "" {
			code = wire.Error
		}
		c.log.Debug("provider rejected request",
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode),
			zap.String("code", code),
		)
		return nil, &providerError{status: resp.StatusCode, code: code, message: msg}
	}
	return payload, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return true
	}
	return false
}
