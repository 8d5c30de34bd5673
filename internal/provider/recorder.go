package provider

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	recorderCapacity = 8
	recorderMaxAge   = 90 * time.Second
)

// RecordedResponse is the raw outcome of one verify call as it crossed the
// wire, retained independently of whether the caller was still waiting.
type RecordedResponse struct {
	FactorID   string
	StatusCode int
	Body       []byte
	At         time.Time
}

// Recorder is an http.RoundTripper that captures verify responses as a
// side channel. The underlying transport is known to occasionally hang
// after its response has already arrived; because the capture happens
// inside RoundTrip, a caller that gave up on the call can still recover
// the payload here. This is the explicit interceptor contract the MFA
// coordinator's soft-timeout path relies on.
type Recorder struct {
	next http.RoundTripper

	mu      sync.Mutex
	entries []RecordedResponse
}

// NewRecorder wraps next, recording verify responses that pass through.
func NewRecorder(next http.RoundTripper) *Recorder {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Recorder{next: next}
}

// RoundTrip implements http.RoundTripper.
func (r *Recorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.next.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	factorID, ok := verifyFactorID(req.URL.Path)
	if !ok {
		return resp, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	r.record(RecordedResponse{
		FactorID:   factorID,
		StatusCode: resp.StatusCode,
		Body:       body,
		At:         time.Now(),
	})
	return resp, nil
}

func (r *Recorder) record(entry RecordedResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-recorderMaxAge)
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.At.After(cutoff) {
			kept = append(kept, e)
		}
	}
	r.entries = append(kept, entry)
	if len(r.entries) > recorderCapacity {
		r.entries = r.entries[len(r.entries)-recorderCapacity:]
	}
}

// Latest returns the newest recorded verify response for the factor that is
// not older than maxAge, or nil.
func (r *Recorder) Latest(factorID string, maxAge time.Duration) *RecordedResponse {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.FactorID == factorID && e.At.After(cutoff) {
			out := e
			out.Body = append([]byte(nil), e.Body...)
			return &out
		}
	}
	return nil
}

// verifyFactorID extracts the factor ID from a ".../factors/{id}/verify"
// path; ok is false for every other path.
func verifyFactorID(path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-2; i++ {
		if parts[i] == "factors" && parts[i+2] == "verify" {
			return parts[i+1], true
		}
	}
	return "", false
}
