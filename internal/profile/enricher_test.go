package profile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ilkenza/siteorg-auth/internal/config"
	"github.com/Ilkenza/siteorg-auth/internal/provider"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newEnricher(baseURL string, timeout time.Duration) *Enricher {
	cfg := &config.Config{Profile: config.ProfileConfig{BaseURL: baseURL, Timeout: timeout}}
	return NewEnricher(cfg, zap.NewNop())
}

func TestEnrichFillsProfileFields(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profile", r.URL.Path)
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"avatar_url":"https://cdn.example.com/a.png","name":"Pat"}}`))
	}))
	defer srv.Close()

	got := newEnricher(srv.URL, time.Second).Enrich(context.Background(),
		provider.Identity{ID: "user-1", Email: "pat@example.com"}, "tok-1")

	assert.Equal(t, "Pat", got.Name)
	assert.Equal(t, "https://cdn.example.com/a.png", got.AvatarURL)
	assert.Equal(t, "Bearer tok-1", gotAuth.Load())
}

func TestEnrichSkipsWhenProfileAlreadyPresent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	in := provider.Identity{ID: "user-1", Name: "Pat", AvatarURL: "https://cdn.example.com/a.png"}
	got := newEnricher(srv.URL, time.Second).Enrich(context.Background(), in, "tok-1")

	assert.Equal(t, in, got)
	assert.Zero(t, calls.Load())
}

func TestEnrichDegradesOnSlowService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	in := provider.Identity{ID: "user-1", Email: "pat@example.com"}
	start := time.Now()
	got := newEnricher(srv.URL, 20*time.Millisecond).Enrich(context.Background(), in, "tok-1")

	assert.Equal(t, in, got)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestEnrichDegradesOnErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"reported failure", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":false}`))
		}},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
	}

	in := provider.Identity{ID: "user-1", Email: "pat@example.com"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			got := newEnricher(srv.URL, time.Second).Enrich(context.Background(), in, "tok-1")
			assert.Equal(t, in, got)
		})
	}
}

func TestEnrichWithoutServiceConfigured(t *testing.T) {
	in := provider.Identity{ID: "user-1"}
	got := newEnricher("", time.Second).Enrich(context.Background(), in, "tok-1")
	assert.Equal(t, in, got)
}
