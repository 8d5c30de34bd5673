// Package profile augments a bare identity with display attributes from
// the profile service. Enrichment is cosmetic and never blocks auth.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Ilkenza/siteorg-auth/internal/config"
	"github.com/Ilkenza/siteorg-auth/internal/provider"
	"go.uber.org/zap"
)

type profileResponse struct {
	Success bool `json:"success"`
	Data    struct {
		AvatarURL string `json:"avatar_url"`
		Name      string `json:"name"`
	} `json:"data"`
}

// Enricher fetches display name and avatar for an identity. Every failure
// mode degrades to the unmodified input.
type Enricher struct {
	client  *http.Client
	baseURL string
	cfg     *config.ProfileConfig
	log     *zap.Logger
}

func NewEnricher(cfg *config.Config, log *zap.Logger) *Enricher {
	return &Enricher{
		client:  &http.Client{},
		baseURL: strings.TrimRight(cfg.Profile.BaseURL, "/"),
		cfg:     &cfg.Profile,
		log:     log,
	}
}

// Enrich returns the identity with profile fields filled in. When the
// identity already carries them, or the service is unreachable, slow, or
// returns garbage, the input comes back unchanged.
func (e *Enricher) Enrich(ctx context.Context, user provider.Identity, accessToken string) provider.Identity {
	if user.HasProfile() {
		return user
	}
	if e.baseURL == "" {
		return user
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.fetch(ctx, accessToken)
	if err != nil {
		e.log.Debug("profile enrichment skipped", zap.String("user_id", user.ID), zap.Error(err))
		return user
	}

	if resp.Data.Name != "" {
		user.Name = resp.Data.Name
	}
	if resp.Data.AvatarURL != "" {
		user.AvatarURL = resp.Data.AvatarURL
	}
	return user
}

func (e *Enricher) fetch(ctx context.Context, accessToken string) (*profileResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/profile", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	res, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile service returned %d", res.StatusCode)
	}

	var body profileResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode profile response: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("profile service reported failure")
	}
	return &body, nil
}
