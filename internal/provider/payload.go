package provider

import (
	"encoding/json"
	"fmt"
	"time"
)

// sessionWire is the provider's token-response body.
type sessionWire struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	AAL          string `json:"aal"`
	User         struct {
		ID           string `json:"id"`
		Email        string `json:"email"`
		UserMetadata struct {
			Name      string `json:"name"`
			AvatarURL string `json:"avatar_url"`
		} `json:"user_metadata"`
	} `json:"user"`
}

// ParseSessionPayload decodes a raw token-response body into a Session,
// rejecting payloads that are not a well-formed session. The MFA
// coordinator uses this on recorded bodies to recover a hung verify call.
func ParseSessionPayload(data []byte) (*Session, error) {
	var wire sessionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("malformed session payload: %w", err)
	}
	return sessionFromWire(wire)
}

func sessionFromPayload(data []byte) (*Session, error) {
	sess, err := ParseSessionPayload(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return sess, nil
}

func sessionFromWire(wire sessionWire) (*Session, error) {
	if wire.AccessToken == "" {
		return nil, fmt.Errorf("session payload missing access_token")
	}
	if wire.User.ID == "" {
		return nil, fmt.Errorf("session payload missing user id")
	}

	expiresAt := time.Time{}
	switch {
	case wire.ExpiresAt > 0:
		expiresAt = time.Unix(wire.ExpiresAt, 0)
	case wire.ExpiresIn > 0:
		expiresAt = time.Now().Add(time.Duration(wire.ExpiresIn) * time.Second)
	}

	return &Session{
		AccessToken:    wire.AccessToken,
		RefreshToken:   wire.RefreshToken,
		ExpiresAt:      expiresAt,
		AssuranceLevel: AssuranceLevel(wire.AAL),
		User: Identity{
			ID:        wire.User.ID,
			Email:     wire.User.Email,
			Name:      wire.User.UserMetadata.Name,
			AvatarURL: wire.User.UserMetadata.AvatarURL,
		},
	}, nil
}
