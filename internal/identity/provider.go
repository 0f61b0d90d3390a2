package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shopauth/pkg/sentinel"
)

// ProviderClient looks sessions up in the identity provider's backend API.
type ProviderClient struct {
	HTTPClient *http.Client
	BaseURL    string
	SecretKey  string
}

func NewProviderClient(baseURL, secretKey string) *ProviderClient {
	return &ProviderClient{
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		SecretKey:  secretKey,
	}
}

type providerSession struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// CheckSession requires the provider to report sessionID as active and owned by userID.
// An unreachable provider fails closed: the error wraps both
// sentinel.ErrUnauthenticated and sentinel.ErrUnavailable.
func (c *ProviderClient) CheckSession(ctx context.Context, sessionID, userID string) error {
	u := c.BaseURL + "/v1/sessions/" + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build identity session request: %w: %w", sentinel.ErrUnauthenticated, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider: %w: %w: %w", sentinel.ErrUnauthenticated, sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("identity session %s not found: %w", sessionID, sentinel.ErrUnauthenticated)
	case resp.StatusCode >= 500:
		return fmt.Errorf("identity provider: status=%d: %w: %w", resp.StatusCode, sentinel.ErrUnauthenticated, sentinel.ErrUnavailable)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("identity provider: status=%d: %w", resp.StatusCode, sentinel.ErrUnauthenticated)
	}

	var s providerSession
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return fmt.Errorf("decode identity session: %w: %w: %w", sentinel.ErrUnauthenticated, sentinel.ErrUnavailable, err)
	}
	if s.Status != "active" {
		return fmt.Errorf("identity session %s is %q: %w", sessionID, s.Status, sentinel.ErrUnauthenticated)
	}
	if s.UserID != userID {
		return fmt.Errorf("identity session %s belongs to another user: %w", sessionID, sentinel.ErrUnauthenticated)
	}
	return nil
}
