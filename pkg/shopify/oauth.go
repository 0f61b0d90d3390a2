package shopify

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrInvalidShop  = errors.New("invalid shop domain")
	ErrInvalidState = errors.New("invalid oauth state")
	ErrInvalidHMAC  = errors.New("invalid oauth hmac")
)

type OAuthExchanger struct {
	HTTPClient *http.Client
	APIKey     string
	APISecret  string

	// BaseURL overrides https://{shop}; used by tests.
	BaseURL string
}

// AccessTokenResponse is Shopify's reply to the code exchange. Online tokens
// also carry expires_in and the associated staff user.
type AccessTokenResponse struct {
	AccessToken         string          `json:"access_token"`
	Scope               string          `json:"scope"`
	ExpiresIn           int64           `json:"expires_in,omitempty"`
	AssociatedUserScope string          `json:"associated_user_scope,omitempty"`
	AssociatedUser      *AssociatedUser `json:"associated_user,omitempty"`
}

func (o OAuthExchanger) ExchangeCodeForToken(ctx context.Context, shopDomain, code string) (*AccessTokenResponse, error) {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	body, _ := json.Marshal(map[string]string{
		"client_id":     o.APIKey,
		"client_secret": o.APISecret,
		"code":          code,
	})

	u := shopBaseURL(o.BaseURL, shopDomain) + "/admin/oauth/access_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("shopify token exchange failed: status=%d", resp.StatusCode)
	}

	var r AccessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, err
	}
	if r.AccessToken == "" {
		return nil, fmt.Errorf("shopify token exchange returned empty access_token")
	}
	return &r, nil
}

// OAuth is the install handshake: BeginAuth builds the authorize redirect and
// ValidateCallback turns Shopify's callback into a Session. Storing, loading
// and deleting sessions belongs to the session stores.
type OAuth struct {
	APIKey      string
	APISecret   string
	Scopes      string
	RedirectURL string

	// Online requests a per-user token that expires with the staff member's session.
	Online bool

	Exchanger OAuthExchanger
	Now       func() time.Time
}

// BeginAuth returns the authorize URL for shop. state must be echoed back by Shopify.
func (o OAuth) BeginAuth(shop, state string) (string, error) {
	shop = NormalizeShopDomain(shop)
	if !ValidShopDomain(shop) {
		return "", ErrInvalidShop
	}

	u := url.URL{
		Scheme: "https",
		Host:   shop,
		Path:   "/admin/oauth/authorize",
	}
	q := u.Query()
	q.Set("client_id", o.APIKey)
	q.Set("scope", o.Scopes)
	q.Set("redirect_uri", o.RedirectURL)
	q.Set("state", state)
	if o.Online {
		q.Set("grant_options[]", "per-user")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ValidateCallback checks state and HMAC, exchanges the code and builds the session.
func (o OAuth) ValidateCallback(ctx context.Context, query url.Values, expectedState string) (*Session, error) {
	shop := NormalizeShopDomain(query.Get("shop"))
	code := strings.TrimSpace(query.Get("code"))
	state := query.Get("state")

	if !ValidShopDomain(shop) {
		return nil, ErrInvalidShop
	}
	if code == "" || expectedState == "" || subtle.ConstantTimeCompare([]byte(state), []byte(expectedState)) != 1 {
		return nil, ErrInvalidState
	}
	if !VerifyOAuthHMAC(query, o.APISecret) {
		return nil, ErrInvalidHMAC
	}

	ex := o.Exchanger
	ex.APIKey = o.APIKey
	ex.APISecret = o.APISecret

	tok, err := ex.ExchangeCodeForToken(ctx, shop, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	now := time.Now
	if o.Now != nil {
		now = o.Now
	}

	sess := &Session{
		Shop:        shop,
		State:       state,
		Scope:       tok.Scope,
		AccessToken: tok.AccessToken,
	}
	if o.Online {
		if tok.AssociatedUser == nil || tok.AssociatedUser.ID == 0 {
			return nil, fmt.Errorf("token exchange: online token without associated user")
		}
		sess.IsOnline = true
		sess.ID = OnlineSessionID(shop, tok.AssociatedUser.ID)
		sess.OnlineAccessInfo = &OnlineAccessInfo{
			ExpiresIn:           tok.ExpiresIn,
			AssociatedUserScope: tok.AssociatedUserScope,
			AssociatedUser:      *tok.AssociatedUser,
		}
	} else {
		sess.ID = OfflineSessionID(shop)
	}
	sess.Expires = now().Add(sess.TTL())

	return sess, nil
}

func shopBaseURL(override, shop string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	return "https://" + shop
}
