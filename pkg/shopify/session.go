package shopify

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultSessionTTL applies when Shopify does not report an access-token lifetime.
const DefaultSessionTTL = time.Hour

// Session is a Shopify OAuth session as produced by the callback exchange.
type Session struct {
	ID               string            `json:"id"`
	Shop             string            `json:"shop"`
	State            string            `json:"state"`
	IsOnline         bool              `json:"isOnline"`
	Scope            string            `json:"scope,omitempty"`
	AccessToken      string            `json:"accessToken"`
	Expires          time.Time         `json:"expires"`
	OnlineAccessInfo *OnlineAccessInfo `json:"onlineAccessInfo,omitempty"`
}

// OnlineAccessInfo is returned by Shopify for per-user (online) tokens.
type OnlineAccessInfo struct {
	ExpiresIn           int64          `json:"expires_in"`
	AssociatedUserScope string         `json:"associated_user_scope"`
	AssociatedUser      AssociatedUser `json:"associated_user"`
}

type AssociatedUser struct {
	ID            int64  `json:"id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	AccountOwner  bool   `json:"account_owner"`
	Locale        string `json:"locale"`
	Collaborator  bool   `json:"collaborator"`
}

// TTL is the lifetime the session and anything pointing at it should be stored with.
func (s *Session) TTL() time.Duration {
	if s.OnlineAccessInfo != nil && s.OnlineAccessInfo.ExpiresIn > 0 {
		return time.Duration(s.OnlineAccessInfo.ExpiresIn) * time.Second
	}
	return DefaultSessionTTL
}

// IsActive reports whether the session carries a token that has not expired at now.
// A zero Expires counts as expired.
func (s *Session) IsActive(now time.Time) bool {
	return s != nil && s.AccessToken != "" && s.Expires.After(now)
}

// OnlineSessionID mirrors Shopify's id scheme for per-user sessions.
func OnlineSessionID(shop string, userID int64) string {
	return fmt.Sprintf("%s_%d", shop, userID)
}

// OfflineSessionID mirrors Shopify's id scheme for shop-wide sessions.
func OfflineSessionID(shop string) string {
	return "offline_" + shop
}

var shopDomainRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// NormalizeShopDomain lower-cases the domain and strips a scheme or trailing slash.
func NormalizeShopDomain(shop string) string {
	s := strings.ToLower(strings.TrimSpace(shop))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.TrimSuffix(s, "/")
}

// ValidShopDomain accepts only <name>.myshopify.com hosts, so a shop parameter
// can never redirect OAuth or API traffic to an arbitrary host.
func ValidShopDomain(shop string) bool {
	return shopDomainRe.MatchString(shop)
}
