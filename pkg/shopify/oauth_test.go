package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestBeginAuth(t *testing.T) {
	o := OAuth{APIKey: "key", Scopes: "read_products", RedirectURL: "https://app.example/cb", Online: true}

	got, err := o.BeginAuth("My-Shop.myshopify.com", "state-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "my-shop.myshopify.com" || u.Path != "/admin/oauth/authorize" {
		t.Fatalf("unexpected url %s", got)
	}
	q := u.Query()
	if q.Get("client_id") != "key" || q.Get("state") != "state-1" || q.Get("grant_options[]") != "per-user" {
		t.Fatalf("unexpected query %v", q)
	}

	if _, err := o.BeginAuth("evil.com", "s"); !errors.Is(err, ErrInvalidShop) {
		t.Fatalf("expected ErrInvalidShop, got %v", err)
	}
}

func newTokenServer(t *testing.T, resp AccessTokenResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/oauth/access_token" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["code"] != "the-code" || body["client_secret"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signedCallback(secret string) url.Values {
	q := url.Values{}
	q.Set("shop", "my-shop.myshopify.com")
	q.Set("code", "the-code")
	q.Set("state", "state-1")
	q.Set("timestamp", "1700000000")
	q.Set("hmac", SignOAuthQuery(q, secret))
	return q
}

func TestValidateCallback_Online(t *testing.T) {
	srv := newTokenServer(t, AccessTokenResponse{
		AccessToken:    "shpua_tok",
		Scope:          "read_products",
		ExpiresIn:      120,
		AssociatedUser: &AssociatedUser{ID: 902541635, Email: "staff@example.com"},
	})
	now := time.Unix(1700000000, 0)
	o := OAuth{
		APIKey:    "key",
		APISecret: "secret",
		Online:    true,
		Exchanger: OAuthExchanger{BaseURL: srv.URL},
		Now:       func() time.Time { return now },
	}

	sess, err := o.ValidateCallback(context.Background(), signedCallback("secret"), "state-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sess.ID != "my-shop.myshopify.com_902541635" || !sess.IsOnline {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.AccessToken != "shpua_tok" || !sess.Expires.Equal(now.Add(120*time.Second)) {
		t.Fatalf("unexpected token/expiry %+v", sess)
	}
}

func TestValidateCallback_Offline(t *testing.T) {
	srv := newTokenServer(t, AccessTokenResponse{AccessToken: "shpat_tok"})
	now := time.Unix(1700000000, 0)
	o := OAuth{APISecret: "secret", Exchanger: OAuthExchanger{BaseURL: srv.URL}, Now: func() time.Time { return now }}

	sess, err := o.ValidateCallback(context.Background(), signedCallback("secret"), "state-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sess.ID != "offline_my-shop.myshopify.com" || sess.IsOnline {
		t.Fatalf("unexpected session %+v", sess)
	}
	if !sess.Expires.Equal(now.Add(DefaultSessionTTL)) {
		t.Fatalf("expected default ttl, got %v", sess.Expires)
	}
}

func TestValidateCallback_Rejects(t *testing.T) {
	o := OAuth{APISecret: "secret", Exchanger: OAuthExchanger{BaseURL: "http://127.0.0.1:1"}}
	ctx := context.Background()

	if _, err := o.ValidateCallback(ctx, signedCallback("secret"), "other-state"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := o.ValidateCallback(ctx, signedCallback("secret"), ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for empty cookie, got %v", err)
	}
	if _, err := o.ValidateCallback(ctx, signedCallback("wrong"), "state-1"); !errors.Is(err, ErrInvalidHMAC) {
		t.Fatalf("expected ErrInvalidHMAC, got %v", err)
	}
	q := signedCallback("secret")
	q.Set("shop", "evil.com")
	if _, err := o.ValidateCallback(ctx, q, "state-1"); !errors.Is(err, ErrInvalidShop) {
		t.Fatalf("expected ErrInvalidShop, got %v", err)
	}
}

func TestValidateCallback_OnlineWithoutUserFails(t *testing.T) {
	srv := newTokenServer(t, AccessTokenResponse{AccessToken: "shpua_tok"})
	o := OAuth{APISecret: "secret", Online: true, Exchanger: OAuthExchanger{BaseURL: srv.URL}}

	_, err := o.ValidateCallback(context.Background(), signedCallback("secret"), "state-1")
	if err == nil || !strings.Contains(err.Error(), "associated user") {
		t.Fatalf("expected associated user error, got %v", err)
	}
}

func TestExchangeCodeForToken_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ex := OAuthExchanger{BaseURL: srv.URL}
	if _, err := ex.ExchangeCodeForToken(context.Background(), "a.myshopify.com", "c"); err == nil {
		t.Fatalf("expected error")
	}
}
