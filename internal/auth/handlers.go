package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"shopauth/internal/api"
	"shopauth/pkg/config"
	"shopauth/pkg/sentinel"
	"shopauth/pkg/shopify"
)

const stateCookie = "oauth_state"

// UninstallWebhookPath is where Shopify delivers app/uninstalled for shops installed here.
const UninstallWebhookPath = "/api/shopify/webhooks/uninstall"

// Associations is the subset of shop.Service the handlers need.
type Associations interface {
	SaveSession(ctx context.Context, userID, shop, sessionID string, ttl time.Duration) error
	AccessToken(ctx context.Context, userID, shop string) (string, error)
	RemoveUser(ctx context.Context, userID, shop string) error
}

// SessionStore persists the Shopify session produced by the OAuth callback.
type SessionStore interface {
	StoreSession(ctx context.Context, sess *shopify.Session) error
}

type Handlers struct {
	Cfg      config.Config
	OAuth    shopify.OAuth
	Sessions SessionStore
	Shops    Associations
	Logger   *slog.Logger

	// HTTPClient and AdminBaseURL configure the Admin API client used to
	// register webhooks; AdminBaseURL overrides https://{shop} in tests.
	HTTPClient   *http.Client
	AdminBaseURL string
}

// Login starts the OAuth install for ?shop=.
func (h Handlers) Login(w http.ResponseWriter, r *http.Request) {
	shop := shopify.NormalizeShopDomain(r.URL.Query().Get("shop"))
	state := uuid.NewString()

	authURL, err := h.OAuth.BeginAuth(shop, state)
	if err != nil {
		http.Error(w, "invalid shop", http.StatusBadRequest)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/api/shopify/auth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.Cfg.AppEnv == "prod",
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the install: validates Shopify's redirect, stores the
// OAuth session and associates it with the signed-in user.
func (h Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := api.UserFromContext(ctx)
	if user == nil {
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}

	var expected string
	if c, err := r.Cookie(stateCookie); err == nil {
		expected = c.Value
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/api/shopify/auth", MaxAge: -1, HttpOnly: true})

	sess, err := h.OAuth.ValidateCallback(ctx, r.URL.Query(), expected)
	switch {
	case errors.Is(err, shopify.ErrInvalidShop), errors.Is(err, shopify.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, shopify.ErrInvalidHMAC):
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	case err != nil:
		h.Logger.ErrorContext(ctx, "oauth callback failed", "error", err, "shop", r.URL.Query().Get("shop"))
		http.Error(w, "Failed to complete OAuth process", http.StatusBadGateway)
		return
	}

	if err := h.Sessions.StoreSession(ctx, sess); err != nil {
		h.Logger.ErrorContext(ctx, "failed to store shopify session", "error", err, "shop", sess.Shop, "session_id", sess.ID)
		http.Error(w, "could not store session", http.StatusInternalServerError)
		return
	}

	if err := h.Shops.SaveSession(ctx, user.ID, sess.Shop, sess.ID, sess.TTL()); err != nil {
		h.Logger.ErrorContext(ctx, "failed to save shop association", "error", err, "shop", sess.Shop, "user_id", user.ID)
		http.Error(w, "could not save shop", http.StatusInternalServerError)
		return
	}

	h.registerUninstallWebhook(ctx, sess)

	h.Logger.InfoContext(ctx, "shop installed", "shop", sess.Shop, "user_id", user.ID, "online", sess.IsOnline)
	http.Redirect(w, r, h.Cfg.Shopify.SuccessPath, http.StatusFound)
}

func (h Handlers) registerUninstallWebhook(ctx context.Context, sess *shopify.Session) {
	base := strings.TrimRight(strings.TrimSpace(h.Cfg.PublicBaseURL), "/")
	if base == "" {
		return
	}
	c := shopify.Client{
		HTTPClient:  h.HTTPClient,
		ShopDomain:  sess.Shop,
		AccessToken: sess.AccessToken,
		APIVersion:  h.Cfg.Shopify.APIVersion,
		BaseURL:     h.AdminBaseURL,
	}
	id, err := c.CreateWebhook(ctx, shopify.TopicAppUninstalled, base+UninstallWebhookPath)
	if err != nil {
		h.Logger.WarnContext(ctx, "failed to register uninstall webhook", "error", err, "shop", sess.Shop)
		return
	}
	h.Logger.InfoContext(ctx, "registered uninstall webhook", "shop", sess.Shop, "webhook_id", id)
}

type verifyResponse struct {
	Success bool `json:"success"`
}

// Verify reports whether the signed-in user holds a live token for the shop.
func (h Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := api.UserFromContext(ctx)
	shop, err := api.ShopFromRequest(r)
	if user == nil || err != nil {
		api.WriteJSON(w, http.StatusUnauthorized, verifyResponse{Success: false})
		return
	}

	if _, err := h.Shops.AccessToken(ctx, user.ID, shop); err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			h.Logger.ErrorContext(ctx, "token lookup failed", "error", err, "shop", shop, "user_id", user.ID)
		}
		api.WriteJSON(w, http.StatusUnauthorized, verifyResponse{Success: false})
		return
	}
	api.WriteJSON(w, http.StatusOK, verifyResponse{Success: true})
}

// Detach removes the signed-in user from the shop and drops their session.
func (h Handlers) Detach(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := api.UserFromContext(ctx)
	if user == nil {
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	shop, err := api.ShopFromRequest(r)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}

	if err := h.Shops.RemoveUser(ctx, user.ID, shop); err != nil {
		status, code := api.StatusFor(err)
		if status >= 500 {
			h.Logger.ErrorContext(ctx, "failed to detach user", "error", err, "shop", shop, "user_id", user.ID)
		}
		api.WriteError(w, status, code, "could not detach shop")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
