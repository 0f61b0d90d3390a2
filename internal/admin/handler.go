// Package admin relays Admin GraphQL requests to the caller's shop with the
// access token the caller installed it with.
package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"shopauth/internal/api"
	"shopauth/pkg/sentinel"
	"shopauth/pkg/shopify"
)

const maxRequestBody = 1 << 20

// TokenSource resolves the Shopify access token a user may use for a shop.
type TokenSource interface {
	AccessToken(ctx context.Context, userID, shop string) (string, error)
}

type Handler struct {
	Tokens     TokenSource
	APIVersion string
	Logger     *slog.Logger

	HTTPClient *http.Client
	// BaseURL overrides https://{shop}; used by tests.
	BaseURL string
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := api.UserFromContext(ctx)
	shop, shopErr := api.ShopFromRequest(r)
	if user == nil || shopErr != nil {
		http.Error(w, "Failed to get Shopify session.", http.StatusUnauthorized)
		return
	}

	token, err := h.Tokens.AccessToken(ctx, user.ID, shop)
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			h.Logger.ErrorContext(ctx, "token lookup failed", "error", err, "shop", shop, "user_id", user.ID)
		}
		http.Error(w, "Failed to get Shopify session.", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid body")
		return
	}
	if len(body) > maxRequestBody {
		api.WriteError(w, http.StatusRequestEntityTooLarge, "VALIDATION_FAILED", "body too large")
		return
	}

	c := shopify.Client{
		HTTPClient:  h.HTTPClient,
		ShopDomain:  shop,
		AccessToken: token,
		APIVersion:  h.APIVersion,
		BaseURL:     h.BaseURL,
	}
	status, respBody, err := c.GraphQL(ctx, body)
	if err != nil {
		h.Logger.ErrorContext(ctx, "admin graphql request failed", "error", err, "shop", shop)
		api.WriteError(w, http.StatusBadGateway, "UPSTREAM", "shopify admin api unreachable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
}
