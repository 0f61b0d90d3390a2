package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"shopauth/internal/api"
	"shopauth/internal/shop"
	"shopauth/pkg/sentinel"
	"shopauth/pkg/shopify"
)

const maxBody = 1 << 20

// Uninstaller removes everything stored for a shop.
type Uninstaller interface {
	DeleteShop(ctx context.Context, shop string) (*shop.UninstallResult, error)
}

// Deduper claims delivery ids; see RedisDeduper.
type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Recorder counts deliveries by topic and result.
type Recorder interface {
	RecordWebhook(topic, result string)
}

type Handler struct {
	Secret  string
	Shops   Uninstaller
	Dedupe  Deduper
	Metrics Recorder
	Logger  *slog.Logger
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Prefer Shopify's topic header; fall back to route param.
	topic := strings.TrimSpace(r.Header.Get("X-Shopify-Topic"))
	if topic == "" {
		topic = chi.URLParam(r, "topic")
	}
	topic = NormalizeTopic(topic)

	shopDomain := shopify.NormalizeShopDomain(r.Header.Get("X-Shopify-Shop-Domain"))
	hmacHeader := strings.TrimSpace(r.Header.Get("X-Shopify-Hmac-Sha256"))
	deliveryID := strings.TrimSpace(r.Header.Get("X-Shopify-Webhook-Id"))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid body")
		return
	}

	if !VerifyShopifyWebhook(body, hmacHeader, h.Secret) {
		h.record(topic, "invalid_hmac")
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid webhook signature")
		return
	}

	if deliveryID == "" {
		// Fallback idempotency key when webhook-id header isn't present.
		deliveryID = sha256Hex(append([]byte(topic+"|"+shopDomain+"|"), body...))
	}

	if h.Dedupe != nil {
		first, err := h.Dedupe.Claim(ctx, deliveryID)
		if err != nil {
			// Process anyway; the handlers are idempotent.
			h.Logger.WarnContext(ctx, "webhook dedupe unavailable", "error", err, "topic", topic, "delivery_id", deliveryID)
		} else if !first {
			h.record(topic, "duplicate")
			h.Logger.DebugContext(ctx, "webhook already processed", "topic", topic, "shop", shopDomain, "delivery_id", deliveryID)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	switch topic {
	case TopicAppUninstalled:
		h.handleUninstall(ctx, shopDomain, deliveryID)
	default:
		// Unknown topic: accept (no retries).
		h.record(topic, "ignored")
	}

	// Shopify expects a 200 quickly.
	w.WriteHeader(http.StatusOK)
}

func (h Handler) handleUninstall(ctx context.Context, shopDomain, deliveryID string) {
	if shopDomain == "" {
		h.record(TopicAppUninstalled, "invalid")
		h.Logger.WarnContext(ctx, "uninstall webhook without shop domain", "delivery_id", deliveryID)
		return
	}

	res, err := h.Shops.DeleteShop(ctx, shopDomain)
	switch {
	case err == nil:
		h.record(TopicAppUninstalled, "processed")
		h.Logger.InfoContext(ctx, "shop uninstalled",
			"shop", shopDomain,
			"users", res.Users,
			"sessions_failed", res.SessionsFailed,
		)
	case errors.Is(err, sentinel.ErrNotFound):
		h.record(TopicAppUninstalled, "unknown_shop")
		h.Logger.InfoContext(ctx, "uninstall for unknown shop", "shop", shopDomain)
	default:
		h.record(TopicAppUninstalled, "failed")
		h.Logger.ErrorContext(ctx, "uninstall failed", "error", err, "shop", shopDomain)
		if h.Dedupe != nil {
			if err := h.Dedupe.Release(ctx, deliveryID); err != nil {
				h.Logger.WarnContext(ctx, "failed to release webhook delivery", "error", err, "delivery_id", deliveryID)
			}
		}
	}
}

func (h Handler) record(topic, result string) {
	if h.Metrics != nil {
		h.Metrics.RecordWebhook(topic, result)
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
