package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopauth/internal/shop"
	"shopauth/pkg/logger"
	"shopauth/pkg/sentinel"
)

const secret = "whsec"

type fakeUninstaller struct {
	calls []string
	err   error
}

func (f *fakeUninstaller) DeleteShop(_ context.Context, s string) (*shop.UninstallResult, error) {
	f.calls = append(f.calls, s)
	return &shop.UninstallResult{Users: 1}, f.err
}

type countingRecorder map[string]int

func (c countingRecorder) RecordWebhook(topic, result string) { c[topic+":"+result]++ }

type fixture struct {
	mr      *miniredis.Miniredis
	shops   *fakeUninstaller
	metrics countingRecorder
	router  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{mr: mr, shops: &fakeUninstaller{}, metrics: countingRecorder{}}
	h := Handler{
		Secret:  secret,
		Shops:   f.shops,
		Dedupe:  NewRedisDeduper(client, time.Hour),
		Metrics: f.metrics,
		Logger:  logger.Discard(),
	}
	r := chi.NewRouter()
	r.Post("/api/shopify/webhooks/{topic}", h.ServeHTTP)
	f.router = r
	return f
}

func (f *fixture) deliver(path, topicHeader, id, sig string) *httptest.ResponseRecorder {
	body := `{"id":1,"domain":"my-shop.myshopify.com"}`
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("X-Shopify-Shop-Domain", "my-shop.myshopify.com")
	if topicHeader != "" {
		req.Header.Set("X-Shopify-Topic", topicHeader)
	}
	if id != "" {
		req.Header.Set("X-Shopify-Webhook-Id", id)
	}
	if sig == "" {
		sig = Sign([]byte(body), secret)
	}
	req.Header.Set("X-Shopify-Hmac-Sha256", sig)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestUninstall_DeletesShopOnce(t *testing.T) {
	f := newFixture(t)

	w := f.deliver("/api/shopify/webhooks/uninstall", "", "d-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"my-shop.myshopify.com"}, f.shops.calls)
	assert.True(t, f.mr.Exists("Shopify.Webhook.d-1"))

	w = f.deliver("/api/shopify/webhooks/uninstall", "app/uninstalled", "d-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.shops.calls, 1)
	assert.Equal(t, 1, f.metrics["app_uninstalled:duplicate"])
	assert.Equal(t, 1, f.metrics["app_uninstalled:processed"])
}

func TestUninstall_TopicHeaderWins(t *testing.T) {
	f := newFixture(t)

	w := f.deliver("/api/shopify/webhooks/anything", "app/uninstalled", "d-2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.shops.calls, 1)
}

func TestInvalidSignature(t *testing.T) {
	f := newFixture(t)

	w := f.deliver("/api/shopify/webhooks/uninstall", "", "d-3", "bm9wZQ==")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.shops.calls)
	assert.False(t, f.mr.Exists("Shopify.Webhook.d-3"))
}

func TestUnknownShopAndTopicStill200(t *testing.T) {
	f := newFixture(t)
	f.shops.err = sentinel.ErrNotFound

	w := f.deliver("/api/shopify/webhooks/uninstall", "", "d-4", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.metrics["app_uninstalled:unknown_shop"])

	w = f.deliver("/api/shopify/webhooks/orders", "orders/create", "d-5", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.metrics["orders_create:ignored"])
}

func TestFailedUninstallReleasesDelivery(t *testing.T) {
	f := newFixture(t)
	f.shops.err = sentinel.ErrUnavailable

	w := f.deliver("/api/shopify/webhooks/uninstall", "", "d-6", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.mr.Exists("Shopify.Webhook.d-6"))

	f.shops.err = nil
	f.deliver("/api/shopify/webhooks/uninstall", "", "d-6", "")
	assert.Len(t, f.shops.calls, 2)
}

func TestDedupeDownStillProcesses(t *testing.T) {
	f := newFixture(t)
	f.mr.SetError("ERR connection lost")

	w := f.deliver("/api/shopify/webhooks/uninstall", "", "d-7", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.shops.calls, 1)
}

func TestMissingDeliveryIDFallsBackToBodyHash(t *testing.T) {
	f := newFixture(t)

	f.deliver("/api/shopify/webhooks/uninstall", "", "", "")
	f.deliver("/api/shopify/webhooks/uninstall", "", "", "")
	assert.Len(t, f.shops.calls, 1)
}

func TestNormalizeTopic(t *testing.T) {
	cases := map[string]string{
		"app/uninstalled":  "app_uninstalled",
		"uninstall":        "app_uninstalled",
		" Orders/Paid ":    "orders_paid",
		"shop.redact":      "shop_redact",
		"customers--data/": "customers_data",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTopic(in), in)
	}
}

func TestVerifyShopifyWebhook(t *testing.T) {
	body := []byte(`{"ok":true}`)
	assert.True(t, VerifyShopifyWebhook(body, Sign(body, "s"), "s"))
	assert.False(t, VerifyShopifyWebhook(body, Sign(body, "s"), "other"))
	assert.False(t, VerifyShopifyWebhook(body, "", "s"))
	assert.False(t, VerifyShopifyWebhook(body, Sign(body, ""), ""))
}
