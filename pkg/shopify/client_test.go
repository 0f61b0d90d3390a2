package shopify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGraphQL_RelaysStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/api/2025-10/graphql.json" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Shopify-Access-Token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		b, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(append([]byte(`{"echo":`), append(b, '}')...))
	}))
	defer srv.Close()

	c := Client{ShopDomain: "a.myshopify.com", AccessToken: "tok", BaseURL: srv.URL}
	status, body, err := c.GraphQL(context.Background(), []byte(`{"query":"{ shop { name } }"}`))
	if err != nil {
		t.Fatalf("graphql: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if string(body) != `{"echo":{"query":"{ shop { name } }"}}` {
		t.Fatalf("body %s", body)
	}
}

func TestGraphQL_MissingToken(t *testing.T) {
	c := Client{ShopDomain: "a.myshopify.com"}
	if _, _, err := c.GraphQL(context.Background(), nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCreateWebhook(t *testing.T) {
	var got webhookCreateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/api/2024-01/webhooks.json" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"webhook":{"id":77}}`))
	}))
	defer srv.Close()

	c := Client{ShopDomain: "a.myshopify.com", AccessToken: "tok", APIVersion: "2024-01", BaseURL: srv.URL}
	id, err := c.CreateWebhook(context.Background(), TopicAppUninstalled, "https://app.example/api/shopify/webhooks/uninstall")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 77 {
		t.Fatalf("id %d", id)
	}
	if got.Webhook.Topic != "app/uninstalled" || got.Webhook.Format != "json" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestCreateWebhook_SurfacesShopifyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":{"address":["for this topic has already been taken"]}}`))
	}))
	defer srv.Close()

	c := Client{ShopDomain: "a.myshopify.com", AccessToken: "tok", BaseURL: srv.URL}
	if _, err := c.CreateWebhook(context.Background(), TopicAppUninstalled, "https://x"); err == nil {
		t.Fatalf("expected error")
	}
}
