package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"shopauth/internal/webhook"
	"shopauth/pkg/config"
)

func main() {
	cfg := config.Load()

	var (
		url       = flag.String("url", "", "webhook endpoint url (defaults to http://localhost<HTTP_ADDR>/api/shopify/webhooks/uninstall)")
		topic     = flag.String("topic", "app/uninstalled", "shopify topic header value")
		shop      = flag.String("shop", "example.myshopify.com", "X-Shopify-Shop-Domain")
		secret    = flag.String("secret", cfg.Shopify.WebhookSecret, "webhook secret (defaults to SHOPIFY_WEBHOOK_SECRET / SHOPIFY_API_SECRET)")
		payload   = flag.String("payload", "", "path to json payload file (defaults to a minimal shop body)")
		webhookID = flag.String("id", "", "optional webhook id header value")
	)
	flag.Parse()

	if *url == "" {
		*url = localURL(cfg.HTTPAddr) + "/api/shopify/webhooks/uninstall"
	}
	if *secret == "" {
		fmt.Fprintln(os.Stderr, "missing -secret")
		os.Exit(2)
	}

	b := []byte(fmt.Sprintf(`{"domain":%q,"myshopify_domain":%q}`, *shop, *shop))
	if *payload != "" {
		var err error
		if b, err = os.ReadFile(*payload); err != nil {
			fmt.Fprintf(os.Stderr, "read payload: %v\n", err)
			os.Exit(2)
		}
	}

	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(b))
	if err != nil {
		fmt.Fprintf(os.Stderr, "new request: %v\n", err)
		os.Exit(2)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Topic", *topic)
	req.Header.Set("X-Shopify-Shop-Domain", *shop)
	req.Header.Set("X-Shopify-Hmac-Sha256", webhook.Sign(b, *secret))
	if *webhookID != "" {
		req.Header.Set("X-Shopify-Webhook-Id", *webhookID)
	}

	c := &http.Client{Timeout: 10 * time.Second}
	resp, err := c.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "post: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("status=%d\n%s\n", resp.StatusCode, string(body))
}

func localURL(httpAddr string) string {
	if len(httpAddr) > 0 && httpAddr[0] == ':' {
		return "http://localhost" + httpAddr
	}
	return "http://" + httpAddr
}
