package shopify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// TopicAppUninstalled is delivered when a merchant removes the app.
const TopicAppUninstalled = "app/uninstalled"

type webhookCreateRequest struct {
	Webhook webhookPayload `json:"webhook"`
}

type webhookPayload struct {
	Topic   string `json:"topic"`
	Address string `json:"address"`
	Format  string `json:"format"`
}

type webhookCreateResponse struct {
	Webhook struct {
		ID int64 `json:"id"`
	} `json:"webhook"`
}

// CreateWebhook subscribes address to topic and returns the subscription id.
func (c Client) CreateWebhook(ctx context.Context, topic string, address string) (int64, error) {
	topic = strings.TrimSpace(topic)
	address = strings.TrimSpace(address)
	if topic == "" || address == "" {
		return 0, fmt.Errorf("missing topic or address")
	}

	req := webhookCreateRequest{
		Webhook: webhookPayload{
			Topic:   topic,
			Address: address,
			Format:  "json",
		},
	}
	var resp webhookCreateResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/webhooks.json", req, &resp)
	if err != nil {
		return 0, err
	}
	if status < 200 || status >= 300 {
		return 0, fmt.Errorf("create webhook failed: status=%d", status)
	}
	return resp.Webhook.ID, nil
}
