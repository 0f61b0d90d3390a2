package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the Admin API of one shop with one access token.
type Client struct {
	HTTPClient  *http.Client
	ShopDomain  string
	AccessToken string
	APIVersion  string

	// BaseURL overrides https://{shop}; used by tests.
	BaseURL string
}

// maxGraphQLResponse caps relayed Admin GraphQL bodies.
const maxGraphQLResponse = 10 << 20

func (c Client) prepare() (Client, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if c.APIVersion == "" {
		c.APIVersion = "2025-10"
	}
	if c.ShopDomain == "" || c.AccessToken == "" {
		return c, fmt.Errorf("missing shop domain or access token")
	}
	return c, nil
}

func (c Client) url(path string) string {
	return fmt.Sprintf("%s/admin/api/%s%s", shopBaseURL(c.BaseURL, c.ShopDomain), c.APIVersion, path)
}

func (c Client) doJSON(ctx context.Context, method, path string, reqBody any, respBody any) (int, error) {
	c, err := c.prepare()
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	if reqBody != nil {
		if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.AccessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	b, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return resp.StatusCode, readErr
	}

	// Surface Shopify error body for non-2xx, so callers can see missing scopes, etc.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(b) > 0 {
			return resp.StatusCode, fmt.Errorf("shopify api error: status=%d body=%s", resp.StatusCode, string(b))
		}
		return resp.StatusCode, fmt.Errorf("shopify api error: status=%d", resp.StatusCode)
	}

	if respBody != nil && len(b) > 0 {
		if err := json.Unmarshal(b, respBody); err != nil {
			return resp.StatusCode, fmt.Errorf("decode shopify response failed: %w body=%s", err, string(b))
		}
	}

	return resp.StatusCode, nil
}

// GraphQL forwards a raw Admin GraphQL request body and returns Shopify's
// status and body untouched. Non-2xx responses are not errors here; the caller
// relays them.
func (c Client) GraphQL(ctx context.Context, body []byte) (int, []byte, error) {
	c, err := c.prepare()
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/graphql.json"), bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.AccessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxGraphQLResponse))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}
