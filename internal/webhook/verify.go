package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Sign returns the X-Shopify-Hmac-Sha256 value for body: base64(HMAC_SHA256(body)).
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyShopifyWebhook checks hmacHeader against the body signed with secret.
// An empty header or secret never verifies.
func VerifyShopifyWebhook(body []byte, hmacHeader string, secret string) bool {
	if hmacHeader == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(hmacHeader))
}
