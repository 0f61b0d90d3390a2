package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"shopauth/internal/identity"
	"shopauth/internal/shop"
	"shopauth/internal/shopifysession"
	"shopauth/pkg/config"
	"shopauth/pkg/logger"
	"shopauth/pkg/redis"
	"shopauth/pkg/shopify"
)

// devflow seeds an installed shop for a user so the /api routes can be
// exercised locally without going through Shopify's OAuth screens.
func main() {
	var (
		shopDomain = flag.String("shop", "", "shop domain (e.g. your-store.myshopify.com)")
		userID     = flag.String("user", "user_dev", "application user id")
		token      = flag.String("access-token", "", "shopify access token to store")
		ttl        = flag.Duration("ttl", time.Hour, "session lifetime")
	)
	flag.Parse()

	shopName := shopify.NormalizeShopDomain(*shopDomain)
	if !shopify.ValidShopDomain(shopName) || *token == "" {
		fmt.Fprintln(os.Stderr, "need -shop <name>.myshopify.com and -access-token")
		os.Exit(2)
	}

	cfg := config.Load()
	ctx := context.Background()

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer rc.Close()

	sessions := shopifysession.NewRedisStore(rc.Client)
	sess := &shopify.Session{
		ID:          shopify.OfflineSessionID(shopName),
		Shop:        shopName,
		AccessToken: *token,
		Expires:     time.Now().Add(*ttl),
	}
	if err := sessions.StoreSession(ctx, sess); err != nil {
		fmt.Fprintf(os.Stderr, "store session: %v\n", err)
		os.Exit(1)
	}

	svc := shop.NewService(shop.NewUserIndex(rc.Client), shop.NewSessionPointers(rc.Client), sessions, logger.Discard())
	if err := svc.SaveSession(ctx, *userID, shopName, sess.ID, *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "save association: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("seeded:\n  User.Shops.%s\n  User.ShopSessions.%s.%s\n  Shopify.Session.%s\n", shopName, *userID, shopName, sess.ID)

	if cfg.Identity.JWTSecret != "" {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   *userID,
				Issuer:    cfg.Identity.Issuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(*ttl)),
			},
			SessionID: "sess_dev",
		}).SignedString([]byte(cfg.Identity.JWTSecret))
		if err != nil {
			fmt.Fprintf(os.Stderr, "sign session token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\ncurl -b '%s=%s' '%s/api/shopify/auth/verify?shop=%s'\n", cfg.Identity.CookieName, tok, "http://localhost"+cfg.HTTPAddr, shopName)
	}
}
