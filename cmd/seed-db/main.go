// Command seed-db migrates the schema, loads the product catalog and stores
// the API key used by the mobile-money provider to call the webhook.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type productJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
}

type options struct {
	databaseURL  string
	productsFile string
	apiKey       string
	apiKeyPepper string
	jwtSecret    string
	devUser      string
	simulator    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&opts.apiKey, "api-key", "", "mobile webhook API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "print a bearer token signed with this secret (or SHOP_AUTH_JWT_SECRET env)")
	flag.StringVar(&opts.devUser, "dev-user", "dev-user", "user id for the printed bearer token")
	flag.BoolVar(&opts.simulator, "simulator", false, "also allow the API key to settle payments on the mobile-money simulator")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts.databaseURL = orEnv(opts.databaseURL, "DATABASE_URL")
	opts.apiKey = orEnv(opts.apiKey, "SHOP_SEED_API_KEY")
	opts.apiKeyPepper = orEnv(opts.apiKeyPepper, "SHOP_API_KEY_PEPPER")
	opts.jwtSecret = orEnv(opts.jwtSecret, "SHOP_AUTH_JWT_SECRET")

	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func orEnv(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Running migrations")
	if err := postgres.Migrate(opts.databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	products, err := readProducts(opts.productsFile)
	if err != nil {
		return errors.Wrap(err, "read products")
	}
	if err := postgres.NewProductRepository(pool).Upsert(ctx, products...); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	lg.Info("Upserted products", zap.Int("count", len(products)))

	if opts.apiKey != "" {
		key := auth.APIKeyInfo{
			ID:      "mobile-provider",
			KeyHash: auth.HashKey([]byte(opts.apiKeyPepper), opts.apiKey),
			Name:    "Mobile-money payment notifications",
			Scopes:  []string{auth.ScopeMobileWebhook},
		}
		if opts.simulator {
			key.Scopes = append(key.Scopes, auth.ScopeMobileSimulate)
		}
		if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, key); err != nil {
			return errors.Wrap(err, "upsert api key")
		}
		lg.Info("Upserted API key", zap.String("id", key.ID), zap.Strings("scopes", key.Scopes))
	} else {
		lg.Warn("No API key given, mobile webhook will reject every call")
	}

	if opts.jwtSecret != "" {
		token, err := auth.NewTokens([]byte(opts.jwtSecret), 0).Issue(opts.devUser)
		if err != nil {
			return errors.Wrap(err, "issue dev token")
		}
		lg.Info("Issued bearer token", zap.String("user_id", opts.devUser), zap.String("token", token))
	}
	return nil
}

func readProducts(path string) ([]product.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	out := make([]product.Product, 0, len(raw))
	for i, p := range raw {
		if p.ID == "" || p.Name == "" || !p.Price.IsPositive() {
			return nil, errors.Errorf("product %d: id, name and a positive price are required", i)
		}
		out = append(out, product.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
			Price:       p.Price,
			ImageRef:    p.Image,
		})
	}
	return out, nil
}
