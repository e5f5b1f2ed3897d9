// Command seed-db provisions a development database: customer accounts with
// balances and credit lines, and the default API key.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tillworks/till/internal/repository"
)

type accountJSON struct {
	ID          string `json:"id"`
	Balance     int64  `json:"balance"`
	CreditLimit int64  `json:"creditLimit"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

var defaultAccounts = []accountJSON{
	{ID: "acc-walkin", Balance: 0, CreditLimit: 0, Currency: "ZAR", Status: "active"},
	{ID: "acc-demo-1", Balance: 50000, CreditLimit: 30000, Currency: "ZAR", Status: "active"},
	{ID: "acc-demo-2", Balance: -10000, CreditLimit: 50000, Currency: "ZAR", Status: "active"},
	{ID: "acc-demo-3", Balance: 20000, CreditLimit: 0, Currency: "ZAR", Status: "inactive"},
}

const upsertAccountSQL = `INSERT INTO customer_accounts (id, balance, credit_limit, currency, status)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE
	SET balance = EXCLUDED.balance, credit_limit = EXCLUDED.credit_limit,
	    currency = EXCLUDED.currency, status = EXCLUDED.status, updated_at = now()`

const upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, branch_ref, scopes, active)
	VALUES ($1, $2, $3, $4, $5, TRUE)
	ON CONFLICT (id) DO UPDATE
	SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name,
	    branch_ref = EXCLUDED.branch_ref, scopes = EXCLUDED.scopes, active = TRUE`

func main() {
	var (
		databaseURL  string
		accountsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&accountsFile, "accounts-file", "", "path to accounts JSON file (defaults to built-in demo accounts)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or TILL_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or TILL_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("TILL_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or TILL_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("TILL_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, accountsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, accountsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedAccounts(ctx, pool, accountsFile); err != nil {
		return errors.Wrap(err, "seed accounts")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedAccounts(ctx context.Context, pool *pgxpool.Pool, accountsFile string) error {
	accounts := defaultAccounts
	if accountsFile != "" {
		slog.Info("reading accounts file", slog.String("path", accountsFile))

		data, err := os.ReadFile(accountsFile)
		if err != nil {
			return errors.Wrap(err, "read accounts file")
		}
		if err := json.Unmarshal(data, &accounts); err != nil {
			return errors.Wrap(err, "parse accounts JSON")
		}
	}

	slog.Info("upserting accounts", slog.Int("count", len(accounts)))

	for _, a := range accounts {
		if _, err := pool.Exec(ctx, upsertAccountSQL,
			a.ID, a.Balance, a.CreditLimit, a.Currency, a.Status,
		); err != nil {
			return errors.Wrapf(err, "upsert account %s", a.ID)
		}

		slog.Info("upserted account",
			slog.String("id", a.ID),
			slog.Int64("balance", a.Balance),
			slog.Int64("credit_limit", a.CreditLimit),
		)
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if _, err := pool.Exec(ctx, upsertAPIKeySQL,
		"default", keyHash, "Default test key", "", []string{},
	); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"))

	return nil
}
