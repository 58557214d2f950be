package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// openTestStore подключается к базе из INVOICER_POSTGRES_TEST_DSN или пропускает тест.
func openTestStore(t *testing.T, migrate bool) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("INVOICER_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("INVOICER_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available for integration tests: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if !migrate {
		return store
	}
	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, `TRUNCATE TABLE processed_orders, dead_letters`); err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}
	return store
}
