package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func sqlFile(body string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(body)} }

func TestLoadMigrationsFromFS_OrdersByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_dead_letters.up.sql":       sqlFile("CREATE TABLE dl (n TEXT);"),
		"sql/migrations/0002_dead_letters.down.sql":     sqlFile("DROP TABLE dl;"),
		"sql/migrations/0001_processed_orders.up.sql":   sqlFile("CREATE TABLE po (n TEXT);"),
		"sql/migrations/0001_processed_orders.down.sql": sqlFile("DROP TABLE po;"),
	}

	migrations, err := loadMigrationsFromFS(fsys)
	if err != nil {
		t.Fatalf("loadMigrationsFromFS failed: %v", err)
	}
	if len(migrations) != 2 || migrations[0].Name != "processed_orders" || migrations[1].Version != 2 {
		t.Fatalf("unexpected migrations: %+v", migrations)
	}
	if migrations[1].DownSQL != "DROP TABLE dl;" {
		t.Fatalf("down body not attached: %q", migrations[1].DownSQL)
	}
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
	}{
		{
			name:    "missing down",
			fsys:    fstest.MapFS{"sql/migrations/0001_processed_orders.up.sql": sqlFile("SELECT 1;")},
			wantErr: "both up and down",
		},
		{
			name:    "bad file name",
			fsys:    fstest.MapFS{"sql/migrations/ledger.sql": sqlFile("SELECT 1;")},
			wantErr: "invalid migration file name",
		},
		{
			name: "blank body",
			fsys: fstest.MapFS{
				"sql/migrations/0001_processed_orders.up.sql":   sqlFile("  \n"),
				"sql/migrations/0001_processed_orders.down.sql": sqlFile("SELECT 1;"),
			},
			wantErr: "empty",
		},
		{
			name:    "no files",
			fsys:    fstest.MapFS{},
			wantErr: "no migration files",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadMigrationsFromFS(tc.fsys)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadMigrationsFromFS_Embedded(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(embeddedMigrations)
	if err != nil {
		t.Fatalf("embedded migrations are invalid: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 embedded migrations, got %d", len(migrations))
	}
	if migrations[0].Name != "processed_orders" || migrations[1].Name != "dead_letters" {
		t.Fatalf("unexpected embedded migrations: %+v", migrations)
	}
}

func TestSelectMigrations(t *testing.T) {
	t.Parallel()

	all := []migration{{Version: 1, Name: "a"}, {Version: 2, Name: "b"}, {Version: 3, Name: "c"}}
	applied := map[int64]bool{1: true, 2: true}

	up := selectMigrations(all, applied, migrationUp, 0)
	if len(up) != 1 || up[0].Version != 3 {
		t.Fatalf("unexpected up selection: %+v", up)
	}

	down := selectMigrations(all, applied, migrationDown, 1)
	if len(down) != 1 || down[0].Version != 2 {
		t.Fatalf("unexpected down selection: %+v", down)
	}

	downAll := selectMigrations(all, applied, migrationDown, 10)
	if len(downAll) != 2 || downAll[0].Version != 2 || downAll[1].Version != 1 {
		t.Fatalf("unexpected full down selection: %+v", downAll)
	}
}

func TestLoadMigrationsFromFS_NameMismatch(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_processed_orders.up.sql": sqlFile("SELECT 1;"),
		"sql/migrations/0001_ledger.down.sql":         sqlFile("SELECT 1;"),
	}

	if _, err := loadMigrationsFromFS(fsys); err == nil {
		t.Fatal("expected error for name mismatch")
	}
}
