package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/flemzord/memsync/internal/resilience"
)

func openTest(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "nested", "test.db"), WAL: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_WAL(t *testing.T) {
	t.Parallel()
	db := openTest(t)

	var mode string
	if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestMigrate_Incremental(t *testing.T) {
	t.Parallel()
	db := openTest(t)
	ctx := context.Background()

	v1 := []Migration{{Version: 1, Statements: []string{"CREATE TABLE a (id TEXT PRIMARY KEY)"}}}
	if err := Migrate(ctx, db, v1); err != nil {
		t.Fatalf("v1: %v", err)
	}
	// Re-applying is a no-op.
	if err := Migrate(ctx, db, v1); err != nil {
		t.Fatalf("v1 again: %v", err)
	}

	v2 := append(v1, Migration{Version: 2, Statements: []string{"ALTER TABLE a ADD COLUMN note TEXT"}})
	if err := Migrate(ctx, db, v2); err != nil {
		t.Fatalf("v2: %v", err)
	}
	if v, err := Version(ctx, db); err != nil || v != 2 {
		t.Errorf("Version = %d, %v; want 2", v, err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO a (id, note) VALUES ('x', 'y')"); err != nil {
		t.Errorf("insert after v2: %v", err)
	}
}

func TestMigrate_FailedStepRollsBack(t *testing.T) {
	t.Parallel()
	db := openTest(t)
	ctx := context.Background()

	bad := []Migration{{Version: 1, Statements: []string{
		"CREATE TABLE b (id TEXT)",
		"THIS IS NOT SQL",
	}}}
	if err := Migrate(ctx, db, bad); err == nil {
		t.Fatal("expected migration error")
	}
	if v, _ := Version(ctx, db); v != 0 {
		t.Errorf("Version = %d, want 0", v)
	}
	var n int
	_ = db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE name = 'b'").Scan(&n)
	if n != 0 {
		t.Error("table from failed migration survived")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	db := openTest(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE u (id TEXT PRIMARY KEY)"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO u VALUES ('a')"); err != nil {
		t.Fatal(err)
	}
	_, err := db.ExecContext(ctx, "INSERT INTO u VALUES ('a')")
	if got := resilience.KindOf(Classify(err)); got != resilience.KindIntegrity {
		t.Errorf("constraint kind = %q, want integrity", got)
	}

	if got := resilience.KindOf(Classify(fmt.Errorf("wrapped: %w", sql.ErrConnDone))); got != resilience.KindConnection {
		t.Errorf("conn done kind = %q", got)
	}
	plain := errors.New("plain")
	if Classify(plain) != plain {
		t.Error("untyped errors must pass through")
	}
	if Classify(nil) != nil {
		t.Error("nil must stay nil")
	}
}
