package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

// TestMessageImmutabilityBlocksUpdate verifies that UPDATE operations on
// messages are blocked by the database trigger with a hard failure.
func TestMessageImmutabilityBlocksUpdate(t *testing.T) {
	db, ctx := openIntegrationDB(t)
	defer db.Close()

	seedExchangeFixture(t, ctx, db, "upd")

	_, err := db.ExecContext(ctx, `
		UPDATE messages SET content = 'rewritten' WHERE id = 'msg-it-upd'
	`)
	if err == nil {
		t.Fatal("expected UPDATE to be blocked, but it succeeded")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000 (object_not_in_prerequisite_state), got: %s", pgErr.SQLState())
	}
	if pgErr.Message != "messages are immutable; UPDATE is not allowed" {
		t.Fatalf("unexpected error message: %s", pgErr.Message)
	}
}

// TestMessageImmutabilityBlocksDelete verifies that DELETE operations on
// messages are blocked by the database trigger with a hard failure.
func TestMessageImmutabilityBlocksDelete(t *testing.T) {
	db, ctx := openIntegrationDB(t)
	defer db.Close()

	seedExchangeFixture(t, ctx, db, "del")

	_, err := db.ExecContext(ctx, `DELETE FROM messages WHERE id = 'msg-it-del'`)
	if err == nil {
		t.Fatal("expected DELETE to be blocked, but it succeeded")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000 (object_not_in_prerequisite_state), got: %s", pgErr.SQLState())
	}
	if pgErr.Message != "messages are immutable; DELETE is not allowed" {
		t.Fatalf("unexpected error message: %s", pgErr.Message)
	}
}

// TestMessageInsertStillWorks verifies that appending messages continues to
// work with the guard triggers in place.
func TestMessageInsertStillWorks(t *testing.T) {
	db, ctx := openIntegrationDB(t)
	defer db.Close()

	seedExchangeFixture(t, ctx, db, "ins")

	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE id = 'msg-it-ins'`).Scan(&count)
	if err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 message, got %d", count)
	}
}

func openIntegrationDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := os.Getenv("STUDYHALL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STUDYHALL_TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db, ctx
}

// seedExchangeFixture inserts one owner/folder/space/message chain; suffix
// keeps fixtures from the three tests disjoint.
func seedExchangeFixture(t *testing.T, ctx context.Context, db *sql.DB, suffix string) {
	t.Helper()
	statements := []string{
		`INSERT INTO users (id, display_name, email, password_hash, is_email_verified)
		 VALUES ('usr-it-` + suffix + `', 'Fixture', 'fixture-` + suffix + `@studyhall.test', 'x', TRUE)
		 ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO folders (id, title, owner_id)
		 VALUES ('fld-it-` + suffix + `', 'Fixture folder', 'usr-it-` + suffix + `')
		 ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO spaces (id, folder_id, type, title)
		 VALUES ('sp-it-` + suffix + `', 'fld-it-` + suffix + `', 'chat', 'Fixture space')
		 ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO messages (id, space_id, role, content)
		 VALUES ('msg-it-` + suffix + `', 'sp-it-` + suffix + `', 'user', 'hello')
		 ON CONFLICT (id) DO NOTHING`,
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			t.Fatalf("seed fixture: %v", err)
		}
	}
}
