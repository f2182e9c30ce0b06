package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapErr(t *testing.T) {
	if mapErr(nil) != nil {
		t.Error("mapErr(nil) should be nil")
	}
	if !errors.Is(mapErr(pgx.ErrNoRows), ErrNotFound) {
		t.Error("ErrNoRows should map to ErrNotFound")
	}
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "supplier_name_key"}
	if err := mapErr(dup); !errors.Is(err, ErrConflict) {
		t.Errorf("unique violation mapped to %v, want ErrConflict", err)
	}
	other := errors.New("boom")
	if mapErr(other) != other {
		t.Error("unknown errors should pass through")
	}
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("AEST", 10*60*60)
	got := dateOf(time.Date(2024, 7, 1, 23, 30, 0, 0, loc))
	want := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("dateOf() = %v, want %v", got, want)
	}
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"supplier", "supplier_product", "price_history", "upload"} {
		if !strings.Contains(Schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema missing table %s", table)
		}
	}
}
