package dialect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind_Postgres(t *testing.T) {
	d := New("postgres")
	q := "SELECT * FROM t WHERE a = ? AND b IN (?, ?)"
	got := d.Rebind(q)
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got != want {
		t.Fatalf("Rebind mismatch\nwant: %s\ngot:  %s", want, got)
	}
}

func TestRebind_SkipsStringLiterals(t *testing.T) {
	d := New("postgres")
	got := d.Rebind("SELECT * FROM t WHERE name = 'what?' AND id = ?")
	assert.Equal(t, "SELECT * FROM t WHERE name = 'what?' AND id = $1", got)
}

func TestRebind_NoChangeForMySQLSQLite(t *testing.T) {
	tests := []struct {
		name string
		d    Dialect
	}{
		{"mysql", New("mysql")},
		{"sqlite", New("sqlite")},
		{"unknown", New("unknown")},
	}

	orig := "DELETE FROM t WHERE id = ? AND name = ?"
	for _, tt := range tests {
		if got := tt.d.Rebind(orig); got != orig {
			t.Fatalf("%s: expected no change, got %s", tt.name, got)
		}
	}
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "`users`.`email`", New("mysql").QuoteIdentifier("users.email"))
	assert.Equal(t, `"users"`, New("sqlite3").QuoteIdentifier("users"))
	assert.Equal(t, `"t".*`, New("postgres").QuoteIdentifier("t.*"))
	assert.Equal(t, "users", New("oracle").QuoteIdentifier("users"))
}

func TestLockClause(t *testing.T) {
	tests := []struct {
		dialect string
		level   string
		of      string
		skip    bool
		want    string
	}{
		{"sqlite", LockUpdate, "", false, ""},
		{"mysql", "", "", false, " FOR UPDATE"},
		{"mysql", LockKeyShare, "users", true, " FOR SHARE SKIP LOCKED"},
		{"postgres", LockKeyShare, "users", false, ` FOR KEY SHARE OF "users"`},
		{"postgres", LockUpdate, "", true, " FOR UPDATE SKIP LOCKED"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.dialect, tt.level), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.dialect).LockClause(tt.level, tt.of, tt.skip))
		})
	}
}

func TestColumnType(t *testing.T) {
	assert.Equal(t, "INTEGER", New("sqlite").ColumnType("boolean"))
	assert.Equal(t, "TEXT", New("sqlite").ColumnType("datetime"))
	assert.Equal(t, "TINYINT(1)", New("mysql").ColumnType("boolean"))
	assert.Equal(t, "JSON", New("mysql").ColumnType("array"))
	assert.Equal(t, "TIMESTAMPTZ", New("postgres").ColumnType("datetime"))
	assert.Contains(t, New("sqlite").AutoIncrementColumn(), "AUTOINCREMENT")
}

func TestLikeInsensitive(t *testing.T) {
	assert.Equal(t, `"name" ILIKE ?`, New("postgres").LikeInsensitive(`"name"`, false))
	assert.Equal(t, "LOWER(`name`) NOT LIKE LOWER(?)", New("mysql").LikeInsensitive("`name`", true))
}
