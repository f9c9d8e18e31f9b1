package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ormkit/errors"
)

const sample = `
providers:
  - provider: main
    database: sqlite
    dsn: ":memory:"
    entities: [User, Post]
    auto_connect: true
    pool:
      max_open: 1
      max_lifetime: 5m
    cache:
      duration: 1500
  - provider: reports
    database: mysql
    host: db.internal
    user: ro
    password: secret
    schema: reports
events:
  transport: memory
  workers: 2
log:
  level: warn
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)

	main := cfg.Providers[0]
	assert.Equal(t, "main", main.Provider)
	assert.True(t, main.AutoConnect)
	assert.Equal(t, 1, main.Pool.MaxOpen)
	assert.Equal(t, 5*time.Minute, main.Pool.MaxLifetime)
	assert.Equal(t, 1500*time.Millisecond, main.CacheTTL())
	assert.True(t, main.HasEntity("Post"))
	assert.False(t, main.HasEntity("Comment"))
	assert.Equal(t, ":memory:", main.DataSourceName())

	reports, ok := cfg.Find("reports")
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), reports.CacheTTL())
	dsn := reports.DataSourceName()
	assert.Contains(t, dsn, "ro:secret@tcp(db.internal:3306)/reports")
	assert.Contains(t, dsn, "parseTime=true")

	require.NotNil(t, cfg.Events)
	assert.Equal(t, TransportMemory, cfg.Events.Transport)

	require.NotNil(t, cfg.Log)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.NotNil(t, cfg.Log.Logger())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(error) bool
	}{
		{
			name:  "duplicate provider",
			input: "providers:\n  - {provider: a, database: sqlite, dsn: x}\n  - {provider: a, database: sqlite, dsn: y}\n",
			check: errors.IsConflict,
		},
		{
			name:  "unknown database",
			input: "providers:\n  - {provider: a, database: oracle, dsn: x}\n",
			check: errors.IsConfiguration,
		},
		{
			name:  "missing name",
			input: "providers:\n  - {database: sqlite, dsn: x}\n",
			check: errors.IsConfiguration,
		},
		{
			name:  "sqlite without dsn",
			input: "providers:\n  - {provider: a, database: sqlite}\n",
			check: errors.IsConfiguration,
		},
		{
			name:  "bad yaml",
			input: "providers: [",
			check: errors.IsConfiguration,
		},
		{
			name:  "unknown log level",
			input: "log: {level: loud}\n",
			check: errors.IsConfiguration,
		},
		{
			name:  "unknown transport",
			input: "events: {transport: kafka}\n",
			check: errors.IsConfiguration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))

	path := filepath.Join(t.TempDir(), "ormkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Providers, 2)
}

func TestDataSourceName_ExpandsEnv(t *testing.T) {
	t.Setenv("ORMKIT_TEST_DB", "/tmp/app.db")
	p := Provider{Provider: "x", Database: DatabaseSQLite, DSN: "${ORMKIT_TEST_DB}"}
	assert.Equal(t, "/tmp/app.db", p.DataSourceName())
}
