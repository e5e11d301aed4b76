package db

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsOrdersAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_wallet_index.sql": {Data: []byte("CREATE INDEX x ON wallets (updated_at);")},
		"migrations/002_accounts.sql":     {Data: []byte("ALTER TABLE accounts ADD COLUMN phone TEXT;")},
		"migrations/README.md":            {Data: []byte("docs")},
		"migrations/draft.sql":            {Data: []byte("SELECT 1;")},
		"migrations/001_init.sql":         {Data: []byte("CREATE TABLE t (id INT);")},
	}

	got, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []int{1, 2, 10}, []int{got[0].Version, got[1].Version, got[2].Version})
	require.Equal(t, "wallet_index", got[2].Name)
	require.Equal(t, "CREATE TABLE t (id INT);", got[0].SQL)
}

func TestLoadMigrationsRejectsDuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/003_a.sql": {Data: []byte("SELECT 1;")},
		"migrations/3_b.sql":   {Data: []byte("SELECT 2;")},
	}
	_, err := LoadMigrations(fsys)
	require.ErrorContains(t, err, "version 3")
}

func TestPending(t *testing.T) {
	all := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}
	got := Pending(all, map[int]bool{1: true, 3: true})
	require.Len(t, got, 1)
	require.Equal(t, 2, got[0].Version)
}

func TestEmbeddedSchema(t *testing.T) {
	got, err := LoadMigrations(migrationFiles)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.Equal(t, 1, got[0].Version)

	schema := got[0].SQL
	for _, table := range []string{"accounts", "escrow_entries", "delivery_versions", "wallets", "wallet_entries", "withdrawal_requests"} {
		require.True(t, strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" "), table)
	}
	require.Contains(t, schema, "CHECK (balance = available_for_withdrawal + pending_withdrawal)")
}
