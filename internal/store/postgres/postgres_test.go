package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/polyarb?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "polyarb", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p%40ss@db:6432/polyarb?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6432, Database: "polyarb", User: "u", Password: "p@ss", SSLMode: "require"}))
}

func TestMigrationOrder(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_trade_results.sql", "002_audit_log.sql"}, names)
}

func TestListRecentQuery(t *testing.T) {
	q, args := listRecentQuery(domain.ListOpts{})
	assert.Contains(t, q, "ORDER BY executed_at DESC LIMIT $1")
	assert.Equal(t, []any{100}, args)

	since := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	q, args = listRecentQuery(domain.ListOpts{Strategy: "arb", Since: &since, Limit: 5, Offset: 10})
	assert.Contains(t, q, "AND strategy = $1 AND executed_at >= $2")
	assert.Contains(t, q, "LIMIT $3 OFFSET $4")
	assert.Equal(t, []any{"arb", since, 5, 10}, args)
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_trade_results.sql")
	assert.NoError(t, err)
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS trade_results")
}

func TestListAuditQuery(t *testing.T) {
	q, args := listAuditQuery(domain.ListOpts{Strategy: "command.halt", Limit: 20})
	assert.Contains(t, q, "AND event = $1")
	assert.Contains(t, q, "ORDER BY created_at DESC LIMIT $2")
	assert.Equal(t, []any{"command.halt", 20}, args)

	data, err := migrationsFS.ReadFile("migrations/002_audit_log.sql")
	assert.NoError(t, err)
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS audit_log")
}
