package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDialectUpsert(t *testing.T) {
	got := SQLite.upsert("items", []string{"tenant_id", "id"}, []string{"content"})
	assert.Equal(t, "INSERT INTO items (tenant_id, id, content) VALUES (?, ?, ?) ON CONFLICT (tenant_id, id) DO UPDATE SET content = excluded.content", got)

	got = Postgres.upsert("items", []string{"tenant_id", "id"}, []string{"content"})
	assert.Equal(t, "INSERT INTO items (tenant_id, id, content) VALUES ($1, $2, $3) ON CONFLICT (tenant_id, id) DO UPDATE SET content = excluded.content", got)

	got = MySQL.upsert("items", []string{"tenant_id", "id"}, []string{"content"})
	assert.Equal(t, "INSERT INTO items (tenant_id, id, content) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE content = VALUES(content)", got)
}

func TestDialectIncrement(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO v (tenant_id, version) VALUES ($1, 1) ON CONFLICT (tenant_id) DO UPDATE SET version = v.version + 1",
		Postgres.increment("v", "tenant_id", "version"))
	assert.Equal(t,
		"INSERT INTO v (tenant_id, version) VALUES (?, 1) ON DUPLICATE KEY UPDATE version = version + 1",
		MySQL.increment("v", "tenant_id", "version"))
}

func TestDialectInsertIgnore(t *testing.T) {
	assert.Equal(t, "INSERT IGNORE INTO g (a, b) VALUES (?, ?)", MySQL.insertIgnore("g", []string{"a", "b"}))
	assert.Equal(t, "INSERT INTO g (a, b) VALUES ($1, $2) ON CONFLICT DO NOTHING", Postgres.insertIgnore("g", []string{"a", "b"}))
}

func TestNanosRoundTrip(t *testing.T) {
	assert.True(t, fromNanos(0).IsZero())
	assert.Equal(t, int64(0), toNanos(fromNanos(0)))
}
