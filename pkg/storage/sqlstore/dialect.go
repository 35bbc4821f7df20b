package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	// Name is the dialect name used in logs and errors.
	Name string

	// DollarPlaceholders selects $1, $2 ... instead of ? markers.
	DollarPlaceholders bool

	// KeyType is the column type used for tenant and item ids.
	KeyType string

	// BlobType is the column type used for JSON payloads.
	BlobType string

	// DuplicateKeyUpdate selects MySQL-style upserts instead of ON CONFLICT.
	DuplicateKeyUpdate bool
}

var (
	// SQLite is the dialect for github.com/mattn/go-sqlite3.
	SQLite = Dialect{Name: "sqlite", KeyType: "TEXT", BlobType: "TEXT"}

	// Postgres is the dialect for github.com/lib/pq.
	Postgres = Dialect{Name: "postgres", DollarPlaceholders: true, KeyType: "TEXT", BlobType: "TEXT"}

	// MySQL is the dialect for OceanBase and MySQL through github.com/go-sql-driver/mysql.
	MySQL = Dialect{Name: "mysql", KeyType: "VARCHAR(191)", BlobType: "LONGTEXT", DuplicateKeyUpdate: true}
)

// bind returns the n-th (1-based) bind marker.
func (d Dialect) bind(n int) string {
	if d.DollarPlaceholders {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// binds returns count bind markers starting at start, comma separated.
func (d Dialect) binds(start, count int) string {
	marks := make([]string, count)
	for i := range marks {
		marks[i] = d.bind(start + i)
	}
	return strings.Join(marks, ", ")
}

// upsert builds an INSERT that replaces cols on a key conflict.
func (d Dialect) upsert(table string, keys, cols []string) string {
	all := append(append([]string{}, keys...), cols...)
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(all, ", "), d.binds(1, len(all)))

	sets := make([]string, len(cols))
	for i, c := range cols {
		if d.DuplicateKeyUpdate {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		} else {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
	}
	if d.DuplicateKeyUpdate {
		return query + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return query + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", "))
}

// increment builds an upsert that creates a counter at 1 or adds 1 to it.
func (d Dialect) increment(table, key, counter string) string {
	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, 1)", table, key, counter, d.bind(1))
	if d.DuplicateKeyUpdate {
		return query + fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = %s + 1", counter, counter)
	}
	return query + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s = %s.%s + 1", key, counter, table, counter)
}

// insertIgnore builds an INSERT that is a no-op when the key already exists.
func (d Dialect) insertIgnore(table string, cols []string) string {
	if d.DuplicateKeyUpdate {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), d.binds(1, len(cols)))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING", table, strings.Join(cols, ", "), d.binds(1, len(cols)))
}
