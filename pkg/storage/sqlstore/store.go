// Package sqlstore implements the item and graph stores on top of database/sql.
//
// The SQL is shared by every backend; a Dialect covers placeholder style,
// column types and upsert syntax. Driver-specific packages (sqlite, postgres,
// oceanbase) open the connection and hand it to New.
//
// Timestamps are stored as Unix nanoseconds and JSON-encoded columns carry
// tags, related ids, metadata and graph payloads.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/storage"
)

// itemColumns are the non-key columns of the items table, in bind order.
var itemColumns = []string{
	"layer", "kind", "content", "importance", "decay_rate",
	"tags", "related_ids", "metadata", "access_count", "last_accessed_at",
	"created_at", "updated_at", "deleted_at", "version",
}

var itemKeys = []string{"tenant_id", "id"}

// Store implements storage.ItemStore and storage.GraphStore over a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect

	// table is the items table; versionTable and graphTable derive from it.
	table        string
	versionTable string
	graphTable   string
}

var (
	_ storage.ItemStore  = (*Store)(nil)
	_ storage.GraphStore = (*Store)(nil)
)

// New wraps db and creates the tables if they do not exist.
//
// Parameters:
//   - db: An open connection pool
//   - dialect: The SQL dialect of db
//   - table: Base table name; "<table>_versions" and "<table>_graphs" are created alongside
func New(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*Store, error) {
	if table == "" {
		table = "memory_items"
	}
	s := &Store{
		db:           db,
		dialect:      dialect,
		table:        table,
		versionTable: table + "_versions",
		graphTable:   table + "_graphs",
	}
	if err := s.initTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// initTables initializes the database table structure.
func (s *Store) initTables(ctx context.Context) error {
	d := s.dialect
	versionIndex := ""
	if d.DuplicateKeyUpdate {
		versionIndex = fmt.Sprintf(",\n\t\t\tKEY idx_%s_version (tenant_id, version)", s.table)
	}

	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			tenant_id %s NOT NULL,
			id %s NOT NULL,
			layer VARCHAR(32) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			content %s NOT NULL,
			importance DOUBLE PRECISION NOT NULL,
			decay_rate DOUBLE PRECISION NOT NULL,
			tags %s,
			related_ids %s,
			metadata %s,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed_at BIGINT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			deleted_at BIGINT,
			version BIGINT NOT NULL,
			PRIMARY KEY (tenant_id, id)%s
		)`, s.table, d.KeyType, d.KeyType, d.BlobType, d.BlobType, d.BlobType, d.BlobType, versionIndex),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			tenant_id %s NOT NULL PRIMARY KEY,
			version BIGINT NOT NULL
		)`, s.versionTable, d.KeyType),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			tenant_id %s NOT NULL PRIMARY KEY,
			version BIGINT NOT NULL,
			payload %s NOT NULL,
			updated_at BIGINT NOT NULL
		)`, s.graphTable, d.KeyType, d.BlobType),
	}
	if !d.DuplicateKeyUpdate {
		statements = append(statements, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_version ON %s(tenant_id, version)", s.table, s.table))
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Get retrieves a single item by id.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*model.MemoryItem, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE tenant_id = %s AND id = %s",
		selectColumns(), s.table, s.dialect.bind(1), s.dialect.bind(2))

	item, err := scanItem(s.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return item, nil
}

// Put inserts or replaces an item and assigns its version.
func (s *Store) Put(ctx context.Context, item *model.MemoryItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := s.nextVersion(ctx, tx, item.TenantID)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	args, err := itemArgs(item, version)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.upsert(s.table, itemKeys, itemColumns), args...); err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	item.Version = version
	return nil
}

// List returns items ordered by CreatedAt descending, then id.
func (s *Store) List(ctx context.Context, tenantID string, opts *storage.ListOptions) ([]*model.MemoryItem, error) {
	if opts == nil {
		opts = &storage.ListOptions{}
	}

	conditions := []string{"tenant_id = " + s.dialect.bind(1)}
	args := []interface{}{tenantID}
	if !opts.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL")
	}
	if opts.Layer != nil {
		args = append(args, string(*opts.Layer))
		conditions = append(conditions, "layer = "+s.dialect.bind(len(args)))
	}
	if len(opts.Kinds) > 0 {
		start := len(args) + 1
		for _, k := range opts.Kinds {
			args = append(args, string(k))
		}
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", s.dialect.binds(start, len(opts.Kinds))))
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY created_at DESC, id ASC",
		selectColumns(), s.table, strings.Join(conditions, " AND "))
	offset := opts.Offset
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", opts.Limit, opts.Offset)
		offset = 0
	}

	items, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	if offset > 0 {
		if offset >= len(items) {
			return []*model.MemoryItem{}, nil
		}
		items = items[offset:]
	}
	return items, nil
}

// SoftDelete tombstones an item.
func (s *Store) SoftDelete(ctx context.Context, tenantID, id string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SoftDelete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var deletedAt sql.NullInt64
	query := fmt.Sprintf("SELECT deleted_at FROM %s WHERE tenant_id = %s AND id = %s",
		s.table, s.dialect.bind(1), s.dialect.bind(2))
	err = tx.QueryRowContext(ctx, query, tenantID, id).Scan(&deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("SoftDelete: %w", err)
	}
	if deletedAt.Valid {
		return nil
	}

	version, err := s.nextVersion(ctx, tx, tenantID)
	if err != nil {
		return fmt.Errorf("SoftDelete: %w", err)
	}

	update := fmt.Sprintf("UPDATE %s SET deleted_at = %s, updated_at = %s, version = %s WHERE tenant_id = %s AND id = %s",
		s.table, s.dialect.bind(1), s.dialect.bind(2), s.dialect.bind(3), s.dialect.bind(4), s.dialect.bind(5))
	if _, err := tx.ExecContext(ctx, update, toNanos(at), toNanos(at), version, tenantID, id); err != nil {
		return fmt.Errorf("SoftDelete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("SoftDelete: %w", err)
	}
	return nil
}

// ChangesSince returns items with a version greater than sinceVersion.
func (s *Store) ChangesSince(ctx context.Context, tenantID string, sinceVersion int64) ([]*model.MemoryItem, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE tenant_id = %s AND version > %s ORDER BY version ASC",
		selectColumns(), s.table, s.dialect.bind(1), s.dialect.bind(2))

	items, err := s.query(ctx, query, tenantID, sinceVersion)
	if err != nil {
		return nil, fmt.Errorf("ChangesSince: %w", err)
	}
	return items, nil
}

// LoadGraph returns the last committed graph for the tenant.
func (s *Store) LoadGraph(ctx context.Context, tenantID string) (*storage.GraphRecord, error) {
	query := fmt.Sprintf("SELECT version, payload, updated_at FROM %s WHERE tenant_id = %s",
		s.graphTable, s.dialect.bind(1))

	var (
		version   int64
		payload   string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&version, &payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("LoadGraph: %w", err)
	}

	var rec storage.GraphRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("LoadGraph: %w", err)
	}
	rec.Version = version
	rec.UpdatedAt = fromNanos(updatedAt)
	return &rec, nil
}

// SaveGraph commits rec when the stored version equals expectedVersion.
func (s *Store) SaveGraph(ctx context.Context, tenantID string, rec *storage.GraphRecord, expectedVersion int64) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("SaveGraph: %w", err)
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	var result sql.Result
	if expectedVersion == 0 {
		query := s.dialect.insertIgnore(s.graphTable, []string{"tenant_id", "version", "payload", "updated_at"})
		result, err = s.db.ExecContext(ctx, query, tenantID, rec.Version, string(payload), toNanos(updatedAt))
	} else {
		d := s.dialect
		query := fmt.Sprintf("UPDATE %s SET version = %s, payload = %s, updated_at = %s WHERE tenant_id = %s AND version = %s",
			s.graphTable, d.bind(1), d.bind(2), d.bind(3), d.bind(4), d.bind(5))
		result, err = s.db.ExecContext(ctx, query, rec.Version, string(payload), toNanos(updatedAt), tenantID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("SaveGraph: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("SaveGraph: %w", err)
	}
	if affected == 0 {
		return model.ErrConflict
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// nextVersion bumps and returns the tenant's version counter inside tx.
func (s *Store) nextVersion(ctx context.Context, tx *sql.Tx, tenantID string) (int64, error) {
	if _, err := tx.ExecContext(ctx, s.dialect.increment(s.versionTable, "tenant_id", "version"), tenantID); err != nil {
		return 0, err
	}
	var version int64
	query := fmt.Sprintf("SELECT version FROM %s WHERE tenant_id = %s", s.versionTable, s.dialect.bind(1))
	if err := tx.QueryRowContext(ctx, query, tenantID).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*model.MemoryItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []*model.MemoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
