// Package sqlite provides the SQLite backend for the item and graph stores.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-node deployments. The connection pool is limited to one
// connection so writes are serialized by database/sql.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oceanbase/recall-go/pkg/storage/sqlstore"
)

// Client implements storage.ItemStore and storage.GraphStore using SQLite.
type Client struct {
	*sqlstore.Store
}

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the base name of the tables to use.
	CollectionName string
}

// NewClient creates a new SQLite store client.
//
// Parameters:
//   - cfg: Configuration containing database path and table name
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	store, err := sqlstore.New(context.Background(), db, sqlstore.SQLite, cfg.CollectionName)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	return &Client{Store: store}, nil
}
