// Package postgres provides the PostgreSQL backend for the item and graph stores.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/oceanbase/recall-go/pkg/storage/sqlstore"
)

// Client implements storage.ItemStore and storage.GraphStore using PostgreSQL.
type Client struct {
	*sqlstore.Store
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	CollectionName string
	SSLMode        string
}

// DSN returns the lib/pq connection string for cfg.
func (cfg *Config) DSN() string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
}

// NewClient creates a new PostgreSQL store client.
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	store, err := sqlstore.New(context.Background(), db, sqlstore.Postgres, cfg.CollectionName)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}
	return &Client{Store: store}, nil
}
