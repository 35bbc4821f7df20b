// Package oceanbase provides the OceanBase (MySQL protocol) backend for the
// item and graph stores.
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/oceanbase/recall-go/pkg/storage/sqlstore"
)

// Client implements storage.ItemStore and storage.GraphStore using OceanBase.
type Client struct {
	*sqlstore.Store
}

// Config contains OceanBase configuration.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	CollectionName string
}

// DSN returns the go-sql-driver/mysql connection string for cfg.
//
// clientFoundRows makes UPDATE report matched rows, which the graph
// compare-and-swap relies on.
func (cfg *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&clientFoundRows=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
}

// NewClient creates a new OceanBase store client.
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	store, err := sqlstore.New(context.Background(), db, sqlstore.MySQL, cfg.CollectionName)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}
	return &Client{Store: store}, nil
}
