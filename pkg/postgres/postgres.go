// Package postgres wraps database/sql with the lib/pq driver: connection
// pool setup, transactions, and the schema the services share.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/umrum/umrum/pkg/config"
)

//go:embed schema.sql
var schema string

type Client struct {
	DB *sql.DB
}

// New opens a pool and verifies it with a ping.
func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db}, nil
}

// FromDB wraps an already-open pool.
func FromDB(db *sql.DB) *Client {
	return &Client{DB: db}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// Migrate creates any missing tables and indexes. It is idempotent.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
