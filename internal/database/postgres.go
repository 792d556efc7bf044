// Package database owns the shared Postgres pool and the schema
// bootstrap for the three BeadHub schemas: server (coordination
// state), beads (synced issues), and aweb (identity + messaging).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// DefaultQueryTimeout bounds every query issued through this package.
const DefaultQueryTimeout = 30 * time.Second

// Database wraps the shared connection pool. One instance serves all
// three schemas; transactions are per-handler.
type Database struct {
	db         *sql.DB
	instanceID string
	ownsPool   bool
}

// Rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// NewPostgres creates a PostgreSQL pool, verifies connectivity, and
// bootstraps the schemas. The returned Database owns the pool.
func NewPostgres(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	d := &Database{
		db:         db,
		instanceID: uuid.NewString(),
		ownsPool:   true,
	}

	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// NewFromPool wraps an already-initialised pool (library mode). The
// caller keeps ownership; Close becomes a no-op for the pool.
func NewFromPool(db *sql.DB) (*Database, error) {
	d := &Database{
		db:         db,
		instanceID: uuid.NewString(),
	}
	if err := d.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// DB exposes the underlying pool for packages that run their own
// queries and transactions.
func (d *Database) DB() *sql.DB {
	return d.db
}

// InstanceID identifies this pool for cache keys.
func (d *Database) InstanceID() string {
	return d.instanceID
}

// Ping checks liveness with a bounded context.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var one int
	if err := d.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database liveness check failed: %w", err)
	}
	return nil
}

// Close releases the pool if this Database owns it.
func (d *Database) Close() error {
	if !d.ownsPool {
		return nil
	}
	return d.db.Close()
}

// QueryContext applies the default timeout when the caller's context
// has no deadline.
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}
