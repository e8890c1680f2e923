package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/infra"
	"github.com/iamwavecut/ngguard/resources"
)

type sqliteClient struct {
	db    *sqlx.DB
	mutex sync.RWMutex
}

var _ db.Client = (*sqliteClient)(nil)

var migrationsSource = &migrate.EmbedFileSystemMigrationSource{
	FileSystem: resources.FS,
	Root:       "migrations",
}

// NewSQLiteClient opens dir/dbFile, applies pending migrations and returns a ready client.
func NewSQLiteClient(ctx context.Context, dir, dbFile string) (*sqliteClient, error) {
	workDir, err := infra.EnsureWorkDir(dir)
	if err != nil {
		return nil, err
	}
	dsn := filepath.Join(workDir, dbFile) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	dbx.SetMaxOpenConns(1)
	if err := dbx.PingContext(ctx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	n, err := Migrate(dbx.DB)
	if err != nil {
		_ = dbx.Close()
		return nil, err
	}
	if n > 0 {
		log.WithField("count", n).Info("applied migrations")
	}

	return &sqliteClient{db: dbx}, nil
}

func Migrate(conn *sql.DB) (int, error) {
	if _, _, err := migrate.PlanMigration(conn, "sqlite3", migrationsSource, migrate.Up, 0); err != nil {
		return 0, fmt.Errorf("plan migrations: %w", err)
	}
	n, err := migrate.Exec(conn, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	return n, nil
}

func (c *sqliteClient) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.db.Close()
}

// withTx runs fn in a transaction under the write lock.
func (c *sqliteClient) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
