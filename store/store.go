package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"stockcore/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

// conn is satisfied by both *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every statement the service runs. It is embedded by DB
// (pool) and Tx (open transaction) so the same code serves both.
type Queries struct {
	conn    conn
	dialect Dialect
	driver  string
}

type DB struct {
	*sql.DB
	*Queries
	retryDelay time.Duration
}

type Tx struct {
	*sql.Tx
	*Queries
}

func Open(cfg *config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return openSQLite(cfg.SQLite.Path)
	case "postgres":
		return openPostgres(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func openSQLite(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers; callers must not use the pool
	// while holding a Tx.
	sqlDB.SetMaxOpenConns(1)
	db := newDB(sqlDB, sqliteDialect{}, "sqlite")
	if err := db.migrate(goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

func openPostgres(cfg *config.PostgresConfig) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db := newDB(sqlDB, postgresDialect{}, "postgres")
	if err := db.migrate(goose.DialectPostgres, "migrations/postgres"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return db, nil
}

func newDB(sqlDB *sql.DB, d Dialect, driver string) *DB {
	return &DB{
		DB:         sqlDB,
		Queries:    &Queries{conn: sqlDB, dialect: d, driver: driver},
		retryDelay: 100 * time.Millisecond,
	}
}

func (db *DB) migrate(dialect goose.Dialect, dir string) error {
	sub, err := fs.Sub(migrations, dir)
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(dialect, db.DB, sub)
	if err != nil {
		return err
	}
	_, err = p.Up(context.Background())
	return err
}

// SetRetryDelay sets the pause before a transaction is re-run after a
// transient failure.
func (db *DB) SetRetryDelay(d time.Duration) {
	if d > 0 {
		db.retryDelay = d
	}
}

func (q *Queries) DriverName() string { return q.driver }

// Q rewrites ? placeholders and datetime literals for PostgreSQL, passes through for SQLite.
func (q *Queries) Q(query string) string {
	if q.driver == "postgres" {
		query = strings.ReplaceAll(query, "datetime('now','localtime')", "NOW()")
		return Rebind(query)
	}
	return query
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.conn.ExecContext(ctx, q.Q(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.conn.QueryContext(ctx, q.Q(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.conn.QueryRowContext(ctx, q.Q(query), args...)
}

// insertID runs an INSERT ... RETURNING id. pgx does not implement LastInsertId.
func (q *Queries) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := q.queryRow(ctx, query+" RETURNING id", args...).Scan(&id)
	return id, err
}

// WithTx runs fn inside one transaction. The transaction is rolled back if
// fn returns an error. Transient connection failures re-run the whole
// transaction once.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	b := retry.WithMaxRetries(1, retry.NewConstant(db.retryDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := db.runTx(ctx, fn)
		if err != nil && IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (db *DB) runTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{Tx: sqlTx, Queries: &Queries{conn: sqlTx, dialect: db.dialect, driver: db.driver}}
	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LockMaterial serialises allocation and shortage work on one material for
// the rest of the transaction. SQLite already has a single writer.
func (tx *Tx) LockMaterial(ctx context.Context, materialID int64) error {
	if tx.driver != "postgres" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, materialID); err != nil {
		return fmt.Errorf("lock material %d: %w", materialID, err)
	}
	return nil
}
