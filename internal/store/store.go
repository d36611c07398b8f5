package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/tablekit/internal/backend"
	"github.com/roach88/tablekit/internal/config"
	"github.com/roach88/tablekit/internal/dberr"
	"github.com/roach88/tablekit/internal/ident"
	"github.com/roach88/tablekit/internal/querysql"
	"github.com/roach88/tablekit/internal/schema"
)

// Store is the SQL backend.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	db       *sqlx.DB
	dialect  schema.Dialect
	compiler *querysql.Compiler
	ids      ident.Generator
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator for text and UUID keys.
func WithIDGenerator(g ident.Generator) Option {
	return func(s *Store) { s.ids = g }
}

// Open connects to the database described by cfg.
//
// This function is idempotent - safe to call multiple times on the same
// SQLite file.
func Open(cfg config.Config, opts ...Option) (*Store, error) {
	dialect, err := schema.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch dialect {
	case schema.MySQL:
		connector, err := mysqlConnector(cfg.DSN)
		if err != nil {
			return nil, err
		}
		db = sql.OpenDB(connector)
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	default:
		db, err = sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	s, err := OpenDB(db, dialect, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDB wraps an existing connection pool. For SQLite the pool is limited
// to one connection and the pragmas are applied.
func OpenDB(db *sql.DB, dialect schema.Dialect, opts ...Option) (*Store, error) {
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect == schema.SQLite {
		// SQLite only supports one writer at a time, so limit connections.
		// The single connection also keeps pragmas and :memory: databases
		// alive across statements.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)

		if err := applyPragmas(db); err != nil {
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	s := &Store{
		db:       sqlx.NewDb(db, string(dialect)),
		dialect:  dialect,
		compiler: querysql.New(dialect),
		ids:      ident.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// mysqlConfig parses dsn and forces the options the store relies on. Text
// compares byte-wise, as it does in SQLite and the memory backend.
func mysqlConfig(dsn string) (*mysql.Config, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.ClientFoundRows = true
	if mc.Collation == "" {
		mc.Collation = "utf8mb4_bin"
	}
	return mc, nil
}

func mysqlConnector(dsn string) (driver.Connector, error) {
	mc, err := mysqlConfig(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	return connector, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Name implements backend.Backend.
func (s *Store) Name() string { return string(s.dialect) }

// Dialect returns the SQL dialect.
func (s *Store) Dialect() schema.Dialect { return s.dialect }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sqlx.DB for direct queries.
// Use with caution - statements on it bypass the ambient transaction.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// CreateTable creates t if it does not exist.
func (s *Store) CreateTable(ctx context.Context, t *schema.Table) error {
	if _, err := s.exec(ctx, schema.CreateTableSQL(t, s.dialect)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	slog.Debug("created table", "backend", s.Name(), "table", t.Name)
	return nil
}

// DropTable drops t if it exists.
func (s *Store) DropTable(ctx context.Context, t *schema.Table) error {
	if _, err := s.exec(ctx, schema.DropTableSQL(t, s.dialect)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", t.Name, err)
	}
	return nil
}

// Begin implements backend.Backend.
func (s *Store) Begin(ctx context.Context) (backend.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

// sqlTx serializes statements on one native transaction, since a
// database/sql transaction is bound to a single connection.
type sqlTx struct {
	mu sync.Mutex
	tx *sqlx.Tx
}

func (t *sqlTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// conn returns the executor for ctx: the ambient transaction if there is
// one, else the pool. The caller must call release when done with any
// rows.
func (s *Store) conn(ctx context.Context) (ext sqlx.ExtContext, release func()) {
	if tx, ok := backend.TxFrom(ctx, s); ok {
		if st, ok := tx.(*sqlTx); ok {
			st.mu.Lock()
			return st.tx, st.mu.Unlock
		}
	}
	return s.db, func() {}
}

// query runs a statement and decodes every row. Columns of t are
// normalized; other columns are returned as the driver produced them.
func (s *Store) query(ctx context.Context, t *schema.Table, stmt string, args ...any) ([]backend.Row, error) {
	ext, release := s.conn(ctx)
	defer release()

	slog.Debug("query", "backend", s.Name(), "sql", stmt)
	rows, err := ext.QueryxContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []backend.Row{}
	for rows.Next() {
		raw := map[string]any{}
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row, err := decodeRow(t, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// exec runs a statement and returns its result.
func (s *Store) exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	ext, release := s.conn(ctx)
	defer release()

	slog.Debug("exec", "backend", s.Name(), "sql", stmt)
	return ext.ExecContext(ctx, stmt, args...)
}

func decodeRow(t *schema.Table, raw map[string]any) (backend.Row, error) {
	row := make(backend.Row, len(raw))
	for name, v := range raw {
		if t == nil {
			row[name] = v
			continue
		}
		c, ok := t.Column(name)
		if !ok {
			row[name] = v
			continue
		}
		norm, err := c.Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", t.Name, name, err)
		}
		row[name] = norm
	}
	return row, nil
}

// mapError converts driver constraint violations to INTEGRITY_ERROR and
// wraps everything else with op.
func mapError(t *schema.Table, op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return dberr.Integrity(t.Name, err)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1048, // column cannot be null
			1062, // duplicate entry
			1451, // row is referenced
			1452: // referenced row missing
			return dberr.Integrity(t.Name, err)
		}
	}

	return fmt.Errorf("failed to %s %s: %w", op, t.Name, err)
}
