// Package store is the SQL Backend: it runs queryir queries compiled by
// querysql against SQLite (github.com/mattn/go-sqlite3) or MySQL
// (github.com/go-sql-driver/mysql) through sqlx.
//
// # Ordering
//
// Every SELECT carries a deterministic ORDER BY giving insertion order:
// rowid on SQLite, the primary key on MySQL.
//
// # Generated values
//
//   - Integer fetch_on_create keys use AUTOINCREMENT / AUTO_INCREMENT
//   - Text and UUID fetch_on_create keys are generated client-side (UUIDv7)
//   - Managed timestamps come from CURRENT_TIMESTAMP
//
// SQLite returns generated values with RETURNING. MySQL has no RETURNING,
// so the store reads LastInsertId and re-selects the managed columns.
//
// # Transactions
//
// Begin opens a native transaction. Operations whose context carries the
// store's ambient transaction (backend.WithTx) run inside it; all others
// run on the pool. Statements on one transaction are serialized.
//
// # Database Configuration
//
// SQLite connections get the pragmas:
//
//   - journal_mode=WAL: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait on lock contention
//   - foreign_keys=ON: Enforce declared foreign keys
//
// and a single open connection, since SQLite has one writer at a time.
// MySQL DSNs are forced to parseTime=true, loc=UTC and
// clientFoundRows=true (so an UPDATE that changes nothing still reports a
// matched row).
package store
