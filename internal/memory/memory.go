// Package memory is an in-process Backend for tests and local tooling.
//
// Rows live in a map of table name to insertion-ordered records. Filters,
// key lookups and constraint checks follow the same rules and error kinds
// as the SQL backend: primary-key, unique and NOT NULL violations fail with
// INTEGRITY_ERROR, missing rows with NOT_FOUND, bad filters with
// INVALID_QUERY.
//
// Transactions are an undo journal: every write performed under an ambient
// transaction registers its inverse, and Rollback replays the inverses in
// reverse order. Writes are visible to other readers before commit; there
// is no isolation.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tablekit/internal/backend"
	"github.com/roach88/tablekit/internal/dberr"
	"github.com/roach88/tablekit/internal/ident"
	"github.com/roach88/tablekit/internal/queryir"
	"github.com/roach88/tablekit/internal/schema"
)

// Clock supplies timestamps for fetch_on_create and fetch_on_update columns.
type Clock interface {
	Now() time.Time
}

// systemClock truncates to whole seconds, matching SQL CURRENT_TIMESTAMP.
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

type record struct {
	row backend.Row
}

type table struct {
	records []*record
	next    int64 // next generated integer key
}

// Backend stores rows in memory.
//
// Thread-safety: all methods are safe for concurrent use.
type Backend struct {
	mu     sync.RWMutex
	tables map[string]*table
	seed   map[string][]backend.Row
	clock  Clock
	ids    ident.Generator
}

// Option configures a Backend.
type Option func(*Backend)

// WithRecords seeds tables with rows. Seed rows are validated against the
// table descriptor the first time the table is used.
func WithRecords(records map[string][]backend.Row) Option {
	return func(b *Backend) {
		for name, rows := range records {
			b.seed[name] = append(b.seed[name], rows...)
		}
	}
}

// WithClock sets the clock for managed timestamps.
func WithClock(c Clock) Option {
	return func(b *Backend) { b.clock = c }
}

// WithIDGenerator sets the generator for text and UUID keys.
func WithIDGenerator(g ident.Generator) Option {
	return func(b *Backend) { b.ids = g }
}

// New creates an empty in-memory backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		tables: make(map[string]*table),
		seed:   make(map[string][]backend.Row),
		clock:  systemClock{},
		ids:    ident.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return "memory" }

// Begin implements backend.Backend.
func (b *Backend) Begin(ctx context.Context) (backend.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memTx{b: b}, nil
}

// Create implements backend.Backend.
func (b *Backend) Create(ctx context.Context, t *schema.Table, row backend.Row) (backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in, err := backend.CheckRow(t, row)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tbl, err := b.tableLocked(t)
	if err != nil {
		return nil, err
	}
	var undo []func()
	generated, err := b.insertLocked(t, tbl, in, &undo)
	if err != nil {
		return nil, err
	}
	b.journal(ctx, undo)
	slog.Debug("created row", "backend", b.Name(), "table", t.Name)
	return generated, nil
}

// CreateBatch implements backend.Backend. A failing row undoes the rows
// inserted before it.
func (b *Backend) CreateBatch(ctx context.Context, t *schema.Table, rows []backend.Row) ([]backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ins := make([]backend.Row, len(rows))
	for i, row := range rows {
		in, err := backend.CheckRow(t, row)
		if err != nil {
			return nil, err
		}
		ins[i] = in
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tbl, err := b.tableLocked(t)
	if err != nil {
		return nil, err
	}
	var undo []func()
	out := make([]backend.Row, 0, len(ins))
	for _, in := range ins {
		generated, err := b.insertLocked(t, tbl, in, &undo)
		if err != nil {
			replay(undo)
			return nil, err
		}
		out = append(out, generated)
	}
	b.journal(ctx, undo)
	slog.Debug("created rows", "backend", b.Name(), "table", t.Name, "count", len(out))
	return out, nil
}

// Get implements backend.Backend.
func (b *Backend) Get(ctx context.Context, t *schema.Table, key backend.Row) (backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pred, err := queryir.ForKey(t, key)
	if err != nil {
		return nil, err
	}

	tbl, unlock, err := b.readTable(t)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, rec := range tbl.records {
		if queryir.Match(pred, rec.row) {
			return clone(rec.row), nil
		}
	}
	return nil, dberr.NotFound(t.Name, map[string]any(key))
}

// GetList implements backend.Backend.
func (b *Backend) GetList(ctx context.Context, t *schema.Table, f backend.Filter) ([]backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pred, err := queryir.FromFilter(t, f)
	if err != nil {
		return nil, err
	}

	tbl, unlock, err := b.readTable(t)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rows := []backend.Row{}
	for _, rec := range tbl.records {
		if queryir.Match(pred, rec.row) {
			rows = append(rows, clone(rec.row))
		}
	}
	return rows, nil
}

// Update implements backend.Backend.
func (b *Backend) Update(ctx context.Context, t *schema.Table, key backend.Row, changes backend.Row) (backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pred, err := queryir.ForKey(t, key)
	if err != nil {
		return nil, err
	}
	set, err := backend.CheckChanges(t, changes)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tbl, err := b.tableLocked(t)
	if err != nil {
		return nil, err
	}

	var target *record
	for _, rec := range tbl.records {
		if queryir.Match(pred, rec.row) {
			target = rec
			break
		}
	}
	if target == nil {
		return nil, dberr.NotFound(t.Name, map[string]any(key))
	}

	updated := clone(target.row)
	for col, v := range set {
		updated[col] = v
	}
	refreshed := backend.Row{}
	if touched := backend.Touched(t); len(touched) > 0 {
		now := b.clock.Now().UTC()
		for _, col := range touched {
			updated[col] = now
			refreshed[col] = now
		}
	}
	if err := checkConstraints(t, tbl, updated, target); err != nil {
		return nil, err
	}

	old := target.row
	target.row = updated
	b.journal(ctx, []func(){func() { target.row = old }})
	slog.Debug("updated row", "backend", b.Name(), "table", t.Name)
	return refreshed, nil
}

// UpdateWhere implements backend.Backend.
func (b *Backend) UpdateWhere(ctx context.Context, t *schema.Table, f backend.Filter, changes backend.Row) ([]backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pred, err := queryir.FromFilter(t, f)
	if err != nil {
		return nil, err
	}
	set, err := backend.CheckChanges(t, changes)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tbl, err := b.tableLocked(t)
	if err != nil {
		return nil, err
	}

	var targets []*record
	for _, rec := range tbl.records {
		if queryir.Match(pred, rec.row) {
			targets = append(targets, rec)
		}
	}
	out := make([]backend.Row, 0, len(targets))
	if len(targets) == 0 {
		return out, nil
	}

	touched := backend.Touched(t)
	var now time.Time
	if len(touched) > 0 {
		now = b.clock.Now().UTC()
	}
	undo := make([]func(), 0, len(targets))
	for _, rec := range targets {
		updated := clone(rec.row)
		for col, v := range set {
			updated[col] = v
		}
		for _, col := range touched {
			updated[col] = now
		}
		if err := checkConstraints(t, tbl, updated, rec); err != nil {
			replay(undo)
			return nil, err
		}
		old := rec.row
		rec.row = updated
		undo = append(undo, func() { rec.row = old })
		out = append(out, clone(updated))
	}
	b.journal(ctx, undo)
	slog.Debug("updated rows", "backend", b.Name(), "table", t.Name, "count", len(out))
	return out, nil
}

// Delete implements backend.Backend.
func (b *Backend) Delete(ctx context.Context, t *schema.Table, key backend.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pred, err := queryir.ForKey(t, key)
	if err != nil {
		return err
	}
	return b.deleteMatching(ctx, t, pred)
}

// DeleteWhere implements backend.Backend.
func (b *Backend) DeleteWhere(ctx context.Context, t *schema.Table, f backend.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pred, err := queryir.FromFilter(t, f)
	if err != nil {
		return err
	}
	return b.deleteMatching(ctx, t, pred)
}

// CreateTable makes an empty table available. It exists so setup code can
// treat the memory and SQL backends alike.
func (b *Backend) CreateTable(ctx context.Context, t *schema.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.tableLocked(t)
	return err
}

// DropTable removes a table and its rows.
func (b *Backend) DropTable(ctx context.Context, t *schema.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tables, t.Name)
	delete(b.seed, t.Name)
	return nil
}

// Records returns a copy of every row in the named table, in insertion
// order.
func (b *Backend) Records(name string) []backend.Row {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows := []backend.Row{}
	tbl, ok := b.tables[name]
	if !ok {
		for _, row := range b.seed[name] {
			rows = append(rows, clone(row))
		}
		return rows
	}
	for _, rec := range tbl.records {
		rows = append(rows, clone(rec.row))
	}
	return rows
}

func (b *Backend) deleteMatching(ctx context.Context, t *schema.Table, pred queryir.Predicate) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tbl, err := b.tableLocked(t)
	if err != nil {
		return err
	}

	var (
		kept    []*record
		removed []int
		gone    []*record
	)
	for i, rec := range tbl.records {
		if !queryir.Match(pred, rec.row) {
			kept = append(kept, rec)
			continue
		}
		removed = append(removed, i)
		gone = append(gone, rec)
	}
	if len(gone) == 0 {
		return nil
	}
	tbl.records = kept
	// Reinsert in ascending position order so each index is valid again.
	b.journal(ctx, []func(){func() {
		for i, at := range removed {
			tbl.insertAt(at, gone[i])
		}
	}})
	slog.Debug("deleted rows", "backend", b.Name(), "table", t.Name, "count", len(gone))
	return nil
}

// insertLocked fills generated columns, checks constraints and appends the
// row. It returns the values of every managed column.
func (b *Backend) insertLocked(t *schema.Table, tbl *table, in backend.Row, undo *[]func()) (backend.Row, error) {
	full := make(backend.Row, len(t.Columns))
	for _, c := range t.Columns {
		full[c.Name] = in[c.Name]
	}

	prevNext := tbl.next
	if gen, ok := t.GeneratedKey(); ok {
		switch v := full[gen.Name].(type) {
		case nil:
			if gen.Kind == schema.KindInteger {
				full[gen.Name] = tbl.next
				tbl.next++
			} else {
				full[gen.Name] = b.ids.Generate()
			}
		case int64:
			if v >= tbl.next {
				tbl.next = v + 1
			}
		}
	}

	var now time.Time
	for _, c := range t.Columns {
		if c.Kind != schema.KindTimestamp || !c.Managed() || full[c.Name] != nil {
			continue
		}
		if now.IsZero() {
			now = b.clock.Now().UTC()
		}
		full[c.Name] = now
	}

	if err := checkConstraints(t, tbl, full, nil); err != nil {
		tbl.next = prevNext
		return nil, err
	}

	rec := &record{row: full}
	tbl.records = append(tbl.records, rec)
	*undo = append(*undo, func() {
		tbl.remove(rec)
		tbl.rewind(t, prevNext)
	})

	generated := backend.Row{}
	for _, c := range t.Columns {
		if c.Managed() {
			generated[c.Name] = full[c.Name]
		}
	}
	return generated, nil
}

// checkConstraints enforces NOT NULL, primary-key and unique constraints
// for row against every record except self.
func checkConstraints(t *schema.Table, tbl *table, row backend.Row, self *record) error {
	for _, c := range t.Columns {
		if !c.Nullable && row[c.Name] == nil {
			return dberr.Integrity(t.Name, fmt.Errorf("NOT NULL constraint failed: %s.%s", t.Name, c.Name)).WithFields(c.Name)
		}
	}

	for _, rec := range tbl.records {
		if rec == self {
			continue
		}
		samePK := true
		for _, k := range t.PrimaryKey {
			if !queryir.Equal(rec.row[k], row[k]) {
				samePK = false
				break
			}
		}
		if samePK {
			return dberr.Integrity(t.Name, errors.New("PRIMARY KEY constraint failed")).WithFields(t.PrimaryKey...)
		}
		for _, c := range t.Columns {
			if c.Unique && !c.PrimaryKey && queryir.Equal(rec.row[c.Name], row[c.Name]) {
				return dberr.Integrity(t.Name, fmt.Errorf("UNIQUE constraint failed: %s.%s", t.Name, c.Name)).WithFields(c.Name)
			}
		}
	}
	return nil
}

// tableLocked returns the table, creating it from seed rows on first use.
// b.mu must be held for writing.
func (b *Backend) tableLocked(t *schema.Table) (*table, error) {
	if tbl, ok := b.tables[t.Name]; ok {
		return tbl, nil
	}

	tbl := &table{next: 1}
	for i, raw := range b.seed[t.Name] {
		in, err := backend.CheckRow(t, raw)
		if err != nil {
			return nil, fmt.Errorf("seed row %d of %s: %w", i, t.Name, err)
		}
		var discard []func()
		if _, err := b.insertLocked(t, tbl, in, &discard); err != nil {
			return nil, fmt.Errorf("seed row %d of %s: %w", i, t.Name, err)
		}
	}
	delete(b.seed, t.Name)
	b.tables[t.Name] = tbl
	return tbl, nil
}

// readTable returns the table under a read lock, initializing it first if
// needed. The caller must call unlock.
func (b *Backend) readTable(t *schema.Table) (*table, func(), error) {
	b.mu.RLock()
	if tbl, ok := b.tables[t.Name]; ok {
		return tbl, b.mu.RUnlock, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	if _, err := b.tableLocked(t); err != nil {
		b.mu.Unlock()
		return nil, nil, err
	}
	b.mu.Unlock()
	return b.readTable(t)
}

// journal registers undo with the ambient transaction, if any. b.mu must
// be held.
func (b *Backend) journal(ctx context.Context, undo []func()) {
	if len(undo) == 0 {
		return
	}
	tx, ok := backend.TxFrom(ctx, b)
	if !ok {
		return
	}
	if mt, ok := tx.(*memTx); ok && mt.b == b {
		mt.add(undo)
	}
}

func (tbl *table) remove(rec *record) {
	for i, r := range tbl.records {
		if r == rec {
			tbl.records = append(tbl.records[:i], tbl.records[i+1:]...)
			return
		}
	}
}

// rewind lowers the key counter back to prev after an undone insert, but
// never to or below a key still held by a remaining record.
func (tbl *table) rewind(t *schema.Table, prev int64) {
	next := prev
	if gen, ok := t.GeneratedKey(); ok && gen.Kind == schema.KindInteger {
		for _, rec := range tbl.records {
			if id, ok := rec.row[gen.Name].(int64); ok && id >= next {
				next = id + 1
			}
		}
	}
	if next < tbl.next {
		tbl.next = next
	}
}

func (tbl *table) insertAt(i int, rec *record) {
	if i > len(tbl.records) {
		i = len(tbl.records)
	}
	tbl.records = append(tbl.records, nil)
	copy(tbl.records[i+1:], tbl.records[i:])
	tbl.records[i] = rec
}

func replay(undo []func()) {
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

func clone(row backend.Row) backend.Row {
	out := make(backend.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

var errTxDone = errors.New("memory: transaction has already been committed or rolled back")

// memTx is the undo journal of one transaction.
type memTx struct {
	b    *Backend
	mu   sync.Mutex
	undo []func()
	done bool
}

func (tx *memTx) add(undo []func()) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.done {
		tx.undo = append(tx.undo, undo...)
	}
}

// Commit discards the journal.
func (tx *memTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.undo = nil
	return nil
}

// Rollback replays the journal in reverse.
func (tx *memTx) Rollback() error {
	tx.b.mu.Lock()
	defer tx.b.mu.Unlock()
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	tx.done = true
	replay(tx.undo)
	tx.undo = nil
	return nil
}
