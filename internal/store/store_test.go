package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablekit/internal/backend"
	"github.com/roach88/tablekit/internal/config"
	"github.com/roach88/tablekit/internal/dberr"
	"github.com/roach88/tablekit/internal/schema"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.DSN = filepath.Join(t.TempDir(), "test.db")

	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(cfg.DSN)
	assert.NoError(t, err, "database file was not created")
	assert.Equal(t, "sqlite3", s.Name())
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.pragma, func(t *testing.T) {
			var value string
			require.NoError(t, s.DB().QueryRow("PRAGMA "+tt.pragma).Scan(&value))
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Driver = "postgres"
	_, err := Open(cfg)
	assert.Error(t, err)
}

func TestMySQLConfig_ForcesOptions(t *testing.T) {
	mc, err := mysqlConfig("app:secret@tcp(db:3306)/tablekit")
	require.NoError(t, err)
	assert.True(t, mc.ParseTime)
	assert.Equal(t, time.UTC, mc.Loc)
	assert.True(t, mc.ClientFoundRows)
	assert.Equal(t, "utf8mb4_bin", mc.Collation, "text comparison is case-sensitive")

	mc, err = mysqlConfig("app:secret@tcp(db:3306)/tablekit?collation=utf8mb4_unicode_ci")
	require.NoError(t, err)
	assert.Equal(t, "utf8mb4_unicode_ci", mc.Collation, "an explicit collation is kept")

	_, err = mysqlConfig("not a dsn")
	assert.Error(t, err)
}

func TestOpenDB_WrapsExistingPool(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	s, err := OpenDB(db, schema.SQLite)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	orgs := orgsTable()
	require.NoError(t, s.CreateTable(ctx, orgs))
	_, err = s.Create(ctx, orgs, backend.Row{"name": "acme"})
	require.NoError(t, err)

	rows, err := s.GetList(ctx, orgs, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCreateTable_Idempotent(t *testing.T) {
	orgs := orgsTable()
	s := createTestStore(t, orgs)
	ctx := context.Background()

	require.NoError(t, s.CreateTable(ctx, orgs))
	require.NoError(t, s.DropTable(ctx, orgs))
	require.NoError(t, s.DropTable(ctx, orgs))

	_, err := s.GetList(ctx, orgs, nil)
	assert.Error(t, err)
}

func TestCreate_ReturnsGeneratedValues(t *testing.T) {
	orgs := orgsTable()
	s := createTestStore(t, orgs)
	ctx := context.Background()

	before := time.Now().UTC().Truncate(time.Second)
	got, err := s.Create(ctx, orgs, backend.Row{"name": "acme", "active": true})
	require.NoError(t, err)

	assert.Equal(t, int64(1), got["id"])
	created, ok := got["created_at"].(time.Time)
	require.True(t, ok, "created_at is %T", got["created_at"])
	assert.False(t, created.Before(before))
	assert.Equal(t, time.UTC, created.Location())
	assert.Contains(t, got, "updated_at")

	row, err := s.Get(ctx, orgs, backend.Row{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, "acme", row["name"])
	assert.Equal(t, true, row["active"])
	assert.Nil(t, row["tag"])
	assert.True(t, created.Equal(row["created_at"].(time.Time)))
}

func TestCreate_GeneratesUUIDKeys(t *testing.T) {
	tokens := tokensTable()
	s := createTestStore(t, tokens)
	ctx := context.Background()

	got, err := s.Create(ctx, tokens, backend.Row{"owner": "ada", "scopes": []string{"read"}})
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-7000-8000-000000000001", got["id"])

	row, err := s.Get(ctx, tokens, backend.Row{"id": got["id"]})
	require.NoError(t, err)
	assert.Equal(t, `["read"]`, row["scopes"])
}

func TestCreate_IntegrityErrors(t *testing.T) {
	orgs := orgsTable()
	s := createTestStore(t, orgs)
	ctx := context.Background()

	_, err := s.Create(ctx, orgs, backend.Row{"id": 1, "name": "acme"})
	require.NoError(t, err)

	tests := []struct {
		name string
		row  backend.Row
	}{
		{"duplicate key", backend.Row{"id": 1, "name": "other"}},
		{"duplicate unique", backend.Row{"name": "acme"}},
		{"missing not null", backend.Row{"tag": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, orgs, tt.row)
			assert.True(t, dberr.IsIntegrity(err), "got %v", err)
		})
	}
}

func TestCreateBatch_IsAtomic(t *testing.T) {
	orgs := orgsTable()
	s := createTestStore(t, orgs)
	ctx := context.Background()

	_, err := s.CreateBatch(ctx, orgs, []backend.Row{{"name": "a"}, {"name": "a"}})
	assert.True(t, dberr.IsIntegrity(err))

	rows, err := s.GetList(ctx, orgs, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	got, err := s.CreateBatch(ctx, orgs, []backend.Row{{"name": "a"}, {"name": "b"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0]["id"], got[1]["id"])
}

func TestGet_Errors(t *testing.T) {
	pairs := pairsTable()
	s := createTestStore(t, pairs)
	ctx := context.Background()

	_, err := s.Create(ctx, pairs, backend.Row{"left_id": 1, "right_id": 2, "weight": 0.5})
	require.NoError(t, err)

	row, err := s.Get(ctx, pairs, backend.Row{"left_id": 1, "right_id": 2})
	require.NoError(t, err)
	assert.Equal(t, 0.5, row["weight"])

	_, err = s.Get(ctx, pairs, backend.Row{"left_id": 2, "right_id": 1})
	assert.True(t, dberr.IsNotFound(err))

	_, err = s.Get(ctx, pairs, backend.Row{"left_id": 1})
	assert.True(t, dberr.IsInvalidQuery(err))
}

func TestGetList_FilterSemantics(t *testing.T) {
	orgs := orgsTable()
	s := createTestStore(t, orgs)
	ctx := context.Background()

	_, err := s.CreateBatch(ctx, orgs, []backend.Row{
		{"name": "c", "tag": "x"},
		{"name": "a", "tag": "y"},
		{"name": "b"},
	})
	require.NoError(t, err)

	names := func(rows []backend.Row) []any {
		out := []any{}
		for _, r := range rows {
			out = append(out, r["name"])
		}
		return out
	}

	tests := []struct {
		name   string
		filter backend.Filter
		want   []any
	}{
		{"insertion order", backend.Filter{}, []any{"c", "a", "b"}},
		{"equals", backend.Filter{"tag": "y"}, []any{"a"}},
		{"in", backend.Filter{"tag": []any{"y", "x"}}, []any{"c", "a"}},
		{"empty in", backend.Filter{"tag": []string{}}, []any{}},
		{"is null", backend.Filter{"tag": nil}, []any{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.GetList(ctx, orgs, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(rows))
		})
	}

	_, err = s.GetList(ctx, orgs, backend.Filter{"nope": 1})
	assert.True(t, dberr.IsInvalidQuery(err))
}

func TestUpdate(t *testing.T) {
	orgs := orgsTable()
	s := createTestStore(t, orgs)
	ctx := context.Background()

	_, err := s.CreateBatch(ctx, orgs, []backend.Row{{"name": "a"}, {"name": "b"}})
	require.NoError(t, err)

	got, err := s.Update(ctx, orgs, backend.Row{"id": 1}, backend.Row{"tag": "gold"})
	require.NoError(t, err)
	assert.IsType(t, time.Time{}, got["updated_at"])
	assert.Len(t, got, 1)

	row, err := s.Get(ctx, orgs, backend.Row{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, "gold", row["tag"])

	_, err = s.Update(ctx, orgs, backend.Row{"id": 1}, backend.Row{"name": "b"})
	assert.True(t, dberr.IsIntegrity(err))

	_, err = s.Update(ctx, orgs, backend.Row{"id": 1}, backend.Row{"id": 5})
	assert.True(t, dberr.IsInvalidQuery(err))

	_, err = s.Update(ctx, orgs, backend.Row{"id": 42}, backend.Row{"tag": "x"})
	assert.True(t, dberr.IsNotFound(err))
}

func TestUpdateWhere(t *testing.T) {
	orgs := orgsTable()
	s := createTestStore(t, orgs)
	ctx := context.Background()

	_, err := s.CreateBatch(ctx, orgs, []backend.Row{{"name": "a"}, {"name": "b"}, {"name": "c"}})
	require.NoError(t, err)

	got, err := s.UpdateWhere(ctx, orgs, backend.Filter{"id": []int{3, 1}}, backend.Row{"tag": "gold"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0]["name"])
	assert.Equal(t, "c", got[1]["name"])
	for _, row := range got {
		assert.Equal(t, "gold", row["tag"])
		assert.IsType(t, time.Time{}, row["updated_at"])
	}

	moved, err := s.UpdateWhere(ctx, orgs, backend.Filter{"tag": "gold"}, backend.Row{"tag": "silver"})
	require.NoError(t, err)
	assert.Len(t, moved, 2, "rows moved out of the filter are still returned")

	none, err := s.UpdateWhere(ctx, orgs, backend.Filter{"name": "zzz"}, backend.Row{"tag": "x"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = s.UpdateWhere(ctx, orgs, backend.Filter{"tag": "silver"}, backend.Row{"name": "same"})
	assert.True(t, dberr.IsIntegrity(err))
	rows, err := s.GetList(ctx, orgs, backend.Filter{"name": "same"})
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = s.UpdateWhere(ctx, orgs, backend.Filter{"colour": "red"}, backend.Row{"tag": "x"})
	assert.True(t, dberr.IsInvalidQuery(err))
}

func TestUpdate_WithoutManagedColumns(t *testing.T) {
	pairs := pairsTable()
	s := createTestStore(t, pairs)
	ctx := context.Background()

	_, err := s.Create(ctx, pairs, backend.Row{"left_id": 1, "right_id": 1, "weight": 1})
	require.NoError(t, err)

	got, err := s.Update(ctx, pairs, backend.Row{"left_id": 1, "right_id": 1}, backend.Row{"weight": 2})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Update(ctx, pairs, backend.Row{"left_id": 1, "right_id": 1}, backend.Row{})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.Update(ctx, pairs, backend.Row{"left_id": 9, "right_id": 9}, backend.Row{})
	assert.True(t, dberr.IsNotFound(err))
}

func TestDelete(t *testing.T) {
	orgs := orgsTable()
	s := createTestStore(t, orgs)
	ctx := context.Background()

	_, err := s.CreateBatch(ctx, orgs, []backend.Row{{"name": "a"}, {"name": "b"}, {"name": "c"}})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, orgs, backend.Row{"id": 1}))
	require.NoError(t, s.Delete(ctx, orgs, backend.Row{"id": 1}))
	require.NoError(t, s.DeleteWhere(ctx, orgs, backend.Filter{"name": []string{"b"}}))

	rows, err := s.GetList(ctx, orgs, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0]["name"])
}

func TestTransaction_RollbackAndCommit(t *testing.T) {
	orgs := orgsTable()
	s := createTestStore(t, orgs)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	txCtx := backend.WithTx(ctx, s, tx)
	_, err = s.Create(txCtx, orgs, backend.Row{"name": "a"})
	require.NoError(t, err)
	_, err = s.CreateBatch(txCtx, orgs, []backend.Row{{"name": "b"}})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")

	rows, err := s.GetList(ctx, orgs, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Create(backend.WithTx(ctx, s, tx), orgs, backend.Row{"name": "a"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	rows, err = s.GetList(ctx, orgs, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRaw_QueryAndExec(t *testing.T) {
	orgs := orgsTable()
	s := createTestStore(t, orgs)
	ctx := context.Background()

	_, err := s.CreateBatch(ctx, orgs, []backend.Row{{"name": "a"}, {"name": "b"}, {"name": "c"}})
	require.NoError(t, err)

	rows, err := s.Query(ctx, `SELECT name FROM orgs WHERE name IN (?) ORDER BY name DESC`, []string{"a", "c"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0]["name"])

	n, err := s.Exec(ctx, `UPDATE orgs SET tag = ? WHERE name <> ?`, "t", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Query(ctx, `SELECT * FROM missing_table`)
	assert.Error(t, err)
}

func TestMapError(t *testing.T) {
	orgs := orgsTable()
	err := mapError(orgs, "insert into", assert.AnError)
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, dberr.IsIntegrity(err))
	assert.Contains(t, err.Error(), "failed to insert into orgs")
}
