package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tablekit/internal/config"
	"github.com/roach88/tablekit/internal/schema"
	"github.com/roach88/tablekit/internal/testutil"
)

// createTestStore opens a SQLite store in a temp dir with the given tables.
func createTestStore(t *testing.T, tables ...*schema.Table) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.DSN = filepath.Join(t.TempDir(), "test.db")

	s, err := Open(cfg, WithIDGenerator(testutil.NewSequenceGenerator()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for _, tbl := range tables {
		require.NoError(t, s.CreateTable(context.Background(), tbl))
	}
	return s
}

func orgsTable() *schema.Table {
	return schema.MustTable("orgs",
		schema.Column{Name: "id", Kind: schema.KindInteger, PrimaryKey: true, FetchOnCreate: true},
		schema.Column{Name: "name", Kind: schema.KindText, Unique: true, MaxLength: 64},
		schema.Column{Name: "tag", Kind: schema.KindText, Nullable: true},
		schema.Column{Name: "active", Kind: schema.KindBool, Nullable: true},
		schema.Column{Name: "created_at", Kind: schema.KindTimestamp, FetchOnCreate: true},
		schema.Column{Name: "updated_at", Kind: schema.KindTimestamp, FetchOnUpdate: true},
	)
}

func tokensTable() *schema.Table {
	return schema.MustTable("tokens",
		schema.Column{Name: "id", Kind: schema.KindUUID, PrimaryKey: true, FetchOnCreate: true},
		schema.Column{Name: "owner", Kind: schema.KindText},
		schema.Column{Name: "scopes", Kind: schema.KindJSON, Nullable: true},
	)
}

func pairsTable() *schema.Table {
	return schema.MustTable("pairs",
		schema.Column{Name: "left_id", Kind: schema.KindInteger, PrimaryKey: true},
		schema.Column{Name: "right_id", Kind: schema.KindInteger, PrimaryKey: true},
		schema.Column{Name: "weight", Kind: schema.KindFloat},
	)
}
