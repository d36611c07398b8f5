package schema

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGolden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCreateTableSQL_Golden(t *testing.T) {
	reg := NewRegistry()
	orgs := MustRegister[testOrg](reg, "orgs")
	users := MustRegister[testUser](reg, "users")

	g := newGolden(t)
	g.Assert(t, "orgs_sqlite", []byte(CreateTableSQL(orgs, SQLite)))
	g.Assert(t, "orgs_mysql", []byte(CreateTableSQL(orgs, MySQL)))
	g.Assert(t, "users_sqlite", []byte(CreateTableSQL(users, SQLite)))
	g.Assert(t, "users_mysql", []byte(CreateTableSQL(users, MySQL)))

	assert.Contains(t, CreateTableSQL(orgs, MySQL), "COLLATE=utf8mb4_bin", "text compares case-sensitively")
}

func TestDropTableSQL(t *testing.T) {
	tbl := MustTable("events", Column{Name: "id", Kind: KindInteger, PrimaryKey: true})

	assert.Equal(t, `DROP TABLE IF EXISTS "events"`, DropTableSQL(tbl, SQLite))
	assert.Equal(t, "DROP TABLE IF EXISTS `events`", DropTableSQL(tbl, MySQL))
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("mysql")
	require.NoError(t, err)
	assert.Equal(t, MySQL, d)

	_, err = ParseDialect("postgres")
	assert.Error(t, err)
}
