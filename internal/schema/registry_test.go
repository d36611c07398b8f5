package schema

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablekit/internal/dberr"
)

func TestRegister_ExtractsColumns(t *testing.T) {
	reg := NewRegistry()

	tbl, err := Register[testOrg](reg, "orgs")
	require.NoError(t, err)

	assert.Equal(t, "orgs", tbl.Name)
	assert.Equal(t, []string{"id", "name", "tag", "settings", "created_at", "updated_at"}, tbl.ColumnNames())
	assert.Equal(t, []string{"id"}, tbl.PrimaryKey)

	id, ok := tbl.Column("id")
	require.True(t, ok)
	assert.Equal(t, KindInteger, id.Kind)
	assert.True(t, id.FetchOnCreate)

	name, _ := tbl.Column("name")
	assert.Equal(t, KindText, name.Kind)
	assert.True(t, name.Unique)
	assert.Equal(t, 45, name.MaxLength)

	tag, _ := tbl.Column("tag")
	assert.True(t, tag.Nullable)

	settings, _ := tbl.Column("settings")
	assert.Equal(t, KindJSON, settings.Kind)

	updated, _ := tbl.Column("updated_at")
	assert.Equal(t, KindTimestamp, updated.Kind)
	assert.True(t, updated.FetchOnUpdate)
	assert.True(t, tbl.HasManaged())
}

func TestRegister_DefaultNamesAndReferences(t *testing.T) {
	reg := NewRegistry()

	tbl, err := Register[testUser](reg, "users")
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "org_id", "email", "active", "score"}, tbl.ColumnNames())

	id, _ := tbl.Column("id")
	assert.Equal(t, KindUUID, id.Kind)

	refs := tbl.RefColumns()
	require.Len(t, refs, 1)
	assert.Equal(t, "org_id", refs[0].Name)
	assert.Equal(t, "OrgID", refs[0].Field)
	assert.Equal(t, reflect.TypeOf(testOrg{}), refs[0].Ref)
	assert.Equal(t, KindInteger, refs[0].RefKind)

	c, ok := tbl.Resolve("Email")
	require.True(t, ok)
	assert.Equal(t, "email", c.Name)
}

func TestRegister_CompositeKeyKeepsOrder(t *testing.T) {
	reg := NewRegistry()

	tbl, err := Register[testMembership](reg, "memberships")
	require.NoError(t, err)

	assert.Equal(t, []string{"org_id", "user_id"}, tbl.PrimaryKey)
	assert.Equal(t, []string{"org_id", "user_id", "role"}, tbl.ColumnNames())
	_, hasGenerated := tbl.GeneratedKey()
	assert.False(t, hasGenerated)
}

func TestRegister_FlattensEmbeddedStructs(t *testing.T) {
	reg := NewRegistry()

	tbl, err := Register[testAudit](reg, "audits")
	require.NoError(t, err)

	assert.Equal(t, []string{"created_at", "id", "payload", "tags", "logged_by"}, tbl.ColumnNames())
	created, _ := tbl.Column("created_at")
	assert.Equal(t, []int{0, 0}, created.Index)
	assert.Equal(t, KindTimestamp, created.Kind)

	payload, _ := tbl.Column("payload")
	assert.Equal(t, KindBlob, payload.Kind)
	tags, _ := tbl.Column("tags")
	assert.Equal(t, KindJSON, tags.Kind)

	logged, _ := tbl.Column("logged_by")
	assert.True(t, logged.Nullable)
	assert.Equal(t, KindUUID, logged.RefKind)
}

func TestRegister_IdempotentForSameName(t *testing.T) {
	reg := NewRegistry()

	first, err := Register[testOrg](reg, "orgs")
	require.NoError(t, err)
	second, err := Register[*testOrg](reg, "orgs")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestRegister_ConflictingName(t *testing.T) {
	reg := NewRegistry()

	_, err := Register[testOrg](reg, "orgs")
	require.NoError(t, err)

	_, err = Register[testOrg](reg, "organizations")
	require.Error(t, err)
	assert.True(t, dberr.IsConflictingRegistration(err))

	tbl, ok := reg.Lookup(reflect.TypeOf(testOrg{}))
	require.True(t, ok)
	assert.Equal(t, "orgs", tbl.Name)
}

func TestRegister_ConcurrentSameType(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	tables := make([]*Table, 8)
	for i := range tables {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tbl, err := Register[testOrg](reg, "orgs")
			assert.NoError(t, err)
			tables[i] = tbl
		}(i)
	}
	wg.Wait()

	for _, tbl := range tables[1:] {
		assert.Same(t, tables[0], tbl)
	}
}

func TestTableFor_AutoRegistersTabler(t *testing.T) {
	reg := NewRegistry()

	tbl, err := For[testOrg](reg)
	require.NoError(t, err)
	assert.Equal(t, "orgs", tbl.Name)

	_, err = For[testMembership](reg)
	assert.True(t, dberr.IsMisconfigured(err))
}

func TestTables_SortedByName(t *testing.T) {
	reg := NewRegistry()
	MustRegister[testUser](reg, "users")
	MustRegister[testOrg](reg, "orgs")

	var names []string
	for _, tbl := range reg.Tables() {
		names = append(names, tbl.Name)
	}
	assert.Equal(t, []string{"orgs", "users"}, names)
}

func TestRegister_Misconfigurations(t *testing.T) {
	type noKey struct {
		Name string
	}
	type badUpdate struct {
		ID   int64  `db:"id,pk"`
		Name string `db:"name,fetch_on_update"`
	}
	type badCreate struct {
		ID   int64  `db:"id,pk"`
		Name string `db:"name,fetch_on_create"`
	}
	type duplicate struct {
		ID   int64  `db:"id,pk"`
		Name string `db:"id"`
	}
	type badOption struct {
		ID int64 `db:"id,pk,autoincrement"`
	}
	type compositeGenerated struct {
		A int64 `db:"a,pk,fetch_on_create"`
		B int64 `db:"b,pk"`
	}
	type refToComposite struct {
		ID  int64                   `db:"id,pk"`
		Ref testRef[testMembership] `db:"ref"`
	}
	type unsupported struct {
		ID int64 `db:"id,pk"`
		Ch chan int
	}

	tests := []struct {
		name string
		typ  reflect.Type
	}{
		{"no primary key", reflect.TypeOf(noKey{})},
		{"fetch_on_update on text", reflect.TypeOf(badUpdate{})},
		{"fetch_on_create on text", reflect.TypeOf(badCreate{})},
		{"duplicate column", reflect.TypeOf(duplicate{})},
		{"unknown option", reflect.TypeOf(badOption{})},
		{"generated composite key", reflect.TypeOf(compositeGenerated{})},
		{"reference to composite key", reflect.TypeOf(refToComposite{})},
		{"unsupported type", reflect.TypeOf(unsupported{})},
		{"not a struct", reflect.TypeOf(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry().Register(tt.typ, "things")
			require.Error(t, err)
			assert.True(t, dberr.IsMisconfigured(err), "got %v", err)
		})
	}
}

func TestNewTable_WithoutType(t *testing.T) {
	tbl, err := NewTable("events",
		Column{Name: "id", Kind: KindInteger, PrimaryKey: true, FetchOnCreate: true},
		Column{Name: "kind", Kind: KindText},
	)
	require.NoError(t, err)

	assert.Nil(t, tbl.Type)
	gen, ok := tbl.GeneratedKey()
	require.True(t, ok)
	assert.Equal(t, "id", gen.Name)

	_, err = NewTable("bad name", Column{Name: "id", Kind: KindInteger, PrimaryKey: true})
	assert.True(t, dberr.IsMisconfigured(err))
}
