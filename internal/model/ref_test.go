package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablekit/internal/dberr"
)

func TestRef_States(t *testing.T) {
	var zero Ref[Org]
	assert.Equal(t, RefNull, zero.State())
	assert.True(t, zero.IsNull())
	assert.Nil(t, zero.ID())

	assert.Equal(t, RefNull, RefTo[Org](nil).State())

	id := RefTo[Org](int64(7))
	assert.Equal(t, RefIdentifier, id.State())
	assert.Equal(t, int64(7), id.ID())
	_, err := id.Entity()
	assert.True(t, dberr.IsNestedNotResolved(err))

	org := &Org{ID: 3, Name: "acme"}
	resolved := RefOf(org)
	assert.Equal(t, RefResolved, resolved.State())
	got, err := resolved.Entity()
	require.NoError(t, err)
	assert.Same(t, org, got)

	var loaded Ref[Org]
	loaded.SetRefID(int64(9))
	assert.Equal(t, RefUnresolved, loaded.State())
	loaded.SetRefID(nil)
	assert.Equal(t, RefNull, loaded.State())

	assert.Equal(t, "unresolved", RefUnresolved.String())
}

func TestRef_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Org Ref[Org] `json:"org"`
	}{RefTo[Org](int64(5))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"org":5}`, string(data))

	var out struct {
		Org Ref[Org] `json:"org"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"org":12}`), &out))
	assert.Equal(t, int64(12), out.Org.ID())
	assert.Equal(t, RefUnresolved, out.Org.State())

	require.NoError(t, json.Unmarshal([]byte(`{"org":null}`), &out))
	assert.True(t, out.Org.IsNull())
}

func TestNestedResolutionGuard(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		org := &Org{Name: "acme"}
		require.NoError(t, e.orgs.Create(e.ctx, org))
		u := &User{Email: "ada@acme", Org: RefTo[Org](org.ID)}
		require.NoError(t, e.users.Create(e.ctx, u))

		loaded, err := e.users.Get(e.ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, RefUnresolved, loaded.Org.State())
		assert.Equal(t, org.ID, loaded.Org.ID())

		_, err = loaded.Org.Entity()
		assert.True(t, dberr.IsNestedNotResolved(err))

		require.NoError(t, loaded.Org.Resolve(e.ctx, WithRegistry(e.reg)))
		require.NoError(t, loaded.Org.Resolve(e.ctx, WithRegistry(e.reg)), "resolve is idempotent")
		nested, err := loaded.Org.Entity()
		require.NoError(t, err)
		assert.Equal(t, "acme", nested.Name)
	})
}

func TestGetWithRefs_ResolvesOneLevel(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		org := &Org{Name: "acme"}
		require.NoError(t, e.orgs.Create(e.ctx, org))
		boss := &User{Email: "boss@acme", Org: RefTo[Org](org.ID)}
		require.NoError(t, e.users.Create(e.ctx, boss))
		ada := &User{Email: "ada@acme", Org: RefTo[Org](org.ID), Manager: RefTo[User](boss.ID)}
		require.NoError(t, e.users.Create(e.ctx, ada))

		got, err := e.users.GetWithRefs(e.ctx, ada.ID)
		require.NoError(t, err)

		o, err := got.Org.Entity()
		require.NoError(t, err)
		assert.Equal(t, "acme", o.Name)

		m, err := got.Manager.Entity()
		require.NoError(t, err)
		assert.Equal(t, "boss@acme", m.Email)
		assert.Equal(t, RefUnresolved, m.Org.State(), "nested references stay unresolved")

		top, err := e.users.GetWithRefs(e.ctx, boss.ID)
		require.NoError(t, err)
		assert.True(t, top.Manager.IsNull())

		require.NoError(t, e.users.FetchWithRefs(e.ctx, ada))
		assert.Equal(t, RefResolved, ada.Manager.State())
	})
}

func TestSave_Nested(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		u := &User{Email: "new@acme", Org: RefOf(&Org{Name: "fresh"})}

		err := e.users.Create(e.ctx, u)
		assert.True(t, dberr.IsInvalidFieldValue(err), "unsaved nested entity needs WithNested, got %v", err)

		require.NoError(t, e.users.Create(e.ctx, u, WithNested()))
		require.NotNil(t, u.Org.ID())

		org, err := e.orgs.Get(e.ctx, u.Org.ID())
		require.NoError(t, err)
		assert.Equal(t, "fresh", org.Name)

		nested, err := u.Org.Entity()
		require.NoError(t, err)
		assert.Equal(t, org.ID, nested.ID)

		existing := &Org{Name: "existing"}
		require.NoError(t, e.orgs.Create(e.ctx, existing))
		v := &User{Email: "v@acme", Org: RefOf(existing)}
		require.NoError(t, e.users.Create(e.ctx, v))

		got, err := e.users.Get(e.ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, existing.ID, got.Org.ID())
	})
}

func TestSave_NestedRollsBackWithOwner(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		require.NoError(t, e.users.Create(e.ctx, &User{Email: "taken@acme", Org: RefTo[Org](1)}))

		u := &User{Email: "taken@acme", Org: RefOf(&Org{Name: "orphan"})}
		err := e.users.Create(e.ctx, u, WithNested())
		assert.True(t, dberr.IsIntegrity(err), "got %v", err)

		orgs, err := e.orgs.GetList(e.ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, orgs, "the nested insert is rolled back")
	})
}

func TestRefOf_IDFollowsEntity(t *testing.T) {
	org := &Org{Name: "acme"}
	ref := RefOf(org)
	assert.Nil(t, ref.ID(), "unsaved entity has no id")

	org.ID = 4
	assert.Equal(t, int64(4), ref.ID())
	assert.Equal(t, int64(4), ref.RefID())

	data, err := json.Marshal(ref)
	require.NoError(t, err)
	assert.JSONEq(t, `4`, string(data))
}

func TestRefOf_InFiltersAndUpdates(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		acme := &Org{Name: "acme"}
		globex := &Org{Name: "globex"}
		require.NoError(t, e.orgs.Create(e.ctx, acme))
		require.NoError(t, e.orgs.Create(e.ctx, globex))

		boss := &User{Email: "boss@acme", Org: RefTo[Org](acme.ID)}
		require.NoError(t, e.users.Create(e.ctx, boss))
		ada := &User{Email: "ada@acme", Org: RefOf(acme)}
		require.NoError(t, e.users.Create(e.ctx, ada))

		got, err := e.users.GetList(e.ctx, Filter{"org_id": RefOf(acme)})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = e.users.GetList(e.ctx, Filter{"org_id": []Ref[Org]{RefOf(globex)}})
		require.NoError(t, err)
		assert.Empty(t, got)

		require.NoError(t, e.users.UpdateRecord(e.ctx, ada.ID, Values{"manager_id": RefOf(boss)}))
		require.NoError(t, e.users.UpdateRecord(e.ctx, ada.ID, Values{"Org": RefOf(globex)}))

		loaded, err := e.users.Get(e.ctx, ada.ID)
		require.NoError(t, err)
		assert.Equal(t, boss.ID, loaded.Manager.ID())
		assert.Equal(t, globex.ID, loaded.Org.ID())

		got, err = e.users.GetList(e.ctx, Filter{"manager_id": boss})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, ada.ID, got[0].ID)
	})
}

func TestRefOf_UnsavedEntityIsRejected(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		acme := &Org{Name: "acme"}
		require.NoError(t, e.orgs.Create(e.ctx, acme))
		ada := &User{Email: "ada@acme", Org: RefOf(acme)}
		require.NoError(t, e.users.Create(e.ctx, ada))

		_, err := e.users.GetList(e.ctx, Filter{"org_id": RefOf(&Org{Name: "draft"})})
		assert.True(t, dberr.IsInvalidQuery(err), "got %v", err)

		_, err = e.users.GetList(e.ctx, Filter{"org_id": []any{RefOf(acme), &Org{Name: "draft"}}})
		assert.True(t, dberr.IsInvalidQuery(err), "got %v", err)

		err = e.users.UpdateRecord(e.ctx, ada.ID, Values{"manager_id": RefOf(&User{Email: "draft@acme"})})
		assert.True(t, dberr.IsInvalidFieldValue(err), "got %v", err)

		err = e.users.Create(e.ctx, &User{Email: "eve@acme", Org: RefOf(acme), Manager: RefOf(&User{})})
		assert.True(t, dberr.IsInvalidFieldValue(err), "nullable reference to an unsaved entity, got %v", err)

		loaded, err := e.users.Get(e.ctx, ada.ID)
		require.NoError(t, err)
		assert.True(t, loaded.Manager.IsNull())
	})
}
