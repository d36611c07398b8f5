package schema

import (
	"reflect"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
)

type testRef[T any] struct{ id any }

func (r testRef[T]) ReferencedType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }
func (r testRef[T]) RefID() any                   { return r.id }
func (r *testRef[T]) SetRefID(id any)             { r.id = id }

type testOrg struct {
	ID        int64          `db:"id,pk,fetch_on_create"`
	Name      string         `db:"name,unique,size=45"`
	Tag       *string        `db:"tag"`
	Settings  map[string]any `db:"settings"`
	CreatedAt time.Time      `db:"created_at,fetch_on_create"`
	UpdatedAt time.Time      `db:"updated_at,fetch_on_update"`
}

func (testOrg) TableName() string { return "orgs" }

type testUser struct {
	ID     uuid.UUID        `db:"id,pk,fetch_on_create"`
	OrgID  testRef[testOrg] `db:"org_id"`
	Email  string           `db:",unique"`
	Active bool
	Score  float64
	secret string
}

type testMembership struct {
	OrgID  int64  `db:"org_id,pk"`
	UserID string `db:"user_id,pk,uuid"`
	Role   string `db:"role,size=16"`
	Skip   string `db:"-"`
}

type timestamps struct {
	CreatedAt strfmt.DateTime `db:"created_at,fetch_on_create"`
}

type testAudit struct {
	timestamps
	ID       strfmt.UUID `db:"id,pk"`
	Payload  []byte
	Tags     []string
	LoggedBy testRef[testUser] `db:"logged_by,null"`
}
