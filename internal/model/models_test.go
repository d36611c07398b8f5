package model

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tablekit/internal/backend"
	"github.com/roach88/tablekit/internal/config"
	"github.com/roach88/tablekit/internal/memory"
	"github.com/roach88/tablekit/internal/schema"
	"github.com/roach88/tablekit/internal/store"
	"github.com/roach88/tablekit/internal/testutil"
)

type Org struct {
	ID   int64  `db:"id,pk,fetch_on_create"`
	Name string `db:"name,required,size=45"`
	Tag  string `db:"tag"`
}

type User struct {
	ID        string    `db:"id,pk,fetch_on_create,uuid"`
	Org       Ref[Org]  `db:"org_id"`
	Manager   Ref[User] `db:"manager_id,null"`
	Email     string    `db:"email,unique"`
	CreatedAt time.Time `db:"created_at,fetch_on_create"`
	UpdatedAt time.Time `db:"updated_at,fetch_on_update"`
}

type Membership struct {
	OrgID  int64  `db:"org_id,pk"`
	UserID string `db:"user_id,pk"`
	Role   string `db:"role"`
}

// env is one backend with repositories for the test entities.
type env struct {
	ctx         context.Context
	b           backend.Backend
	reg         *schema.Registry
	orgs        *Repo[Org]
	users       *Repo[User]
	memberships *Repo[Membership]
}

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	schema.MustRegister[Org](reg, "orgs")
	schema.MustRegister[User](reg, "users")
	schema.MustRegister[Membership](reg, "memberships")
	return reg
}

func newEnv(t *testing.T, b backend.Backend, reg *schema.Registry) *env {
	t.Helper()
	return &env{
		ctx:         backend.WithBackend(context.Background(), b),
		b:           b,
		reg:         reg,
		orgs:        MustNew[Org](WithRegistry(reg)),
		users:       MustNew[User](WithRegistry(reg)),
		memberships: MustNew[Membership](WithRegistry(reg)),
	}
}

// eachBackend runs fn against the in-memory backend and a SQLite store.
func eachBackend(t *testing.T, fn func(t *testing.T, e *env)) {
	t.Run("memory", func(t *testing.T) {
		reg := newRegistry(t)
		b := memory.New(
			memory.WithClock(testutil.NewStepClock()),
			memory.WithIDGenerator(testutil.NewSequenceGenerator()),
		)
		fn(t, newEnv(t, b, reg))
	})

	t.Run("sqlite", func(t *testing.T) {
		reg := newRegistry(t)
		cfg := config.Default()
		cfg.DSN = filepath.Join(t.TempDir(), "model.db")
		s, err := store.Open(cfg, store.WithIDGenerator(testutil.NewSequenceGenerator()))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })

		for _, tbl := range reg.Tables() {
			require.NoError(t, s.CreateTable(context.Background(), tbl))
		}
		fn(t, newEnv(t, s, reg))
	})
}
