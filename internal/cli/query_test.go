package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryAndExec(t *testing.T) {
	dsn := tempDSN(t)

	out, err := execute(t, "exec", "--dsn", dsn, "CREATE TABLE orgs (id INTEGER PRIMARY KEY, name TEXT NOT NULL)")
	require.NoError(t, err)
	assert.Contains(t, out, "rows affected")

	out, err = execute(t, "exec", "--dsn", dsn, "INSERT INTO orgs (name) VALUES (?), (?)", "acme", "globex")
	require.NoError(t, err)
	assert.Equal(t, "2 rows affected\n", out)

	out, err = execute(t, "query", "--dsn", dsn, "SELECT id, name FROM orgs WHERE name = ?", "globex")
	require.NoError(t, err)
	assert.Contains(t, out, "id")
	assert.Contains(t, out, "globex")
	assert.Contains(t, out, "(1 rows)")

	out, err = execute(t, "query", "--dsn", dsn, "--format", "json", "SELECT COUNT(*) AS n FROM orgs")
	require.NoError(t, err)
	var resp struct {
		Status string           `json:"status"`
		Data   []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, float64(2), resp.Data[0]["n"])
}

func TestQuery_Empty(t *testing.T) {
	dsn := tempDSN(t)
	_, err := execute(t, "exec", "--dsn", dsn, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	out, err := execute(t, "query", "--dsn", dsn, "SELECT id FROM t")
	require.NoError(t, err)
	assert.Equal(t, "(0 rows)\n", out)

	out, err = execute(t, "query", "--dsn", dsn, "--format", "json", "SELECT id FROM t")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":[]}`, out)
}

func TestQuery_Failure(t *testing.T) {
	out, err := execute(t, "query", "--dsn", tempDSN(t), "SELECT * FROM missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [")
}

func TestQuery_MemoryHasNoRawStatements(t *testing.T) {
	_, err := execute(t, "query", "--driver", "memory", "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "does not run raw statements")
}

func TestQuery_MissingStatement(t *testing.T) {
	_, err := execute(t, "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}
