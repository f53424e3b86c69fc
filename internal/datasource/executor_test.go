package datasource

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/askdb/internal/config"
)

func newTestExecutor(t *testing.T) *SQLExecutor {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, balance REAL, avatar BLOB);
		INSERT INTO customers (name, balance, avatar) VALUES ('alice', 10.5, x'6869'), ('bob', 3, NULL), ('carol', 7.25, NULL);`)
	require.NoError(t, err)
	return New(db, time.Second, nil)
}

func TestExecuteReturnsRows(t *testing.T) {
	e := newTestExecutor(t)

	rs, err := e.Execute(context.Background(), "SELECT name, balance, avatar FROM customers ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "balance", "avatar"}, rs.Columns)
	require.Equal(t, 3, rs.Len())
	assert.Equal(t, "alice", rs.Rows[0][0])
	assert.Equal(t, 10.5, rs.Rows[0][1])
	assert.Equal(t, "hi", rs.Rows[0][2], "blobs are returned as strings")
	assert.Nil(t, rs.Rows[1][2])
}

func TestExecuteEmptyResult(t *testing.T) {
	e := newTestExecutor(t)

	rs, err := e.Execute(context.Background(), "SELECT name FROM customers WHERE balance > 1000")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, rs.Columns)
	assert.NotNil(t, rs.Rows)
	assert.Equal(t, 0, rs.Len())
}

func TestExecuteReportsDatabaseErrors(t *testing.T) {
	e := newTestExecutor(t)

	_, err := e.Execute(context.Background(), "SELECT * FROM no_such_table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_table")
}

func TestResultSetPreviewAndRecords(t *testing.T) {
	rs := &ResultSet{
		Columns: []string{"id", "name"},
		Rows:    [][]any{{1, "a"}, {2, "b"}, {3, "c"}},
	}

	assert.Equal(t, 2, rs.Preview(2).Len())
	assert.Equal(t, 3, rs.Preview(0).Len())
	assert.Equal(t, 3, rs.Preview(10).Len())

	recs := rs.Preview(1).Records()
	require.Len(t, recs, 1)
	assert.Equal(t, map[string]any{"id": 1, "name": "a"}, recs[0])

	var nilSet *ResultSet
	assert.Equal(t, 0, nilSet.Len())
	assert.Nil(t, nilSet.Records())
}

func TestDriverName(t *testing.T) {
	cases := map[config.Driver]string{
		config.DriverSQLite:    "sqlite",
		config.DriverPostgres:  "pgx",
		config.DriverMySQL:     "mysql",
		config.DriverSQLServer: "sqlserver",
	}
	for driver, want := range cases {
		got, err := DriverName(driver)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := DriverName("oracle")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: config.DriverSQLite}, 0, nil)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	e, err := Open(context.Background(), config.DatabaseConfig{Driver: config.DriverSQLite, DSN: ":memory:"}, time.Second, nil)
	require.NoError(t, err)
	defer e.Close()

	rs, err := e.Execute(context.Background(), "SELECT 1 AS one")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rs.Rows[0][0])
}

func TestResultSetMarkdown(t *testing.T) {
	rs := &ResultSet{
		Columns: []string{"name", "total"},
		Rows:    [][]any{{"a|b", 1}, {nil, 2.5}, {"c", 3}},
	}

	md := rs.Markdown(2)
	assert.Equal(t, "| name | total |\n| --- | --- |\n| a\\|b | 1 |\n| NULL | 2.5 |\n\n(1 more rows)\n", md)

	var nilSet *ResultSet
	assert.Equal(t, "(no columns)", nilSet.Markdown(5))
}

func TestResultSetJSONKeepsNumbers(t *testing.T) {
	in := &ResultSet{
		Columns: []string{"id", "total", "ratio", "name", "note"},
		Rows:    [][]any{{int64(9007199254740993), int64(1234567), 0.25, "a", nil}},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out *ResultSet
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out)
	assert.Equal(t, in.Columns, out.Columns)
	assert.Equal(t, []any{int64(9007199254740993), int64(1234567), 0.25, "a", nil}, out.Rows[0])
	assert.Equal(t, in.Markdown(0), out.Markdown(0))
}

func TestMarkdownPrintsFloatsWithoutExponent(t *testing.T) {
	rs := &ResultSet{
		Columns: []string{"big", "small", "number"},
		Rows:    [][]any{{1234567.0, 0.000125, json.Number("42")}},
	}
	assert.Contains(t, rs.Markdown(0), "| 1234567 | 0.000125 | 42 |")
}
