package adapter

import (
	"testing"

	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/leapstack-labs/leapgrid/pkg/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindParams(t *testing.T) {
	dollar := dialect.NewDialect("d").PlaceholderStyle(dialect.PlaceholderDollar).Build()
	question := dialect.NewDialect("q").Build()

	named := &core.Query{
		Text: "SELECT * FROM t WHERE a = :a AND b = :b OR a2 = :a",
		Params: []core.QueryParam{
			{Name: "a", Index: 1, Offset: 26},
			{Name: "b", Index: 2, Offset: 37},
			{Name: "a", Index: 3, Offset: 48},
		},
	}
	positional := &core.Query{
		Text:   "UPDATE t SET v = ? WHERE id = ?",
		Params: []core.QueryParam{{Index: 1, Offset: 17}, {Index: 2, Offset: 30}},
	}

	tests := []struct {
		name     string
		q        *core.Query
		d        *dialect.Dialect
		params   map[string]any
		wantSQL  string
		wantArgs []any
		wantErr  string
	}{
		{
			name:     "named to dollar",
			q:        named,
			d:        dollar,
			params:   map[string]any{"a": 1, "b": "x"},
			wantSQL:  "SELECT * FROM t WHERE a = $1 AND b = $2 OR a2 = $3",
			wantArgs: []any{1, "x", 1},
		},
		{
			name:     "positional to question",
			q:        positional,
			d:        question,
			params:   map[string]any{"1": "v", "2": 9},
			wantSQL:  "UPDATE t SET v = ? WHERE id = ?",
			wantArgs: []any{"v", 9},
		},
		{
			name:     "positional to dollar",
			q:        positional,
			d:        dollar,
			params:   map[string]any{"1": "v", "2": 9},
			wantSQL:  "UPDATE t SET v = $1 WHERE id = $2",
			wantArgs: []any{"v", 9},
		},
		{
			name:    "missing named",
			q:       named,
			d:       dollar,
			params:  map[string]any{"a": 1},
			wantErr: "missing value for parameter :b",
		},
		{
			name:    "no params",
			q:       core.NewQuery("SELECT 1"),
			d:       dollar,
			wantSQL: "SELECT 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := BindParams(tt.q, tt.d, tt.params)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", true},
		{"  select * from t", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"(SELECT 1) UNION (SELECT 2)", true},
		{"-- comment\nSELECT 1", true},
		{"/* c */ PRAGMA table_info(t)", true},
		{"INSERT INTO t VALUES (1) RETURNING id", true},
		{"INSERT INTO t VALUES (1)", false},
		{"UPDATE t SET a = 1", false},
		{"CREATE TABLE selections (id INT)", false},
		{"SELECTED", false},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, ReturnsRows(tt.sql))
		})
	}
}
