package dialect

import (
	"errors"
	"testing"
	"time"

	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiteral(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		d    *Dialect
		v    any
		want string
	}{
		{"nil", liteLike(), nil, "NULL"},
		{"bool words", pgLike(), true, "TRUE"},
		{"bool words false", pgLike(), false, "FALSE"},
		{"bool digits", liteLike(), true, "1"},
		{"int", liteLike(), 42, "42"},
		{"int64", liteLike(), int64(-7), "-7"},
		{"float", liteLike(), 1.5, "1.5"},
		{"string escaped", liteLike(), "O'Brien", "'O''Brien'"},
		{"bytes", liteLike(), []byte{0xde, 0xad}, "X'dead'"},
		{"time", liteLike(), ts, "'2024-03-01 10:30:00Z'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.Literal(tt.v))
		})
	}
}

func TestSelect(t *testing.T) {
	table := core.DataContainer{Name: "public.users"}

	filtered := &core.DataFilter{Where: "age > 18"}
	filtered.SetCondition("status", core.OpEqual, "open")
	filtered.SetCondition("tag", core.OpIn, "a", "b")
	filtered.SetCondition("deleted_at", core.OpIsNull)
	filtered.ToggleSort("name", false, true, false)

	tests := []struct {
		name     string
		d        *Dialect
		c        core.DataContainer
		f        *core.DataFilter
		offset   int
		maxRows  int
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "plain page",
			d:       liteLike(),
			c:       table,
			maxRows: 50,
			wantSQL: "SELECT * FROM public.users LIMIT 50",
		},
		{
			name:     "filter and order with dollar placeholders",
			d:        pgLike(),
			c:        table,
			f:        filtered,
			offset:   100,
			maxRows:  50,
			wantSQL:  `SELECT * FROM public.users WHERE status = $1 AND tag IN ($2, $3) AND deleted_at IS NULL AND (age > 18) ORDER BY name DESC LIMIT 50 OFFSET 100`,
			wantArgs: []any{"open", "a", "b"},
		},
		{
			name:    "query container offset only",
			d:       pgLike(),
			c:       core.DataContainer{Query: "SELECT 1 AS x;"},
			offset:  10,
			wantSQL: "SELECT * FROM (SELECT 1 AS x) src LIMIT ALL OFFSET 10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tt.d.Select(tt.c, tt.f, tt.offset, tt.maxRows)
			assert.Equal(t, tt.wantSQL, st.SQL)
			assert.Equal(t, tt.wantArgs, st.Args)
		})
	}
}

func TestCount(t *testing.T) {
	f := &core.DataFilter{}
	f.SetCondition("n", core.OpGreater, 3)
	f.ToggleSort("n", false, false, false)

	st := liteLike().Count(core.DataContainer{Name: "t"}, f)
	assert.Equal(t, "SELECT COUNT(*) FROM t WHERE n > ?", st.SQL)
	assert.Equal(t, []any{3}, st.Args)
}

func TestAction(t *testing.T) {
	tests := []struct {
		name     string
		d        *Dialect
		act      *core.PersistAction
		wantSQL  string
		wantArgs []any
	}{
		{
			name: "insert with returning",
			d:    pgLike(),
			act: &core.PersistAction{
				Kind: core.ActionInsert, Entity: "users",
				Columns: []string{"name", "order"}, Values: []any{"a", 1},
				Returning: []string{"id"},
			},
			wantSQL:  `INSERT INTO users (name, "order") VALUES ($1, $2) RETURNING id`,
			wantArgs: []any{"a", 1},
		},
		{
			name: "insert without returning support",
			d:    liteLike(),
			act: &core.PersistAction{
				Kind: core.ActionInsert, Entity: "users",
				Columns: []string{"name"}, Values: []any{"a"},
				Returning: []string{"id"},
			},
			wantSQL:  `INSERT INTO users (name) VALUES (?)`,
			wantArgs: []any{"a"},
		},
		{
			name: "update",
			d:    pgLike(),
			act: &core.PersistAction{
				Kind: core.ActionUpdate, Entity: "users",
				Columns: []string{"name"}, Values: []any{"b"},
				KeyColumns: []string{"id", "tenant"}, KeyValues: []any{7, nil},
			},
			wantSQL:  `UPDATE users SET name = $1 WHERE id = $2 AND tenant IS NULL`,
			wantArgs: []any{"b", 7},
		},
		{
			name: "delete",
			d:    liteLike(),
			act: &core.PersistAction{
				Kind: core.ActionDelete, Entity: "main.users",
				KeyColumns: []string{"id"}, KeyValues: []any{7},
			},
			wantSQL:  `DELETE FROM main.users WHERE id = ?`,
			wantArgs: []any{7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := tt.d.Action(tt.act)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, st.SQL)
			assert.Equal(t, tt.wantArgs, st.Args)
		})
	}
}

func TestAction_RequiresKey(t *testing.T) {
	_, err := liteLike().Action(&core.PersistAction{Kind: core.ActionDelete, Entity: "t"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &core.Error{Kind: core.KindIdentifier}))
}

func TestPreview(t *testing.T) {
	d := pgLike()

	sql, err := d.Preview(&core.PersistAction{
		Kind: core.ActionUpdate, Entity: "users",
		Columns: []string{"name", "active"}, Values: []any{"O'Hara", false},
		KeyColumns: []string{"id"}, KeyValues: []any{3},
	})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE users SET name = 'O''Hara', active = FALSE WHERE id = 3`, sql)

	sql, err = d.Preview(&core.PersistAction{Kind: core.ActionInsert, Entity: "users"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO users DEFAULT VALUES`, sql)
}

func TestSavepointStatements(t *testing.T) {
	d := pgLike()
	assert.Equal(t, "SAVEPOINT sp_1", d.SavepointSQL("sp_1"))
	assert.Equal(t, "ROLLBACK TO SAVEPOINT sp_1", d.RollbackToSQL("sp_1"))
	assert.Equal(t, "RELEASE SAVEPOINT sp_1", d.ReleaseSQL("sp_1"))
}
