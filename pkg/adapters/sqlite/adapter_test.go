package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapgrid/pkg/adapter"
	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T) *Adapter {
	t.Helper()
	adp := New(nil)
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, adp.Connect(context.Background(), core.AdapterConfig{Path: path}))
	t.Cleanup(func() { _ = adp.Close() })
	return adp
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]any
		want    *Params
		wantErr bool
	}{
		{
			name: "defaults",
			want: &Params{BusyTimeout: 5000},
		},
		{
			name: "pragmas and timeout",
			input: map[string]any{
				"pragmas":      map[string]any{"journal_mode": "wal", "cache_size": -2000},
				"busy_timeout": "100",
			},
			want: &Params{
				Pragmas:     map[string]string{"journal_mode": "wal", "cache_size": "-2000"},
				BusyTimeout: 100,
			},
		},
		{
			name:    "unknown key",
			input:   map[string]any{"pragma": "x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParams(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		params *Params
		want   string
	}{
		{
			name:   "defaults",
			path:   "app.db",
			params: &Params{BusyTimeout: 5000},
			want:   "file:app.db?_pragma=busy_timeout%285000%29&_pragma=foreign_keys%281%29",
		},
		{
			name:   "explicit foreign keys and read only",
			path:   "app.db",
			params: &Params{BusyTimeout: 10, Pragmas: map[string]string{"foreign_keys": "0", "Journal_Mode": "wal"}, ReadOnly: true},
			want:   "file:app.db?_pragma=busy_timeout%2810%29&_pragma=journal_mode%28wal%29&_pragma=foreign_keys%280%29&mode=ro",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildDSN(tt.path, tt.params))
		})
	}
}

func TestAdapter_ConnectInMemory(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)
	require.NoError(t, adp.Connect(ctx, core.AdapterConfig{}))
	defer func() { _ = adp.Close() }()

	assert.Equal(t, "sqlite://:memory:", adp.ConnectionID())
	require.NoError(t, adp.Exec(ctx, "CREATE TABLE t (x INTEGER)"))
	require.NoError(t, adp.Exec(ctx, "INSERT INTO t VALUES (1)"))

	var n int
	require.NoError(t, adp.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestAdapter_NotConnected(t *testing.T) {
	_, err := New(nil).DescribeEntity(context.Background(), "t")
	assert.ErrorIs(t, err, core.ErrNotConnected)
	assert.NoError(t, New(nil).Close())
}

func TestAdapter_DescribeEntity(t *testing.T) {
	tests := []struct {
		name      string
		setup     []string
		table     string
		wantErr   bool
		wantKey   []string
		wantGen   []string
		wantConst int
	}{
		{
			name:      "rowid alias primary key",
			setup:     []string{`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL UNIQUE, name TEXT)`},
			table:     "users",
			wantKey:   []string{"id"},
			wantGen:   []string{"id"},
			wantConst: 2,
		},
		{
			name:      "composite primary key",
			setup:     []string{`CREATE TABLE memberships (team TEXT, member TEXT, role TEXT DEFAULT 'viewer', PRIMARY KEY (member, team))`},
			table:     "memberships",
			wantKey:   []string{"member", "team"},
			wantGen:   []string{"role"},
			wantConst: 1,
		},
		{
			name: "unique index only",
			setup: []string{
				`CREATE TABLE tags (label TEXT, color TEXT)`,
				`CREATE UNIQUE INDEX tags_label ON tags (label)`,
				`CREATE INDEX tags_color ON tags (color)`,
			},
			table:     "main.tags",
			wantKey:   []string{"label"},
			wantConst: 1,
		},
		{
			name:    "missing table",
			table:   "nope",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			adp := connect(t)
			for _, stmt := range tt.setup {
				require.NoError(t, adp.Exec(ctx, stmt))
			}

			e, err := adp.DescribeEntity(ctx, tt.table)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, e.BestIdentifier().Columns)
			assert.Len(t, e.Constraints, tt.wantConst)
			assert.True(t, e.Has(core.CapSavepoints))

			var gen []string
			for _, c := range e.Columns {
				if c.Generated {
					gen = append(gen, c.Name)
				}
			}
			assert.Equal(t, tt.wantGen, gen)
		})
	}
}

func TestAdapter_PersistWithSavepoints(t *testing.T) {
	ctx := context.Background()
	adp := connect(t)
	require.NoError(t, adp.Exec(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE)`))
	require.NoError(t, adp.Exec(ctx, `INSERT INTO items (name) VALUES ('a'), ('b')`))

	src := adapter.NewSQLSource(adp, nil)
	ec, err := src.OpenSession(ctx, core.PurposeUtil)
	require.NoError(t, err)
	defer func() { _ = ec.Close() }()

	outcomes, err := ec.Persist(ctx, []*core.PersistAction{
		// Violates UNIQUE and is rolled back to its savepoint.
		{Kind: core.ActionUpdate, Entity: "items", Columns: []string{"name"}, Values: []any{"b"}, KeyColumns: []string{"id"}, KeyValues: []any{1}},
		{Kind: core.ActionInsert, Entity: "items", Columns: []string{"name"}, Values: []any{"c"}, Returning: []string{"id"}},
		{Kind: core.ActionDelete, Entity: "items", KeyColumns: []string{"id"}, KeyValues: []any{2}},
	}, core.PersistOptions{UseSavepoints: true})
	require.NoError(t, err)

	assert.False(t, outcomes[0].Succeeded())
	assert.True(t, outcomes[1].Succeeded())
	assert.EqualValues(t, 3, outcomes[1].Returned["id"])
	assert.True(t, outcomes[2].Succeeded())

	cur, _, err := ec.Read(ctx, core.DataContainer{Name: "items"}, nil, 0, 0)
	require.NoError(t, err)
	rows, err := cur.Fetch(ctx, 0, 0)
	require.NoError(t, err)
	require.NoError(t, cur.Close())
	assert.Equal(t, [][]any{{int64(1), "a"}, {int64(3), "c"}}, rows)
}

func TestAdapter_PersistAllOrNothing(t *testing.T) {
	ctx := context.Background()
	adp := connect(t)
	require.NoError(t, adp.Exec(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`))

	src := adapter.NewSQLSource(adp, nil)
	ec, err := src.OpenSession(ctx, core.PurposeUtil)
	require.NoError(t, err)
	defer func() { _ = ec.Close() }()

	outcomes, err := ec.Persist(ctx, []*core.PersistAction{
		{Kind: core.ActionInsert, Entity: "items", Columns: []string{"name"}, Values: []any{"ok"}},
		{Kind: core.ActionInsert, Entity: "items", Columns: []string{"name"}, Values: []any{nil}},
	}, core.PersistOptions{AllOrNothing: true})
	require.NoError(t, err)
	assert.ErrorIs(t, outcomes[0].Err, core.ErrRolledBack)
	assert.Error(t, outcomes[1].Err)

	n, err := ec.CountRows(ctx, core.DataContainer{Name: "items"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAdapter_Registry(t *testing.T) {
	for _, name := range []string{"sqlite", "sqlite3"} {
		canonical, factory, err := adapter.Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, "sqlite", canonical)
		_, ok := factory(nil).(*Adapter)
		assert.True(t, ok)
	}
}
