package duckdb

import (
	"context"
	"os"
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
	require.NoError(t, adp.Connect(context.Background(), core.AdapterConfig{Path: ":memory:"}))
	t.Cleanup(func() { _ = adp.Close() })
	return adp
}

func TestAdapter_Connect(t *testing.T) {
	tests := []struct {
		name      string
		setupPath func(t *testing.T) string
		verify    func(t *testing.T, path string)
	}{
		{
			name: "in-memory",
			setupPath: func(_ *testing.T) string {
				return ":memory:"
			},
		},
		{
			name: "file-based",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "test.duckdb")
			},
			verify: func(t *testing.T, path string) {
				_, err := os.Stat(path)
				assert.False(t, os.IsNotExist(err), "database file was not created")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			adp := New(nil)

			dbPath := tt.setupPath(t)
			require.NoError(t, adp.Connect(ctx, core.AdapterConfig{Path: dbPath}))
			defer func() { _ = adp.Close() }()

			assert.Equal(t, "duckdb://"+dbPath, adp.ConnectionID())
			if tt.verify != nil {
				tt.verify(t, dbPath)
			}
		})
	}
}

func TestAdapter_NotConnected(t *testing.T) {
	tests := []struct {
		name      string
		operation func(ctx context.Context, adp *Adapter) error
	}{
		{
			name: "exec without connect",
			operation: func(ctx context.Context, adp *Adapter) error {
				return adp.Exec(ctx, "SELECT 1")
			},
		},
		{
			name: "describe without connect",
			operation: func(ctx context.Context, adp *Adapter) error {
				_, err := adp.DescribeEntity(ctx, "t")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.operation(context.Background(), New(nil))
			assert.ErrorIs(t, err, core.ErrNotConnected)
		})
	}
}

func TestAdapter_Close(t *testing.T) {
	tests := []struct {
		name    string
		connect bool
	}{
		{"close without connect", false},
		{"close after connect", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			adp := New(nil)

			if tt.connect {
				require.NoError(t, adp.Connect(ctx, core.AdapterConfig{Path: ":memory:"}))
			}

			assert.NoError(t, adp.Close())
		})
	}
}

func TestAdapter_DescribeEntity(t *testing.T) {
	tests := []struct {
		name       string
		setup      string
		table      string
		wantErr    bool
		wantCols   int
		wantKey    []string
		wantPKCols []string
	}{
		{
			name: "primary key",
			setup: `CREATE TABLE products (
				product_id INTEGER PRIMARY KEY,
				name VARCHAR,
				price DOUBLE
			)`,
			table:      "products",
			wantCols:   3,
			wantKey:    []string{"product_id"},
			wantPKCols: []string{"product_id"},
		},
		{
			name: "unique only",
			setup: `CREATE TABLE tags (
				label VARCHAR UNIQUE,
				color VARCHAR
			)`,
			table:    "tags",
			wantCols: 2,
			wantKey:  []string{"label"},
		},
		{
			name:     "no keys",
			setup:    `CREATE TABLE events (at TIMESTAMP, payload VARCHAR)`,
			table:    "main.events",
			wantCols: 2,
		},
		{
			name:    "nonexistent table",
			table:   "nonexistent_table",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			adp := connect(t)
			if tt.setup != "" {
				require.NoError(t, adp.Exec(ctx, tt.setup))
			}

			e, err := adp.DescribeEntity(ctx, tt.table)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, e.Columns, tt.wantCols)
			assert.Equal(t, tt.wantKey, e.BestIdentifier().Columns)
			assert.True(t, e.Has(core.CapReturning))
			assert.False(t, e.Has(core.CapSavepoints))

			var pk []string
			for _, c := range e.Columns {
				if c.PrimaryKey {
					pk = append(pk, c.Name)
				}
			}
			assert.Equal(t, tt.wantPKCols, pk)
		})
	}
}

func TestAdapter_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	adp := connect(t)
	require.NoError(t, adp.Exec(ctx, `CREATE SEQUENCE item_ids START 1`))
	require.NoError(t, adp.Exec(ctx, `CREATE TABLE items (
		id INTEGER PRIMARY KEY DEFAULT nextval('item_ids'),
		name VARCHAR,
		qty INTEGER
	)`))
	require.NoError(t, adp.Exec(ctx, `INSERT INTO items (name, qty) VALUES ('apple', 3), ('pear', 5), ('plum', 1)`))

	src := adapter.NewSQLSource(adp, nil)
	ec, err := src.OpenSession(ctx, core.PurposeUserFilter)
	require.NoError(t, err)
	defer func() { _ = ec.Close() }()

	f := &core.DataFilter{}
	f.SetCondition("qty", core.OpGreaterEq, 2)
	f.ToggleSort("name", false, true, false)

	cur, _, err := ec.Read(ctx, core.DataContainer{Name: "items"}, f, 0, 10)
	require.NoError(t, err)
	rows, err := cur.Fetch(ctx, 0, 10)
	require.NoError(t, err)
	require.NoError(t, cur.Close())
	require.Len(t, rows, 2)
	assert.Equal(t, "pear", rows[0][1])
	assert.Equal(t, "apple", rows[1][1])

	n, err := ec.CountRows(ctx, core.DataContainer{Name: "items"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	outcomes, err := ec.Persist(ctx, []*core.PersistAction{
		{Kind: core.ActionInsert, Entity: "items", Columns: []string{"name", "qty"}, Values: []any{"fig", 7}, Returning: []string{"id"}},
		{Kind: core.ActionUpdate, Entity: "items", Columns: []string{"qty"}, Values: []any{9}, KeyColumns: []string{"id"}, KeyValues: []any{1}},
		{Kind: core.ActionDelete, Entity: "items", KeyColumns: []string{"id"}, KeyValues: []any{3}},
	}, core.PersistOptions{UseSavepoints: true})
	require.NoError(t, err)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
	}
	assert.EqualValues(t, 4, outcomes[0].Returned["id"])

	n, err = ec.CountRows(ctx, core.DataContainer{Name: "items"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestConnect_WithSettings(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)

	cfg := core.AdapterConfig{
		Path: ":memory:",
		Params: map[string]any{
			"settings": map[string]any{
				"threads": 2,
			},
		},
	}

	require.NoError(t, adp.Connect(ctx, cfg))
	defer func() { _ = adp.Close() }()

	var threadsSetting string
	require.NoError(t, adp.Conn().QueryRowContext(ctx, "SELECT current_setting('threads')").Scan(&threadsSetting))
	assert.Equal(t, "2", threadsSetting)
}

func TestConnect_WithInvalidParams(t *testing.T) {
	adp := New(nil)
	err := adp.Connect(context.Background(), core.AdapterConfig{
		Path:   ":memory:",
		Params: map[string]any{"bogus": true},
	})
	require.Error(t, err)
	assert.Nil(t, adp.Conn())
}

func TestConnect_WithEmptyParams(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)

	require.NoError(t, adp.Connect(ctx, core.AdapterConfig{Path: ":memory:", Params: map[string]any{}}))
	defer func() { _ = adp.Close() }()

	var one int
	require.NoError(t, adp.Conn().QueryRowContext(ctx, "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}
