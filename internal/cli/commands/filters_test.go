package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapgrid/internal/cli/testutil"
	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func saveTestFilter(t *testing.T, dir string) string {
	t.Helper()
	f := &core.DataFilter{}
	f.SetCondition("qty", core.OpGreaterEq, 250)
	f.ToggleSort("qty", false, true, false)

	id := core.DataContainer{Connection: "sqlite://" + filepath.Join(dir, "data.db"), Name: "orders"}.ID()
	store := initStore(t, dir)
	require.NoError(t, store.SaveFilter(id, f))
	return id
}

func initStore(t *testing.T, dir string) core.Store {
	t.Helper()
	store := openTestStore(t, dir)
	require.NoError(t, store.InitSchema())
	return store
}

func TestNewFiltersCommand(t *testing.T) {
	cmd := NewFiltersCommand()

	assert.Equal(t, "filters", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"list", "export", "delete"}, names)
}

func TestFilters_List(t *testing.T) {
	dir := project(t)
	id := saveTestFilter(t, dir)

	res := testutil.Run(t, NewFiltersCommand(), "", "list")
	require.NoError(t, res.Err)
	assert.Contains(t, res.Out, id)
	assert.Contains(t, res.Out, "qty >= 250")
	assert.Contains(t, res.Out, "qty desc")
	assert.Contains(t, res.Out, "(1 rows)")
}

func TestFilters_ListEmpty(t *testing.T) {
	project(t)

	res := testutil.Run(t, NewFiltersCommand(), "", "list")
	require.NoError(t, res.Err)
	assert.Equal(t, "(0 rows)\n", res.Out)
}

func TestFilters_Export(t *testing.T) {
	dir := project(t)
	id := saveTestFilter(t, dir)

	res := testutil.Run(t, NewFiltersCommand(), "", "export")
	require.NoError(t, res.Err)

	var doc map[string]*core.DataFilter
	require.NoError(t, yaml.Unmarshal([]byte(res.Out), &doc))
	require.Contains(t, doc, id)
	c := doc[id].Constraint("qty")
	require.NotNil(t, c)
	assert.Equal(t, core.OpGreaterEq, c.Operator)
	assert.Equal(t, []any{250}, c.Values)
	assert.True(t, c.OrderDescending)

	file := filepath.Join(dir, "filters.yaml")
	res = testutil.Run(t, NewFiltersCommand(), "", "export", "--file", file)
	require.NoError(t, res.Err)
	assert.Contains(t, res.ErrOut, "1 filter(s) written")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "column: qty")
}

func TestFilters_Delete(t *testing.T) {
	dir := project(t)
	id := saveTestFilter(t, dir)

	res := testutil.Run(t, NewFiltersCommand(), "", "delete", id)
	require.NoError(t, res.Err)
	assert.Contains(t, res.Out, "deleted filter for "+id)

	saved, err := initStore(t, dir).ListFilters()
	require.NoError(t, err)
	assert.Empty(t, saved)
}
