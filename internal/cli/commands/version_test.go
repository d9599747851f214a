package commands

import (
	"testing"

	"github.com/leapstack-labs/leapgrid/internal/cli/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	info := BuildInfo{Version: "1.2.3", Commit: "abc123", Date: "2024-05-01"}

	tests := []struct {
		name    string
		args    []string
		wantOut []string
		exact   string
	}{
		{
			name:    "full",
			wantOut: []string{"leapgrid v1.2.3", "commit:   abc123", "built:    2024-05-01", "adapters: ", "sqlite"},
		},
		{
			name:  "short",
			args:  []string{"--short"},
			exact: "1.2.3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := testutil.Run(t, NewVersionCommand(info), "", tt.args...)
			require.NoError(t, res.Err)
			if tt.exact != "" {
				assert.Equal(t, tt.exact, res.Out)
			}
			for _, want := range tt.wantOut {
				assert.Contains(t, res.Out, want)
			}
		})
	}
}

func TestVersionCommandMetadata(t *testing.T) {
	cmd := NewVersionCommand(BuildInfo{Version: "test"})

	assert.Equal(t, "version", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.NotNil(t, cmd.Flags().Lookup("short"))
}
