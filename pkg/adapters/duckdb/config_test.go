package duckdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		want    Params
		errPart string
	}{
		{name: "absent", raw: nil},
		{
			name: "single extension lifts to a list",
			raw:  map[string]any{"extensions": "httpfs"},
			want: Params{Extensions: []string{"httpfs"}},
		},
		{
			name: "numeric setting becomes text",
			raw:  map[string]any{"settings": map[string]any{"threads": 4, "memory_limit": "2GB"}},
			want: Params{Settings: map[string]string{"threads": "4", "memory_limit": "2GB"}},
		},
		{
			name: "read only from string",
			raw:  map[string]any{"read_only": "true"},
			want: Params{ReadOnly: true},
		},
		{
			name:    "misspelled key",
			raw:     map[string]any{"readonly": true},
			errPart: "invalid duckdb params",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParams(tt.raw)
			if tt.errPart != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errPart)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}
