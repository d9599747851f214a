package sqlite

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Params holds SQLite-specific configuration.
// Parsed from adapter.Config.Params using mapstructure.
type Params struct {
	// Pragmas applied on every new connection (e.g., journal_mode: wal)
	Pragmas map[string]string `mapstructure:"pragmas"`

	// BusyTimeout in milliseconds; 0 keeps the default of 5000.
	BusyTimeout int `mapstructure:"busy_timeout"`

	// ReadOnly opens the database file with mode=ro.
	ReadOnly bool `mapstructure:"read_only"`
}

// ParseParams decodes the raw params map from the target configuration.
func ParseParams(raw map[string]any) (*Params, error) {
	p := &Params{}
	if len(raw) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           p,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create params decoder: %w", err)
		}
		if err := dec.Decode(raw); err != nil {
			return nil, fmt.Errorf("invalid sqlite params: %w", err)
		}
	}
	if p.BusyTimeout == 0 {
		p.BusyTimeout = 5000
	}
	return p, nil
}

// buildDSN renders a modernc file URI. Pragmas go through _pragma so the
// driver reapplies them on each pooled connection.
func buildDSN(path string, p *Params) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", p.BusyTimeout))
	if _, ok := p.Pragmas["foreign_keys"]; !ok {
		q.Add("_pragma", "foreign_keys(1)")
	}

	names := make([]string, 0, len(p.Pragmas))
	for name := range p.Pragmas {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		q.Add("_pragma", fmt.Sprintf("%s(%s)", strings.ToLower(name), p.Pragmas[name]))
	}
	if p.ReadOnly {
		q.Set("mode", "ro")
	}
	return "file:" + path + "?" + q.Encode()
}
