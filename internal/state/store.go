// Package state persists session state for LeapGrid in SQLite.
// It keeps saved filters per data container and a log of script runs.
package state

import (
	"github.com/leapstack-labs/leapgrid/pkg/core"
)

var _ core.Store = (*SQLiteStore)(nil)
