package core

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// containerNamespace seeds stable container identities.
var containerNamespace = uuid.MustParse("6f1c7a52-3d0e-4b8a-9a51-2f4c1d7e8b90")

// DataContainer is the logical source of rows a fetch targets.
// Exactly one of Name or Query is set.
type DataContainer struct {
	Connection string // connection identity, e.g. "postgres://host/db"
	Name       string // table or view name, optionally schema-qualified
	Query      string // arbitrary SELECT when the container is a query
}

// IsQuery reports whether the container wraps an arbitrary query.
func (c DataContainer) IsQuery() bool {
	return c.Name == "" && c.Query != ""
}

// ID returns a stable identity derived from the connection and the container.
// Saved filters are keyed by it.
func (c DataContainer) ID() string {
	if !c.IsQuery() {
		return c.Connection + "/" + c.Name
	}
	return c.Connection + "/query:" + uuid.NewSHA1(containerNamespace, []byte(strings.TrimSpace(c.Query))).String()
}

// String returns a display label for the container.
func (c DataContainer) String() string {
	if c.IsQuery() {
		return "(" + strings.TrimSpace(c.Query) + ")"
	}
	return c.Name
}

// Column represents a column in a result set or entity.
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
	Position   int
	Generated  bool // default or identity value assigned by the source
}

// ConstraintKind classifies a key constraint.
type ConstraintKind int

const (
	// ConstraintPrimaryKey is the natural primary key.
	ConstraintPrimaryKey ConstraintKind = iota
	// ConstraintUnique is a unique key.
	ConstraintUnique
	// ConstraintVirtualKey is a user-declared key the source does not enforce.
	ConstraintVirtualKey
)

// String returns the string representation of ConstraintKind.
func (k ConstraintKind) String() string {
	switch k {
	case ConstraintPrimaryKey:
		return "primary key"
	case ConstraintUnique:
		return "unique"
	case ConstraintVirtualKey:
		return "virtual key"
	default:
		return "unknown"
	}
}

// KeyConstraint is a set of columns that identifies rows.
type KeyConstraint struct {
	Name    string
	Kind    ConstraintKind
	Columns []string
}

// Capability flags describe what the source can do for an entity.
type Capability uint32

// Capability flags.
const (
	CapServerOrdering Capability = 1 << iota
	CapServerFiltering
	CapCount
	CapReturning
	CapSavepoints
)

// Entity describes a single source entity: its columns, keys and capabilities.
type Entity struct {
	Name         string
	Columns      []Column
	Constraints  []KeyConstraint
	Capabilities Capability
}

// Has reports whether all of caps are set.
func (e *Entity) Has(caps Capability) bool {
	return e != nil && e.Capabilities&caps == caps
}

// ColumnIndex returns the position of the named column, or -1.
func (e *Entity) ColumnIndex(name string) int {
	for i, c := range e.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// AddVirtualKey declares a key over columns the source does not enforce.
func (e *Entity) AddVirtualKey(columns ...string) {
	e.Constraints = append(e.Constraints, KeyConstraint{
		Name:    "virtual",
		Kind:    ConstraintVirtualKey,
		Columns: columns,
	})
}

// BestIdentifier resolves the minimal key for the entity.
// Primary keys win over unique keys, then fewer columns win.
// Virtual keys are used only when the source declares nothing.
// The returned identifier is invalid when nothing usable is found.
func (e *Entity) BestIdentifier() RowIdentifier {
	if e == nil {
		return RowIdentifier{}
	}

	var candidates []KeyConstraint
	for _, c := range e.Constraints {
		if c.Kind == ConstraintVirtualKey || len(c.Columns) == 0 {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		// Column-level PK flags cover sources without constraint metadata.
		var pk []string
		for _, col := range e.Columns {
			if col.PrimaryKey {
				pk = append(pk, col.Name)
			}
		}
		if len(pk) > 0 {
			return RowIdentifier{Entity: e.Name, Columns: pk}
		}
		for _, c := range e.Constraints {
			if c.Kind == ConstraintVirtualKey && len(c.Columns) > 0 {
				return RowIdentifier{Entity: e.Name, Columns: slices.Clone(c.Columns), Virtual: true}
			}
		}
		return RowIdentifier{Entity: e.Name}
	}

	slices.SortStableFunc(candidates, func(a, b KeyConstraint) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		return len(a.Columns) - len(b.Columns)
	})
	return RowIdentifier{Entity: e.Name, Columns: slices.Clone(candidates[0].Columns)}
}

// RowIdentifier is the minimal column set that uniquely addresses a row.
type RowIdentifier struct {
	Entity  string
	Columns []string
	Virtual bool
}

// Valid reports whether the identifier has been resolved.
func (r RowIdentifier) Valid() bool {
	return len(r.Columns) > 0
}
