// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	_ "modernc.org/sqlite" // sqlite driver
)

// OrderCount is the number of rows SetupTestProject seeds into orders.
const OrderCount = 30

// SetupTestProject creates a temporary project with a leapgrid.yaml that
// targets a SQLite file holding an orders table. Row i has id i, name
// "order i" and qty i*10.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	cfg := `target:
  type: sqlite
  database: data.db
state_path: .leapgrid/state.db
session:
  segment_size: 10
  poll_interval: 5ms
`
	if err := os.WriteFile(filepath.Join(tmpDir, "leapgrid.yaml"), []byte(cfg), 0o600); err != nil {
		t.Fatalf("failed to create leapgrid.yaml: %v", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(tmpDir, "data.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	stmts := []string{`CREATE TABLE orders (id INTEGER PRIMARY KEY, name TEXT NOT NULL, qty INTEGER)`}
	for i := 1; i <= OrderCount; i++ {
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO orders (id, name, qty) VALUES (%d, 'order %d', %d)`, i, i, i*10))
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("failed to seed database: %v", err)
		}
	}

	return tmpDir
}

// QueryInt runs a single-value query against the project database.
func QueryInt(t *testing.T, dir, query string) int {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	var n int
	if err := db.QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("query %q failed: %v", query, err)
	}
	return n
}

// Result holds the captured output of a command.
type Result struct {
	Out    string
	ErrOut string
	Err    error
}

// Run executes cmd with args and input, capturing stdout and stderr.
func Run(t *testing.T, cmd *cobra.Command, input string, args ...string) Result {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return Result{Out: out.String(), ErrOut: errOut.String(), Err: err}
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}
