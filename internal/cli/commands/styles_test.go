package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStyles_PlainWhenNotTerminal(t *testing.T) {
	s := newStyles(new(bytes.Buffer))

	assert.Equal(t, "Error:", s.Error.Render("Error:"))
	assert.Equal(t, "saved", s.Success.Render("saved"))
	assert.Equal(t, "status", s.Muted.Render("status"))
}
