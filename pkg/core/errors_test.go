package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
		ok       bool
	}{
		{name: "nil", err: nil, ok: false},
		{name: "plain", err: errors.New("x"), ok: false},
		{name: "connection", err: NewConnectionError("open", errors.New("refused")), expected: KindConnection, ok: true},
		{name: "wrapped query", err: fmt.Errorf("run: %w", NewQueryError("execute", errors.New("syntax"))), expected: KindQuery, ok: true},
		{name: "identifier", err: NewIdentifierError("users"), expected: KindIdentifier, ok: true},
		{name: "context canceled", err: context.Canceled, expected: KindCancelled, ok: true},
		{name: "cancelled", err: Cancelled("fetch"), expected: KindCancelled, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindOf(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, kind)
		})
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("apply: %w", NewIdentifierError("users"))

	assert.True(t, errors.Is(err, &Error{Kind: KindIdentifier}))
	assert.False(t, errors.Is(err, &Error{Kind: KindPersistence}))
	assert.True(t, errors.Is(err, ErrNoUniqueKey))
	assert.Contains(t, err.Error(), "users")
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(Cancelled("fetch")))
	assert.True(t, IsCancelled(fmt.Errorf("x: %w", context.Canceled)))
	assert.False(t, IsCancelled(context.DeadlineExceeded))
	assert.False(t, IsCancelled(nil))
}
