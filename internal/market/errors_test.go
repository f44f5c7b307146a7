package market

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultMatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	f := NewFault(ErrSourceUnavailable, "fetch series", "VFV.TO", cause)

	wrapped := fmt.Errorf("fetching: %w", f)
	assert.ErrorIs(t, wrapped, ErrSourceUnavailable)
	assert.ErrorIs(t, wrapped, cause)
	assert.NotErrorIs(t, wrapped, ErrWriteRejected)
	assert.Equal(t, "SourceUnavailable", f.KindName())
	assert.Contains(t, f.Error(), "VFV.TO")
	assert.NotEmpty(t, f.Stack)
}

func TestAsFaultClassifies(t *testing.T) {
	existing := NewFault(ErrDegenerateReturn, "calc", "A", nil)
	require.Same(t, existing, AsFault("outer", fmt.Errorf("x: %w", existing)))

	bare := fmt.Errorf("insert: %w", ErrWriteRejected)
	got := AsFault("merge", bare)
	assert.Equal(t, "WriteRejected", got.KindName())

	other := AsFault("load", errors.New("boom"))
	assert.ErrorIs(t, other, ErrUnclassified)
	assert.Equal(t, "Unclassified", other.KindName())

	assert.Nil(t, AsFault("noop", nil))
}

func TestWindowContains(t *testing.T) {
	w := Window{From: mustDay("2024-01-01"), To: mustDay("2024-01-31")}
	assert.True(t, w.Contains(mustDay("2024-01-01")))
	assert.True(t, w.Contains(mustDay("2024-01-31")))
	assert.False(t, w.Contains(mustDay("2024-02-01")))
}
