package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIterationIDBeforeInitErrors(t *testing.T) {
	if node != nil {
		t.Skip("ids.Init already called by an earlier test in this run")
	}
	_, err := NewIterationID()
	assert.Error(t, err)
}

func TestNewRunIDIsUniqueEachCall(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}

func TestInitThenNewIterationIDIsMonotonic(t *testing.T) {
	require.NoError(t, Init(1))

	first, err := NewIterationID()
	require.NoError(t, err)
	second, err := NewIterationID()
	require.NoError(t, err)

	assert.Greater(t, second, first)
}

func TestInitIsIdempotent(t *testing.T) {
	require.NoError(t, Init(1))
	require.NoError(t, Init(2))
}
