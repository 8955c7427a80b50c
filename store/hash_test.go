package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemIDStableAcrossKeyOrder(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1}
	b := map[string]interface{}{"a": 1, "b": 2}
	payload := []byte("same payload")

	idA, err := ItemID(a, payload)
	require.NoError(t, err)
	idB, err := ItemID(b, payload)
	require.NoError(t, err)
	assert.Equal(t, idA, idB)
}

func TestItemIDChangesWithPayload(t *testing.T) {
	md := map[string]interface{}{"a": 1}
	id1, err := ItemID(md, []byte("one"))
	require.NoError(t, err)
	id2, err := ItemID(md, []byte("two"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestFanoutShortIDsDefaultToZeroZero(t *testing.T) {
	a, b := fanout("ab")
	assert.Equal(t, "00", a)
	assert.Equal(t, "00", b)
}

func TestFanoutSplitsPrefix(t *testing.T) {
	a, b := fanout("abcdef")
	assert.Equal(t, "ab", a)
	assert.Equal(t, "cd", b)
}
