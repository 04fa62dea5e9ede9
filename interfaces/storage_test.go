package interfaces

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentIDConstructors(t *testing.T) {
	sum := sha256.Sum256([]byte("proof document bytes"))

	fromBytes, err := NewContentIDFromBytes(sum[:])
	require.NoError(t, err)
	assert.Equal(t, ContentID(sum), fromBytes)

	fromHex, err := NewContentIDFromHex(fromBytes.String())
	require.NoError(t, err)
	assert.True(t, fromHex.Equal(fromBytes))

	// 0x prefix is accepted.
	prefixed, err := NewContentIDFromHex("0x" + fromBytes.String())
	require.NoError(t, err)
	assert.True(t, prefixed.Equal(fromBytes))

	_, err = NewContentIDFromBytes([]byte("short"))
	assert.Error(t, err)

	_, err = NewContentIDFromHex("abcd")
	assert.Error(t, err)

	_, err = NewContentIDFromHex("zz" + fromBytes.String()[2:])
	assert.Error(t, err)
}
