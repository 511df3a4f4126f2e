package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7(t *testing.T) {
	gen := UUIDv7()
	a, b := gen(), gen()

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, a, b)
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("node_", Sequential(""))
	assert.Equal(t, "node_1", gen())
	assert.Equal(t, "node_2", gen())
}

func TestSequential(t *testing.T) {
	gen := Sequential("n")
	got := []string{gen(), gen(), gen()}
	assert.Equal(t, []string{"n1", "n2", "n3"}, got)
}

func TestShort(t *testing.T) {
	s := Short()
	assert.Len(t, s, 8)
	assert.False(t, strings.Contains(s, "-"))
}
