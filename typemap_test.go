package tempest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeMapInternAssignsSequentialIDs(t *testing.T) {
	m := NewTypeMap()

	id1, err := m.Intern("widgets.Gadget")
	require.NoError(t, err)
	assert.Equal(t, uint16(0), id1)

	id2, err := m.Intern("widgets.Sprocket")
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id2)

	again, err := m.Intern("widgets.Gadget")
	require.NoError(t, err)
	assert.Equal(t, id1, again)
}

func TestTypeMapDrainNewFlushesOnce(t *testing.T) {
	m := NewTypeMap()
	_, _ = m.Intern("a")
	_, _ = m.Intern("b")

	entries := m.DrainNew()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, "b", entries[1].Name)

	assert.False(t, m.HasPending())
	assert.Nil(t, m.DrainNew())

	_, _ = m.Intern("a") // already interned, not new
	assert.False(t, m.HasPending())
}

func TestTypeMapAbsorbThenLookup(t *testing.T) {
	m := NewTypeMap()
	m.Absorb("widgets.Gadget", 0)
	m.Absorb("widgets.Sprocket", 1)

	name, ok := m.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "widgets.Sprocket", name)

	// Absorbed entries never show up as pending/new.
	assert.False(t, m.HasPending())

	// Further Intern calls continue past the absorbed high-water mark.
	id, err := m.Intern("widgets.Cog")
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id)
}
