package tempest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReliableQueueInOrderDelivery(t *testing.T) {
	q := NewReliableQueue(0)

	released, err := q.Accept(1, &echoMessage{Body: "one"}, nil)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, int32(1), q.LastInOrder())

	released, err = q.Accept(2, &echoMessage{Body: "two"}, nil)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, int32(2), q.LastInOrder())
}

func TestReliableQueueOutOfOrderBuffersThenReleases(t *testing.T) {
	q := NewReliableQueue(0)

	released, err := q.Accept(3, &echoMessage{Body: "three"}, nil)
	require.NoError(t, err)
	assert.Empty(t, released) // gap: 1 and 2 still missing
	assert.Equal(t, int32(0), q.LastInOrder())

	released, err = q.Accept(2, &echoMessage{Body: "two"}, nil)
	require.NoError(t, err)
	assert.Empty(t, released)

	released, err = q.Accept(1, &echoMessage{Body: "one"}, nil)
	require.NoError(t, err)
	require.Len(t, released, 3)
	assert.Equal(t, int32(1), released[0].id)
	assert.Equal(t, int32(2), released[1].id)
	assert.Equal(t, int32(3), released[2].id)
	assert.Equal(t, int32(3), q.LastInOrder())
}

func TestReliableQueueRejectsDuplicate(t *testing.T) {
	q := NewReliableQueue(0)
	_, err := q.Accept(1, &echoMessage{}, nil)
	require.NoError(t, err)

	_, err = q.Accept(1, &echoMessage{}, nil)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestReliableQueueRejectsFarFutureID(t *testing.T) {
	q := NewReliableQueue(10)
	_, err := q.Accept(50, &echoMessage{}, nil)
	assert.ErrorIs(t, err, ErrIDTooFarAhead)
}

func TestReliableQueueRejectsDuplicateOutOfOrderSlot(t *testing.T) {
	q := NewReliableQueue(0)
	_, err := q.Accept(5, &echoMessage{}, nil)
	require.NoError(t, err)

	_, err = q.Accept(5, &echoMessage{}, nil)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestReliableQueueResetOnWrap(t *testing.T) {
	q := NewReliableQueue(0)
	_, err := q.Accept(1, &echoMessage{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), q.LastInOrder())

	q.ResetOnWrap()
	assert.Equal(t, int32(0), q.LastInOrder())

	released, err := q.Accept(1, &echoMessage{}, nil)
	require.NoError(t, err)
	require.Len(t, released, 1)
}

func TestMessageIDAllocatorWrapsToOne(t *testing.T) {
	a := newMessageIDAllocator()
	a.next = maxMessageID

	id, wrapped := a.Next()
	assert.Equal(t, maxMessageID, id)
	assert.False(t, wrapped)

	id, wrapped = a.Next()
	assert.Equal(t, int32(1), id)
	assert.True(t, wrapped)
}
