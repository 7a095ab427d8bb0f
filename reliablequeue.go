package tempest

import "sync"

// ReliableQueue turns the unordered, ACKed UDP datagram stream into the
// in-order message sequence a connection's handlers observe (spec.md §3,
// §4.6, §8). It holds received-but-not-yet-released messages in slots
// addressed relative to last_in_order; a duplicate or far-future id is
// rejected without side effects.
type ReliableQueue struct {
	mu            sync.Mutex
	lastInOrder   int32
	slots         []*pendingReliable
	maxLookahead  int32
}

type pendingReliable struct {
	id      int32
	msg     Message
	header  *Header
}

// NewReliableQueue returns an empty queue seeded at lastInOrder=0 (no
// message received yet) with the given far-future rejection bound (spec.md
// §3: "more than 2000 ahead").
func NewReliableQueue(maxLookahead int32) *ReliableQueue {
	if maxLookahead <= 0 {
		maxLookahead = reliableQueueSlack
	}
	return &ReliableQueue{maxLookahead: maxLookahead}
}

// Accept enqueues a received reliable message keyed by id. It returns the
// run of messages now releasable in order (possibly including this one,
// possibly empty if id extends a gap rather than closing one), or an error
// if id is a duplicate or too far ahead.
//
// - id <= lastInOrder: duplicate, dropped.
// - id > lastInOrder + maxLookahead: suspicious far-future id, dropped.
// - id == lastInOrder + 1: releases this message and any contiguous run
//   that immediately follows in slots, advancing lastInOrder.
// - otherwise: stored at slots[id-lastInOrder-1], growing slots as needed.
func (q *ReliableQueue) Accept(id int32, msg Message, header *Header) ([]*pendingReliable, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id <= q.lastInOrder {
		return nil, ErrDuplicateID
	}
	if id > q.lastInOrder+q.maxLookahead {
		return nil, ErrIDTooFarAhead
	}

	gap := id - q.lastInOrder - 1
	if gap == 0 {
		released := []*pendingReliable{{id: id, msg: msg, header: header}}
		q.lastInOrder = id
		if len(q.slots) > 0 {
			q.slots = q.slots[1:] // slot 0 was this id's own (empty) position
		}
		for len(q.slots) > 0 && q.slots[0] != nil {
			released = append(released, q.slots[0])
			q.lastInOrder = q.slots[0].id
			q.slots = q.slots[1:]
		}
		return released, nil
	}

	idx := int(gap)
	for len(q.slots) <= idx {
		q.slots = append(q.slots, nil)
	}
	if q.slots[idx] != nil {
		return nil, ErrDuplicateID // already have this slot filled
	}
	q.slots[idx] = &pendingReliable{id: id, msg: msg, header: header}
	return nil, nil
}

// LastInOrder returns the highest id released so far.
func (q *ReliableQueue) LastInOrder() int32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastInOrder
}

// ResetOnWrap is called when the sender-side id counter wraps past
// MAX_MESSAGE_ID (spec.md §9 open question: wrap resets ordering state on
// both the allocator and the queue together, so a just-wrapped id is never
// rejected as far-future by the +maxLookahead guard). Pending out-of-order
// slots are discarded; any message still in flight across the wrap boundary
// is expected to be retransmitted and will simply re-enqueue after reset.
func (q *ReliableQueue) ResetOnWrap() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastInOrder = 0
	q.slots = nil
}

// messageIDAllocator hands out reliable message ids in [1, maxMessageID],
// wrapping to 1 rather than 0 (0 is reserved for "unreliable", spec.md
// §6's "reliable messages carry non-zero IDs").
type messageIDAllocator struct {
	mu   sync.Mutex
	next int32
}

func newMessageIDAllocator() *messageIDAllocator {
	return &messageIDAllocator{next: 1}
}

// Next returns the next id and reports whether this call wrapped the
// counter back to 1, so the caller can reset its ReliableQueue/receiver
// state in lockstep (spec.md §9).
func (a *messageIDAllocator) Next() (id int32, wrapped bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id = a.next
	if id > maxMessageID {
		id = 1
		wrapped = true
	}
	a.next = id + 1
	return id, wrapped
}
