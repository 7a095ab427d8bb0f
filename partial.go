package tempest

import "sync"

// partialSet accumulates the fragments of one oversized UDP message until
// count pieces have arrived, then concatenates them in fragment-index order
// (spec.md §3: "PartialMessage pool", §4.6: "Reassembly").
type partialSet struct {
	count    int32
	received int32
	pieces   [][]byte
}

// PartialPool holds one partialSet per in-flight original_message_id
// (spec.md §3). Guarded by its own lock, accessed only from the UDP
// connection's receive path.
type PartialPool struct {
	mu   sync.Mutex
	sets map[int32]*partialSet
}

// NewPartialPool returns an empty fragment-reassembly pool.
func NewPartialPool() *PartialPool {
	return &PartialPool{sets: make(map[int32]*partialSet)}
}

// Accept records one Partial fragment. When the set for originalMessageID
// is now complete, it returns the concatenated payload and removes the set
// from the pool; otherwise it returns (nil, false).
func (p *PartialPool) Accept(frag *Partial) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.sets[frag.OriginalMessageID]
	if !ok {
		set = &partialSet{count: frag.Count, pieces: make([][]byte, frag.Count)}
		p.sets[frag.OriginalMessageID] = set
	}
	idx := int(frag.FragmentIndex)
	if idx < 0 || idx >= len(set.pieces) {
		return nil, false
	}
	if set.pieces[idx] == nil {
		set.pieces[idx] = frag.Fragment
		set.received++
	}
	if set.received < set.count {
		return nil, false
	}

	total := 0
	for _, piece := range set.pieces {
		total += len(piece)
	}
	buf := make([]byte, 0, total)
	for _, piece := range set.pieces {
		buf = append(buf, piece...)
	}
	delete(p.sets, frag.OriginalMessageID)
	return buf, true
}

// Discard drops any in-progress set for originalMessageID, for callers that
// want to abandon a partial reassembly (e.g. connection teardown).
func (p *PartialPool) Discard(originalMessageID int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sets, originalMessageID)
}

// splitIntoFragments breaks payload into chunks no larger than
// fragmentSize, suitable for wrapping in Partial messages (spec.md §4.6:
// "split into ceil(length/490) PartialMessages"). Always returns at least
// one fragment, even for an empty payload.
func splitIntoFragments(payload []byte, fragmentSize int) [][]byte {
	if fragmentSize <= 0 {
		fragmentSize = udpFragmentPayload
	}
	if len(payload) == 0 {
		return [][]byte{{}}
	}
	n := (len(payload) + fragmentSize - 1) / fragmentSize
	fragments := make([][]byte, 0, n)
	for i := 0; i < len(payload); i += fragmentSize {
		end := i + fragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		fragments = append(fragments, payload[i:end])
	}
	return fragments
}
