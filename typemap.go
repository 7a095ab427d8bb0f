package tempest

import "math"

// TypeMap builds a dynamic-type-name <-> u16 mapping for a single message
// serialization (spec.md §3/§4.2). It is never shared across messages: a
// fresh TypeMap is created per Writer/Reader pass, new entries are flushed
// into the header's type-table block on write, and absorbed into the
// reader's context on parse.
type TypeMap struct {
	byName map[string]uint16
	byID   map[uint16]string
	newIDs []uint16 // ids assigned since the last DrainNew, in assignment order
	next   uint16
}

// NewTypeMap returns an empty per-message type map.
func NewTypeMap() *TypeMap {
	return &TypeMap{
		byName: make(map[string]uint16),
		byID:   make(map[uint16]string),
	}
}

// Intern returns the existing id for typeName or assigns the next free u16
// and records it as newly-added. At most math.MaxInt16 distinct types may
// be interned into a single message (spec.md §4.2).
func (m *TypeMap) Intern(typeName string) (uint16, error) {
	if id, ok := m.byName[typeName]; ok {
		return id, nil
	}
	if int(m.next) >= math.MaxInt16 {
		return 0, ErrTooManyTypes
	}
	id := m.next
	m.next++
	m.byName[typeName] = id
	m.byID[id] = typeName
	m.newIDs = append(m.newIDs, id)
	return id, nil
}

// Lookup resolves an id back to its type name, as absorbed from an inline
// type-table block while parsing.
func (m *TypeMap) Lookup(id uint16) (string, bool) {
	name, ok := m.byID[id]
	return name, ok
}

// Absorb registers a (name, id) pair received from the wire's type-table
// block into the reader-side context, without marking it "new" (it is
// already flushed, by construction, by the peer that sent it).
func (m *TypeMap) Absorb(name string, id uint16) {
	m.byName[name] = id
	m.byID[id] = name
	if id >= m.next {
		m.next = id + 1
	}
}

// DrainNew returns the (typeName, id) pairs interned since the last call,
// in assignment order, and marks them flushed. Call this once per message
// to decide whether a type-table block is needed on the wire.
func (m *TypeMap) DrainNew() []TypeMapEntry {
	if len(m.newIDs) == 0 {
		return nil
	}
	entries := make([]TypeMapEntry, len(m.newIDs))
	for i, id := range m.newIDs {
		entries[i] = TypeMapEntry{Name: m.byID[id], ID: id}
	}
	m.newIDs = m.newIDs[:0]
	return entries
}

// HasPending reports whether DrainNew would return a non-empty table.
func (m *TypeMap) HasPending() bool { return len(m.newIDs) > 0 }

// TypeMapEntry is one (name, id) pair as it appears in the wire
// type-table block.
type TypeMapEntry struct {
	Name string
	ID   uint16
}
