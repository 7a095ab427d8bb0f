package tempest

import "sync"

// MessageFlags are the per-message-type boolean attributes from spec.md §3.
type MessageFlags struct {
	MustBeReliable           bool
	PreferReliable           bool
	Encrypted                bool
	Authenticated            bool
	AcceptedConnectionlessly bool
}

// Reliable reports whether a message of these flags must travel the UDP
// reliable queue (spec.md §4.6: "every message with must_be_reliable ||
// prefer_reliable and a non-zero id").
func (f MessageFlags) Reliable() bool { return f.MustBeReliable || f.PreferReliable }

// Serializable is the boundary the spec's external reflective object
// serializer is abstracted behind (spec.md §9): message implementations
// satisfy it directly instead of being reflected over. It generalizes the
// teacher's PayloadMarshaler/PayloadUnmarshaler split
// (rdgproto/types.go) from []byte to the buffer-codec Writer/Reader types,
// carried alongside the message's per-message TypeMap so a payload field
// of dynamic/polymorphic type can intern its own runtime type name the
// way the reflective original would have (spec.md §3's TypeMap, §9's
// serializer boundary).
type Serializable interface {
	WriteTo(ctx *WriteContext) error
	ReadFrom(ctx *ReadContext) error
}

// WriteContext bundles the output buffer with the per-message TypeMap so
// dynamic fields can intern their type name inline.
type WriteContext struct {
	W     *Writer
	Types *TypeMap
}

// ReadContext is WriteContext's read-side counterpart.
type ReadContext struct {
	R     *Reader
	Types *TypeMap
}

// Message is one wire-addressable unit: a protocol, a type id within that
// protocol, the boolean flags governing its delivery, and a payload body
// that knows how to serialize itself (spec.md §3).
type Message interface {
	Serializable
	ProtocolID() byte
	TypeID() uint16
	Flags() MessageFlags
}

// MessageFactory constructs a zero-value Message ready to ReadFrom.
type MessageFactory func() Message

// Protocol is a versioned namespace of message types identified by a
// one-byte id (spec.md §3). Constructed at startup and immutable
// thereafter except for the registration calls made before first use.
type Protocol struct {
	id               byte
	version          int32
	acceptedVersions map[int32]bool

	mu        sync.RWMutex
	factories map[uint16]MessageFactory
}

// NewProtocol registers a new protocol identity. Protocol id 1 is reserved
// for Tempest's internal control messages (spec.md §4.3); user code
// constructing Protocol(1, ...) fails. acceptedVersions, if non-empty, is
// the set of peer versions this protocol will negotiate down to; if empty,
// only an exact version match is compatible.
func NewProtocol(id byte, version int32, acceptedVersions ...int32) (*Protocol, error) {
	if id == internalProtocolID {
		return nil, ErrReservedProtocol
	}
	p := &Protocol{
		id:        id,
		version:   version,
		factories: make(map[uint16]MessageFactory),
	}
	if len(acceptedVersions) > 0 {
		p.acceptedVersions = make(map[int32]bool, len(acceptedVersions))
		for _, v := range acceptedVersions {
			p.acceptedVersions[v] = true
		}
	}
	return p, nil
}

// newInternalProtocol constructs the id=1 control protocol. Only tempest's
// own handshake/ping/ack machinery may call this.
func newInternalProtocol(version int32) *Protocol {
	return &Protocol{id: internalProtocolID, version: version, factories: make(map[uint16]MessageFactory)}
}

func (p *Protocol) ID() byte      { return p.id }
func (p *Protocol) Version() int32 { return p.version }

// Register associates a message type id with a factory. Registering the
// same (protocol id, type id) pair twice is a configuration error
// (spec.md §4.3).
func (p *Protocol) Register(typeID uint16, factory MessageFactory) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.factories[typeID]; exists {
		return ErrDuplicateFactory
	}
	p.factories[typeID] = factory
	return nil
}

// Create looks up the factory for typeID and returns a fresh Message.
func (p *Protocol) Create(typeID uint16) (Message, error) {
	p.mu.RLock()
	factory, ok := p.factories[typeID]
	p.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownType
	}
	return factory(), nil
}

// CompatibleWith reports whether two protocol handles describe the same
// wire protocol and can negotiate a shared version (spec.md §3: "Two
// protocols are compatible when IDs match and version intersects the
// declared accepted-versions set").
func (p *Protocol) CompatibleWith(other *Protocol) bool {
	if other == nil || p.id != other.id {
		return false
	}
	if p.version == other.version {
		return true
	}
	if p.acceptedVersions != nil && p.acceptedVersions[other.version] {
		return true
	}
	if other.acceptedVersions != nil && other.acceptedVersions[p.version] {
		return true
	}
	return false
}

// Registry maps protocol ids to Protocol handles. It is passed explicitly
// through the serialization/connection context rather than held in a
// process-wide singleton (spec.md §9: "Global mutable registries"); the
// package-level RegisterProtocol/GetProtocol wrappers below exist only as a convenience
// layer over one default Registry, mirroring the teacher's own
// globalRegistry/RegisterPayloadType split (rdgproto/types.go).
type Registry struct {
	mu        sync.RWMutex
	protocols map[byte]*Protocol
}

// NewRegistry returns a protocol registry pre-seeded with the internal
// control protocol (id 1): every Connection/Provider decodes Connect,
// AcknowledgeConnect, FinalConnect, Connected, Disconnect, Acknowledge,
// Partial, Ping and Pong through whatever registry it's given, so those
// have to resolve regardless of which user protocols the caller adds.
func NewRegistry() *Registry {
	r := &Registry{protocols: make(map[byte]*Protocol)}
	r.protocols[internalProtocolID] = internalProtocol
	return r
}

// Add registers a protocol handle under its id. 0 is reserved for
// connectionless/foreign traffic and may not be added.
func (r *Registry) Add(p *Protocol) error {
	if p.id == foreignProtocolID {
		return ErrReservedProtocol
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protocols[p.id] = p
	return nil
}

// Get returns the protocol registered under id, if any.
func (r *Registry) Get(id byte) (*Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.protocols[id]
	return p, ok
}

var defaultRegistry = NewRegistry()

// RegisterProtocol adds p to the package-level default registry, for
// callers happy with the teacher's ambient-registration style.
func RegisterProtocol(p *Protocol) error { return defaultRegistry.Add(p) }

// GetProtocol looks up a protocol by id in the package-level default
// registry.
func GetProtocol(id byte) (*Protocol, bool) { return defaultRegistry.Get(id) }

// DefaultRegistry returns the package-level default registry handle, for
// code that wants to pass it explicitly into a Connection/Provider rather
// than rely on the id being found ambiently.
func DefaultRegistry() *Registry { return defaultRegistry }
