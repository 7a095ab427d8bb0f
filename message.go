package tempest

// headerState enumerates the ordered parse stages from spec.md §3:
// Protocol → CID → Type → Length → MessageId → TypeMap → Complete. The
// optional IV/ciphertext-length prefix is resolved by the framer once the
// message's flags are known (see framer.go) rather than by Header itself,
// since "encrypted" is a property of the resolved Message type, not of the
// header bytes parsed so far.
type headerState int

const (
	stateProtocol headerState = iota
	stateCID
	stateType
	stateLength
	stateMessageID
	stateTypeHeaderLen
	stateTypeCount
	stateTypeNames
	stateComplete
)

// PollResult is the outcome of one attempt to advance a Header against
// whatever bytes are currently available (spec.md §4.4).
type PollResult int

const (
	WaitForMore PollResult = iota
	HeaderComplete
	HeaderInvalid
)

// Header is the parse-time state machine for the fixed-plus-optional
// frame prefix (spec.md §3/§6). A single Header value is advanced across
// however many Advance calls it takes for enough bytes to arrive; fields
// already committed are never re-read — Advance reseeks the Reader to
// h.consumed and resumes the switch at h.state.
type Header struct {
	state    headerState
	consumed int

	ProtocolID   byte
	ConnectionID int32
	TypeID       uint16

	Length       int32 // total frame size, offset 0 through the end (spec.md §6)
	HasTypeTable bool

	MessageID  int32
	IsResponse bool

	TypeHeaderLength uint16
	typeCount        uint16
	typeNamesRead    uint16
	TypeEntries      []TypeMapEntry

	// HeaderLength is the byte count consumed once Complete: the fixed
	// 15-byte prefix plus the type-table block, if any.
	HeaderLength int
}

// NewHeader returns a Header ready for its first Advance call.
func NewHeader() *Header { return &Header{} }

// Advance resumes header parsing against r, which must present the
// message's bytes starting at offset 0 (the connection is responsible for
// keeping the message's start stable across calls; Advance seeks past
// whatever has already been committed). cfg supplies MaxMessageSize for
// the length-field validity check.
func (h *Header) Advance(r *Reader, cfg *Config) (PollResult, error) {
	r.Seek(h.consumed)
	for {
		switch h.state {
		case stateProtocol:
			if r.Remaining() < 1 {
				return WaitForMore, nil
			}
			v, _ := r.ReadUint8()
			h.ProtocolID = v
			h.consumed = r.Pos()
			h.state = stateCID

		case stateCID:
			if r.Remaining() < 4 {
				return WaitForMore, nil
			}
			v, _ := r.ReadInt32()
			h.ConnectionID = v
			h.consumed = r.Pos()
			h.state = stateType

		case stateType:
			if r.Remaining() < 2 {
				return WaitForMore, nil
			}
			v, _ := r.ReadUint16()
			h.TypeID = v
			h.consumed = r.Pos()
			h.state = stateLength

		case stateLength:
			if r.Remaining() < 4 {
				return WaitForMore, nil
			}
			raw, _ := r.ReadInt32()
			h.Length = raw >> 1
			h.HasTypeTable = raw&1 == 1
			if h.Length <= 0 {
				return HeaderInvalid, ErrHeaderInvalid
			}
			maxSize := defaultMaxMessageLen
			if cfg != nil && cfg.MaxMessageSize > 0 {
				maxSize = cfg.MaxMessageSize
			}
			if int(h.Length) > maxSize {
				return HeaderInvalid, ErrMessageTooLarge
			}
			h.consumed = r.Pos()
			h.state = stateMessageID

		case stateMessageID:
			if r.Remaining() < 4 {
				return WaitForMore, nil
			}
			raw, _ := r.ReadInt32()
			h.MessageID = raw &^ responseFlag
			h.IsResponse = raw&responseFlag != 0
			h.consumed = r.Pos()
			if h.HasTypeTable {
				h.state = stateTypeHeaderLen
			} else {
				h.HeaderLength = h.consumed
				h.state = stateComplete
			}

		case stateTypeHeaderLen:
			if r.Remaining() < 2 {
				return WaitForMore, nil
			}
			v, _ := r.ReadUint16()
			h.TypeHeaderLength = v
			h.consumed = r.Pos()
			h.state = stateTypeCount

		case stateTypeCount:
			if r.Remaining() < 2 {
				return WaitForMore, nil
			}
			v, _ := r.ReadUint16()
			h.typeCount = v
			h.TypeEntries = make([]TypeMapEntry, 0, v)
			h.consumed = r.Pos()
			h.state = stateTypeNames

		case stateTypeNames:
			// Only the type name travels on the wire (spec.md §4.4); ids
			// are assigned sequentially in appearance order by both ends
			// of a fresh per-message TypeMap, so the reader reconstructs
			// them positionally rather than reading an explicit id.
			for h.typeNamesRead < h.typeCount {
				start := r.Pos()
				name, err := r.ReadString()
				if err != nil {
					r.Seek(start)
					return WaitForMore, nil
				}
				h.TypeEntries = append(h.TypeEntries, TypeMapEntry{Name: name, ID: h.typeNamesRead})
				h.typeNamesRead++
				h.consumed = r.Pos()
			}
			h.HeaderLength = h.consumed
			h.state = stateComplete

		case stateComplete:
			return HeaderComplete, nil
		}
	}
}

// Reset clears the Header for reuse on the next frame.
func (h *Header) Reset() {
	*h = Header{}
}

// Complete reports whether the header has finished parsing.
func (h *Header) Complete() bool { return h.state == stateComplete }
