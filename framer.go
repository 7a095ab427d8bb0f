package tempest

import "encoding/binary"

// hmacSignatureLen is the fixed output size of the authenticated-without-
// encryption envelope's HMAC-SHA256 tag. The wire carries it
// length-prefixed (spec.md §6) but in practice the length is always 32;
// fixing it lets the decoder locate the payload/signature boundary
// without a second pass.
const hmacSignatureLen = 32

// EncodeFrame serializes msg into a complete wire frame (spec.md §4.4):
// header, optional type-table block, then either the plaintext payload or
// the encrypted envelope, then an optional trailing HMAC signature. sess
// must be non-nil if msg's flags request Encrypted or Authenticated.
func EncodeFrame(msg Message, connectionID int32, messageID int32, isResponse bool, sess *SessionCrypto) ([]byte, error) {
	tm := NewTypeMap()
	payloadBuf := NewWriter()
	if err := msg.WriteTo(&WriteContext{W: payloadBuf, Types: tm}); err != nil {
		return nil, err
	}
	payload := payloadBuf.Bytes()
	entries := tm.DrainNew()
	hasTypeTable := len(entries) > 0

	flags := msg.Flags()
	if (flags.Encrypted || flags.Authenticated) && sess == nil {
		return nil, ErrInvalidMessage
	}

	fw := NewWriter()
	fw.WriteUint8(msg.ProtocolID())
	fw.WriteInt32(connectionID)
	fw.WriteUint16(msg.TypeID())
	lengthOffset := fw.Len()
	fw.WriteInt32(0) // length_and_flag placeholder, patched below

	midAndFlag := messageID
	if isResponse {
		midAndFlag |= responseFlag
	}
	fw.WriteInt32(midAndFlag)

	if hasTypeTable {
		tableLenOffset := fw.Len()
		fw.WriteUint16(0) // table_len_incl_prefix placeholder
		fw.WriteUint16(uint16(len(entries)))
		for _, e := range entries {
			fw.WriteString(e.Name)
		}
		tableLen := fw.Len() - tableLenOffset
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(tableLen))
		fw.PatchAt(tableLenOffset, b[:])
	}

	switch {
	case flags.Encrypted:
		iv, ciphertext, err := sess.Encrypt(payload)
		if err != nil {
			return nil, err
		}
		fw.WriteUint32(uint32(len(ciphertext)))
		fw.WriteRaw(iv)
		fw.WriteRaw(ciphertext)

	case flags.Authenticated:
		fw.WriteRaw(payload)
		var zero [4]byte
		fw.PatchAt(lengthOffset, zero[:])
		sig := sess.Sign(fw.Bytes())
		fw.WriteUint32(uint32(len(sig)))
		fw.WriteRaw(sig)

	default:
		fw.WriteRaw(payload)
	}

	finalLength := fw.Len()
	lengthAndFlag := int32(finalLength) << 1
	if hasTypeTable {
		lengthAndFlag |= 1
	}
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(lengthAndFlag))
	fw.PatchAt(lengthOffset, lb[:])

	return fw.Bytes(), nil
}

// DecodeFrame resolves and deserializes a complete frame (header already
// advanced to HeaderComplete against raw) using registry to find the
// Protocol/factory and sess for any encrypted/authenticated envelope.
// Returns the decoded Message, or an error.
func DecodeFrame(raw []byte, header *Header, registry *Registry, sess *SessionCrypto) (Message, error) {
	protocol, ok := registry.Get(header.ProtocolID)
	if !ok {
		return nil, ErrUnknownProtocol
	}
	msg, err := protocol.Create(header.TypeID)
	if err != nil {
		return nil, err
	}
	flags := msg.Flags()

	tm := NewTypeMap()
	for _, e := range header.TypeEntries {
		tm.Absorb(e.Name, e.ID)
	}

	var payload []byte
	switch {
	case flags.Encrypted:
		if sess == nil {
			return nil, ErrInvalidMessage
		}
		r := NewReader(raw)
		r.Seek(header.HeaderLength)
		cipherLen, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		iv, err := r.ReadRaw(16)
		if err != nil {
			return nil, err
		}
		ciphertext, err := r.ReadRaw(int(cipherLen))
		if err != nil {
			return nil, err
		}
		payload, err = sess.Decrypt(iv, ciphertext)
		if err != nil {
			return nil, ErrInvalidSignature
		}

	case flags.Authenticated:
		if sess == nil {
			return nil, ErrInvalidMessage
		}
		sigBlockLen := 4 + hmacSignatureLen
		boundary := len(raw) - sigBlockLen
		if boundary < header.HeaderLength {
			return nil, ErrInvalidMessage
		}
		signed := make([]byte, boundary)
		copy(signed, raw[:boundary])
		if len(signed) >= lengthOffsetEnd() {
			for i := lengthFieldOffset; i < lengthFieldOffset+4; i++ {
				signed[i] = 0
			}
		}
		r := NewReader(raw)
		r.Seek(boundary)
		sigLen, err := r.ReadUint32()
		if err != nil || int(sigLen) != hmacSignatureLen {
			return nil, ErrInvalidSignature
		}
		sig, err := r.ReadRaw(int(sigLen))
		if err != nil {
			return nil, err
		}
		if !sess.Verify(signed, sig) {
			return nil, ErrInvalidSignature
		}
		payload = raw[header.HeaderLength:boundary]

	default:
		payload = raw[header.HeaderLength:]
	}

	readCtx := &ReadContext{R: NewReader(payload), Types: tm}
	if err := msg.ReadFrom(readCtx); err != nil {
		return nil, err
	}
	return msg, nil
}

func lengthOffsetEnd() int { return lengthFieldOffset + 4 }
