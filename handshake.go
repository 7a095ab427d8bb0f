package tempest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"

	"github.com/rs/zerolog"
)

// Internal control message type ids (spec.md §6: "Internal control messages
// (protocol id = 1)"). Registered into a dedicated internal protocol handle
// that NewRegistry seeds into every Registry under id 1.
const (
	typeConnect uint16 = iota + 1
	typeAcknowledgeConnect
	typeFinalConnect
	typeConnected
	typeDisconnect
	typeAcknowledge
	typePartial
	typePing
	typePong
)

// ProtocolDescriptor is the wire-level (id, version) pair exchanged during
// the handshake, distinct from a local *Protocol handle (which also carries
// factories and an accepted-versions set known only locally).
type ProtocolDescriptor struct {
	ID      byte
	Version int32
}

// Connect is the client's opening handshake message (spec.md §4.7 step 1).
type Connect struct {
	Protocols                  []ProtocolDescriptor
	SupportedSignatureHashAlgs []string
}

func (m *Connect) ProtocolID() byte    { return internalProtocolID }
func (m *Connect) TypeID() uint16      { return typeConnect }
func (m *Connect) Flags() MessageFlags { return MessageFlags{} }

func (m *Connect) WriteTo(ctx *WriteContext) error {
	ctx.W.WriteInt32(int32(len(m.Protocols)))
	for _, p := range m.Protocols {
		ctx.W.WriteUint8(p.ID)
		ctx.W.WriteInt32(p.Version)
	}
	ctx.W.WriteInt32(int32(len(m.SupportedSignatureHashAlgs)))
	for _, a := range m.SupportedSignatureHashAlgs {
		ctx.W.WriteString(a)
	}
	return nil
}

func (m *Connect) ReadFrom(ctx *ReadContext) error {
	n, err := ctx.R.ReadInt32()
	if err != nil {
		return err
	}
	if n < 0 {
		return ErrInvalidMessage
	}
	m.Protocols = make([]ProtocolDescriptor, 0, n)
	for i := int32(0); i < n; i++ {
		id, err := ctx.R.ReadUint8()
		if err != nil {
			return err
		}
		v, err := ctx.R.ReadInt32()
		if err != nil {
			return err
		}
		m.Protocols = append(m.Protocols, ProtocolDescriptor{ID: id, Version: v})
	}
	nh, err := ctx.R.ReadInt32()
	if err != nil {
		return err
	}
	if nh < 0 {
		return ErrInvalidMessage
	}
	m.SupportedSignatureHashAlgs = make([]string, 0, nh)
	for i := int32(0); i < nh; i++ {
		s, err := ctx.R.ReadString()
		if err != nil {
			return err
		}
		m.SupportedSignatureHashAlgs = append(m.SupportedSignatureHashAlgs, s)
	}
	return nil
}

// AcknowledgeConnect is the server's reply (spec.md §4.7 step 2).
type AcknowledgeConnect struct {
	SelectedHashAlg    string
	EnabledProtocols   []ProtocolDescriptor
	ConnectionID       int32
	PublicAuthKeyBytes []byte // DER-encoded PKIX public key, signature verification
	PublicEncKeyBytes  []byte // DER-encoded PKIX public key, key-wrap encryption
}

func (m *AcknowledgeConnect) ProtocolID() byte    { return internalProtocolID }
func (m *AcknowledgeConnect) TypeID() uint16      { return typeAcknowledgeConnect }
func (m *AcknowledgeConnect) Flags() MessageFlags { return MessageFlags{} }

func (m *AcknowledgeConnect) WriteTo(ctx *WriteContext) error {
	ctx.W.WriteString(m.SelectedHashAlg)
	ctx.W.WriteInt32(int32(len(m.EnabledProtocols)))
	for _, p := range m.EnabledProtocols {
		ctx.W.WriteUint8(p.ID)
		ctx.W.WriteInt32(p.Version)
	}
	ctx.W.WriteInt32(m.ConnectionID)
	ctx.W.WriteBytes(m.PublicAuthKeyBytes)
	ctx.W.WriteBytes(m.PublicEncKeyBytes)
	return nil
}

func (m *AcknowledgeConnect) ReadFrom(ctx *ReadContext) error {
	var err error
	if m.SelectedHashAlg, err = ctx.R.ReadString(); err != nil {
		return err
	}
	n, err := ctx.R.ReadInt32()
	if err != nil {
		return err
	}
	if n < 0 {
		return ErrInvalidMessage
	}
	m.EnabledProtocols = make([]ProtocolDescriptor, 0, n)
	for i := int32(0); i < n; i++ {
		id, err := ctx.R.ReadUint8()
		if err != nil {
			return err
		}
		v, err := ctx.R.ReadInt32()
		if err != nil {
			return err
		}
		m.EnabledProtocols = append(m.EnabledProtocols, ProtocolDescriptor{ID: id, Version: v})
	}
	if m.ConnectionID, err = ctx.R.ReadInt32(); err != nil {
		return err
	}
	if m.PublicAuthKeyBytes, err = ctx.R.ReadBytes(); err != nil {
		return err
	}
	if m.PublicEncKeyBytes, err = ctx.R.ReadBytes(); err != nil {
		return err
	}
	return nil
}

// FinalConnect is the client's signed closing message (spec.md §4.7 step
// 3). Rather than signing the outer frame with its length field zeroed (the
// reflective original's trick, which assumes the object serializer can
// re-enter the same buffer being signed), the signature here covers a
// canonical encoding of the message's own fields computed before framing —
// see buildFinalConnect/verifyFinalConnect and DESIGN.md's handshake-signing
// entry for the reasoning.
type FinalConnect struct {
	AESKeyWrapped               []byte
	ClientPublicAuthKeyTypeName string
	ClientPublicAuthKeyBytes    []byte
	Signature                   []byte
}

func (m *FinalConnect) ProtocolID() byte    { return internalProtocolID }
func (m *FinalConnect) TypeID() uint16      { return typeFinalConnect }
func (m *FinalConnect) Flags() MessageFlags { return MessageFlags{} }

func finalConnectSignedFields(aesKeyWrapped []byte, keyTypeName string, keyBytes []byte) []byte {
	w := NewWriter()
	w.WriteBytes(aesKeyWrapped)
	w.WriteString(keyTypeName)
	w.WriteBytes(keyBytes)
	return w.Bytes()
}

func (m *FinalConnect) WriteTo(ctx *WriteContext) error {
	ctx.W.WriteBytes(m.AESKeyWrapped)
	ctx.W.WriteString(m.ClientPublicAuthKeyTypeName)
	ctx.W.WriteBytes(m.ClientPublicAuthKeyBytes)
	ctx.W.WriteBytes(m.Signature)
	return nil
}

func (m *FinalConnect) ReadFrom(ctx *ReadContext) error {
	var err error
	if m.AESKeyWrapped, err = ctx.R.ReadBytes(); err != nil {
		return err
	}
	if m.ClientPublicAuthKeyTypeName, err = ctx.R.ReadString(); err != nil {
		return err
	}
	if m.ClientPublicAuthKeyBytes, err = ctx.R.ReadBytes(); err != nil {
		return err
	}
	if m.Signature, err = ctx.R.ReadBytes(); err != nil {
		return err
	}
	return nil
}

// buildFinalConnect signs the handshake's key-exchange fields with the
// client's private auth key and returns the ready-to-send message.
func buildFinalConnect(aesKeyWrapped []byte, pubKeyBytes []byte, signer Signer) (*FinalConnect, error) {
	sig, err := signer.Sign(finalConnectSignedFields(aesKeyWrapped, "rsa", pubKeyBytes))
	if err != nil {
		return nil, err
	}
	return &FinalConnect{
		AESKeyWrapped:               aesKeyWrapped,
		ClientPublicAuthKeyTypeName: "rsa",
		ClientPublicAuthKeyBytes:    pubKeyBytes,
		Signature:                   sig,
	}, nil
}

// verifyFinalConnect checks m's signature against its embedded client
// public auth key and returns the parsed key for the caller to retain as
// Connection.RemoteKey.
func verifyFinalConnect(m *FinalConnect) (*rsa.PublicKey, error) {
	if m.ClientPublicAuthKeyTypeName != "rsa" {
		return nil, ErrInvalidMessage
	}
	pub, err := x509.ParsePKIXPublicKey(m.ClientPublicAuthKeyBytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidMessage
	}
	verifier := NewRSAVerifier(rsaPub)
	if err := verifier.Verify(finalConnectSignedFields(m.AESKeyWrapped, m.ClientPublicAuthKeyTypeName, m.ClientPublicAuthKeyBytes), m.Signature); err != nil {
		return nil, ErrInvalidSignature
	}
	return rsaPub, nil
}

// Connected closes the handshake (spec.md §4.7 step 4).
type Connected struct {
	ConnectionID int32
}

func (m *Connected) ProtocolID() byte    { return internalProtocolID }
func (m *Connected) TypeID() uint16      { return typeConnected }
func (m *Connected) Flags() MessageFlags { return MessageFlags{} }
func (m *Connected) WriteTo(ctx *WriteContext) error {
	ctx.W.WriteInt32(m.ConnectionID)
	return nil
}
func (m *Connected) ReadFrom(ctx *ReadContext) error {
	v, err := ctx.R.ReadInt32()
	m.ConnectionID = v
	return err
}

// Disconnect carries a graceful or forced teardown reason (spec.md §7).
type Disconnect struct {
	Reason     ConnectionResult
	CustomText string
}

func (m *Disconnect) ProtocolID() byte    { return internalProtocolID }
func (m *Disconnect) TypeID() uint16      { return typeDisconnect }
func (m *Disconnect) Flags() MessageFlags { return MessageFlags{} }
func (m *Disconnect) WriteTo(ctx *WriteContext) error {
	ctx.W.WriteInt32(int32(m.Reason))
	ctx.W.WriteString(m.CustomText)
	return nil
}
func (m *Disconnect) ReadFrom(ctx *ReadContext) error {
	v, err := ctx.R.ReadInt32()
	if err != nil {
		return err
	}
	m.Reason = ConnectionResult(v)
	m.CustomText, err = ctx.R.ReadString()
	return err
}

// Acknowledge carries one or more reliably-received message ids (spec.md
// §4.6/§9: "pick the batch form; it is strictly more capable").
type Acknowledge struct {
	IDs []int32
}

func (m *Acknowledge) ProtocolID() byte    { return internalProtocolID }
func (m *Acknowledge) TypeID() uint16      { return typeAcknowledge }
func (m *Acknowledge) Flags() MessageFlags { return MessageFlags{} }
func (m *Acknowledge) WriteTo(ctx *WriteContext) error {
	ctx.W.WriteInt32(int32(len(m.IDs)))
	for _, id := range m.IDs {
		ctx.W.WriteInt32(id)
	}
	return nil
}
func (m *Acknowledge) ReadFrom(ctx *ReadContext) error {
	n, err := ctx.R.ReadInt32()
	if err != nil {
		return err
	}
	if n < 0 {
		return ErrInvalidMessage
	}
	m.IDs = make([]int32, n)
	for i := range m.IDs {
		if m.IDs[i], err = ctx.R.ReadInt32(); err != nil {
			return err
		}
	}
	return nil
}

// Partial is one fragment of an oversized UDP message (spec.md §4.6).
type Partial struct {
	OriginalMessageID int32
	Count             int32
	FragmentIndex     int32
	Fragment          []byte
}

func (m *Partial) ProtocolID() byte    { return internalProtocolID }
func (m *Partial) TypeID() uint16      { return typePartial }
func (m *Partial) Flags() MessageFlags { return MessageFlags{MustBeReliable: true} }
func (m *Partial) WriteTo(ctx *WriteContext) error {
	ctx.W.WriteInt32(m.OriginalMessageID)
	ctx.W.WriteInt32(m.Count)
	ctx.W.WriteInt32(m.FragmentIndex)
	ctx.W.WriteBytes(m.Fragment)
	return nil
}
func (m *Partial) ReadFrom(ctx *ReadContext) error {
	var err error
	if m.OriginalMessageID, err = ctx.R.ReadInt32(); err != nil {
		return err
	}
	if m.Count, err = ctx.R.ReadInt32(); err != nil {
		return err
	}
	if m.FragmentIndex, err = ctx.R.ReadInt32(); err != nil {
		return err
	}
	m.Fragment, err = ctx.R.ReadBytes()
	return err
}

// Ping/Pong carry the keep-alive exchange (spec.md §4.10).
type Ping struct {
	IntervalMS int32
}

func (m *Ping) ProtocolID() byte    { return internalProtocolID }
func (m *Ping) TypeID() uint16      { return typePing }
func (m *Ping) Flags() MessageFlags { return MessageFlags{} }
func (m *Ping) WriteTo(ctx *WriteContext) error {
	ctx.W.WriteInt32(m.IntervalMS)
	return nil
}
func (m *Ping) ReadFrom(ctx *ReadContext) error {
	v, err := ctx.R.ReadInt32()
	m.IntervalMS = v
	return err
}

type Pong struct{}

func (m *Pong) ProtocolID() byte          { return internalProtocolID }
func (m *Pong) TypeID() uint16            { return typePong }
func (m *Pong) Flags() MessageFlags       { return MessageFlags{} }
func (m *Pong) WriteTo(*WriteContext) error { return nil }
func (m *Pong) ReadFrom(*ReadContext) error { return nil }

// internalProtocol is the fixed id=1 handle every Connection/Provider uses
// for handshake and control traffic (spec.md §4.3/§4.7). It is built once
// and never mutated after init.
var internalProtocol = buildInternalProtocol()

func buildInternalProtocol() *Protocol {
	p := newInternalProtocol(1)
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(p.Register(typeConnect, func() Message { return &Connect{} }))
	must(p.Register(typeAcknowledgeConnect, func() Message { return &AcknowledgeConnect{} }))
	must(p.Register(typeFinalConnect, func() Message { return &FinalConnect{} }))
	must(p.Register(typeConnected, func() Message { return &Connected{} }))
	must(p.Register(typeDisconnect, func() Message { return &Disconnect{} }))
	must(p.Register(typeAcknowledge, func() Message { return &Acknowledge{} }))
	must(p.Register(typePartial, func() Message { return &Partial{} }))
	must(p.Register(typePing, func() Message { return &Ping{} }))
	must(p.Register(typePong, func() Message { return &Pong{} }))
	return p
}

// FrameSender/FrameReceiver are the minimal synchronous primitives the
// handshake drives itself over; tcpconn.go and udpconn.go each implement
// them against their own transport (direct write vs. reliable-queue send,
// buffered recv loop vs. datagram recv).
type FrameSender interface {
	SendFrame(frame []byte) error
}

type FrameReceiver interface {
	RecvMessage(ctx context.Context) (Message, *Header, error)
}

// HandshakeIdentity bundles the local RSA key material a ClientHandshake or
// ServerHandshake needs: an authentication keypair (the client signs
// FinalConnect with it; the server only advertises its public half in
// AcknowledgeConnect) and, server-side only, an encryption keypair (wraps
// the AES session key).
type HandshakeIdentity struct {
	AuthKey *rsa.PrivateKey
	EncKey  *rsa.PrivateKey // server only
}

// ClientHandshake drives the Connect/AcknowledgeConnect/FinalConnect/
// Connected exchange from the initiating side (spec.md §4.7). On success it
// returns the negotiated SessionCrypto, the server-assigned connection id,
// the intersected protocol set, and the server's public auth key (for
// Connection.RemoteKey).
func ClientHandshake(
	ctx context.Context,
	t interface {
		FrameSender
		FrameReceiver
	},
	cfg *Config,
	identity HandshakeIdentity,
	offeredProtocols []ProtocolDescriptor,
	log *zerolog.Logger,
) (sess *SessionCrypto, connectionID int32, enabledProtocols []ProtocolDescriptor, serverAuthKey *rsa.PublicKey, err error) {
	authPubDER, err := x509.MarshalPKIXPublicKey(&identity.AuthKey.PublicKey)
	if err != nil {
		return nil, 0, nil, nil, err
	}

	connectFrame, err := EncodeFrame(&Connect{
		Protocols:                  offeredProtocols,
		SupportedSignatureHashAlgs: cfg.SignatureHashAlgorithms,
	}, 0, 0, false, nil)
	if err != nil {
		return nil, 0, nil, nil, err
	}
	if err := t.SendFrame(connectFrame); err != nil {
		return nil, 0, nil, nil, err
	}
	log.Debug().Msg("handshake: sent Connect")

	msg, _, err := t.RecvMessage(ctx)
	if err != nil {
		return nil, 0, nil, nil, newDisconnectError(FailedHandshake, "waiting for AcknowledgeConnect", err)
	}
	ack, ok := msg.(*AcknowledgeConnect)
	if !ok {
		return nil, 0, nil, nil, newDisconnectError(FailedHandshake, "expected AcknowledgeConnect", ErrInvalidMessage)
	}
	if len(ack.EnabledProtocols) == 0 && len(offeredProtocols) > 0 {
		return nil, 0, nil, nil, newDisconnectError(IncompatibleVersion, "empty protocol intersection", nil)
	}
	if rejectedHashAlgorithms[ack.SelectedHashAlg] {
		return nil, 0, nil, nil, newDisconnectError(FailedHandshake, "server selected rejected hash algorithm", nil)
	}

	serverEncPub, err := x509.ParsePKIXPublicKey(ack.PublicEncKeyBytes)
	if err != nil {
		return nil, 0, nil, nil, newDisconnectError(FailedHandshake, "bad server enc key", err)
	}
	rsaEncPub, ok := serverEncPub.(*rsa.PublicKey)
	if !ok {
		return nil, 0, nil, nil, newDisconnectError(FailedHandshake, "server enc key not RSA", nil)
	}
	serverAuthPubAny, err := x509.ParsePKIXPublicKey(ack.PublicAuthKeyBytes)
	if err != nil {
		return nil, 0, nil, nil, newDisconnectError(FailedHandshake, "bad server auth key", err)
	}
	serverAuthKey, ok = serverAuthPubAny.(*rsa.PublicKey)
	if !ok {
		return nil, 0, nil, nil, newDisconnectError(FailedHandshake, "server auth key not RSA", nil)
	}

	aesKey := make([]byte, 32)
	if _, err := rand.Read(aesKey); err != nil {
		return nil, 0, nil, nil, err
	}
	wrapped, err := (RSAKeyExchanger{}).Wrap(rsaEncPub, aesKey)
	if err != nil {
		return nil, 0, nil, nil, newDisconnectError(FailedHandshake, "key wrap failed", err)
	}

	finalMsg, err := buildFinalConnect(wrapped, authPubDER, NewRSASigner(identity.AuthKey))
	if err != nil {
		return nil, 0, nil, nil, err
	}
	finalFrame, err := EncodeFrame(finalMsg, 0, 0, false, nil)
	if err != nil {
		return nil, 0, nil, nil, err
	}
	if err := t.SendFrame(finalFrame); err != nil {
		return nil, 0, nil, nil, err
	}
	log.Debug().Msg("handshake: sent FinalConnect")

	msg, _, err = t.RecvMessage(ctx)
	if err != nil {
		return nil, 0, nil, nil, newDisconnectError(FailedHandshake, "waiting for Connected", err)
	}
	connected, ok := msg.(*Connected)
	if !ok {
		return nil, 0, nil, nil, newDisconnectError(FailedHandshake, "expected Connected", ErrInvalidMessage)
	}

	sess, err = NewSessionCrypto(aesKey, ack.SelectedHashAlg)
	if err != nil {
		return nil, 0, nil, nil, err
	}
	log.Info().Int32("connection_id", connected.ConnectionID).Msg("handshake: connected")
	return sess, connected.ConnectionID, ack.EnabledProtocols, serverAuthKey, nil
}

// ServerHandshake drives the accepting side of the exchange. registry is
// consulted to find a compatible local *Protocol for each id the client
// offers; identity.EncKey must be set. connectionID is the id this Provider
// has already allocated for the incoming peer (spec.md §4.8).
func ServerHandshake(
	ctx context.Context,
	t interface {
		FrameSender
		FrameReceiver
	},
	cfg *Config,
	registry *Registry,
	identity HandshakeIdentity,
	connectionID int32,
	log *zerolog.Logger,
) (sess *SessionCrypto, enabledProtocols []ProtocolDescriptor, clientAuthKey *rsa.PublicKey, err error) {
	msg, _, err := t.RecvMessage(ctx)
	if err != nil {
		return nil, nil, nil, newDisconnectError(FailedHandshake, "waiting for Connect", err)
	}
	connect, ok := msg.(*Connect)
	if !ok {
		return nil, nil, nil, newDisconnectError(FailedHandshake, "expected Connect", ErrInvalidMessage)
	}
	if len(connect.Protocols) == 0 {
		return nil, nil, nil, newDisconnectError(FailedHandshake, "empty protocol list", nil)
	}

	selectedHash := ""
	for _, want := range connect.SupportedSignatureHashAlgs {
		if rejectedHashAlgorithms[want] {
			continue
		}
		for _, have := range cfg.SignatureHashAlgorithms {
			if want == have {
				selectedHash = want
				break
			}
		}
		if selectedHash != "" {
			break
		}
	}
	if selectedHash == "" {
		disconnectAndLog(t, log, FailedHandshake, "no acceptable signature hash algorithm")
		return nil, nil, nil, newDisconnectError(FailedHandshake, "no acceptable signature hash algorithm", nil)
	}

	var enabled []ProtocolDescriptor
	for _, offered := range connect.Protocols {
		local, ok := registry.Get(offered.ID)
		if !ok {
			continue
		}
		if local.version == offered.Version || (local.acceptedVersions != nil && local.acceptedVersions[offered.Version]) {
			enabled = append(enabled, ProtocolDescriptor{ID: offered.ID, Version: local.version})
		}
	}
	if len(enabled) == 0 {
		disconnectAndLog(t, log, IncompatibleVersion, "empty protocol intersection")
		return nil, nil, nil, newDisconnectError(IncompatibleVersion, "empty protocol intersection", nil)
	}

	authPubDER, err := x509.MarshalPKIXPublicKey(&identity.AuthKey.PublicKey)
	if err != nil {
		return nil, nil, nil, err
	}
	encPubDER, err := x509.MarshalPKIXPublicKey(&identity.EncKey.PublicKey)
	if err != nil {
		return nil, nil, nil, err
	}

	ackFrame, err := EncodeFrame(&AcknowledgeConnect{
		SelectedHashAlg:    selectedHash,
		EnabledProtocols:   enabled,
		ConnectionID:       connectionID,
		PublicAuthKeyBytes: authPubDER,
		PublicEncKeyBytes:  encPubDER,
	}, connectionID, 0, false, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := t.SendFrame(ackFrame); err != nil {
		return nil, nil, nil, err
	}
	log.Debug().Msg("handshake: sent AcknowledgeConnect")

	msg, _, err = t.RecvMessage(ctx)
	if err != nil {
		return nil, nil, nil, newDisconnectError(FailedHandshake, "waiting for FinalConnect", err)
	}
	final, ok := msg.(*FinalConnect)
	if !ok {
		return nil, nil, nil, newDisconnectError(FailedHandshake, "expected FinalConnect", ErrInvalidMessage)
	}
	clientAuthKey, err = verifyFinalConnect(final)
	if err != nil {
		disconnectAndLog(t, log, MessageAuthenticationFailed, "FinalConnect signature invalid")
		return nil, nil, nil, newDisconnectError(MessageAuthenticationFailed, "FinalConnect signature invalid", err)
	}

	aesKey, err := (RSAKeyExchanger{}).Unwrap(identity.EncKey, final.AESKeyWrapped)
	if err != nil {
		disconnectAndLog(t, log, FailedHandshake, "AES key unwrap failed")
		return nil, nil, nil, newDisconnectError(FailedHandshake, "AES key unwrap failed", err)
	}
	sess, err = NewSessionCrypto(aesKey, selectedHash)
	if err != nil {
		return nil, nil, nil, err
	}

	connectedFrame, err := EncodeFrame(&Connected{ConnectionID: connectionID}, connectionID, 0, false, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := t.SendFrame(connectedFrame); err != nil {
		return nil, nil, nil, err
	}
	log.Info().Int32("connection_id", connectionID).Msg("handshake: connected")
	return sess, enabled, clientAuthKey, nil
}

func disconnectAndLog(t FrameSender, log *zerolog.Logger, result ConnectionResult, reason string) {
	frame, err := EncodeFrame(&Disconnect{Reason: result, CustomText: reason}, 0, 0, false, nil)
	if err != nil {
		log.Warn().Err(err).Msg("handshake: failed to encode Disconnect")
		return
	}
	if err := t.SendFrame(frame); err != nil {
		log.Debug().Err(err).Msg("handshake: failed to send Disconnect")
	}
}
