package tempest

import (
	"context"
	"crypto/rsa"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// pendingAckEntry is one sent-but-unacknowledged reliable message, shared
// between the send path and the retransmit timer (spec.md §3: "PendingAck
// (UDP)").
type pendingAckEntry struct {
	sentAt time.Time
	frame  []byte
}

// UDPConnection is one logical peer multiplexed over a shared socket,
// demultiplexed by connection_id in the header (spec.md §4.6). It owns a
// ReliableQueue for inbound ordering, a pending-ack map for outbound
// retransmission, and a PartialPool for fragment reassembly.
type UDPConnection struct {
	socket net.PacketConn
	remote net.Addr
	cfg    *Config
	log    *zerolog.Logger

	registry *Registry

	mu           sync.Mutex
	state        ConnState
	connectionID int32
	sess         *SessionCrypto
	remoteKey    *rsa.PublicKey

	reliable *ReliableQueue
	partials *PartialPool
	idAlloc  *messageIDAllocator
	resp     *ResponseManager
	ping     *PingTracker

	ackMu      sync.Mutex
	pendingAck map[int32]*pendingAckEntry

	dispatcher *Dispatcher
	inbox      handshakeInbox

	stop      chan struct{}
	closeOnce sync.Once
}

// NewUDPConnection wraps socket for communication with remote. socket is
// shared across every UDPConnection that Provider.ServeUDP owns; callers
// route inbound datagrams to the right UDPConnection by connection_id
// before calling HandleDatagram.
func NewUDPConnection(socket net.PacketConn, remote net.Addr, cfg *Config, registry *Registry, dispatcher *Dispatcher, log *zerolog.Logger) *UDPConnection {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		l := defaultLogger()
		log = &l
	}
	return &UDPConnection{
		socket:     socket,
		remote:     remote,
		cfg:        cfg,
		log:        log,
		registry:   registry,
		state:      StateConnecting,
		reliable:   NewReliableQueue(cfg.ReliableQueueMaxLookahead),
		partials:   NewPartialPool(),
		idAlloc:    newMessageIDAllocator(),
		resp:       NewResponseManager(),
		ping:       NewPingTracker(),
		pendingAck: make(map[int32]*pendingAckEntry),
		dispatcher: dispatcher,
		stop:       make(chan struct{}),
	}
}

// SendFrame implements FrameSender for the handshake driver: writes one
// datagram directly, bypassing the reliable queue (handshake messages
// travel unreliable/id=0 the way Connect/AcknowledgeConnect/FinalConnect/
// Connected are framed in handshake.go).
func (c *UDPConnection) SendFrame(frame []byte) error {
	_, err := c.socket.WriteTo(frame, c.remote)
	return err
}

// handshakeInbox is installed only while ClientHandshake/ServerHandshake is
// driving this connection; HandleDatagram forwards decoded handshake-phase
// messages there instead of to the dispatcher.
type handshakeInbox chan handshakeDelivery

type handshakeDelivery struct {
	msg Message
	hdr *Header
	err error
}

func (c *UDPConnection) setHandshakeInbox(inbox handshakeInbox) {
	c.mu.Lock()
	c.inbox = inbox
	c.mu.Unlock()
}

// RecvMessage implements FrameReceiver for the handshake driver by reading
// from the inbox HandleDatagram populates.
func (c *UDPConnection) RecvMessage(ctx context.Context) (Message, *Header, error) {
	c.mu.Lock()
	inbox := c.inbox
	c.mu.Unlock()
	select {
	case d := <-inbox:
		return d.msg, d.hdr, d.err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// HandleDatagram processes one datagram already known to belong to this
// connection (the UDPProvider demultiplexes by connection_id before
// calling this). It advances a fresh per-datagram Header, decrypts/
// verifies, and routes the result to either the handshake inbox, the
// reliable queue, or directly to dispatch for unreliable messages.
func (c *UDPConnection) HandleDatagram(raw []byte) {
	hdr := NewHeader()
	r := NewReader(raw)
	result, err := hdr.Advance(r, c.cfg)
	if err != nil || result != HeaderComplete {
		c.deliverHandshake(nil, nil, err)
		return
	}

	if hdr.ProtocolID == internalProtocolID && hdr.TypeID == typeAcknowledge {
		var ack Acknowledge
		msg, derr := DecodeFrame(raw, hdr, c.registry, c.currentSession())
		if derr == nil {
			ack = *msg.(*Acknowledge)
			c.handleAcknowledge(&ack)
		}
		return
	}

	if hdr.ProtocolID == internalProtocolID && hdr.TypeID == typePartial {
		c.handlePartialDatagram(raw, hdr)
		return
	}

	msg, err := DecodeFrame(raw, hdr, c.registry, c.currentSession())
	if err != nil {
		c.deliverHandshake(nil, hdr, err)
		return
	}

	if c.inHandshake() {
		c.deliverHandshake(msg, hdr, nil)
		return
	}

	c.routeDecoded(msg, hdr)
}

func (c *UDPConnection) inHandshake() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbox != nil && c.state != StateConnected
}

func (c *UDPConnection) deliverHandshake(msg Message, hdr *Header, err error) {
	c.mu.Lock()
	inbox := c.inbox
	c.mu.Unlock()
	if inbox == nil {
		return
	}
	select {
	case inbox <- handshakeDelivery{msg: msg, hdr: hdr, err: err}:
	default:
	}
}

// handlePartialDatagram accumulates one fragment of an oversized message
// (spec.md §4.6). The fragment's own id is ACKed unconditionally on
// receipt (it travelled the reliable queue in its own right); once every
// fragment has arrived the concatenated bytes are re-parsed as a complete
// frame (header included, per spec.md §4.6 "handed to the framer as a
// single contiguous buffer") and fed into the reliable queue under the
// original message's id.
func (c *UDPConnection) handlePartialDatagram(raw []byte, hdr *Header) {
	msg, err := DecodeFrame(raw, hdr, c.registry, c.currentSession())
	if err != nil {
		return
	}
	frag := msg.(*Partial)
	c.sendAck(hdr.MessageID)

	complete, ok := c.partials.Accept(frag)
	if !ok {
		return
	}

	fullHdr := NewHeader()
	r := NewReader(complete)
	result, err := fullHdr.Advance(r, c.cfg)
	if err != nil || result != HeaderComplete {
		c.log.Warn().Msg("udpconn: reassembled message header invalid")
		return
	}
	fullMsg, err := DecodeFrame(complete, fullHdr, c.registry, c.currentSession())
	if err != nil {
		c.log.Warn().Err(err).Msg("udpconn: failed to decode reassembled message")
		return
	}
	c.acceptReliable(fullHdr.MessageID, fullMsg, fullHdr)
}

// acceptReliable runs msg through the reliable queue keyed by id, releasing
// any now-in-order run to dispatch, and ACKs id if it was accepted
// (duplicate/far-future ids are silently dropped, spec.md §4.6).
func (c *UDPConnection) acceptReliable(id int32, msg Message, hdr *Header) {
	released, err := c.reliable.Accept(id, msg, hdr)
	if err != nil {
		c.log.Debug().Err(err).Int32("id", id).Msg("udpconn: reliable queue rejected id")
		return
	}
	c.sendAck(id)
	for _, rel := range released {
		c.dispatchDecoded(rel.msg, rel.header)
	}
}

// routeDecoded decides whether msg must pass through the reliable queue
// before release, or can be dispatched immediately (spec.md §4.6: "every
// message with must_be_reliable || prefer_reliable and a non-zero id").
// Partial fragments are routed by handlePartialDatagram directly and never
// reach here.
func (c *UDPConnection) routeDecoded(msg Message, hdr *Header) {
	if hdr.MessageID != 0 && msg.Flags().Reliable() {
		c.acceptReliable(hdr.MessageID, msg, hdr)
		return
	}
	c.dispatchDecoded(msg, hdr)
}

// dispatchDecoded is the terminal step for a message once reliable
// ordering (if any) has already been satisfied: control messages are
// handled inline, responses complete their future, everything else goes to
// the Dispatcher.
func (c *UDPConnection) dispatchDecoded(msg Message, hdr *Header) {
	switch m := msg.(type) {
	case *Ping:
		_ = c.sendUnreliable(&Pong{})
		return
	case *Pong:
		c.ping.RecordPong(time.Now())
		return
	case *Disconnect:
		c.fail(m.Reason, m.CustomText, nil)
		return
	}
	if hdr.IsResponse {
		if c.resp.Complete(hdr.MessageID, msg) {
			return
		}
	}
	if c.dispatcher != nil {
		c.dispatcher.Dispatch(MessageEvent{Connection: c, Header: hdr, Message: msg})
	}
}

func (c *UDPConnection) handleAcknowledge(ack *Acknowledge) {
	c.ackMu.Lock()
	for _, id := range ack.IDs {
		delete(c.pendingAck, id)
	}
	c.ackMu.Unlock()
}

func (c *UDPConnection) sendAck(id int32) {
	frame, err := EncodeFrame(&Acknowledge{IDs: []int32{id}}, c.ConnectionID(), 0, false, c.currentSession())
	if err != nil {
		return
	}
	_ = c.SendFrame(frame)
}

func (c *UDPConnection) sendUnreliable(msg Message) error {
	frame, err := EncodeFrame(msg, c.ConnectionID(), 0, false, c.currentSession())
	if err != nil {
		return err
	}
	return c.SendFrame(frame)
}

// Send frames msg, fragmenting it across Partial messages when it exceeds
// the configured UDP payload budget, and registers each reliable fragment
// in pendingAck for the retransmit timer (spec.md §4.6).
func (c *UDPConnection) Send(msg Message, responseExpected bool, timeout time.Duration) (func(ctx context.Context) (Message, error), error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	id, wrapped := c.idAlloc.Next()
	if wrapped {
		c.reliable.ResetOnWrap()
	}
	frame, err := EncodeFrame(msg, c.ConnectionID(), id, false, c.currentSession())
	if err != nil {
		return nil, err
	}

	var waiter func(ctx context.Context) (Message, error)
	if responseExpected {
		waiter = c.resp.Register(id, timeout, c.cfg.ResponseTimeout)
	}

	payloadBudget := c.cfg.UDPFragmentPayload
	if len(frame) <= payloadBudget || !msg.Flags().Reliable() {
		if msg.Flags().Reliable() {
			c.registerPending(id, frame)
		}
		return waiter, c.SendFrame(frame)
	}

	fragments := splitIntoFragments(frame, payloadBudget)
	for i, piece := range fragments {
		fragID := id
		if i > 0 {
			fragID, _ = c.idAlloc.Next()
		}
		partial := &Partial{OriginalMessageID: id, Count: int32(len(fragments)), FragmentIndex: int32(i), Fragment: piece}
		partialFrame, err := EncodeFrame(partial, c.ConnectionID(), fragID, false, c.currentSession())
		if err != nil {
			return waiter, err
		}
		c.registerPending(fragID, partialFrame)
		if err := c.SendFrame(partialFrame); err != nil {
			return waiter, err
		}
	}
	return waiter, nil
}

func (c *UDPConnection) registerPending(id int32, frame []byte) {
	c.ackMu.Lock()
	c.pendingAck[id] = &pendingAckEntry{sentAt: time.Now(), frame: frame}
	c.ackMu.Unlock()
}

// RunRetransmitTimer scans pendingAck on cfg.RetransmitScanInterval and
// re-sends any entry older than cfg.RetransmitThreshold (spec.md §4.6:
// "~100ms... 600ms... re-sent with the same message id").
func (c *UDPConnection) RunRetransmitTimer() {
	ticker := time.NewTicker(c.cfg.RetransmitScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.ackMu.Lock()
			var toResend [][]byte
			for _, entry := range c.pendingAck {
				if now.Sub(entry.sentAt) >= c.cfg.RetransmitThreshold {
					entry.sentAt = now
					toResend = append(toResend, entry.frame)
				}
			}
			c.ackMu.Unlock()
			for _, frame := range toResend {
				_ = c.SendFrame(frame)
			}
		}
	}
}

func (c *UDPConnection) currentSession() *SessionCrypto {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *UDPConnection) installSession(connectionID int32, sess *SessionCrypto, remoteKey *rsa.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionID = connectionID
	c.sess = sess
	c.remoteKey = remoteKey
	c.state = StateConnected
}

// ConnectionID returns the id assigned during handshake.
func (c *UDPConnection) ConnectionID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// State reports the connection's current lifecycle phase.
func (c *UDPConnection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *UDPConnection) fail(result ConnectionResult, reason string, cause error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.mu.Unlock()
	c.resp.CancelAll(newDisconnectError(result, reason, cause))
	c.closeOnce.Do(func() { close(c.stop) })
	if c.dispatcher != nil {
		c.dispatcher.Forget(c.ConnectionID())
	}
	c.log.Info().Str("result", result.String()).Str("reason", reason).Msg("udpconn: disconnected")
}

// Close performs a graceful shutdown matching TCPConnection.Close.
func (c *UDPConnection) Close(reason string) error {
	_ = c.sendUnreliable(&Disconnect{Reason: Success, CustomText: reason})
	c.fail(Success, reason, nil)
	return nil
}

// StartPing begins the keep-alive timer for this connection.
func (c *UDPConnection) StartPing(interval time.Duration, maxMissed int) {
	go pingLoop(c.stop, interval, maxMissed, c.ping, func() error {
		return c.sendUnreliable(&Ping{IntervalMS: int32(interval / time.Millisecond)})
	}, func(result ConnectionResult, reason string) {
		c.fail(result, reason, nil)
	})
}
