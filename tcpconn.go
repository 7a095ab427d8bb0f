package tempest

import (
	"context"
	"crypto/rsa"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ConnState is a Connection's handshake/lifecycle phase (spec.md §3).
type ConnState int

const (
	StateConnecting ConnState = iota
	StateHandshaking
	StateConnected
	StateDisconnecting
	StateDisconnected
)

// EventConnection is the subset of a Connection's surface a dispatched
// handler needs to reply on or tear down the peer that sent it, common to
// both TCPConnection and UDPConnection.
type EventConnection interface {
	ConnectionID() int32
	Send(msg Message, responseExpected bool, timeout time.Duration) (func(ctx context.Context) (Message, error), error)
	Close(reason string) error
}

// MessageEvent is handed to a dispatcher handler for one inbound message
// (spec.md §4.9).
type MessageEvent struct {
	Connection EventConnection
	Header     *Header
	Message    Message
}

// TCPConnection is a single async socket wrapped in the header/decrypt/
// dispatch state machine of spec.md §4.5. The receive buffer is a single
// growable array shared across reads, compacted in place as whole messages
// are consumed, matching "Receive buffer is a single array shared across
// recv calls" (spec.md §4.5).
type TCPConnection struct {
	conn net.Conn
	cfg  *Config
	log  *zerolog.Logger

	registry *Registry

	mu           sync.Mutex
	state        ConnState
	connectionID int32
	sess         *SessionCrypto
	remoteKey    *rsa.PublicKey

	recvBuf       []byte
	messageOffset int
	filled        int
	header        *Header

	nextExpectedID int32 // highest non-response message id seen so far, for the TCP ordering guard (spec.md §4.5)

	sendMu sync.Mutex

	idAlloc  *messageIDAllocator
	resp     *ResponseManager
	ping     *PingTracker
	pingStop chan struct{}

	dispatcher *Dispatcher

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTCPConnection wraps an already-connected net.Conn. The caller drives
// the handshake separately (ClientHandshake/ServerHandshake) before calling
// Run, or passes a connection whose handshake result is installed via
// installSession.
func NewTCPConnection(conn net.Conn, cfg *Config, registry *Registry, dispatcher *Dispatcher, log *zerolog.Logger) *TCPConnection {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		l := defaultLogger()
		log = &l
	}
	return &TCPConnection{
		conn:       conn,
		cfg:        cfg,
		log:        log,
		registry:   registry,
		state:      StateConnecting,
		recvBuf:    make([]byte, cfg.TCPRecvBufferInitial),
		header:     NewHeader(),
		idAlloc:    newMessageIDAllocator(),
		resp:       NewResponseManager(),
		ping:       NewPingTracker(),
		pingStop:   make(chan struct{}),
		dispatcher: dispatcher,
		closed:     make(chan struct{}),
	}
}

// SendFrame implements FrameSender for the handshake driver: one raw write,
// no reliability/retransmit logic (spec.md §4.5: "sends may be reordered
// freely since order is guaranteed by TCP itself").
func (c *TCPConnection) SendFrame(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := c.conn.Write(frame)
	return err
}

// RecvMessage implements FrameReceiver for the handshake driver: it pumps
// the same receive-buffer state machine Run uses, but returns the first
// decoded message instead of dispatching it.
func (c *TCPConnection) RecvMessage(ctx context.Context) (Message, *Header, error) {
	for {
		if err := c.advanceHeader(); err != nil {
			return nil, nil, err
		}
		if c.header.Complete() && c.filled-c.messageOffset >= int(c.header.Length) {
			msg, hdr, err := c.decodeAndCompact()
			if err != nil {
				return nil, nil, err
			}
			return msg, hdr, nil
		}
		if err := c.fillOnce(ctx); err != nil {
			return nil, nil, err
		}
	}
}

func (c *TCPConnection) fillOnce(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(dl)
	}
	c.ensureSpace()
	n, err := c.conn.Read(c.recvBuf[c.filled:])
	if err != nil {
		return err
	}
	if n == 0 {
		return io.ErrUnexpectedEOF
	}
	c.filled += n
	return nil
}

func (c *TCPConnection) ensureSpace() {
	if c.filled < len(c.recvBuf) {
		return
	}
	grown := make([]byte, len(c.recvBuf)*2)
	copy(grown, c.recvBuf[c.messageOffset:c.filled])
	c.filled -= c.messageOffset
	c.messageOffset = 0
	c.recvBuf = grown
}

func (c *TCPConnection) advanceHeader() error {
	window := c.recvBuf[c.messageOffset:c.filled]
	r := NewReader(window)
	result, err := c.header.Advance(r, c.cfg)
	if err != nil {
		return err
	}
	if result == HeaderInvalid {
		return ErrHeaderInvalid
	}
	if result == HeaderComplete && c.messageOffset+int(c.header.Length) > len(c.recvBuf) {
		// Declared length overruns the current buffer: grow to fit rather
		// than wait forever for space that will never appear (spec.md
		// §4.5 step 4: "allocate a buffer sized to the declared length").
		needed := c.header.Length
		grown := make([]byte, needed)
		copy(grown, c.recvBuf[c.messageOffset:c.filled])
		c.filled -= c.messageOffset
		c.messageOffset = 0
		c.recvBuf = grown
	}
	return nil
}

// decodeAndCompact decodes the message the header just completed, verifies
// the TCP ordering guard, advances messageOffset past it, and compacts the
// buffer if the consumed region is now at the front.
func (c *TCPConnection) decodeAndCompact() (Message, *Header, error) {
	hdr := c.header
	frame := c.recvBuf[c.messageOffset : c.messageOffset+int(hdr.Length)]

	if err := c.checkOrdering(hdr); err != nil {
		return nil, nil, err
	}

	msg, err := DecodeFrame(frame, hdr, c.registry, c.currentSession())
	if err != nil {
		return nil, nil, err
	}

	c.messageOffset += int(hdr.Length)
	c.header = NewHeader()
	if c.messageOffset == c.filled {
		c.messageOffset = 0
		c.filled = 0
	}
	return msg, hdr, nil
}

// checkOrdering enforces spec.md §4.5's replay guard: non-response message
// ids must strictly increase (wrap aside); response ids must not exceed
// the next-id counter the sender would have issued.
func (c *TCPConnection) checkOrdering(hdr *Header) error {
	if hdr.ProtocolID == internalProtocolID {
		return nil // handshake/control traffic is exempt until Connected
	}
	if hdr.MessageID == 0 {
		return nil // unreliable, bypasses ordering
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if hdr.IsResponse {
		if hdr.MessageID > c.nextExpectedID {
			return newDisconnectError(MessageAuthenticationFailed, "response id exceeds issued range", nil)
		}
		return nil
	}
	if hdr.MessageID <= c.nextExpectedID && !(c.nextExpectedID >= maxMessageID-1 && hdr.MessageID == 1) {
		return newDisconnectError(MessageAuthenticationFailed, "non-increasing message id", nil)
	}
	c.nextExpectedID = hdr.MessageID
	return nil
}

func (c *TCPConnection) currentSession() *SessionCrypto {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// installSession records the handshake's negotiated state and marks the
// connection Connected (spec.md §4.7 step 4).
func (c *TCPConnection) installSession(connectionID int32, sess *SessionCrypto, remoteKey *rsa.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionID = connectionID
	c.sess = sess
	c.remoteKey = remoteKey
	c.state = StateConnected
}

// State reports the connection's current lifecycle phase.
func (c *TCPConnection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionID returns the id this connection was assigned at handshake.
func (c *TCPConnection) ConnectionID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// RemoteKey returns the peer's public authentication key, set once the
// handshake completes.
func (c *TCPConnection) RemoteKey() *rsa.PublicKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteKey
}

// Send frames msg and writes it in one call (spec.md §4.5: "frame the
// message, push the outbound bytes in one write"). If responseExpected is
// set, the returned waiter resolves once DecodeFrame completes a matching
// response, or times out.
func (c *TCPConnection) Send(msg Message, responseExpected bool, timeout time.Duration) (func(ctx context.Context) (Message, error), error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	id, wrapped := c.idAlloc.Next()
	if wrapped {
		c.log.Debug().Msg("tcpconn: message id counter wrapped")
	}
	frame, err := EncodeFrame(msg, c.ConnectionID(), id, false, c.currentSession())
	if err != nil {
		return nil, err
	}
	var waiter func(ctx context.Context) (Message, error)
	if responseExpected {
		waiter = c.resp.Register(id, timeout, c.cfg.ResponseTimeout)
	}
	if err := c.SendFrame(frame); err != nil {
		c.fail(ConnectionFailed, "send failed", err)
		return nil, err
	}
	return waiter, nil
}

// Run pumps the receive loop until the connection fails or is closed,
// dispatching each decoded message to either the response manager (if it is
// a response) or the Dispatcher (spec.md §4.5 steps 1-5).
func (c *TCPConnection) Run(ctx context.Context) {
	defer c.closeOnce.Do(func() { close(c.closed) })
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, hdr, err := c.RecvMessage(ctx)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				c.fail(ConnectionFailed, "peer closed connection", err)
			} else if de, ok := err.(*DisconnectError); ok {
				c.fail(de.Result, de.Reason, de.Cause)
			} else {
				c.fail(ConnectionFailed, "receive failed", err)
			}
			return
		}
		c.handleDecoded(msg, hdr)
	}
}

func (c *TCPConnection) handleDecoded(msg Message, hdr *Header) {
	switch m := msg.(type) {
	case *Ping:
		_, _ = c.Send(&Pong{}, false, 0)
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

// fail transitions the connection to Disconnected, cancels pending
// response futures, stops the ping loop, and closes the socket.
func (c *TCPConnection) fail(result ConnectionResult, reason string, cause error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	c.resp.CancelAll(newDisconnectError(result, reason, cause))
	select {
	case <-c.pingStop:
	default:
		close(c.pingStop)
	}
	_ = c.conn.Close()
	if c.dispatcher != nil {
		c.dispatcher.Forget(c.ConnectionID())
	}
	c.log.Info().Str("result", result.String()).Str("reason", reason).Msg("tcpconn: disconnected")
}

// Close performs a graceful shutdown: send Disconnect, drain, tear down
// (spec.md §5: "disconnect_async enqueues a graceful DisconnectMessage").
func (c *TCPConnection) Close(reason string) error {
	c.mu.Lock()
	if c.state == StateDisconnected || c.state == StateDisconnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnecting
	c.mu.Unlock()

	frame, err := EncodeFrame(&Disconnect{Reason: Success, CustomText: reason}, c.ConnectionID(), 0, false, c.currentSession())
	if err == nil {
		_ = c.SendFrame(frame)
	}
	c.fail(Success, reason, nil)
	return nil
}

// Done returns a channel closed once Run has returned.
func (c *TCPConnection) Done() <-chan struct{} { return c.closed }

// StartPing begins this connection's own keep-alive timer (normally invoked
// by the owning Provider, which starts one such timer per connection).
func (c *TCPConnection) StartPing(interval time.Duration, maxMissed int) {
	go pingLoop(c.pingStop, interval, maxMissed, c.ping, func() error {
		_, err := c.Send(&Ping{IntervalMS: int32(interval / time.Millisecond)}, false, 0)
		return err
	}, func(result ConnectionResult, reason string) {
		c.fail(result, reason, nil)
	})
}
