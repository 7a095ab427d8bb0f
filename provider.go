package tempest

import (
	"context"
	"crypto/rsa"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// ConnectionMadeFunc is invoked once a peer's handshake completes but
// before it is promoted to the active set (spec.md §4.8). Returning an
// error rejects the peer with an immediate graceful close.
type ConnectionMadeFunc func(connectionID int32) error

// Identity bundles the server's two RSA keypairs: an authentication key
// (auth) whose public half is advertised in AcknowledgeConnect, and one for
// AES session-key unwrap (enc) (spec.md §4.7 step 2). FinalConnect is
// verified against the client's key, not against AuthKey.
type Identity struct {
	AuthKey *rsa.PrivateKey
	EncKey  *rsa.PrivateKey
}

// Provider is a listening/binding server role for one transport family: it
// accepts or demultiplexes incoming peers up to MaxConnections, allocates
// connection ids, drives each peer's handshake, and starts a keep-alive
// ping timer for each accepted connection (spec.md §4.8). There is no
// single shared timer: every connection runs its own pingLoop.
type Provider struct {
	cfg        *Config
	registry   *Registry // narrowed to localProtocols by restrictRegistry
	dispatcher *Dispatcher
	identity   Identity
	log        *zerolog.Logger

	localProtocols []ProtocolDescriptor
	onConnected    ConnectionMadeFunc

	mu       sync.Mutex
	nextID   int32
	tcpConns map[int32]*TCPConnection
	udpConns map[int32]*UDPConnection
	closed   bool
}

// ProviderOption configures optional Provider behavior at construction,
// mirroring the teacher's functional-options-over-a-struct pattern
// (rdgproto/message.go's *MessageOptions).
type ProviderOption func(*Provider)

// WithConnectionMade installs the callback fired once a peer's handshake
// completes, before it is promoted to active (spec.md §4.8).
func WithConnectionMade(f ConnectionMadeFunc) ProviderOption {
	return func(p *Provider) { p.onConnected = f }
}

// NewProvider constructs a Provider advertising localProtocols to incoming
// peers. registry may hold more protocols than localProtocols names (e.g.
// one Registry shared by several Providers exposing different subsets); the
// Provider only negotiates and decodes the ones it was told to advertise.
// If localProtocols is empty, every protocol in registry is advertised.
func NewProvider(cfg *Config, registry *Registry, identity Identity, localProtocols []ProtocolDescriptor, dispatcher *Dispatcher, log *zerolog.Logger, opts ...ProviderOption) *Provider {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		l := defaultLogger()
		log = &l
	}
	p := &Provider{
		cfg:            cfg,
		registry:       restrictRegistry(registry, localProtocols),
		dispatcher:     dispatcher,
		identity:       identity,
		log:            log,
		localProtocols: localProtocols,
		tcpConns:       make(map[int32]*TCPConnection),
		udpConns:       make(map[int32]*UDPConnection),
		nextID:         1, // 0 reserved (spec.md §4.8: "0 reserved")
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// restrictRegistry narrows full down to just the protocols named by
// allowed, so a Provider exposing a subset of a shared Registry can't
// negotiate or decode protocols it wasn't told to advertise. An empty
// allowed list leaves full untouched.
func restrictRegistry(full *Registry, allowed []ProtocolDescriptor) *Registry {
	if len(allowed) == 0 {
		return full
	}
	restricted := NewRegistry()
	for _, pd := range allowed {
		if proto, ok := full.Get(pd.ID); ok {
			_ = restricted.Add(proto)
		}
	}
	return restricted
}

// allocateID returns the next monotonically increasing connection id,
// verified unique against the live set (spec.md §4.8).
func (p *Provider) allocateID() (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.MaxConnections > 0 && len(p.tcpConns)+len(p.udpConns) >= p.cfg.MaxConnections {
		return 0, ErrFull
	}
	for {
		id := p.nextID
		p.nextID++
		if p.nextID <= 0 {
			p.nextID = 1
		}
		if _, used := p.tcpConns[id]; used {
			continue
		}
		if _, used := p.udpConns[id]; used {
			continue
		}
		return id, nil
	}
}

// ServeTCP accepts connections on ln until ctx is done, handshaking each
// one and promoting it to active on success (spec.md §4.8).
func (p *Provider) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go p.acceptTCP(ctx, conn)
	}
}

func (p *Provider) acceptTCP(ctx context.Context, conn net.Conn) {
	id, err := p.allocateID()
	if err != nil {
		p.log.Info().Err(err).Msg("provider: rejecting connection, at capacity")
		_ = conn.Close()
		return
	}

	tc := NewTCPConnection(conn, p.cfg, p.registry, p.dispatcher, p.log)
	sess, _, clientKey, err := ServerHandshake(ctx, tc, p.cfg, p.registry, HandshakeIdentity{AuthKey: p.identity.AuthKey, EncKey: p.identity.EncKey}, id, p.log)
	if err != nil {
		p.log.Warn().Err(err).Msg("provider: TCP handshake failed")
		_ = conn.Close()
		return
	}
	tc.installSession(id, sess, clientKey)

	if p.onConnected != nil {
		if err := p.onConnected(id); err != nil {
			p.log.Info().Err(err).Int32("connection_id", id).Msg("provider: ConnectionMade rejected peer")
			_ = tc.Close("rejected by application")
			return
		}
	}

	p.mu.Lock()
	p.tcpConns[id] = tc
	p.mu.Unlock()

	tc.StartPing(p.cfg.PingInterval, p.cfg.MaxMissedPings)
	tc.Run(ctx)

	p.mu.Lock()
	delete(p.tcpConns, id)
	p.mu.Unlock()
}

// ServeUDP reads datagrams from conn until ctx is done, routing each to the
// UDPConnection for its header's connection_id, handshaking new peers on
// first contact (spec.md §4.8).
func (p *Provider) ServeUDP(ctx context.Context, conn net.PacketConn) error {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, 1<<16)
	pendingByAddr := make(map[string]*UDPConnection)
	var pendingMu sync.Mutex

	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])

		hdr := NewHeader()
		r := NewReader(raw)
		result, herr := hdr.Advance(r, p.cfg)
		if herr != nil || result != HeaderComplete {
			continue
		}

		p.mu.Lock()
		existing, ok := p.udpConns[hdr.ConnectionID]
		p.mu.Unlock()
		if ok {
			existing.HandleDatagram(raw)
			continue
		}

		pendingMu.Lock()
		uc, ok := pendingByAddr[addr.String()]
		if !ok {
			id, err := p.allocateID()
			if err != nil {
				pendingMu.Unlock()
				p.log.Info().Err(err).Msg("provider: rejecting UDP peer, at capacity")
				continue
			}
			uc = NewUDPConnection(conn, addr, p.cfg, p.registry, p.dispatcher, p.log)
			inbox := make(handshakeInbox, 16)
			uc.setHandshakeInbox(inbox)
			pendingByAddr[addr.String()] = uc
			go p.completeUDPHandshake(ctx, uc, id, addr, pendingByAddr, &pendingMu)
		}
		pendingMu.Unlock()
		uc.HandleDatagram(raw)
	}
}

func (p *Provider) completeUDPHandshake(ctx context.Context, uc *UDPConnection, id int32, addr net.Addr, pendingByAddr map[string]*UDPConnection, pendingMu *sync.Mutex) {
	sess, _, clientKey, err := ServerHandshake(ctx, uc, p.cfg, p.registry, HandshakeIdentity{AuthKey: p.identity.AuthKey, EncKey: p.identity.EncKey}, id, p.log)
	pendingMu.Lock()
	delete(pendingByAddr, addr.String())
	pendingMu.Unlock()

	if err != nil {
		p.log.Warn().Err(err).Msg("provider: UDP handshake failed")
		return
	}
	uc.installSession(id, sess, clientKey)

	if p.onConnected != nil {
		if err := p.onConnected(id); err != nil {
			p.log.Info().Err(err).Int32("connection_id", id).Msg("provider: ConnectionMade rejected peer")
			_ = uc.Close("rejected by application")
			return
		}
	}

	p.mu.Lock()
	p.udpConns[id] = uc
	p.mu.Unlock()

	uc.setHandshakeInbox(nil)
	go uc.RunRetransmitTimer()
	uc.StartPing(p.cfg.PingInterval, p.cfg.MaxMissedPings)
}

// Connections returns the number of currently active peers across both
// transports.
func (p *Provider) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tcpConns) + len(p.udpConns)
}

// Close disconnects every active connection and marks the provider closed.
func (p *Provider) Close() {
	p.mu.Lock()
	p.closed = true
	tcps := make([]*TCPConnection, 0, len(p.tcpConns))
	for _, c := range p.tcpConns {
		tcps = append(tcps, c)
	}
	udps := make([]*UDPConnection, 0, len(p.udpConns))
	for _, c := range p.udpConns {
		udps = append(udps, c)
	}
	p.mu.Unlock()

	for _, c := range tcps {
		_ = c.Close("provider shutting down")
	}
	for _, c := range udps {
		_ = c.Close("provider shutting down")
	}
}
