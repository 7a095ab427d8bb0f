package tempest

import "time"

// Header and wire constants that must not drift (spec.md §3).
const (
	baseHeaderLen        = 15
	lengthFieldOffset    = 1 + 4 + 2 // protocol id + connection id + type
	responseFlag         = 0x01000000
	maxMessageID         = 0x00800000
	internalProtocolID   = 1
	foreignProtocolID    = 0
	udpFragmentPayload   = 490
	defaultMaxMessageLen = 1 << 20 // 1 MiB
	reliableQueueSlack   = 2000
)

// Config carries every tunable named in spec.md §6. It mirrors the
// teacher's *MessageOptions pattern (rdgproto/message.go): a single options
// struct with a constructor for the documented defaults, passed explicitly
// rather than read from process-wide state.
type Config struct {
	// MaxMessageSize bounds the declared length field; frames larger than
	// this are rejected at header-parse time (Framing error, spec.md §7).
	MaxMessageSize int

	// UDPFragmentPayload is the per-datagram payload budget before a
	// message is split into PartialMessage fragments (spec.md §3/§4.6).
	UDPFragmentPayload int

	// TCPRecvBufferInitial is the initial size of a TCP connection's
	// shared receive buffer; it grows to fit an oversized header+length.
	TCPRecvBufferInitial int

	// PingInterval is how often a Provider pings its connections.
	PingInterval time.Duration

	// MaxMissedPings is the number of consecutive missed Pongs that
	// trigger a TimedOut disconnect.
	MaxMissedPings int

	// RetransmitScanInterval is how often the UDP delivery timer wakes to
	// scan pending_ack for overdue entries.
	RetransmitScanInterval time.Duration

	// RetransmitThreshold is the age at which a pending_ack entry is
	// resent.
	RetransmitThreshold time.Duration

	// ResponseTimeout is the default deadline for a response-pairing
	// future when the caller does not supply one.
	ResponseTimeout time.Duration

	// MaxConnections bounds a Provider's live connection set; beyond it,
	// new connections are rejected gracefully (Capacity error, spec.md §7).
	MaxConnections int

	// SignatureHashAlgorithms is the client's offered preference list for
	// the handshake (spec.md §4.7 step 1/2). Order matters: earlier
	// entries are preferred by the server's intersection choice.
	SignatureHashAlgorithms []string

	// ReliableQueueMaxLookahead is the "far future" rejection bound
	// (spec.md §3's "more than 2000 ahead").
	ReliableQueueMaxLookahead int32
}

// DefaultConfig returns the numeric defaults enumerated in spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		MaxMessageSize:            defaultMaxMessageLen,
		UDPFragmentPayload:        udpFragmentPayload,
		TCPRecvBufferInitial:      20 * 1024,
		PingInterval:              15 * time.Second,
		MaxMissedPings:            2,
		RetransmitScanInterval:    100 * time.Millisecond,
		RetransmitThreshold:       600 * time.Millisecond,
		ResponseTimeout:           30 * time.Second,
		MaxConnections:            0, // 0 == unbounded
		SignatureHashAlgorithms:   []string{"SHA256"},
		ReliableQueueMaxLookahead: reliableQueueSlack,
	}
}

// rejectedHashAlgorithms lists algorithms a peer may offer that the
// handshake must never select, even if present in a custom preference list
// (spec.md §6: "fallback SHA1 rejected by default").
var rejectedHashAlgorithms = map[string]bool{
	"SHA1": true,
	"MD5":  true,
}
