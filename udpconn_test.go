package tempest

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func udpLoopbackSockets(t *testing.T) (a, b net.PacketConn) {
	t.Helper()
	a, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	b, err = net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	return a, b
}

func newUDPConnPair(t *testing.T, cfg *Config, dispatcher *Dispatcher) (client, server *UDPConnection) {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	reg := newTestRegistry(t)
	sockA, sockB := udpLoopbackSockets(t)
	client = NewUDPConnection(sockA, sockB.LocalAddr(), cfg, reg, dispatcher, nil)
	server = NewUDPConnection(sockB, sockA.LocalAddr(), cfg, reg, dispatcher, nil)
	client.installSession(1, nil, nil)
	server.installSession(1, nil, nil)
	return client, server
}

// readOneDatagram reads a single pending datagram off conn, failing the test
// if none arrives promptly.
func readOneDatagram(t *testing.T, conn net.PacketConn) []byte {
	t.Helper()
	buf := make([]byte, 64*1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestUDPConnectionReliableInOrderDispatch(t *testing.T) {
	d := NewDispatcher(PerConnectionOrder)
	received := make(chan string, 4)
	d.Register(testProtocolID, testTypePlain, func(event MessageEvent) {
		received <- event.Message.(*echoMessage).Body
	})
	_, server := newUDPConnPair(t, nil, d)

	reliableMsg := func(body string) *echoMessage {
		return &echoMessage{typeID: testTypePlain, flags: MessageFlags{MustBeReliable: true}, Body: body}
	}

	for i, body := range []string{"one", "two", "three"} {
		frame, err := EncodeFrame(reliableMsg(body), server.ConnectionID(), int32(i+1), false, nil)
		require.NoError(t, err)
		server.HandleDatagram(frame)
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestUDPConnectionReliableOutOfOrderBuffersUntilInOrder(t *testing.T) {
	d := NewDispatcher(PerConnectionOrder)
	received := make(chan string, 4)
	d.Register(testProtocolID, testTypePlain, func(event MessageEvent) {
		received <- event.Message.(*echoMessage).Body
	})
	_, server := newUDPConnPair(t, nil, d)

	reliableMsg := func(body string) *echoMessage {
		return &echoMessage{typeID: testTypePlain, flags: MessageFlags{MustBeReliable: true}, Body: body}
	}

	frame2, err := EncodeFrame(reliableMsg("two"), server.ConnectionID(), 2, false, nil)
	require.NoError(t, err)
	server.HandleDatagram(frame2)

	select {
	case <-received:
		t.Fatal("out-of-order message dispatched before its predecessor arrived")
	case <-time.After(50 * time.Millisecond):
	}

	frame1, err := EncodeFrame(reliableMsg("one"), server.ConnectionID(), 1, false, nil)
	require.NoError(t, err)
	server.HandleDatagram(frame1)

	for _, want := range []string{"one", "two"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestUDPConnectionSendAcksReliableMessage(t *testing.T) {
	client, server := newUDPConnPair(t, nil, nil)

	_, err := client.Send(&echoMessage{typeID: testTypePlain, flags: MessageFlags{MustBeReliable: true}, Body: "ack me"}, false, 0)
	require.NoError(t, err)

	raw := readOneDatagram(t, server.socket)
	hdr := NewHeader()
	_, err = hdr.Advance(NewReader(raw), DefaultConfig())
	require.NoError(t, err)
	server.HandleDatagram(raw)

	ackRaw := readOneDatagram(t, client.socket)
	ackHdr := NewHeader()
	_, err = ackHdr.Advance(NewReader(ackRaw), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, internalProtocolID, ackHdr.ProtocolID)
	assert.Equal(t, typeAcknowledge, ackHdr.TypeID)
}

func TestUDPConnectionFragmentsAndReassemblesLargeMessage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UDPFragmentPayload = 32

	d := NewDispatcher(PerConnectionOrder)
	received := make(chan string, 1)
	d.Register(testProtocolID, testTypePlain, func(event MessageEvent) {
		received <- event.Message.(*echoMessage).Body
	})
	client, server := newUDPConnPair(t, cfg, d)

	body := "this payload is deliberately much longer than the fragment budget so it must be split"
	_, err := client.Send(&echoMessage{typeID: testTypePlain, flags: MessageFlags{MustBeReliable: true}, Body: body}, false, 0)
	require.NoError(t, err)

	// Feed each fragment read off the server socket into the server until
	// the reassembled message is dispatched. The server's per-fragment
	// Acknowledge replies to the client are left unread.
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "timed out reassembling fragmented message")
		require.NoError(t, server.socket.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
		buf := make([]byte, 64*1024)
		n, _, err := server.socket.ReadFrom(buf)
		if err != nil {
			continue
		}
		server.HandleDatagram(buf[:n])
		select {
		case got := <-received:
			assert.Equal(t, body, got)
			return
		default:
		}
	}
}

func TestUDPConnectionCloseSendsDisconnect(t *testing.T) {
	client, server := newUDPConnPair(t, nil, nil)

	require.NoError(t, client.Close("bye"))

	raw := readOneDatagram(t, server.socket)
	hdr := NewHeader()
	_, err := hdr.Advance(NewReader(raw), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, internalProtocolID, hdr.ProtocolID)

	internalReg := NewRegistry()
	require.NoError(t, internalReg.Add(internalProtocol))
	msg, err := DecodeFrame(raw, hdr, internalReg, nil)
	require.NoError(t, err)
	disc, ok := msg.(*Disconnect)
	require.True(t, ok)
	assert.Equal(t, "bye", disc.CustomText)

	assert.Equal(t, StateDisconnected, client.State())
}
