package tempest

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTCPConnPair(t *testing.T, dispatcher *Dispatcher) (client, server *TCPConnection) {
	t.Helper()
	reg := newTestRegistry(t)
	a, b := net.Pipe()
	client = NewTCPConnection(a, DefaultConfig(), reg, dispatcher, nil)
	server = NewTCPConnection(b, DefaultConfig(), reg, dispatcher, nil)
	client.installSession(1, nil, nil)
	server.installSession(1, nil, nil)
	return client, server
}

func TestTCPConnectionSendRecvRoundTrip(t *testing.T) {
	client, server := newTCPConnPair(t, nil)

	recvDone := make(chan struct{})
	var recvErr error
	var got Message
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		got, _, recvErr = server.RecvMessage(ctx)
		close(recvDone)
	}()

	_, err := client.Send(&echoMessage{typeID: testTypePlain, Body: "ping"}, false, 0)
	require.NoError(t, err)

	select {
	case <-recvDone:
	case <-time.After(time.Second):
		t.Fatal("server did not receive message in time")
	}
	require.NoError(t, recvErr)
	assert.Equal(t, "ping", got.(*echoMessage).Body)
}

func TestTCPConnectionReassemblesAcrossPartialWrites(t *testing.T) {
	client, server := newTCPConnPair(t, nil)

	frame, err := EncodeFrame(&echoMessage{typeID: testTypePlain, Body: "chunked payload"}, 1, 1, false, nil)
	require.NoError(t, err)

	writeDone := make(chan struct{})
	go func() {
		for i := 0; i < len(frame); i++ {
			_, _ = client.conn.Write(frame[i : i+1])
		}
		close(writeDone)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, _, err := server.RecvMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "chunked payload", msg.(*echoMessage).Body)

	select {
	case <-writeDone:
	case <-time.After(time.Second):
		t.Fatal("writer goroutine never finished")
	}
}

func TestTCPConnectionOrderingGuardRejectsNonIncreasingID(t *testing.T) {
	client, server := newTCPConnPair(t, nil)

	first, err := EncodeFrame(&echoMessage{typeID: testTypePlain, Body: "one"}, 1, 5, false, nil)
	require.NoError(t, err)
	second, err := EncodeFrame(&echoMessage{typeID: testTypePlain, Body: "two"}, 1, 3, false, nil)
	require.NoError(t, err)

	go func() {
		_, _ = client.conn.Write(first)
		_, _ = client.conn.Write(second)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, _, err := server.RecvMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", msg.(*echoMessage).Body)

	_, _, err = server.RecvMessage(ctx)
	require.Error(t, err)
	var discErr *DisconnectError
	require.ErrorAs(t, err, &discErr)
	assert.Equal(t, MessageAuthenticationFailed, discErr.Result)
}

func TestTCPConnectionRunDispatchesToHandler(t *testing.T) {
	d := NewDispatcher(PerConnectionOrder)
	received := make(chan string, 1)
	d.Register(testProtocolID, testTypePlain, func(event MessageEvent) {
		received <- event.Message.(*echoMessage).Body
	})

	client, server := newTCPConnPair(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	_, err := client.Send(&echoMessage{typeID: testTypePlain, Body: "dispatched"}, false, 0)
	require.NoError(t, err)

	select {
	case body := <-received:
		assert.Equal(t, "dispatched", body)
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestTCPConnectionCloseTearsDownToDisconnected(t *testing.T) {
	d := NewDispatcher(PerConnectionOrder)
	d.Register(testProtocolID, testTypePlain, func(event MessageEvent) {})

	client, server := newTCPConnPair(t, d)
	server.connectionID = 77
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)
	go client.Run(ctx) // drains the Disconnect frame server.Close writes below
	defer client.Close("test done")

	require.NoError(t, server.Close("bye"))

	select {
	case <-server.Done():
	case <-time.After(time.Second):
		t.Fatal("server connection never closed")
	}
	assert.Equal(t, StateDisconnected, server.State())
}
