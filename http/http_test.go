package http

import (
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/remotexpc/go-remotexpc/xpc"
)

// runPeer acts as the device side of the handshake on conn and then hands
// control to script. Errors are reported through the returned channel because
// the peer runs in its own goroutine.
func runPeer(conn net.Conn, script func(framer *http2.Framer) error) chan error {
	done := make(chan error, 1)
	go func() {
		defer conn.Close()
		preface := make([]byte, len(clientPreface))
		if _, err := io.ReadFull(conn, preface); err != nil {
			done <- fmt.Errorf("peer: failed to read preface: %w", err)
			return
		}
		if string(preface) != clientPreface {
			done <- fmt.Errorf("peer: unexpected preface %q", preface)
			return
		}
		framer := http2.NewFramer(conn, conn)
		// the client sends its settings and a window update first
		for i := 0; i < 2; i++ {
			if _, err := framer.ReadFrame(); err != nil {
				done <- fmt.Errorf("peer: failed to read handshake frame: %w", err)
				return
			}
		}
		if err := framer.WriteSettings(); err != nil {
			done <- fmt.Errorf("peer: failed to write settings: %w", err)
			return
		}
		done <- script(framer)
	}()
	return done
}

// collectData reads frames until a data frame arrives and returns its payload.
func collectData(framer *http2.Framer) (uint32, []byte, error) {
	for {
		f, err := framer.ReadFrame()
		if err != nil {
			return 0, nil, err
		}
		if d, ok := f.(*http2.DataFrame); ok {
			return d.StreamID, append([]byte(nil), d.Data()...), nil
		}
	}
}

func TestHandshakeAndStreams(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	reply := []byte("reply-from-device")
	var received []byte
	done := runPeer(serverEnd, func(framer *http2.Framer) error {
		stream, data, err := collectData(framer)
		if err != nil {
			return err
		}
		if stream != uint32(ClientServer) {
			return fmt.Errorf("peer: data on unexpected stream %d", stream)
		}
		received = data
		return framer.WriteData(uint32(ServerClient), false, reply)
	})

	conn, err := NewConnection(clientEnd)
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("hello-from-client")
	n, err := conn.WriteClientServerStream(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	got := make([]byte, len(reply))
	_, err = conn.ReadServerClientStream(got)
	require.NoError(t, err)
	assert.Equal(t, reply, got)

	require.NoError(t, <-done)
	assert.Equal(t, payload, received)
}

func TestStreamReadWriterCarriesMessages(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	// echo every client-server data frame back on the server-client stream
	done := runPeer(serverEnd, func(framer *http2.Framer) error {
		_, data, err := collectData(framer)
		if err != nil {
			return err
		}
		return framer.WriteData(uint32(ServerClient), false, data)
	})

	conn, err := NewConnection(clientEnd)
	require.NoError(t, err)
	defer conn.Close()

	xpcConn := xpc.NewConnection(
		NewStreamReadWriter(conn, ClientServer),
		NewStreamReadWriter(conn, ServerClient),
		nil,
	)
	body := xpc.NewDictionary().Set("request", xpc.String("echo"))
	require.NoError(t, xpcConn.Send(body))

	msg, err := xpcConn.ReceiveOnServerClientStream()
	require.NoError(t, err)
	assert.Equal(t, xpc.AlwaysSetFlag|xpc.DataFlag, msg.Flags)
	assert.Equal(t, uint64(1), msg.ID)
	assert.Equal(t, xpc.Object(body), msg.Body)

	require.NoError(t, <-done)
}
