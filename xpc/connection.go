package xpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Connection sends and receives framed messages over a pair of reliable byte
// streams, typically the two HTTP/2 data streams a RemoteXPC service speaks
// on. Message ids are assigned at send time from a counter starting at 1.
type Connection struct {
	connectionCloser io.Closer
	msgId            uint64
	clientServer     io.ReadWriter
	serverClient     io.ReadWriter
}

// NewConnection creates a connection on top of the client-to-server and
// server-to-client streams. closer may be nil when the caller owns the
// underlying transport.
func NewConnection(clientServer io.ReadWriter, serverClient io.ReadWriter, closer io.Closer) *Connection {
	return &Connection{
		connectionCloser: closer,
		msgId:            1,
		clientServer:     clientServer,
		serverClient:     serverClient,
	}
}

// Send frames body and writes it to the client-server stream. The default
// flags are AlwaysSetFlag, plus DataFlag when a body is present, additional
// flags can be passed via flags.
func (c *Connection) Send(body Object, flags ...uint32) error {
	f := AlwaysSetFlag
	if body != nil {
		f |= DataFlag
	}
	for _, flag := range flags {
		f |= flag
	}
	b, err := Message{Flags: f, Body: body}.Encode(c.msgId)
	if err != nil {
		return fmt.Errorf("Send: %w", err)
	}
	if _, err := c.clientServer.Write(b); err != nil {
		return fmt.Errorf("Send: failed to write message: %w", err)
	}
	c.msgId++
	return nil
}

func (c *Connection) ReceiveOnClientServerStream() (Message, error) {
	return receiveOnStream(c.clientServer)
}

func (c *Connection) ReceiveOnServerClientStream() (Message, error) {
	return receiveOnStream(c.serverClient)
}

// maxBodyLength caps the allocation a single received message may ask for.
// The length field on a stream is as untrusted as the lengths inside the
// codec, a hostile peer must not be able to request an absurd buffer.
const maxBodyLength = 1 << 30

// receiveOnStream reads the fixed header first, then the number of body bytes
// the header declares, and decodes the complete buffer.
func receiveOnStream(r io.Reader) (Message, error) {
	header := make([]byte, wrapperHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, fmt.Errorf("receiveOnStream: failed to read message header: %w", err)
	}
	bodyLen := binary.LittleEndian.Uint64(header[8:16])
	if bodyLen > maxBodyLength {
		return Message{}, fmt.Errorf("receiveOnStream: declared body length %d exceeds the %d byte limit: %w",
			bodyLen, maxBodyLength, ErrTruncated)
	}
	buf := make([]byte, wrapperHeaderSize+int(bodyLen))
	copy(buf, header)
	if _, err := io.ReadFull(r, buf[wrapperHeaderSize:]); err != nil {
		return Message{}, fmt.Errorf("receiveOnStream: failed to read %d body bytes: %w", bodyLen, err)
	}
	msg, err := DecodeMessage(buf)
	if err != nil {
		return Message{}, fmt.Errorf("receiveOnStream: %w", err)
	}
	return msg, nil
}

func (c *Connection) Close() error {
	if c.connectionCloser == nil {
		return nil
	}
	return c.connectionCloser.Close()
}
