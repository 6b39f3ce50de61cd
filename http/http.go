// Package http sets up the HTTP/2 connection RemoteXPC services expect
// before they switch to their framed message protocol. Messages travel on
// two data streams: stream 1 carries client-to-server traffic, stream 3 the
// replies. Nothing beyond the connection preface, settings exchange and data
// frame demultiplexing of HTTP/2 is implemented here.
package http

import (
	"bytes"
	"fmt"
	"io"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
)

type StreamID uint32

const (
	InitStream   = StreamID(0)
	ClientServer = StreamID(1)
	ServerClient = StreamID(3)
)

const (
	clientPreface     = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"
	initialWindowSize = 1048576
	windowIncrement   = 983041
	maxStreams        = 100
)

// Connection demultiplexes the two RemoteXPC data streams out of a single
// HTTP/2 connection.
type Connection struct {
	framer             *http2.Framer
	clientServerStream *bytes.Buffer
	serverClientStream *bytes.Buffer
	closer             io.Closer
	csOpen             atomic.Bool
	scOpen             atomic.Bool
}

// NewConnection performs the client side of the HTTP/2 handshake on rw:
// connection preface, settings, a window update and the ack for the peer's
// settings frame.
func NewConnection(rw io.ReadWriteCloser) (*Connection, error) {
	if _, err := rw.Write([]byte(clientPreface)); err != nil {
		return nil, fmt.Errorf("NewConnection: could not write preface: %w", err)
	}
	framer := http2.NewFramer(rw, rw)
	err := framer.WriteSettings(
		http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: maxStreams},
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: initialWindowSize},
	)
	if err != nil {
		return nil, fmt.Errorf("NewConnection: could not write settings: %w", err)
	}
	if err := framer.WriteWindowUpdate(uint32(InitStream), windowIncrement); err != nil {
		return nil, fmt.Errorf("NewConnection: could not write window update: %w", err)
	}

	frame, err := framer.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("NewConnection: could not read frame: %w", err)
	}
	if settings, ok := frame.(*http2.SettingsFrame); ok {
		if v, ok := settings.Value(http2.SettingInitialWindowSize); ok {
			framer.SetMaxReadFrameSize(v)
		}
		if err := framer.WriteSettingsAck(); err != nil {
			return nil, fmt.Errorf("NewConnection: could not write settings ack: %w", err)
		}
	} else {
		log.WithField("frame", frame.Header().String()).Warn("expected settings frame")
	}

	return &Connection{
		framer:             framer,
		clientServerStream: bytes.NewBuffer(nil),
		serverClientStream: bytes.NewBuffer(nil),
		closer:             rw,
	}, nil
}

func (c *Connection) Close() error {
	return c.closer.Close()
}

func (c *Connection) ReadClientServerStream(p []byte) (int, error) {
	for c.clientServerStream.Len() < len(p) {
		if err := c.pumpFrame(); err != nil {
			return 0, fmt.Errorf("ReadClientServerStream: %w", err)
		}
	}
	return c.clientServerStream.Read(p)
}

func (c *Connection) ReadServerClientStream(p []byte) (int, error) {
	for c.serverClientStream.Len() < len(p) {
		if err := c.pumpFrame(); err != nil {
			return 0, fmt.Errorf("ReadServerClientStream: %w", err)
		}
	}
	return c.serverClientStream.Read(p)
}

func (c *Connection) WriteClientServerStream(p []byte) (int, error) {
	return c.write(p, ClientServer, &c.csOpen)
}

func (c *Connection) WriteServerClientStream(p []byte) (int, error) {
	return c.write(p, ServerClient, &c.scOpen)
}

// write opens the stream with an empty headers frame on first use, the
// services expect that before any data frame.
func (c *Connection) write(p []byte, stream StreamID, isOpen *atomic.Bool) (int, error) {
	if isOpen.CompareAndSwap(false, true) {
		err := c.framer.WriteHeaders(http2.HeadersFrameParam{
			StreamID:   uint32(stream),
			EndHeaders: true,
		})
		if err != nil {
			return 0, fmt.Errorf("write: could not send headers: %w", err)
		}
	}
	if err := c.framer.WriteData(uint32(stream), false, p); err != nil {
		return 0, fmt.Errorf("write: could not write data: %w", err)
	}
	return len(p), nil
}

// pumpFrame reads frames until one data frame has been moved into a stream
// buffer. Settings frames are acked, GOAWAY and RST surface as errors and
// everything else is skipped.
func (c *Connection) pumpFrame() error {
	for {
		f, err := c.framer.ReadFrame()
		if err != nil {
			return fmt.Errorf("pumpFrame: could not read frame: %w", err)
		}
		switch frame := f.(type) {
		case *http2.DataFrame:
			switch StreamID(frame.StreamID) {
			case ClientServer:
				c.clientServerStream.Write(frame.Data())
			case ServerClient:
				c.serverClientStream.Write(frame.Data())
			default:
				return fmt.Errorf("pumpFrame: data frame on unknown stream %d", frame.StreamID)
			}
			return nil
		case *http2.SettingsFrame:
			if !frame.IsAck() {
				if err := c.framer.WriteSettingsAck(); err != nil {
					return fmt.Errorf("pumpFrame: could not write settings ack: %w", err)
				}
			}
		case *http2.GoAwayFrame:
			return fmt.Errorf("pumpFrame: received GOAWAY with error code %s", frame.ErrCode)
		case *http2.RSTStreamFrame:
			return fmt.Errorf("pumpFrame: received RST with error code %s", frame.ErrCode)
		default:
			log.WithField("frame", f.Header().String()).Debug("skipping frame")
		}
	}
}

// StreamReadWriter exposes one of the two streams as a plain io.ReadWriter,
// which is what the message layer consumes.
type StreamReadWriter struct {
	c  *Connection
	id StreamID
}

func NewStreamReadWriter(c *Connection, id StreamID) StreamReadWriter {
	return StreamReadWriter{c: c, id: id}
}

func (s StreamReadWriter) Read(p []byte) (int, error) {
	switch s.id {
	case ClientServer:
		return s.c.ReadClientServerStream(p)
	case ServerClient:
		return s.c.ReadServerClientStream(p)
	}
	return 0, fmt.Errorf("Read: unknown stream id %d", s.id)
}

func (s StreamReadWriter) Write(p []byte) (int, error) {
	switch s.id {
	case ClientServer:
		return s.c.WriteClientServerStream(p)
	case ServerClient:
		return s.c.WriteServerClientStream(p)
	}
	return 0, fmt.Errorf("Write: unknown stream id %d", s.id)
}
