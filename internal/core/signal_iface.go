package core

import "context"

// Frame is one raw text message on the signaling transport.
type Frame []byte

// Socket is an open duplex transport to one signaling server.
// Owned by the Connection; the Connection must Close() it.
type Socket interface {
	ReadMessage() (Frame, error)
	WriteMessage(Frame) error
	Close() error
}

// Transport opens sockets. Dial must honour ctx while the handshake is in
// flight.
type Transport interface {
	Dial(ctx context.Context, url string) (Socket, error)
}
