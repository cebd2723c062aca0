package tcpcore

import "net"

type Conn interface {
	// Init initiates Conn with options
	Init(opts ...Option) error
	// Write queues data for asynchronous writing to the connection.
	// Data is framed by HeaderCodec(in Options) before hitting the wire.
	Write(data []byte) error
	// Close closes the connection.
	Close() error
	// Closed reports whether the connection has been closed.
	Closed() bool
	// OnClose registers fn to run when the connection transitions to
	// closed, for any reason. Each fn runs exactly once; registering on an
	// already closed connection runs fn immediately.
	OnClose(fn func())
	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr
	// SetTag sets a tag to Conn
	SetTag(tag string)
	// GetTag gets the tag
	GetTag() string
}
