package pool

import (
	"sync"

	tcp "github.com/sjy-dv/routepool/tcpcore"
)

// PooledConn binds one transport connection to its route, the forced flag
// and at most one pending Response. The route and forced flag are fixed at
// creation; forced connections live outside admission accounting and are
// never pooled.
type PooledConn struct {
	conn    tcp.Conn
	route   Route
	forced  bool
	removed int32
	mu      sync.Mutex
	pending *Response
}

func (pc *PooledConn) Route() Route {
	return pc.route
}

func (pc *PooledConn) Forced() bool {
	return pc.forced
}

func (pc *PooledConn) Conn() tcp.Conn {
	return pc.conn
}

func (pc *PooledConn) Closed() bool {
	return pc.conn.Closed()
}

func (pc *PooledConn) attach(r *Response) {
	pc.mu.Lock()
	pc.pending = r
	pc.mu.Unlock()
}

// detach removes and returns the pending Response, nil when none.
func (pc *PooledConn) detach() *Response {
	pc.mu.Lock()
	r := pc.pending
	pc.pending = nil
	pc.mu.Unlock()
	return r
}
