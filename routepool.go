// Package routepool is a client-side, multi-route TCP connection pool.
//
// A Pool bounds how many concurrent connections may exist per route and
// obtains a connection for each request by, in order: reusing an idle
// connection without waiting, opening a new one under the route's
// admission limit (optionally forcing past it when the route is
// exhausted), and finally waiting a bounded time for a connection to free
// up. Replies and connection failures are delivered through the Response
// returned by SendRequest.
package routepool

import (
	"github.com/sjy-dv/routepool/pool"
	"github.com/sjy-dv/routepool/tcpcore"
)

type (
	Pool     = pool.Pool
	Route    = pool.Route
	Response = pool.Response
	Conn     = tcpcore.Conn
	Option   = tcpcore.Option
)

// New builds a Pool from options; see the tcpcore With... functions.
func New(opts ...Option) (*Pool, error) {
	return pool.New(opts...)
}
