package pool

import (
	"net"
	"strconv"
)

// Route identifies a target endpoint by host and port.
type Route struct {
	Host string
	Port int
}

// Key derives the stable string identity of the route. Two routes with
// equal host and port always produce the same key.
func (r Route) Key() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Addr is the dialable address of the route.
func (r Route) Addr() string {
	return r.Key()
}

func (r Route) valid() bool {
	return r.Host != "" && r.Port > 0 && r.Port < 1<<16
}
