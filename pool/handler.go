package pool

import (
	"github.com/sjy-dv/routepool/pkg/log"
	tcp "github.com/sjy-dv/routepool/tcpcore"
)

// poolHandler sits between the transport and a user-supplied handler. It
// settles the pending response on reply arrival, returns the connection,
// and turns write errors into removals before delegating.
type poolHandler struct {
	p *Pool
}

func (h *poolHandler) OnOpened(c tcp.Conn) {
	if u := h.p.user; u != nil {
		u.OnOpened(c)
	}
}

func (h *poolHandler) OnClosed(c tcp.Conn) {
	if u := h.p.user; u != nil {
		u.OnClosed(c)
	}
}

func (h *poolHandler) OnReadMsg(c tcp.Conn, data []byte) error {
	if v, ok := h.p.conns.Load(c); ok {
		pc := v.(*PooledConn)
		r := pc.detach()
		// re-queue before settling, so a caller woken by the response
		// already finds the connection idle
		h.p.Return(pc)
		if r != nil {
			r.complete(data)
		}
	}
	if u := h.p.user; u != nil {
		return u.OnReadMsg(c, data)
	}
	return nil
}

func (h *poolHandler) OnWriteError(c tcp.Conn, data []byte, err error) {
	log.Warnf("pool: write error:[%v]", err)
	if v, ok := h.p.conns.Load(c); ok {
		h.p.remove(v.(*PooledConn), err)
	}
	if u := h.p.user; u != nil {
		u.OnWriteError(c, data, err)
	}
}
