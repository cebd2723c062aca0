package server

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sjy-dv/routepool/internal"
	"github.com/sjy-dv/routepool/pkg/log"
	tcp "github.com/sjy-dv/routepool/tcpcore"
)

var _ tcp.Conn = &Conn{}

// Conn is one accepted server-side connection.
type Conn struct {
	s         *Server
	conn      *net.TCPConn
	buffer    *internal.ReadBuffer
	sendChan  chan []byte
	closeChan chan struct{}
	wwg       sync.WaitGroup
	rwg       sync.WaitGroup
	closed    int32
	closeMu   sync.Mutex
	closeRan  bool
	closeFns  []func()
	tag       string
}

func newConn(s *Server, conn *net.TCPConn) *Conn {
	c := &Conn{
		s:         s,
		conn:      conn,
		sendChan:  make(chan []byte, 100),
		closeChan: make(chan struct{}),
	}
	c.buffer = internal.NewReadBuffer(c.conn, int(s.opts.InitReadBufLen), int(s.opts.MaxReadBufLen))
	return c
}

func (c *Conn) start(ctx context.Context) {
	c.wwg.Add(1)
	go c.handleWriteLoop(ctx)
	c.rwg.Add(1)
	go c.handleReadLoop(ctx)
}

func (c *Conn) Init(opts ...tcp.Option) error {
	return nil
}

func (c *Conn) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	select {
	case <-c.closeChan:
		return tcp.ErrConnClosed
	case c.sendChan <- data:
	}
	return nil
}

func (c *Conn) Close() (err error) {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	close(c.closeChan)
	c.wwg.Wait()
	for len(c.sendChan) > 0 {
		data := <-c.sendChan
		if err := c.write(data); err != nil {
			c.s.opts.Handler.OnWriteError(c, data, err)
		}
	}
	err = c.conn.Close()
	c.rwg.Wait()
	c.buffer.Release()
	c.s.opts.Handler.OnClosed(c)
	c.fireCloseFns()
	c.s.onConnClose(c)
	return
}

func (c *Conn) Closed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Conn) OnClose(fn func()) {
	c.closeMu.Lock()
	if c.closeRan {
		c.closeMu.Unlock()
		fn()
		return
	}
	c.closeFns = append(c.closeFns, fn)
	c.closeMu.Unlock()
}

func (c *Conn) fireCloseFns() {
	c.closeMu.Lock()
	c.closeRan = true
	fns := c.closeFns
	c.closeFns = nil
	c.closeMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) SetTag(tag string) {
	c.tag = tag
}

func (c *Conn) GetTag() string {
	return c.tag
}

func (c *Conn) getReadDeadLine() (t time.Time) {
	if c.s.opts.ReadTimeout > 0 {
		t = time.Now().Add(c.s.opts.ReadTimeout)
	}
	return
}

func (c *Conn) getWriteDeadLine() (t time.Time) {
	if c.s.opts.WriteTimeout > 0 {
		t = time.Now().Add(c.s.opts.WriteTimeout)
	}
	return
}

func (c *Conn) handleReadLoop(ctx context.Context) {
	defer func() {
		c.rwg.Done()
		c.Close()
	}()

	h := c.s.opts.Handler
	h.OnOpened(c)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		default:
		}

		if err := c.conn.SetReadDeadline(c.getReadDeadLine()); err != nil {
			log.Warnf("TCP conn SetReadDeadline error:[%v]", err)
		}
		if _, err := c.buffer.Fill(); err != nil {
			select {
			case <-c.closeChan:
				return
			default:
			}
			if err != io.EOF {
				log.Debugf("TCP conn read error:[%v]", err)
			}
			return
		}
		for c.buffer.Len() > 0 {
			bodyLen, headerLen := c.s.opts.HeaderCodec.Decode(c.buffer.Data())
			if headerLen == 0 {
				break
			}
			// bodyLen+headerLen can wrap in uint32 for a hostile header
			if headerLen > c.s.opts.MaxReadBufLen || bodyLen > c.s.opts.MaxReadBufLen-headerLen {
				log.Errorf("msg body len:%d greater than max:%d", bodyLen, c.s.opts.MaxReadBufLen)
				return
			}
			if uint32(c.buffer.Len()) < bodyLen+headerLen {
				break
			}
			buf := make([]byte, bodyLen)
			c.buffer.Consume(int(headerLen), int(bodyLen), buf)
			if len(c.s.opts.HeartData) > 0 && len(buf) == len(c.s.opts.HeartData) && string(buf) == string(c.s.opts.HeartData) {
				// echo heartbeats back
				_ = c.Write(buf)
				continue
			}
			if err := h.OnReadMsg(c, buf); err != nil {
				log.Infof("TCP conn OnReadMsg error:[%v]", err)
				return
			}
		}
	}
}

func (c *Conn) handleWriteLoop(ctx context.Context) {
	defer func() {
		c.wwg.Done()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case data, ok := <-c.sendChan:
			if !ok {
				return
			}
			if err := c.write(data); err != nil {
				c.s.opts.Handler.OnWriteError(c, data, err)
				return
			}
		}
	}
}

func (c *Conn) write(data []byte) (err error) {
	data = c.s.opts.HeaderCodec.Encode(data)
	_ = c.conn.SetWriteDeadline(c.getWriteDeadLine())
	_, err = c.conn.Write(data)
	return
}
