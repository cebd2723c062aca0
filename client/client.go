package client

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sjy-dv/routepool/internal"
	"github.com/sjy-dv/routepool/pkg/log"
	tcp "github.com/sjy-dv/routepool/tcpcore"
)

var _ tcp.Conn = &Client{}

// Client is an asynchronous TCP connection. Writes are queued on a send
// channel and flushed by a background loop; inbound frames are decoded by
// the read loop and delivered through the EventHandler. A write error
// closes the connection.
type Client struct {
	opts      tcp.Options
	conn      net.Conn
	buffer    *internal.ReadBuffer
	sendChan  chan []byte
	closeChan chan struct{}
	wwg       sync.WaitGroup
	rwg       sync.WaitGroup
	closed    int32
	active    int64
	closeMu   sync.Mutex
	closeRan  bool
	closeFns  []func()
	tag       string
}

func New() *Client {
	return &Client{}
}

func (c *Client) WithOptions(opts tcp.Options) {
	c.opts = opts
}

func (c *Client) Init(opts ...tcp.Option) error {
	for _, opt := range opts {
		opt(&c.opts)
	}
	d := c.opts.Dialer
	if d == nil {
		d = &net.Dialer{Timeout: c.opts.DialTimeout}
	}
	conn, err := d.Dial("tcp", c.opts.Addr)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok && c.opts.KeepAlive {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			log.Warnf("TCP client conn:%s SetKeepAlive error:[%v]", conn.RemoteAddr(), err)
		}
	}
	c.conn = conn
	if c.opts.Tag != "" {
		c.tag = c.opts.Tag
	}
	c.buffer = internal.NewReadBuffer(c.conn, int(c.opts.InitReadBufLen), int(c.opts.MaxReadBufLen))
	c.sendChan = make(chan []byte, 100)
	c.closeChan = make(chan struct{})
	c.touch()
	c.wwg.Add(1)
	switch {
	case len(c.opts.HeartData) > 0:
		go c.handleWriteLoopWithHeartbeat()
	case c.opts.IdleTimeout > 0:
		go c.handleWriteLoopWithIdleClose()
	default:
		go c.handleWriteLoop()
	}
	c.rwg.Add(1)
	go c.handleReadLoop()
	return nil
}

// Write data should be without header if HeaderCodec != nil
func (c *Client) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	select {
	case <-c.closeChan:
		return tcp.ErrConnClosed
	default:
	}
	select {
	case c.sendChan <- data:
		return nil
	case <-c.closeChan:
		return tcp.ErrConnClosed
	}
}

func (c *Client) Close() (err error) {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	if c.conn == nil {
		// dial never happened
		c.fireCloseFns()
		return
	}
	close(c.closeChan)
	c.wwg.Wait()
	for len(c.sendChan) > 0 {
		data := <-c.sendChan
		if err := c.write(data); err != nil {
			c.opts.Handler.OnWriteError(c, data, err)
		}
	}
	err = c.conn.Close()
	c.rwg.Wait()
	c.buffer.Release()
	c.opts.Handler.OnClosed(c)
	c.fireCloseFns()
	return
}

func (c *Client) Closed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// OnClose registers fn to run once the connection has fully closed.
// Registration order is preserved; fn runs immediately if the close
// already completed.
func (c *Client) OnClose(fn func()) {
	c.closeMu.Lock()
	if c.closeRan {
		c.closeMu.Unlock()
		fn()
		return
	}
	c.closeFns = append(c.closeFns, fn)
	c.closeMu.Unlock()
}

func (c *Client) fireCloseFns() {
	c.closeMu.Lock()
	c.closeRan = true
	fns := c.closeFns
	c.closeFns = nil
	c.closeMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Client) SetTag(tag string) {
	c.tag = tag
}

func (c *Client) GetTag() string {
	return c.tag
}

func (c *Client) touch() {
	atomic.StoreInt64(&c.active, time.Now().UnixNano())
}

func (c *Client) idleFor() time.Duration {
	return time.Duration(time.Now().UnixNano() - atomic.LoadInt64(&c.active))
}

func (c *Client) handleReadLoop() {
	defer func() {
		c.rwg.Done()
		c.Close()
	}()

	h := c.opts.Handler
	h.OnOpened(c)

	for {
		select {
		case <-c.closeChan:
			return
		default:
		}
		if _, err := c.buffer.Fill(); err != nil {
			select {
			case <-c.closeChan:
				return
			default:
			}
			if err != io.EOF {
				log.Debugf("TCP client read error:[%v]", err)
			}
			return
		}
		c.touch()
		for c.buffer.Len() > 0 {
			bodyLen, headerLen := c.opts.HeaderCodec.Decode(c.buffer.Data())
			if headerLen == 0 {
				break
			}
			// bodyLen+headerLen can wrap in uint32 for a hostile header
			if headerLen > c.opts.MaxReadBufLen || bodyLen > c.opts.MaxReadBufLen-headerLen {
				log.Warnf("msg body len:%d greater than max:%d", bodyLen, c.opts.MaxReadBufLen)
				return
			}
			if uint32(c.buffer.Len()) < bodyLen+headerLen {
				break
			}
			buf := make([]byte, bodyLen)
			c.buffer.Consume(int(headerLen), int(bodyLen), buf)
			if err := h.OnReadMsg(c, buf); err != nil {
				log.Infof("TCP client OnReadMsg error:[%v]", err)
				return
			}
		}
	}
}

func (c *Client) handleWriteLoop() {
	defer func() {
		c.wwg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.opts.Ctx.Done():
			return
		case <-c.closeChan:
			return
		case data, ok := <-c.sendChan:
			if !ok {
				return
			}
			if err := c.write(data); err != nil {
				c.opts.Handler.OnWriteError(c, data, err)
				return
			}
			c.touch()
		}
	}
}

// handleWriteLoopWithIdleClose is handleWriteLoop plus a timer that closes
// the connection once both directions have been quiet for IdleTimeout.
func (c *Client) handleWriteLoopWithIdleClose() {
	timer := time.NewTimer(c.opts.IdleTimeout)
	defer func() {
		timer.Stop()
		c.wwg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.opts.Ctx.Done():
			return
		case <-c.closeChan:
			return
		case data, ok := <-c.sendChan:
			if !ok {
				return
			}
			if err := c.write(data); err != nil {
				c.opts.Handler.OnWriteError(c, data, err)
				return
			}
			c.touch()
		case <-timer.C:
			idle := c.idleFor()
			if idle >= c.opts.IdleTimeout {
				log.Debugf("TCP client conn:%s idle %v, closing", c.conn.RemoteAddr(), idle)
				return
			}
			timer.Reset(c.opts.IdleTimeout - idle)
			continue
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.opts.IdleTimeout)
	}
}

func (c *Client) handleWriteLoopWithHeartbeat() {
	timer := time.NewTimer(c.opts.HeartInterval)
	defer func() {
		timer.Stop()
		c.wwg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.opts.Ctx.Done():
			return
		case <-c.closeChan:
			return
		case data, ok := <-c.sendChan:
			if !ok {
				return
			}
			if err := c.write(data); err != nil {
				c.opts.Handler.OnWriteError(c, data, err)
				return
			}
			c.touch()
			continue
		default:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.opts.HeartInterval)
		select {
		case <-c.opts.Ctx.Done():
			return
		case <-c.closeChan:
			return
		case data, ok := <-c.sendChan:
			if !ok {
				return
			}
			if err := c.write(data); err != nil {
				c.opts.Handler.OnWriteError(c, data, err)
				return
			}
			c.touch()
		case <-timer.C:
			if err := c.write(c.opts.HeartData); err != nil {
				if err != io.EOF {
					log.Infof("TCP client write heartbeat error:[%v]", err)
				}
				return
			}
		}
	}
}

func (c *Client) getWriteDeadLine() (t time.Time) {
	if c.opts.WriteTimeout > 0 {
		t = time.Now().Add(c.opts.WriteTimeout)
	}
	return
}

func (c *Client) write(data []byte) (err error) {
	data = c.opts.HeaderCodec.Encode(data)
	_ = c.conn.SetWriteDeadline(c.getWriteDeadLine())
	_, err = c.conn.Write(data)
	return
}
