package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sjy-dv/routepool/pkg/delay"
	"github.com/sjy-dv/routepool/pkg/limiter"
	"github.com/sjy-dv/routepool/pkg/log"
	tcp "github.com/sjy-dv/routepool/tcpcore"
)

const DefaultAddr = "127.0.0.1:7427"

// Server is a request/reply TCP server driven by an EventHandler. It
// exists for the pool's examples and tests; production peers are expected
// to speak the same length-field framing.
type Server struct {
	opts     tcp.Options
	listener net.Listener
	limiter  limiter.Limiter
	conns    sync.Map // *Conn -> struct{}
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	connNum  uint32
	accepted uint32
	stopped  int32
}

func New() *Server {
	return &Server{
		stopped: 1,
	}
}

func (s *Server) WithOptions(opts tcp.Options) {
	s.opts = opts
}

func (s *Server) Init(opts ...tcp.Option) error {
	for _, opt := range opts {
		opt(&s.opts)
	}
	if s.opts.Addr == "" {
		s.opts.Addr = DefaultAddr
	}
	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = l
	if s.opts.ConnLimit > 0 {
		s.limiter = limiter.NewLimiter(s.opts.ConnLimit)
	}
	s.stopChan = make(chan struct{})
	s.stopped = 0
	return nil
}

// Addr is the bound listen address, useful with ":0" listeners.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until Stop or context cancellation.
func (s *Server) Serve() error {
	if atomic.LoadInt32(&s.stopped) == 1 {
		return errors.New("server uninitialized")
	}
	ctx, cancel := context.WithCancel(s.opts.Ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.work(ctx)

	select {
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	case <-s.stopChan:
		s.wg.Wait()
	}
	return nil
}

func (s *Server) Stop() {
	if !atomic.CompareAndSwapInt32(&s.stopped, 0, 1) {
		return
	}
	close(s.stopChan)
	s.listener.Close()
	if s.cancel != nil {
		s.cancel()
	}
	s.conns.Range(func(k, _ any) bool {
		k.(*Conn).Close()
		return true
	})
	s.wg.Wait()
	for atomic.LoadUint32(&s.connNum) > 0 {
		time.Sleep(time.Millisecond)
	}
}

// ConnNum returns the number of currently active connections.
func (s *Server) ConnNum() uint32 {
	return atomic.LoadUint32(&s.connNum)
}

// Accepted returns the total number of connections ever accepted.
func (s *Server) Accepted() uint32 {
	return atomic.LoadUint32(&s.accepted)
}

func (s *Server) onConnClose(c *Conn) {
	s.conns.Delete(c)
	if s.limiter != nil {
		s.limiter.Revert()
	}
	atomic.AddUint32(&s.connNum, ^uint32(0))
}

func (s *Server) work(ctx context.Context) {
	defer func() {
		s.wg.Done()
		s.Stop()
	}()

	bo := delay.NewBackoff(5*time.Millisecond, time.Second)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				d := bo.Next()
				log.Warnf("TCP server accept timeout:[%v], delay:%v", ne, d)
				time.Sleep(d)
				continue
			}
			select {
			case <-s.stopChan:
				return
			default:
			}
			log.Errorf("TCP server accept error:[%v]", err)
			return
		}
		bo.Reset()
		if s.limiter != nil && !s.limiter.Allow() {
			conn.Close()
			log.Warnf("TCP server accepted max num:%d, new conn rejected", s.opts.ConnLimit)
			continue
		}
		tcpConn := conn.(*net.TCPConn)
		if s.opts.KeepAlive {
			if err = tcpConn.SetKeepAlive(true); err != nil {
				log.Warnf("TCP server conn:%s SetKeepAlive error:[%v]", tcpConn.RemoteAddr(), err)
			}
		}
		c := newConn(s, tcpConn)
		s.conns.Store(c, struct{}{})
		atomic.AddUint32(&s.connNum, 1)
		atomic.AddUint32(&s.accepted, 1)
		c.start(ctx)
	}
}
