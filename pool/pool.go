package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/sjy-dv/routepool/client"
	"github.com/sjy-dv/routepool/pkg/limiter"
	"github.com/sjy-dv/routepool/pkg/log"
	tcp "github.com/sjy-dv/routepool/tcpcore"
)

// Pool manages reusable outbound TCP connections across routes. Each route
// gets an admission limiter capping how many connections may be open at
// once and a FIFO queue of idle connections; both come to life on first
// use of the route and live until the pool closes.
type Pool struct {
	opts      tcp.Options
	user      tcp.EventHandler
	cancel    context.CancelFunc
	limiters  sync.Map // route key -> limiter.Limiter
	queues    sync.Map // route key -> chan *PooledConn
	conns     sync.Map // tcp.Conn -> *PooledConn
	closeChan chan struct{}
	wg        sync.WaitGroup
	closeMu   sync.RWMutex // orders wg.Add in sendUseNew before Close's wg.Wait
	closed    int32
}

func New(opts ...tcp.Option) (*Pool, error) {
	p := &Pool{
		opts:      tcp.DefaultOptions(),
		closeChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&p.opts)
	}
	if p.opts.DefaultPerRoute < 0 {
		return nil, fmt.Errorf("pool:default per-route limit %d", p.opts.DefaultPerRoute)
	}
	for key, n := range p.opts.MaxPerRoute {
		if n < 0 {
			return nil, fmt.Errorf("pool:route %s limit %d", key, n)
		}
	}
	p.user = p.opts.Handler
	p.opts.Handler = &poolHandler{p: p}
	ctx, cancel := context.WithCancel(p.opts.Ctx)
	p.opts.Ctx = ctx
	p.cancel = cancel
	return p, nil
}

// SendRequest obtains a connection to route and writes payload on it,
// returning the Response the reply will settle. Connections are obtained
// by, in order: polling the route's idle queue without waiting, opening a
// new connection under admission control (forced past it when
// ForceConnect is set), and polling the idle queue up to WaitTimeout.
// When all three fail the acquisition fails with ErrPoolTimeout.
func (p *Pool) SendRequest(route Route, payload []byte) (*Response, error) {
	if atomic.LoadInt32(&p.closed) == 1 {
		return nil, tcp.ErrPoolClosed
	}
	if !route.valid() {
		return nil, fmt.Errorf("%w: %q", tcp.ErrPoolInvalidRoute, route.Key())
	}
	key := route.Key()
	resp := newResponse()

	ok, err := p.sendUsePooled(key, payload, resp, false)
	if err != nil {
		return nil, err
	}
	if ok {
		log.Debugf("pool: route %s reused idle conn", key)
		return resp, nil
	}

	if p.sendUseNew(route, key, payload, resp) {
		log.Debugf("pool: route %s opening new conn", key)
		return resp, nil
	}

	ok, err = p.sendUsePooled(key, payload, resp, true)
	if err != nil {
		return nil, err
	}
	if ok {
		log.Debugf("pool: route %s reused idle conn after wait", key)
		return resp, nil
	}
	if atomic.LoadInt32(&p.closed) == 1 {
		return nil, tcp.ErrPoolClosed
	}
	return nil, tcp.ErrPoolTimeout
}

// Return hands a connection back for reuse. It is the only path by which
// a connection re-enters circulation. Forced and closed connections are
// dropped silently.
func (p *Pool) Return(pc *PooledConn) {
	if pc == nil || pc.forced {
		return
	}
	if pc.Closed() {
		return
	}
	if atomic.LoadInt32(&p.closed) == 1 {
		pc.conn.Close()
		return
	}
	key := pc.route.Key()
	select {
	case p.queueFor(key) <- pc:
		log.Debugf("pool: conn %s returned", key)
	default:
		log.Warnf("pool: idle queue %s full, closing returned conn", key)
		pc.conn.Close()
	}
}

// Close shuts the pool down: every idle connection is removed and closed,
// close errors are aggregated into the returned error, the pool's context
// is cancelled to end the connection loops, and in-flight connect
// attempts are waited out. Later calls report ErrPoolClosed.
func (p *Pool) Close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return tcp.ErrPoolClosed
	}
	close(p.closeChan)
	// barrier: any sendUseNew that saw closed==0 has finished its wg.Add
	p.closeMu.Lock()
	p.closeMu.Unlock()
	var errs error
	p.queues.Range(func(_, v any) bool {
		q := v.(chan *PooledConn)
		for {
			select {
			case pc := <-q:
				p.remove(pc, tcp.ErrPoolClosed)
				if err := pc.conn.Close(); err != nil {
					errs = multierr.Append(errs, err)
				}
			default:
				return true
			}
		}
	})
	p.cancel()
	p.wg.Wait()
	return errs
}

func (p *Pool) sendUsePooled(key string, payload []byte, resp *Response, wait bool) (bool, error) {
	q := p.queueFor(key)
	pc := p.pollIdle(q)
	if pc == nil {
		if !wait {
			return false, nil
		}
		if pc = p.pollIdleWait(q); pc == nil {
			return false, nil
		}
	}
	if err := p.bindAndWrite(pc, payload, resp); err != nil {
		return false, err
	}
	return true, nil
}

// pollIdle drains stale entries until an open connection or an empty
// queue. Stale entries are reconciled through remove, which is where
// their admission permits finally come back.
func (p *Pool) pollIdle(q chan *PooledConn) *PooledConn {
	for {
		select {
		case pc := <-q:
			if pc.Closed() {
				p.remove(pc, tcp.ErrConnClosed)
				continue
			}
			return pc
		default:
			return nil
		}
	}
}

func (p *Pool) pollIdleWait(q chan *PooledConn) *PooledConn {
	timer := time.NewTimer(p.opts.WaitTimeout)
	defer timer.Stop()
	for {
		select {
		case pc := <-q:
			if pc.Closed() {
				p.remove(pc, tcp.ErrConnClosed)
				continue
			}
			return pc
		case <-timer.C:
			log.Warnf("pool: no idle conn within %v", p.opts.WaitTimeout)
			return nil
		case <-p.closeChan:
			return nil
		}
	}
}

func (p *Pool) bindAndWrite(pc *PooledConn, payload []byte, resp *Response) error {
	pc.attach(resp)
	if err := pc.conn.Write(payload); err != nil {
		// close-on-write-failure, no retry at this layer
		pc.conn.Close()
		p.remove(pc, err)
		return err
	}
	return nil
}

// sendUseNew claims an admission permit and starts an asynchronous
// connect. With the route exhausted it either forces a connection past
// admission (ForceConnect) or reports false without consuming anything.
func (p *Pool) sendUseNew(route Route, key string, payload []byte, resp *Response) bool {
	forced := false
	if !p.limiterFor(key).Allow() {
		if !p.opts.ForceConnect {
			return false
		}
		forced = true
	}
	p.closeMu.RLock()
	if atomic.LoadInt32(&p.closed) == 1 {
		p.closeMu.RUnlock()
		if !forced {
			p.limiterFor(key).Revert()
		}
		return false
	}
	p.wg.Add(1)
	p.closeMu.RUnlock()
	go p.establish(route, payload, resp, forced)
	return true
}

func (p *Pool) establish(route Route, payload []byte, resp *Response, forced bool) {
	defer p.wg.Done()

	c := client.New()
	c.WithOptions(p.opts)
	pc := &PooledConn{conn: c, route: route, forced: forced}
	pc.attach(resp)
	// registered ahead of the dial so a close racing the first write is
	// still observed, and so read events can find the conn
	p.conns.Store(c, pc)
	c.OnClose(func() {
		p.onConnClosed(pc)
	})
	if err := c.Init(tcp.WithAddr(route.Addr())); err != nil {
		log.Warnf("pool: connect %s failed:[%v]", route.Key(), err)
		p.remove(pc, fmt.Errorf("%w: %w", tcp.ErrConnectFailed, err))
		return
	}
	if init := p.opts.Initializer; init != nil {
		if err := init(c); err != nil {
			log.Warnf("pool: initializer for %s failed:[%v]", route.Key(), err)
			c.Close()
			p.remove(pc, err)
			return
		}
	}
	if err := c.Write(payload); err != nil {
		c.Close()
		p.remove(pc, err)
	}
}

// onConnClosed is the close-detection callback: it fails whatever is
// still pending and hands the connection to Return, where closed ones are
// dropped. The admission permit of a connection that closed while idle is
// reclaimed later, when a consumer discards the stale queue entry.
func (p *Pool) onConnClosed(pc *PooledConn) {
	if r := pc.detach(); r != nil {
		r.fail(tcp.ErrConnClosed)
	}
	p.Return(pc)
	p.conns.Delete(pc.conn)
}

// remove reconciles bookkeeping for a connection leaving circulation:
// the pending response fails with cause and the admission permit of a
// non-forced connection is released. Calling it again is a no-op.
func (p *Pool) remove(pc *PooledConn, cause error) {
	if !atomic.CompareAndSwapInt32(&pc.removed, 0, 1) {
		return
	}
	if cause == nil {
		cause = tcp.ErrConnClosed
	}
	if r := pc.detach(); r != nil {
		r.fail(cause)
	}
	if !pc.forced {
		p.limiterFor(pc.route.Key()).Revert()
	}
	p.conns.Delete(pc.conn)
}

func (p *Pool) limiterFor(key string) limiter.Limiter {
	if v, ok := p.limiters.Load(key); ok {
		return v.(limiter.Limiter)
	}
	// first touch of a route: single winner, losers reuse it
	v, _ := p.limiters.LoadOrStore(key, limiter.NewWeighted(int64(p.opts.PerRouteLimit(key))))
	return v.(limiter.Limiter)
}

func (p *Pool) queueFor(key string) chan *PooledConn {
	if v, ok := p.queues.Load(key); ok {
		return v.(chan *PooledConn)
	}
	// buffered to the route capacity: a queued entry's conn holds a
	// permit, so entries cannot outnumber permits
	v, _ := p.queues.LoadOrStore(key, make(chan *PooledConn, p.opts.PerRouteLimit(key)))
	return v.(chan *PooledConn)
}
