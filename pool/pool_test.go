package pool

import (
	"bytes"
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/sjy-dv/routepool/pkg/log"
	"github.com/sjy-dv/routepool/server"
	tcp "github.com/sjy-dv/routepool/tcpcore"
)

func TestMain(m *testing.M) {
	log.SetLevel(zapcore.ErrorLevel)
	m.Run()
}

type echoHandler struct {
	*tcp.NetEventHandler
	delay time.Duration
}

func (h *echoHandler) OnReadMsg(c tcp.Conn, data []byte) error {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	return c.Write(bytes.ToUpper(data))
}

func startServer(t *testing.T, delay time.Duration) (*server.Server, Route) {
	t.Helper()
	srv := server.New()
	require.NoError(t, srv.Init(
		tcp.WithAddr("127.0.0.1:0"),
		tcp.WithHandler(&echoHandler{delay: delay}),
	))
	go srv.Serve()
	t.Cleanup(srv.Stop)
	addr := srv.Addr().(*net.TCPAddr)
	return srv, Route{Host: "127.0.0.1", Port: addr.Port}
}

func newTestPool(t *testing.T, opts ...tcp.Option) *Pool {
	t.Helper()
	p, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func waitBody(t *testing.T, r *Response) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	body, err := r.Wait(ctx)
	require.NoError(t, err)
	return body
}

func TestRoundTrip(t *testing.T) {
	_, route := startServer(t, 0)
	p := newTestPool(t)

	resp, err := p.SendRequest(route, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("HELLO"), waitBody(t, resp))
}

func TestSequentialRequestsReuseConnection(t *testing.T) {
	srv, route := startServer(t, 0)
	p := newTestPool(t, tcp.WithMaxPerRoute(map[string]int{route.Key(): 1}))

	for i := 0; i < 5; i++ {
		resp, err := p.SendRequest(route, []byte("ping"))
		require.NoError(t, err)
		waitBody(t, resp)
	}
	assert.Equal(t, uint32(1), srv.Accepted(), "idle connection must be reused before connecting")
}

func TestConcurrentWaitersShareConnection(t *testing.T) {
	srv, route := startServer(t, 20*time.Millisecond)
	p := newTestPool(t,
		tcp.WithMaxPerRoute(map[string]int{route.Key(): 1}),
		tcp.WithWaitTimeout(2*time.Second),
	)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- sendAndWait(p, route, []byte("ping"))
		}()
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, uint32(1), srv.Accepted())
}

func sendAndWait(p *Pool, route Route, payload []byte) error {
	resp, err := p.SendRequest(route, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = resp.Wait(ctx)
	return err
}

func TestCapacityBoundsConnections(t *testing.T) {
	srv, route := startServer(t, 30*time.Millisecond)
	p := newTestPool(t,
		tcp.WithMaxPerRoute(map[string]int{route.Key(): 2}),
		tcp.WithWaitTimeout(3*time.Second),
	)

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			errs <- sendAndWait(p, route, []byte("ping"))
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-errs)
	}
	assert.LessOrEqual(t, srv.Accepted(), uint32(2))
}

func TestZeroCapacityTimesOut(t *testing.T) {
	srv, route := startServer(t, 0)
	p := newTestPool(t,
		tcp.WithMaxPerRoute(map[string]int{route.Key(): 0}),
		tcp.WithWaitTimeout(100*time.Millisecond),
	)

	start := time.Now()
	_, err := p.SendRequest(route, []byte("ping"))
	require.ErrorIs(t, err, tcp.ErrPoolTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, uint32(0), srv.Accepted(), "no connection may be attempted")
}

func TestForceConnectBypassesLimit(t *testing.T) {
	srv, route := startServer(t, 0)
	p := newTestPool(t,
		tcp.WithMaxPerRoute(map[string]int{route.Key(): 0}),
		tcp.WithForceConnect(true),
		tcp.WithWaitTimeout(100*time.Millisecond),
	)

	for i := 0; i < 2; i++ {
		resp, err := p.SendRequest(route, []byte("ping"))
		require.NoError(t, err)
		waitBody(t, resp)
	}
	// forced connections never enter the idle queue, so each request
	// connected anew
	assert.Equal(t, uint32(2), srv.Accepted())
}

func TestConnectFailureReleasesPermit(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())
	route := Route{Host: "127.0.0.1", Port: addr.Port}

	p := newTestPool(t,
		tcp.WithMaxPerRoute(map[string]int{route.Key(): 1}),
		tcp.WithDialTimeout(500*time.Millisecond),
		tcp.WithWaitTimeout(100*time.Millisecond),
	)

	resp, err := p.SendRequest(route, []byte("ping"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = resp.Wait(ctx)
	require.ErrorIs(t, err, tcp.ErrConnectFailed)

	// the permit must be back: with a live server on the same address a
	// second request has to go through
	srv := server.New()
	require.NoError(t, srv.Init(
		tcp.WithAddr(route.Addr()),
		tcp.WithHandler(&echoHandler{}),
	))
	go srv.Serve()
	t.Cleanup(srv.Stop)

	resp, err = p.SendRequest(route, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("PING"), waitBody(t, resp))
}

func TestStaleConnectionNotReused(t *testing.T) {
	srv, route := startServer(t, 0)
	p := newTestPool(t, tcp.WithWaitTimeout(100*time.Millisecond))

	resp, err := p.SendRequest(route, []byte("ping"))
	require.NoError(t, err)
	waitBody(t, resp)
	require.Equal(t, uint32(1), srv.Accepted())

	// server going away closes the idle connection under the pool
	srv.Stop()
	require.Eventually(t, func() bool {
		n := 0
		p.conns.Range(func(_, _ any) bool { n++; return true })
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)

	// the stale queue entry must be skipped, never served; the fresh
	// connect attempt then fails against the stopped server
	resp, err = p.SendRequest(route, []byte("ping"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = resp.Wait(ctx)
	require.ErrorIs(t, err, tcp.ErrConnectFailed)
}

func TestInitializerRunsOncePerConnection(t *testing.T) {
	srv, route := startServer(t, 0)
	var calls int32
	p := newTestPool(t,
		tcp.WithMaxPerRoute(map[string]int{route.Key(): 1}),
		tcp.WithInitializer(func(c tcp.Conn) error {
			c.SetTag("initialized")
			atomic.AddInt32(&calls, 1)
			return nil
		}),
	)

	for i := 0; i < 3; i++ {
		resp, err := p.SendRequest(route, []byte("ping"))
		require.NoError(t, err)
		waitBody(t, resp)
	}
	assert.Equal(t, uint32(1), srv.Accepted())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "reused connections are not re-initialized")
}

func TestNegativeRouteLimitRejected(t *testing.T) {
	_, err := New(tcp.WithMaxPerRoute(map[string]int{"10.0.0.9:9000": -1}))
	require.Error(t, err, "a bad limit must fail construction, not the request path")

	_, err = New(tcp.WithDefaultPerRoute(-1))
	require.Error(t, err)
}

func TestInvalidRoute(t *testing.T) {
	p := newTestPool(t)
	_, err := p.SendRequest(Route{}, []byte("ping"))
	require.ErrorIs(t, err, tcp.ErrPoolInvalidRoute)
}

func TestCloseDuringEstablish(t *testing.T) {
	_, route := startServer(t, 0)

	// race connection establishment against Close; every request that was
	// accepted must still settle its response, and Close must not return
	// with an uncounted connect attempt in flight
	for i := 0; i < 25; i++ {
		p, err := New(tcp.WithWaitTimeout(50 * time.Millisecond))
		require.NoError(t, err)

		type result struct {
			resp *Response
			err  error
		}
		res := make(chan result, 1)
		go func() {
			r, err := p.SendRequest(route, []byte("ping"))
			res <- result{r, err}
		}()
		p.Close()

		r := <-res
		if r.err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_, _ = r.resp.Wait(ctx)
		cancel()
		select {
		case <-r.resp.Done():
		default:
			t.Fatal("response left unsettled after Close")
		}
	}
}

func TestCloseIsTerminal(t *testing.T) {
	_, route := startServer(t, 0)
	p, err := New()
	require.NoError(t, err)

	resp, err := p.SendRequest(route, []byte("ping"))
	require.NoError(t, err)
	waitBody(t, resp)

	require.NoError(t, p.Close())
	require.ErrorIs(t, p.Close(), tcp.ErrPoolClosed)

	_, err = p.SendRequest(route, []byte("ping"))
	require.ErrorIs(t, err, tcp.ErrPoolClosed)
}
