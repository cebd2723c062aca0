package tcpcore

import (
	"context"
	"net"
	"time"
)

const (
	// DefaultMaxPerRoute is the admission capacity applied to routes
	// without an explicit MaxPerRoute entry.
	DefaultMaxPerRoute = 200

	DefaultWaitTimeout    = 3 * time.Second
	DefaultDialTimeout    = 3 * time.Second
	DefaultInitReadBufLen = 1024
	DefaultMaxReadBufLen  = 64 * 1024
)

type Options struct {
	Ctx context.Context

	// transport
	Addr           string
	Dialer         *net.Dialer
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	KeepAlive      bool
	InitReadBufLen uint32
	MaxReadBufLen  uint32
	HeaderCodec    HeaderCodec
	Handler        EventHandler
	HeartData      []byte
	HeartInterval  time.Duration
	IdleTimeout    time.Duration
	Tag            string

	// pool
	MaxPerRoute     map[string]int
	DefaultPerRoute int
	WaitTimeout     time.Duration
	ForceConnect    bool
	Initializer     func(Conn) error

	// server
	ConnLimit uint32
}

type Option func(*Options)

func DefaultOptions() Options {
	return Options{
		Ctx:             context.Background(),
		DialTimeout:     DefaultDialTimeout,
		KeepAlive:       true,
		InitReadBufLen:  DefaultInitReadBufLen,
		MaxReadBufLen:   DefaultMaxReadBufLen,
		HeaderCodec:     DefaultHeaderCodec(),
		Handler:         DefaultEventHandler(),
		DefaultPerRoute: DefaultMaxPerRoute,
		WaitTimeout:     DefaultWaitTimeout,
	}
}

// PerRouteLimit resolves the admission capacity for a route key:
// the explicit MaxPerRoute entry if present, else DefaultPerRoute.
func (o *Options) PerRouteLimit(key string) int {
	if n, ok := o.MaxPerRoute[key]; ok {
		return n
	}
	return o.DefaultPerRoute
}

// WithContext shares an externally owned context; cancelling it tears
// down every loop started under it.
func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Ctx = ctx
	}
}

func WithAddr(addr string) Option {
	return func(o *Options) {
		o.Addr = addr
	}
}

// WithDialer supplies a shared dialer, overriding DialTimeout.
func WithDialer(d *net.Dialer) Option {
	return func(o *Options) {
		o.Dialer = d
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.DialTimeout = d
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ReadTimeout = d
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.WriteTimeout = d
	}
}

func WithKeepAlive(on bool) Option {
	return func(o *Options) {
		o.KeepAlive = on
	}
}

func WithReadBufLen(init, max uint32) Option {
	return func(o *Options) {
		o.InitReadBufLen = init
		o.MaxReadBufLen = max
	}
}

func WithHeaderCodec(codec HeaderCodec) Option {
	return func(o *Options) {
		o.HeaderCodec = codec
	}
}

func WithHandler(h EventHandler) Option {
	return func(o *Options) {
		o.Handler = h
	}
}

// WithHeartbeat makes idle connections send data every interval instead
// of being closed by IdleTimeout.
func WithHeartbeat(data []byte, interval time.Duration) Option {
	return func(o *Options) {
		o.HeartData = data
		o.HeartInterval = interval
	}
}

// WithIdleTimeout closes a connection after d without read or write
// activity. Zero disables idle closing.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.IdleTimeout = d
	}
}

func WithTag(tag string) Option {
	return func(o *Options) {
		o.Tag = tag
	}
}

// WithMaxPerRoute caps concurrent connections for the listed route keys.
// Routes not listed fall back to the default capacity.
func WithMaxPerRoute(m map[string]int) Option {
	return func(o *Options) {
		o.MaxPerRoute = m
	}
}

func WithDefaultPerRoute(n int) Option {
	return func(o *Options) {
		o.DefaultPerRoute = n
	}
}

// WithWaitTimeout bounds how long an acquisition may wait for an idle
// connection once admission is exhausted.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.WaitTimeout = d
	}
}

// WithForceConnect allows connections past the per-route capacity when
// the pool is exhausted. Forced connections are never pooled.
func WithForceConnect(on bool) Option {
	return func(o *Options) {
		o.ForceConnect = on
	}
}

// WithInitializer runs fn on every newly established connection before
// the first write.
func WithInitializer(fn func(Conn) error) Option {
	return func(o *Options) {
		o.Initializer = fn
	}
}

func WithConnLimit(n uint32) Option {
	return func(o *Options) {
		o.ConnLimit = n
	}
}
