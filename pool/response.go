package pool

import (
	"context"
	"sync"
)

// Response is the in-flight request/response correlation bound to one
// connection at a time. It settles exactly once, with either a body or an
// error, whichever comes first.
type Response struct {
	once sync.Once
	done chan struct{}
	body []byte
	err  error
}

func newResponse() *Response {
	return &Response{
		done: make(chan struct{}),
	}
}

func (r *Response) complete(body []byte) {
	r.once.Do(func() {
		r.body = body
		close(r.done)
	})
}

func (r *Response) fail(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done is closed once the response has settled.
func (r *Response) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the response settles or ctx is cancelled.
func (r *Response) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-r.done:
		return r.body, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Body is valid after Done is closed.
func (r *Response) Body() []byte {
	return r.body
}

// Err is valid after Done is closed.
func (r *Response) Err() error {
	return r.err
}
