package tcpcore

import (
	"errors"
)

var (
	ErrTooLarge         = errors.New("data:too large")
	ErrConnClosed       = errors.New("conn:closed")
	ErrConnectFailed    = errors.New("conn:connect failed")
	ErrPoolClosed       = errors.New("pool:closed")
	ErrPoolTimeout      = errors.New("pool:timeout")
	ErrPoolInvalidRoute = errors.New("pool:invalid route")
)
