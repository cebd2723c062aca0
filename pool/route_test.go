package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteKey(t *testing.T) {
	a := Route{Host: "db.internal", Port: 5432}
	b := Route{Host: "db.internal", Port: 5432}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "db.internal:5432", a.Key())

	assert.NotEqual(t, a.Key(), Route{Host: "db.internal", Port: 5433}.Key())
	assert.NotEqual(t, a.Key(), Route{Host: "db2.internal", Port: 5432}.Key())
}

func TestRouteKeyIPv6(t *testing.T) {
	r := Route{Host: "::1", Port: 8080}
	assert.Equal(t, "[::1]:8080", r.Key())
	assert.Equal(t, r.Key(), r.Addr())
}

func TestRouteValid(t *testing.T) {
	assert.True(t, Route{Host: "h", Port: 1}.valid())
	assert.True(t, Route{Host: "h", Port: 65535}.valid())
	assert.False(t, Route{Host: "", Port: 80}.valid())
	assert.False(t, Route{Host: "h", Port: 0}.valid())
	assert.False(t, Route{Host: "h", Port: 65536}.valid())
	assert.False(t, Route{Host: "h", Port: -1}.valid())
}
