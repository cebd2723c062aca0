package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sjy-dv/routepool/pkg/log"
	tcp "github.com/sjy-dv/routepool/tcpcore"
)

// FromEnv builds pool options from the process environment, loading a
// .env file first when one is present. Recognized keys:
//
//	POOL_DEFAULT_MAX_PER_ROUTE  int
//	POOL_MAX_PER_ROUTE          "host:port=n[,host:port=n...]"
//	POOL_WAIT_TIMEOUT_MS        int
//	POOL_IDLE_TIMEOUT_MS        int
//	POOL_DIAL_TIMEOUT_MS        int
//	POOL_FORCE_CONNECT          bool
//
// Malformed values are logged and skipped, leaving the defaults in place.
func FromEnv() []tcp.Option {
	_ = godotenv.Load()
	var opts []tcp.Option
	if n, ok := intEnv("POOL_DEFAULT_MAX_PER_ROUTE"); ok {
		opts = append(opts, tcp.WithDefaultPerRoute(n))
	}
	if m := routeLimits(os.Getenv("POOL_MAX_PER_ROUTE")); len(m) > 0 {
		opts = append(opts, tcp.WithMaxPerRoute(m))
	}
	if ms, ok := intEnv("POOL_WAIT_TIMEOUT_MS"); ok {
		opts = append(opts, tcp.WithWaitTimeout(time.Duration(ms)*time.Millisecond))
	}
	if ms, ok := intEnv("POOL_IDLE_TIMEOUT_MS"); ok {
		opts = append(opts, tcp.WithIdleTimeout(time.Duration(ms)*time.Millisecond))
	}
	if ms, ok := intEnv("POOL_DIAL_TIMEOUT_MS"); ok {
		opts = append(opts, tcp.WithDialTimeout(time.Duration(ms)*time.Millisecond))
	}
	if raw := os.Getenv("POOL_FORCE_CONNECT"); raw != "" {
		on, err := strconv.ParseBool(raw)
		if err != nil {
			log.Warnf("config: POOL_FORCE_CONNECT=%q is not a bool", raw)
		} else {
			opts = append(opts, tcp.WithForceConnect(on))
		}
	}
	return opts
}

func routeLimits(raw string) map[string]int {
	if raw == "" {
		return nil
	}
	m := make(map[string]int)
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			log.Warnf("config: skipping malformed POOL_MAX_PER_ROUTE entry %q", part)
			continue
		}
		n, err := strconv.Atoi(kv[1])
		if err != nil || n < 0 {
			log.Warnf("config: skipping POOL_MAX_PER_ROUTE entry %q: bad limit", part)
			continue
		}
		m[kv[0]] = n
	}
	return m
}

func intEnv(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Warnf("config: %s=%q is not an int", key, raw)
		return 0, false
	}
	return n, true
}
