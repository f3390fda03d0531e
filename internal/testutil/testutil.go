// Package testutil holds helpers shared by package tests.
package testutil

import (
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/irfndi/correlation-regime-go/internal/config"
	"github.com/irfndi/correlation-regime-go/internal/logging"
)

// NewRedis starts an in-process Redis and a client for it. Both are closed
// when the test ends.
func NewRedis(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, s
}

// RedisConfig points a config.RedisConfig at s.
func RedisConfig(t testing.TB, s *miniredis.Miniredis) config.RedisConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("split miniredis addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}
	return config.RedisConfig{Host: host, Port: port}
}

// Logger discards everything below error.
func Logger() *logging.StandardLogger {
	return logging.NewStandardLoggerWithWriter(io.Discard, "error", "test")
}
