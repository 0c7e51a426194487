package kvstore

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/xpanvictor/voxgate/internal/apperr"
	"github.com/xpanvictor/voxgate/internal/config"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	host, port, err := splitAddr(mr.Addr())
	if err != nil {
		t.Fatalf("split miniredis addr: %v", err)
	}
	cfg := config.RedisConfig{Host: host, Port: port}
	c, err := New(cfg, Logger.New(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

// splitAddr pulls the numeric port back out of miniredis's "host:port"
// so it can be fed through config.RedisConfig.Addr(), which formats
// Host and an int Port back into the same shape.
func splitAddr(addr string) (string, int, error) {
	var host string
	var port int
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			host = addr[:i]
			p, err := strconv.Atoi(addr[i+1:])
			return host, p, err
		}
	}
	return host, port, nil
}

func TestClientSetGetDel(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	if err := c.Set(ctx, "greeting", "hello", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := c.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "hello" {
		t.Fatalf("Get: want %q, got %q", "hello", v)
	}
	if err := c.Del(ctx, "greeting"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := c.Get(ctx, "greeting"); !apperr.Is(err, apperr.KindState) {
		t.Fatalf("Get after Del: want KindState error, got %v", err)
	}
}

func TestClientGetMissingKey(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Get(context.Background(), "never-set")
	if !apperr.Is(err, apperr.KindState) {
		t.Fatalf("want KindState error, got %v", err)
	}
}

func TestClientSetWithTTLExpires(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	if err := c.Set(ctx, "short", "v", 50*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(100 * time.Millisecond)
	if _, err := c.Get(ctx, "short"); !apperr.Is(err, apperr.KindState) {
		t.Fatalf("want key expired, got %v", err)
	}
}

func TestClientPing(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
