package query

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"serverwatch/internal/task/deadline"
	logx "serverwatch/pkg/logx"
)

// DefaultTimeout bounds one server query.
const DefaultTimeout = 150 * time.Millisecond

// Transport performs one raw info query.
type Transport interface {
	Info(ctx context.Context, hostport string) (Info, error)
}

// Client queries a single server under its own timeout and never returns an
// error: an unreachable or misbehaving server is reported as not-ok.
type Client struct {
	transport Transport
	log       logx.Logger
	timeout   atomic.Int64 // time.Duration
}

func NewClient(t Transport, timeout time.Duration, log logx.Logger) *Client {
	if t == nil {
		t = &A2S{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{transport: t, log: log}
	c.SetTimeout(timeout)
	return c
}

// SetTimeout swaps the per-query timeout (hot reload). <=0 restores the default.
func (c *Client) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	c.timeout.Store(int64(d))
}

func (c *Client) Timeout() time.Duration { return time.Duration(c.timeout.Load()) }

// Query returns the server's live info, or ok=false on timeout or transport error.
// There are no retries.
func (c *Client) Query(ctx context.Context, address string, port int) (Info, bool) {
	hostport := net.JoinHostPort(address, strconv.Itoa(port))
	info, err := deadline.Do(ctx, c.Timeout(), func(ctx context.Context) (Info, error) {
		return c.transport.Info(ctx, hostport)
	})
	if err != nil {
		c.log.Info("server query failed", logx.String("server", hostport), logx.Err(err))
		return Info{}, false
	}
	return info, true
}
