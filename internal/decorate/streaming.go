package decorate

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/hook"
)

type streamConn struct {
	net.Conn

	id      string
	kind    hook.ConnKind
	opened  time.Time
	logger  zerolog.Logger
	onClose func(Stats)

	read    atomic.Int64
	written atomic.Int64

	closeOnce sync.Once
	closeErr  error
	closedAt  atomic.Int64
}

func newStreamConn(f *Factory, kind hook.ConnKind, raw net.Conn) *streamConn {
	id := uuid.NewString()

	remote := ""
	if addr := raw.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	c := &streamConn{
		Conn:    raw,
		id:      id,
		kind:    kind,
		opened:  time.Now(),
		onClose: f.onClose,
		logger: f.logger.With().
			Str("conn_id", id).
			Str("kind", kind.String()).
			Str("remote", remote).
			Logger(),
	}

	c.logger.Debug().Msg("opened")

	return c
}

func (c *streamConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.read.Add(int64(n))
	return n, err
}

func (c *streamConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.written.Add(int64(n))
	return n, err
}

// Close closes the delegate once and reports the totals.
func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
		c.closedAt.Store(time.Now().UnixNano())

		st := c.Stats()
		c.logger.Debug().
			Int64("read", st.BytesRead).
			Int64("written", st.BytesWritten).
			Dur("took", st.Duration).
			Msg("closed")

		if c.onClose != nil {
			c.onClose(st)
		}
	})

	return c.closeErr
}

func (c *streamConn) Stats() Stats {
	remote := ""
	if addr := c.Conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	end := time.Now()
	if ns := c.closedAt.Load(); ns != 0 {
		end = time.Unix(0, ns)
	}

	return Stats{
		ID:           c.id,
		Kind:         c.kind,
		Remote:       remote,
		BytesRead:    c.read.Load(),
		BytesWritten: c.written.Load(),
		Duration:     end.Sub(c.opened),
	}
}

func (c *streamConn) NetConn() net.Conn {
	return c.Conn
}

type secureStreamConn struct {
	*streamConn
	state tlsStater
}

func (c *secureStreamConn) ConnectionState() tls.ConnectionState {
	return c.state.ConnectionState()
}
