package decorate

import (
	"crypto/tls"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xvzc/connhook/internal/hook"
)

type fakeTLSConn struct {
	net.Conn
}

func (fakeTLSConn) ConnectionState() tls.ConnectionState {
	return tls.ConnectionState{ServerName: "example.com", HandshakeComplete: true}
}

func TestFactory_WrapBasic(t *testing.T) {
	f := NewFactory(zerolog.Nop(), nil)
	c, _ := net.Pipe()

	plain := f.WrapBasic(hook.ConnPlain, c)
	assert.Equal(t, hook.ConnPlain, hook.KindOf(plain))
	assert.Same(t, c, Unwrap(plain))

	secure := f.WrapBasic(hook.ConnSecure, fakeTLSConn{Conn: c})
	require.Equal(t, hook.ConnSecure, hook.KindOf(secure))
	assert.Equal(t, "example.com", secure.(interface {
		ConnectionState() tls.ConnectionState
	}).ConnectionState().ServerName)

	// A secure kind without TLS state degrades to a plain wrapper.
	assert.Equal(t, hook.ConnPlain, hook.KindOf(f.WrapBasic(hook.ConnSecure, c)))
}

func TestFactory_WrapStreaming_CountsBytes(t *testing.T) {
	var (
		mu    sync.Mutex
		stats []Stats
	)
	f := NewFactory(zerolog.Nop(), func(s Stats) {
		mu.Lock()
		defer mu.Unlock()
		stats = append(stats, s)
	})

	local, remote := net.Pipe()
	conn := f.WrapStreaming(hook.ConnPlain, local)

	go func() {
		buf := make([]byte, 5)
		_, _ = io.ReadFull(remote, buf)
		_, _ = remote.Write([]byte("pong!!!"))
	}()

	n, err := conn.Write([]byte("ping!"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 7)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong!!!", string(buf))

	require.NoError(t, conn.Close())
	_ = conn.Close()
	_ = remote.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(5), stats[0].BytesWritten)
	assert.Equal(t, int64(7), stats[0].BytesRead)
	assert.Equal(t, hook.ConnPlain, stats[0].Kind)
	assert.NotEmpty(t, stats[0].ID)
}

func TestFactory_WrapStreaming_Secure(t *testing.T) {
	f := NewFactory(zerolog.Nop(), nil)
	c, _ := net.Pipe()

	conn := f.WrapStreaming(hook.ConnSecure, fakeTLSConn{Conn: c})
	assert.Equal(t, hook.ConnSecure, hook.KindOf(conn))

	inner, ok := Unwrap(conn).(fakeTLSConn)
	require.True(t, ok)
	assert.Same(t, c, inner.Conn)
}

func TestFactory_WrapStreaming_UniqueIDs(t *testing.T) {
	var ids []string
	f := NewFactory(zerolog.Nop(), func(s Stats) { ids = append(ids, s.ID) })

	for i := 0; i < 2; i++ {
		c, _ := net.Pipe()
		require.NoError(t, f.WrapStreaming(hook.ConnPlain, c).Close())
	}

	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestFactory_WrapStreaming_DurationFixedAfterClose(t *testing.T) {
	f := NewFactory(zerolog.Nop(), nil)
	c, _ := net.Pipe()

	conn := f.WrapStreaming(hook.ConnPlain, c)
	stater := conn.(interface{ Stats() Stats })

	require.NoError(t, conn.Close())
	first := stater.Stats().Duration

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, first, stater.Stats().Duration)
}
