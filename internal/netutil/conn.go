package netutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/logging"
)

// bufferPool holds the 32KB buffers io.CopyBuffer borrows in the tunnel hot path.
var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

// TunnelConns copies src into dst until either side is done, then closes
// both. The result is sent to errCh exactly once.
func TunnelConns(
	ctx context.Context,
	logger zerolog.Logger,
	errCh chan<- error,
	dst net.Conn,
	src net.Conn,
) {
	var n int64
	logger = logging.WithLocalScope(ctx, logger, "tunnel")

	var once sync.Once
	closeOnce := func() {
		once.Do(func() {
			CloseConns(src, dst)
		})
	}

	stop := context.AfterFunc(ctx, closeOnce)

	defer func() {
		stop()
		closeOnce()

		logger.Trace().
			Int64("len", n).
			Str("route", fmt.Sprintf("%s -> %s", src.RemoteAddr(), dst.RemoteAddr())).
			Msgf("done")
	}()

	bufPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufPtr)

	n, err := io.CopyBuffer(dst, src, *bufPtr)
	if err != nil && !isClosedErr(err) {
		errCh <- err
		return
	}

	errCh <- nil
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

// CloseConns closes every non-nil closer and ignores the errors.
func CloseConns(closers ...io.Closer) {
	for _, c := range closers {
		if c != nil {
			_ = c.Close()
		}
	}
}
