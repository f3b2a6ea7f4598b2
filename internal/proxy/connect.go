package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/netutil"
	"github.com/xvzc/connhook/internal/proto"
)

// handleConnect opens the target through the tcp handler and tunnels bytes
// both ways until either side closes.
func (p *Proxy) handleConnect(
	ctx context.Context,
	logger zerolog.Logger,
	lConn net.Conn,
	req *proto.HTTPRequest,
	port int,
) error {
	h, err := p.handlers.Handler(ctx, "tcp")
	if err != nil {
		_, _ = lConn.Write(req.ErrorResponse(http.StatusBadGateway))
		return fmt.Errorf("no tcp handler: %w", err)
	}

	target := &url.URL{
		Scheme: "tcp",
		Host:   net.JoinHostPort(req.ExtractDomain(), strconv.Itoa(port)),
	}

	rConn, err := h.Open(ctx, target)
	if err != nil {
		_, _ = lConn.Write(req.ErrorResponse(http.StatusBadGateway))
		return fmt.Errorf("failed to open %s: %w", target.Host, err)
	}

	logger.Debug().Msgf("new remote conn -> %s", rConn.RemoteAddr())

	if _, err := lConn.Write(req.ConnEstablishedResponse()); err != nil {
		netutil.CloseConns(rConn)
		return fmt.Errorf("failed to write connect response: %w", err)
	}

	errCh := make(chan error, 2)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go netutil.TunnelConns(ctx, logger, errCh, rConn, lConn)
	go netutil.TunnelConns(ctx, logger, errCh, lConn, rConn)

	for range 2 {
		e := <-errCh
		if e == nil {
			continue
		}

		return fmt.Errorf(
			"unsuccessful tunnel %s -> %s: %w",
			lConn.RemoteAddr(),
			rConn.RemoteAddr(),
			e,
		)
	}

	return nil
}
