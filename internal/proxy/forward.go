package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/proto"
)

// handleForward sends an absolute-form request upstream and relays the
// response. Each client connection carries exactly one request.
func (p *Proxy) handleForward(
	ctx context.Context,
	logger zerolog.Logger,
	conn net.Conn,
	req *proto.HTTPRequest,
) error {
	out := req.Outbound().WithContext(ctx)

	resp, err := p.transport.RoundTrip(out)
	if err != nil {
		_, _ = conn.Write(req.ErrorResponse(http.StatusBadGateway))
		return fmt.Errorf("failed to forward to %s: %w", req.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	resp.Close = true
	resp.Header.Del("Connection")
	resp.Header.Del("Keep-Alive")

	if err := resp.Write(conn); err != nil {
		return fmt.Errorf("failed to relay response from %s: %w", req.Host, err)
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Msgf("forwarded %s", out.URL.Redacted())

	return nil
}
