// Package proxy is a forward proxy whose upstream connections are opened
// through the hooked platform table and attributed to the calling tenant.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/hook"
	"github.com/xvzc/connhook/internal/logging"
	"github.com/xvzc/connhook/internal/netutil"
	"github.com/xvzc/connhook/internal/proto"
	"github.com/xvzc/connhook/internal/session"
)

// HandlerSource looks up the active handler for a protocol.
type HandlerSource interface {
	Handler(ctx context.Context, protocol string) (hook.Handler, error)
}

type ProxyOptions struct {
	ListenAddr *net.TCPAddr
}

type Proxy struct {
	logger zerolog.Logger

	handlers  HandlerSource
	transport http.RoundTripper
	resolver  *net.Resolver
	opts      ProxyOptions

	listenAddr *net.TCPAddr
}

func NewProxy(
	logger zerolog.Logger,
	handlers HandlerSource,
	transport http.RoundTripper,
	opts ProxyOptions,
) *Proxy {
	return &Proxy{
		logger:    logger,
		handlers:  handlers,
		transport: transport,
		resolver:  net.DefaultResolver,
		opts:      opts,
	}
}

func (p *Proxy) ListenAndServe(ctx context.Context) error {
	listener, err := net.ListenTCP("tcp", p.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("error creating listener on %s: %w", p.opts.ListenAddr, err)
	}

	return p.Serve(ctx, listener)
}

// Serve accepts connections on l until ctx is done.
func (p *Proxy) Serve(ctx context.Context, l net.Listener) error {
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		p.listenAddr = addr
	}

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	p.logger.Info().Msgf("created a listener on %s", l.Addr())

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			p.logger.Error().Err(err).Msg("failed to accept new connection")

			continue
		}

		go p.handleConnection(session.WithNewTraceID(ctx), conn)
	}
}

func (p *Proxy) handleConnection(ctx context.Context, conn net.Conn) {
	logger := logging.WithLocalScope(ctx, p.logger, "conn")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer netutil.CloseConns(conn)

	req, err := proto.ReadHttpRequest(bufio.NewReader(conn))
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Warn().Err(err).Msg("failed to read http request")
		}

		return
	}

	tenant, ok, err := req.PopTenant()
	if err != nil {
		logger.Warn().Err(err).Msg("invalid tenant header")
		_, _ = conn.Write(req.ErrorResponse(http.StatusBadRequest))

		return
	}

	if ok {
		ctx = session.WithTenant(ctx, tenant)
		logger = logger.With().Ctx(ctx).Logger()
	}

	if !req.IsConnectMethod() && !req.IsAbsoluteForm() {
		logger.Warn().Str("uri", req.RequestURI).Msg("not a proxy request. abort")
		_, _ = conn.Write(req.ErrorResponse(http.StatusBadRequest))

		return
	}

	port, err := req.ExtractPort()
	if err != nil {
		logger.Warn().Str("host", req.Host).Msg("failed to extract port")
		_, _ = conn.Write(req.ErrorResponse(http.StatusBadRequest))

		return
	}

	logger.Debug().
		Str("method", req.Method).
		Str("host", req.Host).
		Str("from", conn.RemoteAddr().String()).
		Msg("new request")

	if p.isRecursiveDst(ctx, req.ExtractDomain(), port) {
		_, _ = conn.Write(req.ErrorResponse(http.StatusLoopDetected))

		return
	}

	if req.IsConnectMethod() {
		err = p.handleConnect(ctx, logger, conn, req, port)
	} else {
		err = p.handleForward(ctx, logger, conn, req)
	}

	if err != nil {
		logging.WarnUnwrapped(&logger, "error handling request", err)
	}
}

func (p *Proxy) isRecursiveDst(ctx context.Context, domain string, port int) bool {
	logger := logging.WithLocalScope(ctx, p.logger, "is_recursive")

	if p.listenAddr == nil || port != p.listenAddr.Port {
		return false
	}

	var addrs []net.IPAddr
	if ip := net.ParseIP(domain); ip != nil {
		addrs = []net.IPAddr{{IP: ip}}
	} else {
		resolved, err := p.resolver.LookupIPAddr(ctx, domain)
		if err != nil {
			logger.Trace().Err(err).Str("domain", domain).Msg("lookup failed")
			return false
		}
		addrs = resolved
	}

	ok, err := netutil.ValidateDestination(addrs, port, p.listenAddr)
	if !ok {
		logger.Trace().Err(err).Msg("found a recursive destination")
		return true
	}

	return false
}
