package network

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/emberline-project/emberline/internal/config"
	"github.com/emberline-project/emberline/internal/session"
)

// TCPListener accepts client connections and runs one session goroutine
// per socket.
type TCPListener struct {
	cfg      *config.Config
	registry *Registry
	deps     session.Deps
	listener net.Listener
}

// NewTCPListener creates the listener. Sessions are built from deps for
// every accepted connection.
func NewTCPListener(cfg *config.Config, registry *Registry, deps session.Deps) *TCPListener {
	return &TCPListener{
		cfg:      cfg,
		registry: registry,
		deps:     deps,
	}
}

// Start binds the configured address and accepts until ctx is cancelled.
func (l *TCPListener) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", l.cfg.Network.BindAddress, l.cfg.Network.Port)

	// SO_REUSEADDR allows immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	var err error
	l.listener, err = lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Msg("TCP listener started")

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("TCP listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		log.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Msg("new client connection")

		go l.handleConnection(ctx, conn)
	}
}

// handleConnection owns one socket from accept to close.
func (l *TCPListener) handleConnection(ctx context.Context, conn net.Conn) {
	l.registry.Register(conn)
	defer l.registry.Unregister(conn)

	sess := session.New(conn, l.deps)
	if err := sess.Run(ctx); err != nil {
		log.Debug().
			Err(err).
			Str("remote", conn.RemoteAddr().String()).
			Msg("session ended with error")
	}
}

// Stop closes the listening socket.
func (l *TCPListener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
