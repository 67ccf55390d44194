package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/session-foundation/seshd/internal/account"
	"github.com/session-foundation/seshd/internal/api"
	"go.uber.org/zap"
)

// Server manages the control API lifecycle for an account daemon. It serves
// JSON over a Unix domain socket owned by the account directory.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates an HTTP server bound to the account's Unix domain socket.
func NewServer(
	p Params,
	logger *zap.Logger,
	statusSvc *api.StatusService,
	contactSvc *api.ContactService,
	syncSvc *api.SyncService,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = account.SocketPath(p.AccountName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	mux := http.NewServeMux()
	statusSvc.Register(mux)
	contactSvc.Register(mux)
	syncSvc.Register(mux)

	return &Server{
		httpServer: &http.Server{Handler: mux},
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving control requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(shutdownCtx)
	_ = os.Remove(s.socketPath)
}
