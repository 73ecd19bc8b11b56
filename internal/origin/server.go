package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rpccache/internal/config"
	"rpccache/pkg/logger"
)

// Server is a local HTTP origin with a fixed response, used as the far end
// of benchmark runs.
type Server struct {
	config   config.OriginConfig
	logger   *logger.Logger
	server   *http.Server
	listener net.Listener
	hits     atomic.Int64
	mu       sync.Mutex
}

func NewServer(cfg config.OriginConfig, log *logger.Logger) *Server {
	s := &Server{
		config: cfg,
		logger: log,
	}
	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serve)
	return chain(s.logger, mux)
}

// Hits reports how many requests reached the origin.
func (s *Server) Hits() int64 {
	return s.hits.Load()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)

	if s.config.Delay > 0 {
		select {
		case <-time.After(s.config.Delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Add("X-Origin", "rpccache")
	w.Header().Add("X-Origin", r.Method)

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		w.Header().Set("Content-Type", s.config.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(s.config.Body)))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, s.config.Body)
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, r.Body); err != nil {
		s.logger.Warn("Failed to echo request body", zap.Error(err))
	}
}

// Listen binds the configured address. Port 0 picks a free port.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("origin listen error: %w", err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// Start serves until ctx is done or the server fails.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("Starting origin server",
			zap.String("address", s.Addr()))
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("origin server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down origin server")
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
