// Package server implements the server half of the protocol: the Reactor
// (single-threaded connection multiplexer) and the per-connection Session
// state machine it drives.
package server

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gonzalop/minidrive/internal/credentials"
	"github.com/gonzalop/minidrive/internal/filelocks"
	"github.com/gonzalop/minidrive/internal/protocol"
	"github.com/gonzalop/minidrive/internal/ratelimit"
)

// Server holds everything shared by every session: the rooted directory
// tree, the user table, the process-wide file lock table, and
// configuration. It is not itself the I/O loop — see Run.
type Server struct {
	root        string
	port        uint16
	logger      *slog.Logger
	credentials *credentials.Store
	locks       *filelocks.Table
	chunkSize   int
	limiter     *ratelimit.Limiter

	listenFd int
	sessions map[int]*session
	nextWake time.Time // earliest time a throttled session's token bucket refills
}

// scheduleRetry requests that the reactor wake up in at most d even if no
// descriptor becomes ready, so a session throttled by WithBandwidthLimit
// gets another chance without the reactor spinning in a busy loop or
// blocking on a sleep that would stall every other session.
func (srv *Server) scheduleRetry(d time.Duration) {
	wake := time.Now().Add(d)
	if srv.nextWake.IsZero() || wake.Before(srv.nextWake) {
		srv.nextWake = wake
	}
}

// Option configures a Server at construction time.
type Option func(*Server) error

// WithPort sets the TCP port to listen on. Defaults to 9000.
func WithPort(port uint16) Option {
	return func(s *Server) error {
		s.port = port
		return nil
	}
}

// WithLogger sets the structured logger used for server-wide diagnostics.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithChunkSize overrides TMP_BUFF_SIZE, the amount of file data moved per
// reactor iteration. Defaults to protocol.DefaultChunkSize (64 KiB).
func WithChunkSize(n int) Option {
	return func(s *Server) error {
		if n <= 0 {
			return fmt.Errorf("chunk size must be positive")
		}
		s.chunkSize = n
		return nil
	}
}

// WithBandwidthLimit caps total file-transfer throughput across every
// session at bytesPerSecond, independent of chunk size. Zero leaves
// transfers unthrottled (the default).
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Server) error {
		s.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}

// New creates a Server rooted at root. The root directory (and its public/
// subdirectory) are created if missing.
func New(root string, opts ...Option) (*Server, error) {
	if root == "" {
		return nil, fmt.Errorf("root path is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", root, err)
	}
	if err := os.MkdirAll(root+"/public", 0o755); err != nil {
		return nil, fmt.Errorf("create public directory: %w", err)
	}

	store, err := credentials.Open(root)
	if err != nil {
		return nil, err
	}

	s := &Server{
		root:        root,
		port:        9000,
		logger:      slog.Default(),
		credentials: store,
		locks:       filelocks.New(),
		chunkSize:   protocol.DefaultChunkSize,
		sessions:    make(map[int]*session),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}
