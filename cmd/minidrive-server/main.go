// Command minidrive-server runs the reactor: a single-threaded TCP server
// that exposes a rooted directory tree to authenticated or public clients
// over the minidrive wire protocol.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gonzalop/minidrive/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		root         string
		port         uint16
		logPath      string
		logLevel     string
		chunkSize    int
		bandwidthCap int64
	)

	cmd := &cobra.Command{
		Use:           "minidrive-server",
		Short:         "Serve a directory tree to minidrive clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root == "" {
				return fmt.Errorf("--root is required")
			}

			out, closeLog, err := openLogOutput(logPath)
			if err != nil {
				return err
			}
			defer closeLog()

			logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
				Level: parseLevel(logLevel),
			}))
			slog.SetDefault(logger)

			srv, err := server.New(root,
				server.WithPort(port),
				server.WithLogger(logger),
				server.WithChunkSize(chunkSize),
				server.WithBandwidthLimit(bandwidthCap),
			)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			return srv.Run()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&root, "root", "", "root directory to serve (required)")
	flags.Uint16Var(&port, "port", 9000, "TCP port to listen on")
	flags.StringVar(&logPath, "log", "", "path to write logs to (default: stderr)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.IntVar(&chunkSize, "chunk-size", 64*1024, "bytes moved per read/write during a transfer")
	flags.Int64Var(&bandwidthCap, "bandwidth-limit", 0, "maximum aggregate transfer throughput in bytes/sec (0 = unlimited)")

	return cmd
}

// openLogOutput opens path for appending log output, creating it if
// necessary. An empty path keeps logging on stderr. The returned close
// function is always safe to call, even for stderr.
func openLogOutput(path string) (out *os.File, closeFn func(), err error) {
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
