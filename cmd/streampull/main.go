// ABOUTME: Main entry point for the stream pull tool
// ABOUTME: Opens a configured HTTP source and pumps its bytes to a sink
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harper/audio-http-source/internal/application/config"
	"github.com/harper/audio-http-source/internal/domain"
	"github.com/harper/audio-http-source/internal/domain/stream"
	"github.com/harper/audio-http-source/internal/infrastructure/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	sourceID := ""
	if len(os.Args) > 2 {
		sourceID = os.Args[2]
	}

	config.LoadEnvFiles(".env")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	srcCfg, err := cfg.Source(sourceID)
	if err != nil {
		return err
	}

	tr := transport.NewHTTP(transport.Config{
		ConnectTimeout: time.Duration(srcCfg.ConnectTimeoutMs) * time.Millisecond,
		Headers:        srcCfg.RequestHeaders,
		BufferBytes:    srcCfg.BufferBytes,
	})

	src := stream.New(tr, statusLogger(logger), stream.Config{
		ReadWait:          time.Duration(srcCfg.ReadWaitMs) * time.Millisecond,
		ChunkHeaderWait:   time.Duration(srcCfg.ChunkHeaderWaitMs) * time.Millisecond,
		ReconnectAttempts: srcCfg.Reconnect.Attempts,
		ReconnectDelay:    time.Duration(srcCfg.Reconnect.DelayMs) * time.Millisecond,
	})

	out, closeOut, err := openOutput(cfg.Output.Path)
	if err != nil {
		return err
	}
	defer closeOut()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !src.Open(srcCfg.URL) {
		return fmt.Errorf("open stream %q", srcCfg.URL)
	}
	logger.Info("stream opened", "id", srcCfg.ID, "size", src.Size())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer src.Close()

		buf := make([]byte, 4096)
		for {
			select {
			case <-ctx.Done():
				logger.Info("shutting down", "pos", src.Pos())
				return nil
			default:
			}

			n := src.Read(buf)
			if n > 0 {
				if _, err := out.Write(buf[:n]); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
				continue
			}
			if !src.IsOpen() {
				logger.Info("stream ended", "pos", src.Pos())
				return nil
			}
		}
	})

	return g.Wait()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// statusLogger adapts stream status events to structured log records.
func statusLogger(logger *slog.Logger) domain.StatusFunc {
	return func(kind domain.StatusKind, message string) {
		switch kind {
		case domain.StatusRequestFailed, domain.StatusReconnectFailed,
			domain.StatusFramingError, domain.StatusUsageError:
			logger.Error(message, "status", kind.String())
		case domain.StatusDisconnected, domain.StatusNoData:
			logger.Warn(message, "status", kind.String())
		default:
			logger.Info(message, "status", kind.String())
		}
	}
}

func openOutput(path string) (*os.File, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() { f.Close() }, nil
}
