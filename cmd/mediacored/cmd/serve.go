package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mediacore/mediacore/internal/config"
	"github.com/mediacore/mediacore/internal/hls"
	"github.com/mediacore/mediacore/internal/hls/fetch"
	"github.com/mediacore/mediacore/internal/httpapi"
	"github.com/mediacore/mediacore/internal/media"
	"github.com/mediacore/mediacore/internal/metrics"
	"github.com/mediacore/mediacore/internal/mpegts/tscore"
	"github.com/mediacore/mediacore/internal/observability"
	"github.com/mediacore/mediacore/internal/version"
)

var (
	hlsURI string
	tsFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start mediacored's introspection server, optionally opening an HLS or TS source",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "introspection HTTP host")
	serveCmd.Flags().Int("port", 8088, "introspection HTTP port")
	serveCmd.Flags().StringVar(&hlsURI, "hls-uri", "", "HLS master playlist URI to open on startup (optional)")
	serveCmd.Flags().StringVar(&tsFile, "ts-file", "", "local MPEG-TS file to demux and index on startup (optional)")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	server := httpapi.NewServer(httpapi.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger, version.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if hlsURI != "" {
		if err := startHSO(ctx, server, cfg, logger, hlsURI); err != nil {
			return fmt.Errorf("opening HLS source %q: %w", hlsURI, err)
		}
	}
	if tsFile != "" {
		if err := startTSD(ctx, server, cfg, logger, tsFile); err != nil {
			return fmt.Errorf("opening TS source %q: %w", tsFile, err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	logger.Info("starting mediacored", "host", cfg.Server.Host, "port", cfg.Server.Port, "version", version.Version)
	return server.ListenAndServe(ctx)
}

// startHSO opens an HSO instance and drains its Source in the
// background, registering it with the introspection server so
// /streams reflects it until ctx is cancelled.
func startHSO(ctx context.Context, server *httpapi.Server, cfg *config.Config, logger *slog.Logger, uri string) error {
	httpClient := &http.Client{Timeout: cfg.HLS.FetchTimeout}
	h, err := hls.Open(ctx, httpClient, uri, hls.Config{
		FragmentsCache:         cfg.HLS.FragmentsCache,
		BitrateSwitchTolerance: cfg.HLS.BitrateSwitchTolerance,
		MaxSegmentBytes:        cfg.HLS.MaxSegmentBytes.Bytes(),
		Fetch: fetch.Config{
			MaxRetries:     cfg.HLS.FetchRetries,
			InitialBackoff: cfg.HLS.FetchBackoffBase,
		},
	})
	if err != nil {
		return err
	}

	server.Registry().Register(httpapi.StreamInfo{
		ID:       h.ID().String(),
		Kind:     "hls",
		URI:      uri,
		OpenedAt: time.Now(),
		Seekable: h.Seekable(),
	})

	go drainSource(ctx, h, logger, "hls", func(b media.Buffer) {
		variant := h.URI()
		metrics.ObserveSegmentEmitted(variant)
	})
	go func() {
		<-ctx.Done()
		h.Close(ctx.Err())
		server.Registry().Unregister(h.ID().String())
	}()
	return nil
}

// startTSD opens a pull-mode TsDemux over a local file and drains it
// in the background; a PCR index is built for the file when
// ts.build_index is set.
func startTSD(ctx context.Context, server *httpapi.Server, cfg *config.Config, logger *slog.Logger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	d, err := tscore.OpenPull(ctx, f, info.Size(), tscore.Config{
		ProgramNumber: cfg.TS.ProgramNumber,
		BuildIndex:    cfg.TS.BuildIndex,
	}, logger)
	if err != nil {
		f.Close()
		return err
	}

	server.Registry().Register(httpapi.StreamInfo{
		ID:       d.ID().String(),
		Kind:     "ts",
		URI:      path,
		OpenedAt: time.Now(),
		Seekable: d.Seekable(),
	})

	go drainSource(ctx, d, logger, "ts", func(media.Buffer) {})
	go func() {
		<-ctx.Done()
		d.Close(ctx.Err())
		server.Registry().Unregister(d.ID().String())
		f.Close()
	}()
	return nil
}

// drainSource pulls buffers from src until ctx is cancelled or the
// source reaches io.EOF, invoking onBuffer for each (metrics/log hook).
func drainSource(ctx context.Context, src media.Source, logger *slog.Logger, kind string, onBuffer func(media.Buffer)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		buf, err := src.Next(ctx)
		if err == io.EOF {
			logger.Info("source drained", "kind", kind)
			return
		}
		if err != nil {
			logger.Error("source error", "kind", kind, "error", err)
			return
		}
		onBuffer(buf)
	}
}
