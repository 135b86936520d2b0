// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     cmd
// Description: serve command - wires config, logging, service and web UI
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/internal/history"
	"github.com/msto63/chatterbox-ui/internal/service"
	"github.com/msto63/chatterbox-ui/internal/web"
	"github.com/msto63/chatterbox-ui/pkg/core/config"
	coregrpc "github.com/msto63/chatterbox-ui/pkg/core/grpc"
	"github.com/msto63/chatterbox-ui/pkg/core/health"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
	"github.com/msto63/chatterbox-ui/pkg/core/version"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Startet die Weboberfläche",
	Long: `Startet die Weboberfläche für Sprachsynthese und Stimmverwaltung.

Die Oberfläche ist per Default unter http://127.0.0.1:8085 erreichbar.
Optional wird ein gRPC-Endpunkt für Health Checks gestartet ([grpc] port).

Beispiele:
  chatterbox serve
  chatterbox serve --config configs/chatterbox.toml
  CHATTERBOX_UI_ADDR=0.0.0.0:9000 chatterbox serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// setupLogging creates the process logger: every line goes to stdout at once
// and is queued for the log file, which a scheduler flushes periodically.
func setupLogging(cfg *config.Config) (*logging.Logger, func(), error) {
	qw, err := logging.OpenQueueWriter(logging.QueueWriterConfig{
		Path:     cfg.Logging.File,
		Capacity: cfg.Logging.QueueSize,
		Fallback: os.Stdout,
	})
	if err != nil {
		return nil, nil, err
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		ServiceName: cfg.General.Name,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      qw,
	})

	scheduler := logging.NewFlushScheduler(qw, cfg.Logging.FlushInterval.Duration, func(err error) {
		fmt.Fprintf(os.Stderr, "log flush failed: %v\n", err)
	})
	scheduler.Start()

	return logger, func() {
		scheduler.Stop()
		if n := qw.Dropped(); n > 0 {
			fmt.Fprintf(os.Stderr, "%d log lines were dropped\n", n)
		}
		qw.Close()
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError(os.Stderr, "Config ungültig", err)
		return err
	}

	logger, closeLog, err := setupLogging(cfg)
	if err != nil {
		printError(os.Stderr, "Log-Datei nicht verfügbar", err)
		return err
	}
	defer closeLog()

	policy, err := audio.ParseChannelPolicy(cfg.Audio.ChannelPolicy)
	if err != nil {
		return err
	}

	client, err := newVoiceClient(cfg, logger)
	if err != nil {
		logger.Error("Invalid inference server configuration", "error", err)
		return err
	}
	logger.Info("Inference server configured",
		"server_url", cfg.Chatterbox.ServerURL,
		"api_key_set", cfg.Chatterbox.APIKey != "",
	)

	registry := health.NewRegistry(cfg.General.Name, version.App)
	registry.Register(health.PingCheck("upstream", true, client.Ping))

	opts := []service.Option{service.WithVoiceCache(cfg.Chatterbox.VoiceCacheTTL.Duration)}
	if cfg.Storage.HistoryEnabled {
		store, err := history.NewSQLiteStore(history.Config{Path: cfg.Storage.HistoryPath})
		if err != nil {
			logger.Error("Failed to open history store", "path", cfg.Storage.HistoryPath, "error", err)
			return err
		}
		defer store.Close()
		opts = append(opts, service.WithHistory(store))
		registry.Register(health.PingCheck("history", false, store.Ping))
	}

	svc := service.NewService(client, service.Config{
		MaxConcurrent: cfg.Chatterbox.MaxConcurrent,
		AudioFormat:   cfg.Chatterbox.AudioFormat,
		TempDir:       cfg.Audio.TempDir,
		ChannelPolicy: policy,
		HistoryKeep:   cfg.Storage.HistoryKeep,
	}, logger.Named("service"), opts...)
	defer svc.Close()

	if n, err := svc.SweepTempFiles(cfg.Audio.TempMaxAge.Duration); err != nil {
		logger.Warn("Temp file sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("Removed stale temp files", "count", n)
	}

	decoders := audio.NewDecoderRegistry()
	ffmpeg := audio.NewFFmpegDecoder(cfg.Audio.FFmpegPath, 0, policy, logger.Named("ffmpeg"))
	if ffmpeg.Available() {
		decoders.SetFallback(ffmpeg)
	} else {
		logger.Info("ffmpeg not found, decoding recordings in process only",
			"path", cfg.Audio.FFmpegPath, "types", decoders.MediaTypes())
	}

	downloads := audio.NewDownloadStore(cfg.Server.DownloadTTL.Duration, logger.Named("downloads"))
	metrics := web.NewMetrics()
	sessions := web.NewSessionManager(web.SessionConfig{
		TTL:              cfg.Server.SessionTTL.Duration,
		OpenTimeout:      cfg.Audio.CaptureTimeout.Duration,
		DefaultVoiceMode: cfg.Chatterbox.DefaultVoiceMode,
		CaptureTypes:     decoders.MediaTypes(),
	}, downloads, metrics, logger.Named("sessions"))

	trim := audio.DefaultTrimConfig()
	trim.Mode = cfg.Audio.VADMode

	server, err := web.New(web.Config{
		Host:         cfg.Server.Host,
		HTTPPort:     cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		CORS:         cfg.Server.CORS.Enabled,
	}, &web.Deps{
		Service:   svc,
		Sessions:  sessions,
		Downloads: downloads,
		Decoders:  decoders,
		Health:    registry,
		Metrics:   metrics,
		Logger:    logger,
		Audio: web.AudioOptions{
			Policy:      policy,
			Trim:        cfg.Audio.TrimSilence,
			TrimConfig:  trim,
			StopTimeout: cfg.Audio.CaptureTimeout.Duration,
			MaxCapture:  cfg.Audio.MaxCapture.Duration,
		},
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		MaxUploadSize:  cfg.Server.MaxUploadSize,
		Version:        version.App,
	})
	if err != nil {
		return err
	}

	if err := server.StartAsync(); err != nil {
		logger.Error("Failed to start web server", "error", err)
		return err
	}

	var ops *coregrpc.Server
	if cfg.GRPC.Port != 0 {
		grpcCfg := coregrpc.DefaultServerConfig()
		grpcCfg.Host = cfg.GRPC.Host
		grpcCfg.Port = cfg.GRPC.Port
		ops = coregrpc.NewServer(grpcCfg, registry, logger.Named("grpc"))
		if err := ops.StartAsync(); err != nil {
			logger.Error("Failed to start gRPC ops server", "error", err)
			server.Stop(context.Background())
			return err
		}
	}

	fmt.Println("Chatterbox UI")
	fmt.Println("=============")
	fmt.Printf("Weboberfläche: http://%s\n", server.Address())
	fmt.Printf("Inferenzserver: %s\n", cfg.Chatterbox.ServerURL)
	if ops != nil {
		fmt.Printf("gRPC Health:   %s\n", ops.Address())
	}
	fmt.Println("Drücke Ctrl+C zum Beenden")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nStoppe Server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if ops != nil {
		ops.StopWithTimeout(ctx)
	}
	if err := server.Stop(ctx); err != nil {
		logger.Warn("Web server shutdown incomplete", "error", err)
	}
	logger.Info("Server stopped")
	return nil
}
