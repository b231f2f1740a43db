package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/streamvault/streamvault/internal/capture"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/database"
	"github.com/streamvault/streamvault/internal/dispatcher"
	"github.com/streamvault/streamvault/internal/ffmpeg"
	internalhttp "github.com/streamvault/streamvault/internal/http"
	"github.com/streamvault/streamvault/internal/http/handlers"
	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/policy"
	"github.com/streamvault/streamvault/internal/postproc"
	"github.com/streamvault/streamvault/internal/reconcile"
	"github.com/streamvault/streamvault/internal/recorder"
	"github.com/streamvault/streamvault/internal/repository"
	"github.com/streamvault/streamvault/internal/service"
	"github.com/streamvault/streamvault/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streamvault server",
	Long: `Start the streamvault recording supervisor and HTTP API.

The server provides:
- Event intake for stream online/offline/update notifications
- Recording supervision with segment rotation
- A durable post-processing pipeline (merge, transmux, tagging, thumbnails)
- REST API for channels, recordings, and tasks
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Flags follow the same Changed() override pattern as the root command:
	// they only take effect when explicitly set.
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8484, "Port to listen on")
	serveCmd.Flags().String("database-dsn", "", "Database DSN (overrides config)")
	serveCmd.Flags().String("recordings-root", "", "Recordings directory (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	logger := slog.Default()

	for _, dir := range []string{cfg.Storage.RecordingsRoot, cfg.Storage.TempPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Repositories
	channelRepo := repository.NewChannelRepository(db.DB)
	streamRepo := repository.NewStreamRepository(db.DB)
	recordingRepo := repository.NewRecordingRepository(db.DB)
	metadataRepo := repository.NewStreamMetadataRepository(db.DB)
	eventRepo := repository.NewStreamEventRepository(db.DB)
	taskRepo := repository.NewTaskRepository(db.DB).
		WithRetryPolicy(cfg.PostProcessing.MaxAttempts, cfg.PostProcessing.RetryBase)

	// Recording side: capture runner, policy resolver, recorder service.
	resolver := policy.NewResolver(cfg.Recorder, cfg.Platform)
	captureRunner := capture.NewRunner(cfg.Capture, logger)
	recorderSvc := recorder.NewService(
		cfg.Recorder,
		cfg.Storage,
		captureRunner,
		resolver,
		channelRepo,
		streamRepo,
		recordingRepo,
		taskRepo,
		logger,
	)

	// Setup graceful shutdown before anything that takes a context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Settle zombie state from a previous run before accepting events.
	reconciler := reconcile.New(channelRepo, streamRepo, recordingRepo, taskRepo, recorderSvc, logger)
	if err := reconciler.Run(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	disp := dispatcher.New(recorderSvc, channelRepo, streamRepo, eventRepo, resolver, logger)

	// Post-processing pipeline
	binaries, err := ffmpeg.Locate(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	if err != nil {
		return fmt.Errorf("locating ffmpeg: %w", err)
	}
	logger.Info("ffmpeg located",
		slog.String("ffmpeg", binaries.FFmpeg),
		slog.String("ffprobe", binaries.FFprobe))

	tempDir := cfg.Storage.TempPath()
	minBytes := cfg.Recorder.MinSegmentBytes.Bytes()

	executor := postproc.NewExecutor(taskRepo).WithLogger(logger)
	executor.RegisterHandler(models.TaskKindMerge,
		postproc.NewMergeHandler(recordingRepo, binaries, tempDir, minBytes).WithLogger(logger))
	executor.RegisterHandler(models.TaskKindTransmux,
		postproc.NewTransmuxHandler(recordingRepo, metadataRepo, binaries, tempDir, minBytes).WithLogger(logger))
	executor.RegisterHandler(models.TaskKindMetadataEmbed,
		postproc.NewMetadataEmbedHandler(recordingRepo, streamRepo, channelRepo, binaries, tempDir).WithLogger(logger))
	executor.RegisterHandler(models.TaskKindThumbnail,
		postproc.NewThumbnailHandler(recordingRepo, metadataRepo, binaries, tempDir).WithLogger(logger))
	executor.RegisterHandler(models.TaskKindChaptersEmbed,
		postproc.NewChaptersEmbedHandler(recordingRepo, streamRepo, eventRepo, metadataRepo, binaries, tempDir).WithLogger(logger))
	executor.RegisterHandler(models.TaskKindCleanup,
		postproc.NewCleanupHandler(recordingRepo, streamRepo, channelRepo, resolver).WithLogger(logger))

	taskRunner := postproc.NewRunner(taskRepo, executor).
		WithLogger(logger).
		WithConfig(postproc.RunnerConfig{
			WorkerCount:  cfg.PostProcessing.WorkerCount,
			PollInterval: cfg.PostProcessing.PollInterval,
			WorkerID:     workerID(),
		})
	if err := taskRunner.Start(ctx); err != nil {
		return fmt.Errorf("starting task runner: %w", err)
	}

	// Scheduled database backups (SQLite only).
	var backupScheduler *service.BackupScheduler
	if db.Driver() == "sqlite" {
		backupSvc := service.NewBackupService(db.DB, db.Driver(), cfg.Backup, cfg.Storage.RecordingsRoot).
			WithLogger(logger)
		backupScheduler = service.NewBackupScheduler(backupSvc, cfg.Backup.Schedule).WithLogger(logger)
		if err := backupScheduler.Start(); err != nil {
			return fmt.Errorf("starting backup scheduler: %w", err)
		}
	} else {
		logger.Info("scheduled backups unavailable for driver", slog.String("driver", db.Driver()))
	}

	// HTTP server and handlers
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db.DB)
	healthHandler.Register(server.API())

	eventHandler := handlers.NewEventHandler(disp, channelRepo).WithLogger(logger)
	eventHandler.Register(server.API())

	channelHandler := handlers.NewChannelHandler(channelRepo, disp).WithLogger(logger)
	channelHandler.Register(server.API())

	recordingHandler := handlers.NewRecordingHandler(recordingRepo, recorderSvc).
		WithStats(recorderSvc).
		WithLogger(logger)
	recordingHandler.Register(server.API())

	taskHandler := handlers.NewTaskHandler(taskRepo, taskRunner).WithLogger(logger)
	taskHandler.Register(server.API())

	logger.Info("starting streamvault server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
	)

	serveErr := server.ListenAndServe(ctx)

	// Shutdown order: HTTP intake is already closed; stop scheduling new
	// work, drain the task runner, then terminate live captures.
	if backupScheduler != nil {
		backupScheduler.Stop()
	}
	taskRunner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Recorder.GraceShutdown)
	defer shutdownCancel()
	recorderSvc.Shutdown(shutdownCtx)

	return serveErr
}

// applyServeFlags overrides loaded config values with explicitly set flags.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database-dsn") {
		cfg.Database.DSN, _ = flags.GetString("database-dsn")
	}
	if flags.Changed("recordings-root") {
		cfg.Storage.RecordingsRoot, _ = flags.GetString("recordings-root")
	}
}

// workerID identifies this process in task locks.
func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "streamvault"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
