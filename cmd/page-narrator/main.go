// main package for the page-narrator service
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/page-narrator/internal/allocator"
	"github.com/book-expert/page-narrator/internal/analysis"
	"github.com/book-expert/page-narrator/internal/command"
	"github.com/book-expert/page-narrator/internal/compose"
	"github.com/book-expert/page-narrator/internal/config"
	"github.com/book-expert/page-narrator/internal/jobstore"
	"github.com/book-expert/page-narrator/internal/objectstore"
	"github.com/book-expert/page-narrator/internal/orchestrator"
	"github.com/book-expert/page-narrator/internal/raster"
	"github.com/book-expert/page-narrator/internal/speech"
	"github.com/book-expert/page-narrator/internal/worker"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

func setupLogger(logPath, name string) (*logger.Logger, error) {
	log, err := logger.New(logPath, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), "page-narrator-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		bootstrapLog.Warn("Failed to load .env: %v", envErr)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "page-narrator.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve wires the pipeline and answers requests until ctx ends.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	objects, err := objectstore.New(jetstreamContext, cfg.NATS.ObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	jobs, err := jobstore.Open(cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}

	defer func() {
		closeErr := jobs.Close()
		if closeErr != nil {
			log.Error("Failed to close job store: %v", closeErr)
		}
	}()

	orch, err := buildOrchestrator(ctx, cfg, jobs, objects, log)
	if err != nil {
		return err
	}

	natsWorker, err := worker.NewNatsWorker(natsConnection, worker.Subjects{
		Submit: cfg.NATS.SubmitSubject,
		Status: cfg.NATS.StatusSubject,
		List:   cfg.NATS.ListSubject,
	}, orch, log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	recovered, err := orch.Recover(groupCtx)
	if err != nil {
		return fmt.Errorf("failed to recover unfinished jobs: %w", err)
	}

	if recovered > 0 {
		log.Info("Recovered %d unfinished job(s) from %s", recovered, cfg.Paths.DatabasePath)
	}

	group.Go(func() error {
		return natsWorker.Run(groupCtx)
	})

	log.System("Page-narrator initialized. Listening for jobs on subject: %s", cfg.NATS.SubmitSubject)

	runErr := group.Wait()

	orch.Wait()
	log.System("Page-narrator stopped.")

	return runErr
}

func buildOrchestrator(
	ctx context.Context,
	cfg *config.Config,
	jobs *jobstore.SQLiteStore,
	objects objectstore.Store,
	log *logger.Logger,
) (*orchestrator.Orchestrator, error) {
	for _, binary := range []string{binaryOr(cfg.Raster.Binary, "pdftoppm"), binaryOr(cfg.Compose.FFmpegBinary, "ffmpeg")} {
		availableErr := command.Available(binary)
		if availableErr != nil {
			return nil, availableErr
		}
	}

	apiKey, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}

	gemini, err := analysis.NewGemini(ctx, apiKey, cfg.Analysis.Model, float32(cfg.Analysis.Temperature))
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis client: %w", err)
	}

	analyzer, err := analysis.NewModelAnalyzer(gemini, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	engine, err := speech.NewEngine(speech.NewHTTPClient(cfg.Speech.ServiceURL, cfg.SpeechTimeout()), speech.Settings{
		Voices:            cfg.Speech.Voices,
		Language:          cfg.Speech.Language,
		RequestsPerSecond: cfg.Speech.RequestsPerSecond,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech engine: %w", err)
	}

	policy, err := allocator.ParsePolicy(cfg.Allocator.Policy)
	if err != nil {
		return nil, err
	}

	alloc, err := allocator.New(policy, cfg.MinPage())
	if err != nil {
		return nil, fmt.Errorf("failed to create allocator: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Jobs:       jobs,
		Objects:    objects,
		Rasterizer: raster.NewPdftoppm(cfg.Raster.Binary, cfg.Raster.DPI, nil, log),
		Analyzer:   analyzer,
		Speech:     engine,
		Composer: compose.NewFFmpeg(compose.Settings{
			Binary:       cfg.Compose.FFmpegBinary,
			Width:        cfg.Compose.Width,
			Height:       cfg.Compose.Height,
			FPS:          cfg.Compose.FPS,
			AudioBitrate: cfg.Compose.AudioBitrate,
		}, nil, log),
		Allocator: alloc,
		Format:    cfg.Timeline,
	}, orchestrator.Settings{
		WorkspaceDir:      cfg.Paths.WorkspaceDir,
		KeepWorkspace:     cfg.Orchestrator.KeepWorkspace,
		MaxConcurrentJobs: cfg.Orchestrator.MaxConcurrentJobs,
		PollInterval:      cfg.PollInterval(),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return orch, nil
}

func binaryOr(configured, fallback string) string {
	if configured == "" {
		return fallback
	}

	return configured
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
