package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/HimanshuParihar99/Inboxly/internal/config"
	"github.com/HimanshuParihar99/Inboxly/internal/imap"
	"github.com/HimanshuParihar99/Inboxly/internal/mailsync"
	"github.com/HimanshuParihar99/Inboxly/internal/pool"
	"github.com/HimanshuParihar99/Inboxly/internal/security"
	"github.com/HimanshuParihar99/Inboxly/internal/store"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
	configPath  = flag.String("config", "", "Path to YAML config file")
	sourceName  = flag.String("source", "", "Name of the source connection to sync from")
	destName    = flag.String("dest", "", "Name of the destination connection to sync to")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("inboxlyd version %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting inboxlyd")

	// Initialize store
	db, err := store.Open(cfg.StorePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize store")
	}
	defer db.Close()
	st := store.NewStore(db, logger)

	for i := range cfg.Connections {
		if _, err := st.UpsertConnection(&cfg.Connections[i]); err != nil {
			logger.WithError(err).WithField("connection", cfg.Connections[i].Name).Warn("Failed to store connection")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize connection pool with its background sweeps
	connPool := pool.New(func(c *config.ConnectionConfig) (imap.Session, error) {
		return imap.Dial(c, logger)
	}, logger, pool.Options{
		Capacity:          cfg.Pool.Capacity,
		RetryMaxAttempts:  cfg.Pool.RetryMaxAttempts,
		RetryBase:         cfg.Pool.RetryBase(),
		RetryFactor:       cfg.Pool.RetryFactor,
		HealthInterval:    cfg.Pool.HealthInterval(),
		IdleSweepInterval: cfg.Pool.IdleSweepInterval(),
		IdleTimeout:       cfg.Pool.IdleTimeout(),
	})
	connPool.Start(ctx)
	defer connPool.CloseAll() //nolint:errcheck

	// Initialize classifier and orchestrator
	classifier := security.NewClassifier(logger, cfg.Security.ProbeTimeout())
	syncer := mailsync.NewSynchronizer(logger)
	orchestrator := mailsync.NewOrchestrator(connPool, syncer, logger, mailsync.Options{
		PausePoll:  cfg.Sync.PausePoll(),
		Classifier: classifier,
		Recorder:   st,
	})
	defer orchestrator.Shutdown()

	// Log progress events
	events, unsubscribe := orchestrator.Events().Subscribe(64)
	defer unsubscribe()
	go func() {
		for event := range events {
			logger.WithFields(logrus.Fields{
				"event":   string(event.Type),
				"task":    event.TaskID,
				"folder":  event.Folder,
				"percent": event.Percent,
				"error":   event.Error,
			}).Info("Sync progress")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	if *sourceName != "" && *destName != "" {
		taskID, err := startSync(ctx, cfg, connPool, orchestrator, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to start sync")
		}
		go waitForTask(orchestrator, taskID, done)
	}

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
	case <-done:
		logger.Info("Sync finished")
	}

	logger.Info("Shutting down inboxlyd")
}

// startSync acquires the two named connections and launches a sync task.
func startSync(ctx context.Context, cfg *config.Config, connPool *pool.Pool, orchestrator *mailsync.Orchestrator, logger *logrus.Logger) (string, error) {
	srcCfg, err := cfg.GetConnectionByName(*sourceName)
	if err != nil {
		return "", err
	}
	dstCfg, err := cfg.GetConnectionByName(*destName)
	if err != nil {
		return "", err
	}

	srcKey, err := connPool.Acquire(ctx, srcCfg)
	if err != nil {
		return "", fmt.Errorf("failed to acquire source connection: %w", err)
	}
	dstKey, err := connPool.Acquire(ctx, dstCfg)
	if err != nil {
		return "", fmt.Errorf("failed to acquire destination connection: %w", err)
	}

	taskID := orchestrator.Start(srcKey, dstKey)
	logger.WithField("task", taskID).Info("Sync task started")
	return taskID, nil
}

// waitForTask closes done once the task reaches a terminal state.
func waitForTask(orchestrator *mailsync.Orchestrator, taskID string, done chan struct{}) {
	events, unsubscribe := orchestrator.Events().Subscribe(64)
	defer unsubscribe()

	for event := range events {
		if event.TaskID != taskID {
			continue
		}
		if event.Type == mailsync.EventTaskComplete || event.Type == mailsync.EventTaskError {
			close(done)
			return
		}
	}
}
