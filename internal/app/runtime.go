package service

import (
	"context"
	"fmt"

	"github.com/okian/facescan/internal/adapters/capture"
	"github.com/okian/facescan/internal/adapters/directory"
	"github.com/okian/facescan/internal/adapters/mq/publisher"
	"github.com/okian/facescan/internal/adapters/mq/queue"
	"github.com/okian/facescan/internal/adapters/mq/worker"
	"github.com/okian/facescan/internal/adapters/transport"
	"github.com/okian/facescan/internal/config"
	"github.com/okian/facescan/internal/domain/model"
	"github.com/okian/facescan/internal/domain/outcome"
	"github.com/okian/facescan/pkg/logger"
)

// Runtime is the controller together with the terminal event pipeline it feeds.
type Runtime struct {
	Controller *Controller

	events     *queue.InMemoryQueue
	publishers *worker.Pool
	logger     logger.Logger
}

// Assemble builds a Runtime from cfg. source overrides the directory camera when set.
func Assemble(cfg *config.Config, source capture.Source) (*Runtime, error) {
	log := logger.Get()

	mode, err := model.ParseTransportMode(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	if source == nil {
		source = capture.NewDirectorySource(cfg.CameraDir, capture.NewEncoder(cfg.MaxImageSize, cfg.JPEGQuality))
	}
	cases, err := directory.NewHTTP(cfg.DirectoryURL, cfg.DirectoryPath, cfg.DirectoryTimeout())
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	events := queue.NewInMemoryQueue(queue.WithCapacity(cfg.EventQueueSize))
	var pub worker.Publisher = publisher.NewLog(log.Named("publisher"))
	if cfg.WebhookURL != "" {
		pub = publisher.NewWebhook(cfg.WebhookURL, 0)
	}
	pool := worker.NewPool(cfg.PublisherWorkers, events, pub, worker.WithLogger(log.Named("publisher")))

	factory := transport.NewFactory(transport.Config{
		BaseURL:        cfg.MatchBaseURL,
		StreamPath:     cfg.StreamPath,
		RequestPath:    cfg.RequestPath,
		ConnectTimeout: cfg.ConnectTimeout(),
		RequestTimeout: cfg.RequestTimeout(),
		Logger:         log.Named("transport"),
	})
	outcomes := outcome.New(cases, events, outcome.WithLogger(log.Named("outcome")))

	ctrl := New(capture.NewCamera(source), factory, outcomes,
		WithLogger(log.Named("session")),
		WithDefaultMode(mode),
		WithFrameInterval(cfg.FrameInterval()),
		WithProgress(cfg.ProgressInterval(), 0),
		WithCaptureOnMatch(cfg.CaptureOnMatch),
	)
	return &Runtime{Controller: ctrl, events: events, publishers: pool, logger: log.Named("runtime")}, nil
}

// Start launches the publishers and then the controller.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.publishers.Start(ctx)
	return rt.Controller.Start(ctx)
}

// Stop cancels the active session and drains queued terminal events until ctx ends.
func (rt *Runtime) Stop(ctx context.Context) error {
	rt.Controller.Stop()
	if err := rt.publishers.Shutdown(ctx); err != nil {
		rt.logger.Warn(ctx, "terminal events left undelivered", logger.Int("pending", rt.events.Len(ctx)), logger.Error(err))
		return err
	}
	return nil
}

// GetStats returns controller statistics plus the event queue depth.
func (rt *Runtime) GetStats() map[string]interface{} {
	stats := rt.Controller.GetStats()
	stats["queueLength"] = rt.events.Len(context.Background())
	return stats
}
