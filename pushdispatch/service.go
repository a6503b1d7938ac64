package pushdispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/westerly/go-push-dispatch/internal/api"
	"github.com/westerly/go-push-dispatch/internal/core"
	"github.com/westerly/go-push-dispatch/internal/pipeline"
	"github.com/westerly/go-push-dispatch/pkg/dispatch"
	"github.com/westerly/go-push-dispatch/pushdispatch/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.SendRequest]
	logger          *slog.Logger
}

// New assembles the service: the dispatch core, the Pub/Sub pipeline that
// feeds it, and the HTTP surface for registration and synchronous sends.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	apnsClient dispatch.APNSClient,
	gcmClient dispatch.GCMClient,
	registry dispatch.DeviceRegistry,
	notificationLog dispatch.NotificationLog,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Dispatch core
	dispatcher := core.NewDispatcher(registry, notificationLog, apnsClient, gcmClient, logger)

	// 3. Pipeline
	processor := pipeline.NewProcessor(dispatcher, registry, logger)
	streamingService, err := messagepipeline.NewStreamingService[pipeline.SendRequest](
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.SendRequestTransformer,
		processor,
		slog.New(slog.DiscardHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	dispatchAPI := api.NewDispatchAPI(registry, dispatcher, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("PUT /api/v1/devices", dispatchAPI.RegisterDevice)
	handle("DELETE /api/v1/devices", dispatchAPI.UnregisterDevice)
	handle("POST /api/v1/send", dispatchAPI.SendMessage)
	handle("GET /api/v1/tokens/expired", dispatchAPI.ExpiredTokens)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
