// Package internal wires together the services which make up the media
// vault server: the database-backed job store, the ingestion queue and
// its analysis pipeline, the progress event bus, and the REST gateway.
package internal

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/mediavault/mediavault/internal/api"
	"github.com/mediavault/mediavault/internal/database"
	"github.com/mediavault/mediavault/internal/event"
	"github.com/mediavault/mediavault/internal/ffmpeg"
	"github.com/mediavault/mediavault/internal/ingest"
	"github.com/mediavault/mediavault/internal/job"
	"github.com/mediavault/mediavault/internal/pipeline"
	"github.com/mediavault/mediavault/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	QueueService interface {
		RunnableService
		Submit(jobID uuid.UUID)
		QueuedCount() int
	}

	// MediaVault represents the top-level object for the server, and is
	// responsible for initialising the stores, services and event
	// handling, and for supervising their lifecycles.
	MediaVault struct {
		eventBus event.Coordinator
		config   MediaVaultConfig

		queueService QueueService
		restGateway  RunnableService
	}
)

func New(config MediaVaultConfig) *MediaVault {
	log.Emit(logger.DEBUG, "Bootstrapping services using config: %#v\n", config)

	return &MediaVault{
		eventBus: event.New(),
		config:   config,
	}
}

// Run brings up the database connection and all services. This function
// will not return until the server is stopped: either by cancelling the
// provided context, or by the crash of one of the spawned services.
func (vault *MediaVault) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	db := database.New()
	if err := db.Connect(vault.config.Database); err != nil {
		return err
	}

	if err := os.MkdirAll(vault.config.Pipeline.ThumbnailDirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	store := job.NewStore(db.GetSqlxDb())
	mediaTool := ffmpeg.New(vault.config.Ffmpeg)
	analysis := pipeline.New(
		vault.config.Pipeline,
		store,
		vault.eventBus,
		mediaTool,
		mediaTool,
		pipeline.NewContentClassifier(nil),
	)

	vault.queueService = ingest.New(analysis, store, vault.eventBus)
	vault.restGateway = api.NewRestGateway(&vault.config.Rest, vault.queueService, vault.eventBus, store)

	wg := &sync.WaitGroup{}
	vault.spawnAsyncService(ctx, wg, vault.queueService, "ingest-service", crashHandler)
	vault.spawnAsyncService(ctx, wg, vault.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as its own
// go-routine, ensuring that the service waitgroup is updated correctly.
func (vault *MediaVault) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
