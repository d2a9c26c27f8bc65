// Package pipeline implements the multi-stage analysis each ingested
// asset is run through: metadata extraction, thumbnail generation and
// content-sensitivity classification, followed by finalisation.
//
// The pipeline owns the job record for the duration of processing. Each
// stage persists its results via the job store BEFORE the matching
// progress event is dispatched, so an observer can never see an event
// pointing at stale state.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mediavault/mediavault/internal/event"
	"github.com/mediavault/mediavault/internal/job"
	"github.com/mediavault/mediavault/pkg/logger"
)

var log = logger.Get("Pipeline")

// Progress checkpoints emitted as each stage completes.
const (
	checkpointEntry       = 0
	checkpointMetadata    = 25
	checkpointThumbnail   = 50
	checkpointSensitivity = 75
	checkpointFinalised   = 100
)

type (
	// JobStore is the subset of the job store the pipeline needs. All
	// mutations are field-scoped; the streaming path may be bumping the
	// view counter of the same job concurrently.
	JobStore interface {
		Get(id uuid.UUID) (*job.Job, error)
		SetStatus(id uuid.UUID, status job.Status, progress int) error
		SetProgress(id uuid.UUID, progress int) error
		SetDuration(id uuid.UUID, durationSecs int) error
		SetThumbnail(id uuid.UUID, thumbnailPath string) error
		SetSensitivity(id uuid.UUID, sensitivity job.Sensitivity) error
	}

	// MetadataProber inspects a media file and reports its duration.
	MetadataProber interface {
		ProbeDurationSecs(ctx context.Context, path string) (int, error)
	}

	// Thumbnailer extracts a single representative frame from the media.
	Thumbnailer interface {
		GenerateThumbnail(ctx context.Context, sourcePath string, outputPath string, atSeconds int) error
	}

	// Classifier produces a sensitivity verdict for a job's asset. Any
	// implementation must return a score within [0, 1] and be stable
	// across retries for the same asset.
	Classifier interface {
		Classify(ctx context.Context, target *job.Job) (job.Sensitivity, error)
	}

	Config struct {
		ThumbnailDirPath    string `yaml:"thumbnail_dir" env:"PIPELINE_THUMBNAIL_DIR" env-default:"./uploads/thumbnails"`
		StageTimeoutSeconds int    `yaml:"stage_timeout_seconds" env:"PIPELINE_STAGE_TIMEOUT_SECONDS" env-default:"600"`
	}

	Pipeline struct {
		config      Config
		store       JobStore
		eventBus    event.Dispatcher
		prober      MetadataProber
		thumbnailer Thumbnailer
		classifier  Classifier
	}
)

func New(
	config Config,
	store JobStore,
	eventBus event.Dispatcher,
	prober MetadataProber,
	thumbnailer Thumbnailer,
	classifier Classifier,
) *Pipeline {
	return &Pipeline{
		config:      config,
		store:       store,
		eventBus:    eventBus,
		prober:      prober,
		thumbnailer: thumbnailer,
		classifier:  classifier,
	}
}

// Process drives the job with the given ID through every analysis stage
// in fixed order. Metadata and thumbnail failures are recovered locally
// (the job proceeds with defaults); a sensitivity failure - or any store
// failure - aborts the run and is returned to the caller, which is
// expected to mark the job as failed.
func (pipeline *Pipeline) Process(ctx context.Context, jobID uuid.UUID) error {
	target, err := pipeline.store.Get(jobID)
	if err != nil {
		return fmt.Errorf("cannot process job %s: %w", jobID, err)
	}

	if target.Status.Terminal() {
		log.Emit(logger.WARNING, "Refusing to process job %s: status %s is terminal\n", jobID, target.Status)
		return nil
	}

	if err := pipeline.store.SetStatus(jobID, job.StatusProcessing, checkpointEntry); err != nil {
		return err
	}
	pipeline.publish(jobID, checkpointEntry, "Starting video analysis...")

	duration, err := pipeline.runMetadataStage(ctx, target)
	if err != nil {
		return err
	}
	pipeline.publish(jobID, checkpointMetadata, "Metadata extracted...")

	if err := pipeline.runThumbnailStage(ctx, target, duration); err != nil {
		return err
	}
	pipeline.publish(jobID, checkpointThumbnail, "Thumbnail generated...")

	if err := pipeline.runSensitivityStage(ctx, target); err != nil {
		return err
	}
	pipeline.publish(jobID, checkpointSensitivity, "Sensitivity analysis completed...")

	if err := pipeline.store.SetStatus(jobID, job.StatusCompleted, checkpointFinalised); err != nil {
		return err
	}
	pipeline.publish(jobID, checkpointFinalised, "Processing completed!")

	log.Emit(logger.SUCCESS, "Job %s processed successfully\n", jobID)
	return nil
}

// runMetadataStage extracts the duration of the asset. This stage is
// non-fatal: probing failures leave the job with a duration of zero. The
// returned error is only non-nil for persistence failures.
func (pipeline *Pipeline) runMetadataStage(ctx context.Context, target *job.Job) (int, error) {
	duration := 0
	err := pipeline.withStageTimeout(ctx, func(stageCtx context.Context) error {
		probed, err := pipeline.prober.ProbeDurationSecs(stageCtx, target.SourcePath)
		if err != nil {
			return err
		}

		duration = probed
		return nil
	})
	if err != nil {
		log.Emit(logger.WARNING, "Metadata extraction for job %s failed (continuing with defaults): %s\n", target.ID, err.Error())
	}

	if err := pipeline.store.SetDuration(target.ID, duration); err != nil {
		return 0, err
	}

	return duration, pipeline.store.SetProgress(target.ID, checkpointMetadata)
}

// runThumbnailStage extracts a representative frame at 10% of the asset's
// runtime. Non-fatal: on failure the job simply has no thumbnail.
func (pipeline *Pipeline) runThumbnailStage(ctx context.Context, target *job.Job, durationSecs int) error {
	thumbnailPath := pipeline.thumbnailPathFor(target)
	seekSecs := durationSecs / 10
	if seekSecs < 1 {
		seekSecs = 1
	}

	err := pipeline.withStageTimeout(ctx, func(stageCtx context.Context) error {
		return pipeline.thumbnailer.GenerateThumbnail(stageCtx, target.SourcePath, thumbnailPath, seekSecs)
	})
	if err != nil {
		log.Emit(logger.WARNING, "Thumbnail generation for job %s failed (continuing without thumbnail): %s\n", target.ID, err.Error())
	} else if err := pipeline.store.SetThumbnail(target.ID, thumbnailPath); err != nil {
		return err
	}

	return pipeline.store.SetProgress(target.ID, checkpointThumbnail)
}

// runSensitivityStage obtains a classification verdict for the asset. A
// verdict is a mandatory safety gate; failure here aborts the whole job.
func (pipeline *Pipeline) runSensitivityStage(ctx context.Context, target *job.Job) error {
	var verdict job.Sensitivity
	err := pipeline.withStageTimeout(ctx, func(stageCtx context.Context) error {
		classified, err := pipeline.classifier.Classify(stageCtx, target)
		if err != nil {
			return err
		}

		verdict = classified
		return nil
	})
	if err != nil {
		return fmt.Errorf("sensitivity classification of job %s failed: %w", target.ID, err)
	}

	if verdict.Score < 0 || verdict.Score > 1 {
		return fmt.Errorf("sensitivity classification of job %s produced out-of-range score %v", target.ID, verdict.Score)
	}

	if err := pipeline.store.SetSensitivity(target.ID, verdict); err != nil {
		return err
	}

	return pipeline.store.SetProgress(target.ID, checkpointSensitivity)
}

func (pipeline *Pipeline) withStageTimeout(ctx context.Context, stage func(context.Context) error) error {
	if pipeline.config.StageTimeoutSeconds <= 0 {
		return stage(ctx)
	}

	stageCtx, cancel := context.WithTimeout(ctx, time.Duration(pipeline.config.StageTimeoutSeconds)*time.Second)
	defer cancel()

	return stage(stageCtx)
}

func (pipeline *Pipeline) thumbnailPathFor(target *job.Job) string {
	baseName := strings.TrimSuffix(target.FileName, filepath.Ext(target.FileName))
	return filepath.Join(pipeline.config.ThumbnailDirPath, fmt.Sprintf("thumb-%s.jpg", baseName))
}

func (pipeline *Pipeline) publish(jobID uuid.UUID, progress int, message string) {
	pipeline.eventBus.Dispatch(event.ProgressEvent{
		JobID:     jobID,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now(),
	})
}
