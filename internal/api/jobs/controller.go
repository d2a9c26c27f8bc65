package jobs

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mediavault/mediavault/internal/job"
	"github.com/mediavault/mediavault/pkg/logger"
)

var log = logger.Get("JobsAPI")

type (
	Store interface {
		Create(*job.Job) error
		Get(id uuid.UUID) (*job.Job, error)
		List(filter job.Filter) ([]*job.Job, error)
		UpdateDetails(id uuid.UUID, title *string, description *string) error
		Delete(id uuid.UUID) error
	}

	// QueueService accepts newly registered jobs for background analysis.
	QueueService interface {
		Submit(jobID uuid.UUID)
	}

	createRequest struct {
		Title       string `json:"title" validate:"required,max=255"`
		Description string `json:"description" validate:"max=2048"`
		SourcePath  string `json:"source_path" validate:"required"`
	}

	updateRequest struct {
		Title       *string `json:"title" validate:"omitempty,min=1,max=255"`
		Description *string `json:"description" validate:"omitempty,max=2048"`
	}

	Controller struct {
		validate *validator.Validate
		queue    QueueService
		store    Store
	}
)

func New(validate *validator.Validate, queue QueueService, store Store) *Controller {
	return &Controller{validate: validate, queue: queue, store: store}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.create)
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.PATCH("/:id/", controller.update)
	eg.DELETE("/:id/", controller.delete)
}

// create registers an existing on-disk asset as a new job and submits it
// to the ingestion queue for analysis. The asset itself is not copied or
// moved; the job simply references the provided path.
func (controller *Controller) create(ec echo.Context) error {
	var request createRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Validation failed: %v", err))
	}

	info, err := os.Stat(request.SourcePath)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Source file is not accessible: %v", err))
	} else if info.IsDir() {
		return echo.NewHTTPError(http.StatusBadRequest, "Source path refers to a directory, not a file")
	}

	// Sniff the MIME type from content rather than trusting the file
	// extension. Detection failure is not fatal; the streaming path falls
	// back to octet-stream for unknown types anyway.
	mimeType := "application/octet-stream"
	if mtype, err := mimetype.DetectFile(request.SourcePath); err == nil {
		mimeType = mtype.String()
	} else {
		log.Emit(logger.WARNING, "Failed to detect MIME type of %s: %v\n", request.SourcePath, err)
	}

	newJob := &job.Job{
		ID:          uuid.New(),
		Title:       request.Title,
		Description: request.Description,
		FileName:    filepath.Base(request.SourcePath),
		SourcePath:  request.SourcePath,
		SizeBytes:   info.Size(),
		MimeType:    mimeType,
	}

	if err := controller.store.Create(newJob); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to create job: %v", err))
	}

	controller.queue.Submit(newJob.ID)

	created, err := controller.store.Get(newJob.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to fetch newly created job: %v", err))
	}

	return ec.JSON(http.StatusCreated, NewDto(created))
}

func (controller *Controller) list(ec echo.Context) error {
	filter, err := filterFromQuery(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	results, err := controller.store.List(filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to list jobs: %v", err))
	}

	return ec.JSON(http.StatusOK, NewDtos(results))
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Job ID is not a valid UUID")
	}

	found, err := controller.store.Get(id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Job not found")
		}

		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to fetch job: %v", err))
	}

	return ec.JSON(http.StatusOK, NewDto(found))
}

// update amends the user-editable details of a job (title/description).
// Processing state is owned by the pipeline and cannot be mutated here.
func (controller *Controller) update(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Job ID is not a valid UUID")
	}

	var request updateRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Validation failed: %v", err))
	}

	if err := controller.store.UpdateDetails(id, request.Title, request.Description); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Job not found")
		}

		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to update job: %v", err))
	}

	updated, err := controller.store.Get(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to fetch updated job: %v", err))
	}

	return ec.JSON(http.StatusOK, NewDto(updated))
}

// delete removes the job record along with its on-disk asset and
// thumbnail. File removal failures are logged but do not abort deletion
// of the record; a missing file is not an error at this point.
func (controller *Controller) delete(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Job ID is not a valid UUID")
	}

	found, err := controller.store.Get(id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Job not found")
		}

		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to fetch job: %v", err))
	}

	if err := os.Remove(found.SourcePath); err != nil && !os.IsNotExist(err) {
		log.Emit(logger.WARNING, "Failed to remove asset %s for job %s: %v\n", found.SourcePath, id, err)
	}
	if found.ThumbnailRef != nil {
		if err := os.Remove(*found.ThumbnailRef); err != nil && !os.IsNotExist(err) {
			log.Emit(logger.WARNING, "Failed to remove thumbnail %s for job %s: %v\n", *found.ThumbnailRef, id, err)
		}
	}

	if err := controller.store.Delete(id); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Job not found")
		}

		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to delete job: %v", err))
	}

	log.Emit(logger.REMOVE, "Deleted job %s and its assets\n", id)
	return ec.NoContent(http.StatusNoContent)
}

// filterFromQuery builds a listing filter from the request query params,
// rejecting values outside the known enums so that a typo'd filter does
// not silently return everything.
func filterFromQuery(ec echo.Context) (job.Filter, error) {
	filter := job.Filter{Search: ec.QueryParam("search")}

	switch status := job.Status(ec.QueryParam("status")); status {
	case "", job.StatusPending, job.StatusProcessing, job.StatusCompleted, job.StatusFailed:
		filter.Status = status
	default:
		return job.Filter{}, fmt.Errorf("unknown status filter '%s'", status)
	}

	switch sensitivity := job.SensitivityStatus(ec.QueryParam("sensitivity")); sensitivity {
	case "", job.SensitivityUnknown, job.SensitivitySafe, job.SensitivityFlagged:
		filter.Sensitivity = sensitivity
	default:
		return job.Filter{}, fmt.Errorf("unknown sensitivity filter '%s'", sensitivity)
	}

	return filter, nil
}
