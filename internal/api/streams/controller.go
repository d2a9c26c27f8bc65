// Package streams serves job assets over HTTP with single byte-range
// support, allowing clients to seek within media without downloading the
// entire file.
package streams

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mediavault/mediavault/internal/job"
	"github.com/mediavault/mediavault/pkg/logger"
)

var (
	log = logger.Get("StreamAPI")

	errRangeUnsatisfiable = errors.New("requested range is not satisfiable")
)

type (
	Store interface {
		Get(id uuid.UUID) (*job.Job, error)
		IncrementViewCount(id uuid.UUID) error
	}

	Controller struct {
		store Store
	}

	// byteRange is an inclusive byte span within an asset.
	byteRange struct {
		start int64
		end   int64
	}
)

func New(store Store) *Controller {
	return &Controller{store: store}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/:id/stream/", controller.stream)
}

// stream serves the asset of the given job, honouring a single byte-range
// request if one is present. A malformed or multi-span Range header is
// not an error; the full asset is served instead. The view counter is
// incremented exactly once per response that carries asset bytes.
func (controller *Controller) stream(ec echo.Context) error {
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

	// The record can outlive its asset (external deletion, unmounted
	// storage). Distinguish that case from transient IO failure.
	file, err := os.Open(found.SourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return echo.NewHTTPError(http.StatusGone, "Asset for this job is no longer available")
		}

		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to open asset: %v", err))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to stat asset: %v", err))
	}
	size := info.Size()

	mimeType := found.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	span, err := parseRangeHeader(ec.Request().Header.Get("Range"), size)
	if err != nil {
		ec.Response().Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		return echo.NewHTTPError(http.StatusRequestedRangeNotSatisfiable, "Requested range is outside the asset")
	}

	if err := controller.store.IncrementViewCount(id); err != nil {
		log.Emit(logger.ERROR, "Failed to increment view count of job %s: %v\n", id, err)
	}

	resp := ec.Response()
	resp.Header().Set("Accept-Ranges", "bytes")
	resp.Header().Set(echo.HeaderContentType, mimeType)

	if span == nil {
		resp.Header().Set(echo.HeaderContentLength, strconv.FormatInt(size, 10))
		resp.WriteHeader(http.StatusOK)

		_, err := io.Copy(resp, file)
		return err
	}

	length := span.end - span.start + 1
	resp.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", span.start, span.end, size))
	resp.Header().Set(echo.HeaderContentLength, strconv.FormatInt(length, 10))
	resp.WriteHeader(http.StatusPartialContent)

	if _, err := file.Seek(span.start, io.SeekStart); err != nil {
		return err
	}

	_, err = io.CopyN(resp, file, length)
	return err
}

// parseRangeHeader interprets a Range header against an asset of the
// given size. A nil span with a nil error means "serve the full asset":
// this covers the header being absent, malformed, or containing multiple
// spans. An errRangeUnsatisfiable return means the header was
// syntactically valid but describes bytes the asset does not have.
func parseRangeHeader(header string, size int64) (*byteRange, error) {
	const prefix = "bytes="
	if header == "" || !strings.HasPrefix(header, prefix) {
		return nil, nil
	}

	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		// Multi-span requests fall back to the full asset.
		return nil, nil
	}

	rawStart, rawEnd, found := strings.Cut(spec, "-")
	if !found {
		return nil, nil
	}

	start, err := strconv.ParseInt(rawStart, 10, 64)
	if err != nil || start < 0 {
		return nil, nil
	}

	end := size - 1
	if rawEnd != "" {
		end, err = strconv.ParseInt(rawEnd, 10, 64)
		if err != nil || end < 0 {
			return nil, nil
		}
	}

	if end > size-1 {
		end = size - 1
	}
	if start >= size || start > end {
		return nil, errRangeUnsatisfiable
	}

	return &byteRange{start: start, end: end}, nil
}
