package jobs_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mediavault/mediavault/internal/api/jobs"
	"github.com/mediavault/mediavault/internal/job"
	"github.com/mediavault/mediavault/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.FATAL.Level())
}

type fakeStore struct {
	jobs map[uuid.UUID]*job.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[uuid.UUID]*job.Job)}
}

func (s *fakeStore) Create(newJob *job.Job) error {
	stored := *newJob
	stored.Status = job.StatusPending
	stored.Sensitivity.Status = job.SensitivityUnknown
	s.jobs[newJob.ID] = &stored
	return nil
}

func (s *fakeStore) Get(id uuid.UUID) (*job.Job, error) {
	if found, ok := s.jobs[id]; ok {
		return found, nil
	}

	return nil, job.ErrJobNotFound
}

func (s *fakeStore) List(filter job.Filter) ([]*job.Job, error) {
	results := make([]*job.Job, 0)
	for _, v := range s.jobs {
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		results = append(results, v)
	}

	return results, nil
}

func (s *fakeStore) UpdateDetails(id uuid.UUID, title *string, description *string) error {
	found, ok := s.jobs[id]
	if !ok {
		return job.ErrJobNotFound
	}

	if title != nil {
		found.Title = *title
	}
	if description != nil {
		found.Description = *description
	}

	return nil
}

func (s *fakeStore) Delete(id uuid.UUID) error {
	if _, ok := s.jobs[id]; !ok {
		return job.ErrJobNotFound
	}

	delete(s.jobs, id)
	return nil
}

type fakeQueue struct {
	submitted []uuid.UUID
}

func (q *fakeQueue) Submit(jobID uuid.UUID) {
	q.submitted = append(q.submitted, jobID)
}

func newHarness() (*echo.Echo, *fakeStore, *fakeQueue) {
	store := newFakeStore()
	queue := &fakeQueue{}

	router := echo.New()
	jobs.New(validator.New(), queue, store).SetRoutes(router.Group("/jobs"))

	return router, store, queue
}

func performJSON(router *echo.Echo, method string, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func writeAsset(t *testing.T, size int) string {
	path := filepath.Join(t.TempDir(), "asset.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func Test_Create_RegistersJobAndSubmitsToQueue(t *testing.T) {
	router, store, queue := newHarness()
	assetPath := writeAsset(t, 2048)

	rec := performJSON(router, http.MethodPost, "/jobs/", map[string]string{
		"title":       "Launch Recording",
		"description": "Q3 launch event",
		"source_path": assetPath,
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var dto jobs.Dto
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "Launch Recording", dto.Title)
	assert.Equal(t, "asset.mp4", dto.FileName)
	assert.EqualValues(t, 2048, dto.SizeBytes)
	assert.Equal(t, job.StatusPending, dto.Status)
	assert.Equal(t, job.SensitivityUnknown, dto.Sensitivity.Status)

	require.Len(t, queue.submitted, 1)
	assert.Equal(t, dto.ID, queue.submitted[0])

	stored, err := store.Get(dto.ID)
	require.NoError(t, err)
	assert.Equal(t, assetPath, stored.SourcePath)
}

func Test_Create_RejectsMissingSourceFile(t *testing.T) {
	router, _, queue := newHarness()

	rec := performJSON(router, http.MethodPost, "/jobs/", map[string]string{
		"title":       "Ghost",
		"source_path": "/nonexistent/asset.mp4",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, queue.submitted)
}

func Test_Create_RejectsMissingTitle(t *testing.T) {
	router, _, queue := newHarness()
	assetPath := writeAsset(t, 16)

	rec := performJSON(router, http.MethodPost, "/jobs/", map[string]string{
		"source_path": assetPath,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, queue.submitted)
}

func Test_Get_UnknownJobReturns404(t *testing.T) {
	router, _, _ := newHarness()

	rec := performJSON(router, http.MethodGet, fmt.Sprintf("/jobs/%s/", uuid.NewString()), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = performJSON(router, http.MethodGet, "/jobs/not-a-uuid/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_List_RejectsUnknownStatusFilter(t *testing.T) {
	router, _, _ := newHarness()

	rec := performJSON(router, http.MethodGet, "/jobs/?status=exploded", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = performJSON(router, http.MethodGet, "/jobs/?status=pending", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func Test_Update_AmendsOnlyProvidedFields(t *testing.T) {
	router, store, _ := newHarness()
	assetPath := writeAsset(t, 16)

	created := performJSON(router, http.MethodPost, "/jobs/", map[string]string{
		"title":       "Original Title",
		"description": "Original description",
		"source_path": assetPath,
	})
	require.Equal(t, http.StatusCreated, created.Code)

	var dto jobs.Dto
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &dto))

	rec := performJSON(router, http.MethodPatch, fmt.Sprintf("/jobs/%s/", dto.ID), map[string]string{
		"title": "Amended Title",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := store.Get(dto.ID)
	require.NoError(t, err)
	assert.Equal(t, "Amended Title", stored.Title)
	assert.Equal(t, "Original description", stored.Description)
}

func Test_Delete_RemovesRecordAndAssets(t *testing.T) {
	router, store, _ := newHarness()
	assetPath := writeAsset(t, 16)

	thumbPath := filepath.Join(filepath.Dir(assetPath), "thumb-asset.jpg")
	require.NoError(t, os.WriteFile(thumbPath, []byte{0xff}, 0o644))

	created := performJSON(router, http.MethodPost, "/jobs/", map[string]string{
		"title":       "Doomed",
		"source_path": assetPath,
	})
	require.Equal(t, http.StatusCreated, created.Code)

	var dto jobs.Dto
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &dto))
	store.jobs[dto.ID].ThumbnailRef = &thumbPath

	rec := performJSON(router, http.MethodDelete, fmt.Sprintf("/jobs/%s/", dto.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := store.Get(dto.ID)
	assert.ErrorIs(t, err, job.ErrJobNotFound)
	assert.NoFileExists(t, assetPath)
	assert.NoFileExists(t, thumbPath)
}
