package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/mediavault/mediavault/internal/event"
	"github.com/mediavault/mediavault/internal/job"
	"github.com/mediavault/mediavault/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStage = errors.New("test: stage failure")

// opLog records persistence and publish operations in the order they
// happen so tests can assert that state is persisted before the
// corresponding progress event is dispatched.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) record(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, fmt.Sprintf(format, args...))
}

func (l *opLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func (l *opLog) indexOf(op string) int {
	for i, v := range l.all() {
		if v == op {
			return i
		}
	}

	return -1
}

type fakeStore struct {
	mu   sync.Mutex
	log  *opLog
	jobs map[uuid.UUID]*job.Job
}

func newFakeStore(log *opLog, jobs ...*job.Job) *fakeStore {
	store := &fakeStore{log: log, jobs: make(map[uuid.UUID]*job.Job)}
	for _, j := range jobs {
		store.jobs[j.ID] = j
	}

	return store
}

func (s *fakeStore) Get(id uuid.UUID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		copied := *j
		return &copied, nil
	}

	return nil, job.ErrJobNotFound
}

func (s *fakeStore) SetStatus(id uuid.UUID, status job.Status, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && !j.Status.Terminal() {
		j.Status = status
		j.Progress = progress
	}

	s.log.record("persist:status:%s:%d", status, progress)
	return nil
}

func (s *fakeStore) SetProgress(id uuid.UUID, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status == job.StatusProcessing {
		j.Progress = progress
	}

	s.log.record("persist:progress:%d", progress)
	return nil
}

func (s *fakeStore) SetDuration(id uuid.UUID, durationSecs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.DurationSecs = durationSecs
	}

	s.log.record("persist:duration:%d", durationSecs)
	return nil
}

func (s *fakeStore) SetThumbnail(id uuid.UUID, thumbnailPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.ThumbnailRef = &thumbnailPath
	}

	s.log.record("persist:thumbnail")
	return nil
}

func (s *fakeStore) SetSensitivity(id uuid.UUID, sensitivity job.Sensitivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Sensitivity = sensitivity
	}

	s.log.record("persist:sensitivity:%s", sensitivity.Status)
	return nil
}

func (s *fakeStore) get(id uuid.UUID) job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

// fakeDispatcher captures dispatched events in the shared op log.
type fakeDispatcher struct {
	mu     sync.Mutex
	log    *opLog
	events []event.ProgressEvent
}

func (d *fakeDispatcher) Dispatch(ev event.ProgressEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	d.log.record("publish:%d", ev.Progress)
}

func (d *fakeDispatcher) progressValues() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	values := make([]int, len(d.events))
	for i, ev := range d.events {
		values[i] = ev.Progress
	}

	return values
}

type fakeProber struct {
	duration int
	err      error
}

func (p *fakeProber) ProbeDurationSecs(_ context.Context, _ string) (int, error) {
	return p.duration, p.err
}

type fakeThumbnailer struct {
	err   error
	calls []int
}

func (t *fakeThumbnailer) GenerateThumbnail(_ context.Context, _ string, _ string, atSeconds int) error {
	t.calls = append(t.calls, atSeconds)
	return t.err
}

type fakeClassifier struct {
	verdict job.Sensitivity
	err     error
}

func (c *fakeClassifier) Classify(_ context.Context, _ *job.Job) (job.Sensitivity, error) {
	return c.verdict, c.err
}

func pendingJob() *job.Job {
	return &job.Job{
		ID:         uuid.New(),
		Title:      "Test Video",
		FileName:   "test.mp4",
		SourcePath: "/srv/media/test.mp4",
		SizeBytes:  1000,
		MimeType:   "video/mp4",
		Status:     job.StatusPending,
		Sensitivity: job.Sensitivity{
			Status: job.SensitivityUnknown,
		},
	}
}

type pipelineHarness struct {
	ops         *opLog
	store       *fakeStore
	dispatcher  *fakeDispatcher
	prober      *fakeProber
	thumbnailer *fakeThumbnailer
	classifier  *fakeClassifier
	pipeline    *pipeline.Pipeline
}

func newHarness(t *testing.T, target *job.Job) *pipelineHarness {
	h := &pipelineHarness{
		ops:         &opLog{},
		prober:      &fakeProber{duration: 120},
		thumbnailer: &fakeThumbnailer{},
		classifier: &fakeClassifier{
			verdict: job.Sensitivity{Status: job.SensitivitySafe, Score: 0.12, Details: "ok"},
		},
	}
	h.store = newFakeStore(h.ops, target)
	h.dispatcher = &fakeDispatcher{log: h.ops}
	h.pipeline = pipeline.New(
		pipeline.Config{ThumbnailDirPath: t.TempDir(), StageTimeoutSeconds: 5},
		h.store, h.dispatcher, h.prober, h.thumbnailer, h.classifier,
	)

	return h
}

func Test_Process_HappyPath_RunsAllStagesInOrder(t *testing.T) {
	t.Parallel()
	target := pendingJob()
	h := newHarness(t, target)

	require.NoError(t, h.pipeline.Process(context.Background(), target.ID))

	processed := h.store.get(target.ID)
	assert.Equal(t, job.StatusCompleted, processed.Status)
	assert.Equal(t, 100, processed.Progress)
	assert.Equal(t, 120, processed.DurationSecs)
	require.NotNil(t, processed.ThumbnailRef)
	assert.Contains(t, *processed.ThumbnailRef, "thumb-test.jpg")
	assert.Equal(t, job.SensitivitySafe, processed.Sensitivity.Status)

	assert.Equal(t, []int{0, 25, 50, 75, 100}, h.dispatcher.progressValues())

	// Thumbnail is sought at 10% of the probed duration.
	assert.Equal(t, []int{12}, h.thumbnailer.calls)
}

func Test_Process_PersistsStateBeforePublishingEvents(t *testing.T) {
	t.Parallel()
	target := pendingJob()
	h := newHarness(t, target)

	require.NoError(t, h.pipeline.Process(context.Background(), target.ID))

	assertOrdered := func(persistOp string, publishOp string) {
		persistIdx := h.ops.indexOf(persistOp)
		publishIdx := h.ops.indexOf(publishOp)
		require.GreaterOrEqual(t, persistIdx, 0, "missing op %s", persistOp)
		require.GreaterOrEqual(t, publishIdx, 0, "missing op %s", publishOp)
		assert.Less(t, persistIdx, publishIdx, "%s must precede %s", persistOp, publishOp)
	}

	assertOrdered("persist:status:processing:0", "publish:0")
	assertOrdered("persist:progress:25", "publish:25")
	assertOrdered("persist:progress:50", "publish:50")
	assertOrdered("persist:progress:75", "publish:75")
	assertOrdered("persist:status:completed:100", "publish:100")
}

func Test_Process_MetadataFailure_ContinuesWithZeroDuration(t *testing.T) {
	t.Parallel()
	target := pendingJob()
	h := newHarness(t, target)
	h.prober.err = errStage

	require.NoError(t, h.pipeline.Process(context.Background(), target.ID))

	processed := h.store.get(target.ID)
	assert.Equal(t, job.StatusCompleted, processed.Status)
	assert.Equal(t, 0, processed.DurationSecs)
	assert.Equal(t, []int{0, 25, 50, 75, 100}, h.dispatcher.progressValues())
}

func Test_Process_ThumbnailFailure_ContinuesWithoutThumbnail(t *testing.T) {
	t.Parallel()
	target := pendingJob()
	h := newHarness(t, target)
	h.thumbnailer.err = errStage

	require.NoError(t, h.pipeline.Process(context.Background(), target.ID))

	processed := h.store.get(target.ID)
	assert.Equal(t, job.StatusCompleted, processed.Status)
	assert.Nil(t, processed.ThumbnailRef)
}

func Test_Process_ClassifierFailure_AbortsJob(t *testing.T) {
	t.Parallel()
	target := pendingJob()
	h := newHarness(t, target)
	h.classifier.err = errStage

	err := h.pipeline.Process(context.Background(), target.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errStage)

	// The pipeline surfaces the fatal error; marking the job as failed
	// is the queue's responsibility, so the job must not be completed.
	processed := h.store.get(target.ID)
	assert.NotEqual(t, job.StatusCompleted, processed.Status)
	assert.Equal(t, []int{0, 25, 50}, h.dispatcher.progressValues())
}

func Test_Process_OutOfRangeScore_AbortsJob(t *testing.T) {
	t.Parallel()
	target := pendingJob()
	h := newHarness(t, target)
	h.classifier.verdict = job.Sensitivity{Status: job.SensitivitySafe, Score: 1.5}

	require.Error(t, h.pipeline.Process(context.Background(), target.ID))
	assert.NotEqual(t, job.StatusCompleted, h.store.get(target.ID).Status)
}

func Test_Process_TerminalJob_IsANoOp(t *testing.T) {
	t.Parallel()
	target := pendingJob()
	target.Status = job.StatusCompleted
	target.Progress = 100
	h := newHarness(t, target)

	require.NoError(t, h.pipeline.Process(context.Background(), target.ID))

	assert.Empty(t, h.dispatcher.progressValues())
	assert.Equal(t, job.StatusCompleted, h.store.get(target.ID).Status)
}

func Test_Process_UnknownJob_ReturnsError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pendingJob())

	err := h.pipeline.Process(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func Test_Process_ProgressEventsAreMonotonic(t *testing.T) {
	t.Parallel()
	target := pendingJob()
	h := newHarness(t, target)
	h.prober.err = errStage
	h.thumbnailer.err = errStage

	require.NoError(t, h.pipeline.Process(context.Background(), target.ID))

	values := h.dispatcher.progressValues()
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1])
	}
}
