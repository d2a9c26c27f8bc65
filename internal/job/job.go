// Package job defines the persisted record tracking one media asset's
// processing lifecycle, along with the store used to mutate it.
package job

import (
	"time"

	"github.com/google/uuid"
)

type (
	// Status is the processing state of a job. Transitions are monotonic
	// (pending -> processing -> completed) with the exception of failure,
	// which may occur from processing and is terminal.
	Status string

	// SensitivityStatus is the verdict of the content-sensitivity
	// classification stage.
	SensitivityStatus string

	// Sensitivity is the classification verdict stored against a job.
	// Score is always within [0, 1].
	Sensitivity struct {
		Status  SensitivityStatus `db:"sensitivity_status" json:"status"`
		Score   float64           `db:"sensitivity_score" json:"score"`
		Details string            `db:"sensitivity_details" json:"details"`
	}

	// Job is one per ingested asset. The analysis pipeline exclusively
	// owns the processing fields for the duration of processing; the
	// streaming path only ever touches ViewCount (via the store's atomic
	// increment). All writes are field-scoped so concurrent mutation of
	// unrelated fields cannot corrupt one another.
	Job struct {
		ID          uuid.UUID `db:"id" json:"id"`
		Title       string    `db:"title" json:"title"`
		Description string    `db:"description" json:"description"`

		FileName   string `db:"file_name" json:"file_name"`
		SourcePath string `db:"source_path" json:"-"`
		SizeBytes  int64  `db:"size_bytes" json:"size_bytes"`
		MimeType   string `db:"mime_type" json:"mime_type"`

		Status       Status  `db:"status" json:"status"`
		Progress     int     `db:"progress" json:"progress"`
		DurationSecs int     `db:"duration_secs" json:"duration_secs"`
		ThumbnailRef *string `db:"thumbnail_path" json:"thumbnail_ref"`
		Sensitivity

		ViewCount int64 `db:"view_count" json:"view_count"`

		CreatedAt   time.Time  `db:"created_at" json:"created_at"`
		UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
		ProcessedAt *time.Time `db:"processed_at" json:"processed_at"`
	}
)

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	SensitivityUnknown SensitivityStatus = "unknown"
	SensitivitySafe    SensitivityStatus = "safe"
	SensitivityFlagged SensitivityStatus = "flagged"
)

// Terminal reports whether the status is an end state from which the job
// will never transition again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
