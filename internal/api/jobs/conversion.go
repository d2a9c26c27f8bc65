package jobs

import (
	"time"

	"github.com/google/uuid"
	"github.com/mediavault/mediavault/internal/job"
)

type (
	SensitivityDto struct {
		Status  job.SensitivityStatus `json:"status"`
		Score   float64               `json:"score"`
		Details string                `json:"details"`
	}

	// Dto is the external representation of a job. The on-disk source path
	// is deliberately absent; clients reach the asset through the stream
	// endpoint only.
	Dto struct {
		ID           uuid.UUID      `json:"id"`
		Title        string         `json:"title"`
		Description  string         `json:"description"`
		FileName     string         `json:"file_name"`
		SizeBytes    int64          `json:"size_bytes"`
		MimeType     string         `json:"mime_type"`
		Status       job.Status     `json:"status"`
		Progress     int            `json:"progress"`
		DurationSecs int            `json:"duration_secs"`
		HasThumbnail bool           `json:"has_thumbnail"`
		Sensitivity  SensitivityDto `json:"sensitivity"`
		ViewCount    int64          `json:"view_count"`
		CreatedAt    time.Time      `json:"created_at"`
		UpdatedAt    time.Time      `json:"updated_at"`
		ProcessedAt  *time.Time     `json:"processed_at"`
	}
)

func NewDto(model *job.Job) Dto {
	return Dto{
		ID:           model.ID,
		Title:        model.Title,
		Description:  model.Description,
		FileName:     model.FileName,
		SizeBytes:    model.SizeBytes,
		MimeType:     model.MimeType,
		Status:       model.Status,
		Progress:     model.Progress,
		DurationSecs: model.DurationSecs,
		HasThumbnail: model.ThumbnailRef != nil,
		Sensitivity: SensitivityDto{
			Status:  model.Sensitivity.Status,
			Score:   model.Sensitivity.Score,
			Details: model.Sensitivity.Details,
		},
		ViewCount:   model.ViewCount,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
		ProcessedAt: model.ProcessedAt,
	}
}

func NewDtos(models []*job.Job) []Dto {
	dtos := make([]Dto, len(models))
	for k, v := range models {
		dtos[k] = NewDto(v)
	}

	return dtos
}
