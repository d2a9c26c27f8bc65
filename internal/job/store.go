package job

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/mediavault/mediavault/internal/database"
	"github.com/mediavault/mediavault/pkg/logger"
)

var (
	ErrJobNotFound = errors.New("job does not exist")

	log = logger.Get("JobStore")
)

type (
	// Filter narrows the result of a List call. Zero values leave the
	// corresponding dimension unconstrained.
	Filter struct {
		Status      Status
		Sensitivity SensitivityStatus
		Search      string
	}

	Store struct {
		db database.Queryable
	}
)

func NewStore(db database.Queryable) *Store {
	return &Store{db: db}
}

func (store *Store) Create(job *Job) error {
	_, err := store.db.Exec(`
		INSERT INTO jobs(id, title, description, file_name, source_path, size_bytes, mime_type,
			status, progress, sensitivity_status, sensitivity_score, sensitivity_details,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, 0, '', current_timestamp, current_timestamp)
	`, job.ID, job.Title, job.Description, job.FileName, job.SourcePath,
		job.SizeBytes, job.MimeType, StatusPending, SensitivityUnknown)
	if err != nil {
		return fmt.Errorf("failed to insert new job: %w", err)
	}

	return nil
}

func (store *Store) Get(id uuid.UUID) (*Job, error) {
	var result Job
	if err := store.db.Get(&result, `SELECT * FROM jobs WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}

		return nil, fmt.Errorf("failed to fetch job %s: %w", id, err)
	}

	return &result, nil
}

// List returns all jobs matching the provided filter, newest first.
func (store *Store) List(filter Filter) ([]*Job, error) {
	builder := squirrel.
		Select("*").
		From("jobs").
		OrderBy("created_at DESC").
		PlaceholderFormat(squirrel.Dollar)

	if filter.Status != "" {
		builder = builder.Where(squirrel.Eq{"status": filter.Status})
	}
	if filter.Sensitivity != "" {
		builder = builder.Where(squirrel.Eq{"sensitivity_status": filter.Sensitivity})
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		builder = builder.Where(squirrel.Or{
			squirrel.ILike{"title": pattern},
			squirrel.ILike{"description": pattern},
		})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct job listing query: %w", err)
	}

	results := make([]*Job, 0)
	if err := store.db.Select(&results, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return results, nil
}

// SetStatus transitions the job to the given status/progress pair. Jobs
// already in a terminal status are never updated (terminal stability is
// enforced here, by construction). Completion additionally stamps
// processed_at.
func (store *Store) SetStatus(id uuid.UUID, status Status, progress int) error {
	processedAt := "processed_at"
	if status == StatusCompleted {
		processedAt = "current_timestamp"
	}

	result, err := store.db.Exec(fmt.Sprintf(`
		UPDATE jobs
		SET status=$2, progress=$3, processed_at=%s, updated_at=current_timestamp
		WHERE id=$1 AND status NOT IN ('completed', 'failed')
	`, processedAt), id, status, progress)
	if err != nil {
		return fmt.Errorf("failed to update status of job %s: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		log.Emit(logger.WARNING, "Status update for job %s to %s ignored (job missing or already terminal)\n", id, status)
	}

	return nil
}

// SetProgress advances the progress of a still-processing job without
// touching its status.
func (store *Store) SetProgress(id uuid.UUID, progress int) error {
	if _, err := store.db.Exec(`
		UPDATE jobs SET progress=$2, updated_at=current_timestamp
		WHERE id=$1 AND status='processing'
	`, id, progress); err != nil {
		return fmt.Errorf("failed to update progress of job %s: %w", id, err)
	}

	return nil
}

func (store *Store) SetDuration(id uuid.UUID, durationSecs int) error {
	if _, err := store.db.Exec(`
		UPDATE jobs SET duration_secs=$2, updated_at=current_timestamp WHERE id=$1
	`, id, durationSecs); err != nil {
		return fmt.Errorf("failed to update duration of job %s: %w", id, err)
	}

	return nil
}

func (store *Store) SetThumbnail(id uuid.UUID, thumbnailPath string) error {
	if _, err := store.db.Exec(`
		UPDATE jobs SET thumbnail_path=$2, updated_at=current_timestamp WHERE id=$1
	`, id, thumbnailPath); err != nil {
		return fmt.Errorf("failed to update thumbnail of job %s: %w", id, err)
	}

	return nil
}

func (store *Store) SetSensitivity(id uuid.UUID, sensitivity Sensitivity) error {
	if _, err := store.db.Exec(`
		UPDATE jobs
		SET sensitivity_status=$2, sensitivity_score=$3, sensitivity_details=$4, updated_at=current_timestamp
		WHERE id=$1
	`, id, sensitivity.Status, sensitivity.Score, sensitivity.Details); err != nil {
		return fmt.Errorf("failed to update sensitivity of job %s: %w", id, err)
	}

	return nil
}

// UpdateDetails amends the user-editable fields of a job. Nil pointers
// leave the existing value untouched.
func (store *Store) UpdateDetails(id uuid.UUID, title *string, description *string) error {
	result, err := store.db.Exec(`
		UPDATE jobs
		SET title=COALESCE($2, title), description=COALESCE($3, description), updated_at=current_timestamp
		WHERE id=$1
	`, id, title, description)
	if err != nil {
		return fmt.Errorf("failed to update details of job %s: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrJobNotFound
	}

	return nil
}

// IncrementViewCount bumps the view counter of the job by exactly one.
// The increment happens inside a single UPDATE statement, so arbitrarily
// many concurrent streaming requests cannot lose updates.
func (store *Store) IncrementViewCount(id uuid.UUID) error {
	result, err := store.db.Exec(`
		UPDATE jobs SET view_count=view_count+1 WHERE id=$1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to increment view count of job %s: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrJobNotFound
	}

	return nil
}

func (store *Store) Delete(id uuid.UUID) error {
	result, err := store.db.Exec(`DELETE FROM jobs WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrJobNotFound
	}

	return nil
}
