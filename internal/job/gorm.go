package job

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Compile-time check that GormRepository implements Repository.
var _ Repository = (*GormRepository)(nil)

// GormRepository implements Repository on any gorm dialect (sqlite, postgres).
// Terminal transitions are conditional single-row updates; RowsAffected tells
// the caller whether it won.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new gorm-backed repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate creates or updates the jobs table.
func (r *GormRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Job{})
}

// Create inserts a new job.
func (r *GormRepository) Create(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// FindByID retrieves a job by its ID.
func (r *GormRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindByHandle retrieves a job by its provider handle.
func (r *GormRepository) FindByHandle(ctx context.Context, handle string) (*Job, error) {
	if handle == "" {
		return nil, ErrJobNotFound
	}
	var job Job
	err := r.db.WithContext(ctx).
		Where("provider_job_handle = ?", handle).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// SetHandle records the provider handle of an in-progress job.
func (r *GormRepository) SetHandle(ctx context.Context, id, handle string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusInProgress).
		Updates(map[string]any{
			"provider_job_handle": handle,
			"updated_at":          at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missOrTerminal(ctx, id)
	}
	return nil
}

// Transition moves the job to status under the first-writer-wins rule.
func (r *GormRepository) Transition(ctx context.Context, id string, to Status, u Update, at time.Time) (bool, error) {
	if err := checkTransition(to); err != nil {
		return false, err
	}

	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	if to.IsTerminal() {
		updates["video_url"] = u.VideoURL
		updates["image_url"] = u.ImageURL
		updates["thumbnail_url"] = u.ThumbnailURL
		updates["error_code"] = u.ErrorCode
		updates["error_message"] = u.ErrorMessage
		updates["completed_at"] = at
	}

	result := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusInProgress).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		if err := r.missOrTerminal(ctx, id); errors.Is(err, ErrJobNotFound) {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ReplaceOutputs swaps outputs if they still equal from.
func (r *GormRepository) ReplaceOutputs(ctx context.Context, id string, from, to Outputs, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusCompleted).
		Where("video_url = ? AND image_url = ? AND thumbnail_url = ?", from.VideoURL, from.ImageURL, from.ThumbnailURL).
		Updates(map[string]any{
			"video_url":     to.VideoURL,
			"image_url":     to.ImageURL,
			"thumbnail_url": to.ThumbnailURL,
			"updated_at":    at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// RecordPollFailure increments the poll failure counter.
func (r *GormRepository) RecordPollFailure(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Job{}).
			Where("id = ? AND status = ?", id, StatusInProgress).
			Update("poll_failures", gorm.Expr("poll_failures + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return r.missOrTerminalTx(tx, id)
		}
		return tx.Model(&Job{}).Where("id = ?", id).Pluck("poll_failures", &count).Error
	})
	return count, err
}

// ResetPollFailures clears the poll failure counter.
func (r *GormRepository) ResetPollFailures(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ?", id).
		Update("poll_failures", 0).Error
}

// ListPollable returns in-progress jobs with a handle, oldest first.
func (r *GormRepository) ListPollable(ctx context.Context, limit int) ([]*Job, error) {
	var jobs []*Job
	q := r.db.WithContext(ctx).
		Where("status = ?", StatusInProgress).
		Where("provider_job_handle IS NOT NULL AND provider_job_handle <> ''").
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

// ListStale returns in-progress jobs created before cutoff, oldest first.
func (r *GormRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	var jobs []*Job
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusInProgress).
		Where("created_at < ?", cutoff).
		Order("created_at ASC, id ASC").
		Find(&jobs).Error
	return jobs, err
}

// CountInProgress returns the number of in-progress jobs.
func (r *GormRepository) CountInProgress(ctx context.Context) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Job{}).
		Where("status = ?", StatusInProgress).
		Count(&n).Error
	return int(n), err
}

// List returns jobs matching the filter, newest first.
func (r *GormRepository) List(ctx context.Context, f Filter) ([]*Job, error) {
	var jobs []*Job
	q := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.RunID != "" {
		q = q.Where("run_id = ?", f.RunID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

// Delete removes a job from storage.
func (r *GormRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&Job{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *GormRepository) missOrTerminal(ctx context.Context, id string) error {
	return r.missOrTerminalTx(r.db.WithContext(ctx), id)
}

func (r *GormRepository) missOrTerminalTx(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrJobNotFound
	}
	return ErrAlreadyTerminal
}
