package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/costalloc/internal/domain/allocation"
	"github.com/erp/costalloc/internal/domain/shared"
	"github.com/erp/costalloc/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormJobStatusRepository stores job watermarks in etl_job_status
type GormJobStatusRepository struct {
	db *gorm.DB
}

// NewGormJobStatusRepository creates a new job status repository
func NewGormJobStatusRepository(db *gorm.DB) *GormJobStatusRepository {
	return &GormJobStatusRepository{db: db}
}

// LastSuccess returns the last success time of the job, or nil if it never succeeded
func (r *GormJobStatusRepository) LastSuccess(ctx context.Context, jobName string) (*time.Time, error) {
	status, err := r.FindByName(ctx, jobName)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	ts := status.LastSuccessAt
	return &ts, nil
}

// MarkSuccess upserts the last success time of the job
func (r *GormJobStatusRepository) MarkSuccess(ctx context.Context, jobName string, at time.Time) error {
	m := models.JobStatusModel{
		JobName:       jobName,
		LastSuccessAt: at.UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_success_at", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to mark job %s successful: %w", jobName, err)
	}
	return nil
}

// FindByName returns the job status or shared.ErrNotFound
func (r *GormJobStatusRepository) FindByName(ctx context.Context, jobName string) (*allocation.JobStatus, error) {
	var m models.JobStatusModel
	if err := r.db.WithContext(ctx).Where("job_name = ?", jobName).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read job %s: %w", jobName, err)
	}
	return m.ToDomain(), nil
}

var _ allocation.JobStatusRepository = (*GormJobStatusRepository)(nil)
