package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/edassess/naplan-api/internal/models"
)

// ScoredSubmissionRepository defines data operations for scored submissions.
type ScoredSubmissionRepository interface {
	GetByResponseID(ctx context.Context, responseID string) (models.ScoredSubmission, error)
	UpsertByResponseID(ctx context.Context, submission *models.ScoredSubmission) error
	Update(ctx context.Context, submission *models.ScoredSubmission) error
	DeleteByResponseID(ctx context.Context, responseID string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]models.ScoredSubmission, error)
	UpdateSubjectIdentity(ctx context.Context, subjectID string, identity models.SubjectIdentity) error
	ClearSubjectIdentity(ctx context.Context, subjectID string) error
}

type scoredSubmissionRepository struct {
	db *gorm.DB
}

// NewScoredSubmissionRepository instantiates the repository.
func NewScoredSubmissionRepository(db *gorm.DB) ScoredSubmissionRepository {
	return &scoredSubmissionRepository{db: db}
}

func (r *scoredSubmissionRepository) GetByResponseID(ctx context.Context, responseID string) (models.ScoredSubmission, error) {
	var submission models.ScoredSubmission
	if err := r.db.WithContext(ctx).Where("response_id = ?", responseID).First(&submission).Error; err != nil {
		return models.ScoredSubmission{}, err
	}
	return submission, nil
}

// UpsertByResponseID creates the record or overwrites the existing row that
// shares the response id, preserving its primary key and creation time. This is
// what makes redeliveries outside the dedup window harmless.
func (r *scoredSubmissionRepository) UpsertByResponseID(ctx context.Context, submission *models.ScoredSubmission) error {
	var existing models.ScoredSubmission
	err := r.db.WithContext(ctx).Where("response_id = ?", submission.ResponseID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return r.db.WithContext(ctx).Create(submission).Error
	case err != nil:
		return err
	default:
		submission.ID = existing.ID
		submission.CreatedAt = existing.CreatedAt
		return r.db.WithContext(ctx).Save(submission).Error
	}
}

func (r *scoredSubmissionRepository) Update(ctx context.Context, submission *models.ScoredSubmission) error {
	return r.db.WithContext(ctx).Save(submission).Error
}

func (r *scoredSubmissionRepository) DeleteByResponseID(ctx context.Context, responseID string) (bool, error) {
	result := r.db.WithContext(ctx).Where("response_id = ?", responseID).Delete(&models.ScoredSubmission{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *scoredSubmissionRepository) List(ctx context.Context, limit, offset int) ([]models.ScoredSubmission, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var submissions []models.ScoredSubmission
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *scoredSubmissionRepository) UpdateSubjectIdentity(ctx context.Context, subjectID string, identity models.SubjectIdentity) error {
	return r.db.WithContext(ctx).
		Model(&models.ScoredSubmission{}).
		Where("subject_id = ?", subjectID).
		Updates(map[string]interface{}{
			"subject_username": identity.Username,
			"subject_name":     identity.Name,
			"subject_email":    identity.Email,
		}).Error
}

func (r *scoredSubmissionRepository) ClearSubjectIdentity(ctx context.Context, subjectID string) error {
	return r.db.WithContext(ctx).
		Model(&models.ScoredSubmission{}).
		Where("subject_id = ?", subjectID).
		Updates(map[string]interface{}{
			"subject_id":       "",
			"subject_username": "",
			"subject_name":     "",
			"subject_email":    "",
		}).Error
}
