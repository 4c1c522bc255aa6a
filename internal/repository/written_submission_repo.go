package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/edassess/naplan-api/internal/models"
)

// WrittenSubmissionRepository defines data operations for written submissions.
type WrittenSubmissionRepository interface {
	GetByResponseID(ctx context.Context, responseID string) (models.WrittenSubmission, error)
	UpsertByResponseID(ctx context.Context, submission *models.WrittenSubmission) error
	Update(ctx context.Context, submission *models.WrittenSubmission) error
	DeleteByResponseID(ctx context.Context, responseID string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]models.WrittenSubmission, error)
	UpdateSubjectIdentity(ctx context.Context, subjectID string, identity models.SubjectIdentity) error
	ClearSubjectIdentity(ctx context.Context, subjectID string) error
}

type writtenSubmissionRepository struct {
	db *gorm.DB
}

// NewWrittenSubmissionRepository instantiates the repository.
func NewWrittenSubmissionRepository(db *gorm.DB) WrittenSubmissionRepository {
	return &writtenSubmissionRepository{db: db}
}

func (r *writtenSubmissionRepository) GetByResponseID(ctx context.Context, responseID string) (models.WrittenSubmission, error) {
	var submission models.WrittenSubmission
	if err := r.db.WithContext(ctx).Where("response_id = ?", responseID).First(&submission).Error; err != nil {
		return models.WrittenSubmission{}, err
	}
	return submission, nil
}

func (r *writtenSubmissionRepository) UpsertByResponseID(ctx context.Context, submission *models.WrittenSubmission) error {
	var existing models.WrittenSubmission
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

func (r *writtenSubmissionRepository) Update(ctx context.Context, submission *models.WrittenSubmission) error {
	return r.db.WithContext(ctx).Save(submission).Error
}

func (r *writtenSubmissionRepository) DeleteByResponseID(ctx context.Context, responseID string) (bool, error) {
	result := r.db.WithContext(ctx).Where("response_id = ?", responseID).Delete(&models.WrittenSubmission{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *writtenSubmissionRepository) List(ctx context.Context, limit, offset int) ([]models.WrittenSubmission, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var submissions []models.WrittenSubmission
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

func (r *writtenSubmissionRepository) UpdateSubjectIdentity(ctx context.Context, subjectID string, identity models.SubjectIdentity) error {
	return r.db.WithContext(ctx).
		Model(&models.WrittenSubmission{}).
		Where("subject_id = ?", subjectID).
		Updates(map[string]interface{}{
			"subject_username": identity.Username,
			"subject_name":     identity.Name,
			"subject_email":    identity.Email,
		}).Error
}

func (r *writtenSubmissionRepository) ClearSubjectIdentity(ctx context.Context, subjectID string) error {
	return r.db.WithContext(ctx).
		Model(&models.WrittenSubmission{}).
		Where("subject_id = ?", subjectID).
		Updates(map[string]interface{}{
			"subject_id":       "",
			"subject_username": "",
			"subject_name":     "",
			"subject_email":    "",
		}).Error
}
