package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/opentranscribe/mpo/pkg/store/models"
)

// ============================================
// MEDIA FILE OPERATIONS
// ============================================

func (s *GORMStore) GetFile(ctx context.Context, id string) (*models.MediaFile, error) {
	return getByField[models.MediaFile](s.db, ctx, "id", id, models.ErrFileNotFound)
}

func (s *GORMStore) GetFileByHash(ctx context.Context, owner, contentHash string) (*models.MediaFile, error) {
	var file models.MediaFile
	err := s.db.WithContext(ctx).
		Where("owner = ? AND content_hash = ?", owner, contentHash).
		First(&file).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

func (s *GORMStore) ListFiles(ctx context.Context, owner string, filter FileFilter) ([]*models.MediaFile, error) {
	q := s.db.WithContext(ctx).Where("owner = ?", owner)
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.FileType != "" {
		q = q.Where("mime_class = ?", filter.FileType)
	}
	if filter.Since != nil {
		q = q.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		q = q.Where("created_at <= ?", *filter.Until)
	}
	if filter.Text != "" {
		q = q.Where("display_name LIKE ?", "%"+filter.Text+"%")
	}
	if len(filter.TagNames) > 0 {
		q = q.Joins("JOIN file_tag ON file_tag.media_file_id = media_file.id").
			Joins("JOIN tag ON tag.id = file_tag.tag_id").
			Where("tag.name IN ?", filter.TagNames)
	}

	var files []*models.MediaFile
	if err := q.Order("created_at DESC").Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (s *GORMStore) CreateFile(ctx context.Context, file *models.MediaFile) (string, error) {
	if file.Status == "" {
		file.Status = models.FileStatusPending
	}
	if file.MaxRetries == 0 {
		file.MaxRetries = 3
	}
	return createWithID(s.db, ctx, file, func(f *models.MediaFile, id string) { f.ID = id }, file.ID, models.ErrDuplicateFile)
}

func (s *GORMStore) UpdateFileAttributes(ctx context.Context, file *models.MediaFile) error {
	return s.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ?", file.ID).
		Select("display_name", "byte_length", "mime_class", "duration_sec", "storage_path").
		Updates(file).Error
}

// TransitionToProcessing implements the Pending→Processing and
// Error→Processing (retry) compare-and-swap: it only succeeds if the file
// currently has no owning task.
func (s *GORMStore) TransitionToProcessing(ctx context.Context, fileID, taskID string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ? AND status IN ? AND active_task_id IS NULL", fileID,
			[]models.FileStatus{models.FileStatusPending, models.FileStatusError}).
		Updates(map[string]any{
			"status":           models.FileStatusProcessing,
			"active_task_id":   taskID,
			"task_started_at":  now,
			"task_last_update": now,
			"last_error":       "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileConflict
	}
	return nil
}

func (s *GORMStore) TransitionToCompleted(ctx context.Context, fileID, taskID string, duration float64, segments []*models.TranscriptSegment, speakers []*models.Speaker) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		result := tx.Model(&models.MediaFile{}).
			Where("id = ? AND active_task_id = ?", fileID, taskID).
			Updates(map[string]any{
				"status":         models.FileStatusCompleted,
				"active_task_id": nil,
				"completed_at":   now,
				"duration_sec":   duration,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrFileConflict
		}
		for _, sp := range speakers {
			if err := tx.Create(sp).Error; err != nil {
				return err
			}
		}
		if len(segments) > 0 {
			if err := tx.Create(&segments).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// TransitionToError applies the retry policy from spec §4.8: a retryable
// failure under max_retries re-queues to Pending; otherwise the file is left
// in Error.
func (s *GORMStore) TransitionToError(ctx context.Context, fileID, taskID, message string, retryable bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file models.MediaFile
		if err := tx.Where("id = ? AND active_task_id = ?", fileID, taskID).First(&file).Error; err != nil {
			return convertNotFoundError(err, models.ErrFileConflict)
		}
		newRetryCount := file.RetryCount + 1
		nextStatus := models.FileStatusError
		if retryable && newRetryCount < file.MaxRetries {
			nextStatus = models.FileStatusPending
		}
		return tx.Model(&models.MediaFile{}).Where("id = ?", fileID).Updates(map[string]any{
			"status":         nextStatus,
			"active_task_id": nil,
			"retry_count":    newRetryCount,
			"last_error":     message,
		}).Error
	})
}

// RequestCancellation implements the "cancel_request = true moves
// Processing → Cancelling without preempting" rule in spec §4.8.
func (s *GORMStore) RequestCancellation(ctx context.Context, fileID string) error {
	return s.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ? AND status = ?", fileID, models.FileStatusProcessing).
		Updates(map[string]any{
			"status":                   models.FileStatusCancelling,
			"cancellation_requested":   true,
		}).Error
}

func (s *GORMStore) TransitionToCancelled(ctx context.Context, fileID string, forceDeleteEligible bool) error {
	return s.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ? AND status IN ?", fileID, []models.FileStatus{models.FileStatusProcessing, models.FileStatusCancelling}).
		Updates(map[string]any{
			"status":                models.FileStatusCancelled,
			"active_task_id":        nil,
			"force_delete_eligible": forceDeleteEligible,
		}).Error
}

func (s *GORMStore) TransitionToOrphaned(ctx context.Context, fileID string) error {
	return s.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ? AND status = ?", fileID, models.FileStatusProcessing).
		Updates(map[string]any{
			"status":            models.FileStatusOrphaned,
			"active_task_id":    nil,
			"recovery_attempts": gorm.Expr("recovery_attempts + 1"),
		}).Error
}

func (s *GORMStore) RecoverOrphaned(ctx context.Context, fileID string) error {
	result := s.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ? AND status = ?", fileID, models.FileStatusOrphaned).
		Update("status", models.FileStatusPending)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileConflict
	}
	return nil
}

func (s *GORMStore) UpdateProgress(ctx context.Context, fileID, taskID string) error {
	return s.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ? AND active_task_id = ?", fileID, taskID).
		Update("task_last_update", time.Now()).Error
}

// DeleteFile cascades to every row scoped to the file (spec §3 "deletion
// cascades to segments, tags, speakers scoped to this file, and index
// documents" — the index document is removed by the caller via the Index
// Gateway before or after this call).
func (s *GORMStore) DeleteFile(ctx context.Context, fileID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("media_file_id = ?", fileID).Delete(&models.TranscriptSegment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("media_file_id = ?", fileID).Delete(&models.Speaker{}).Error; err != nil {
			return err
		}
		if err := tx.Where("media_file_id = ?", fileID).Delete(&models.FileTag{}).Error; err != nil {
			return err
		}
		if err := tx.Where("media_file_id = ?", fileID).Delete(&models.CollectionFile{}).Error; err != nil {
			return err
		}
		if err := tx.Where("media_file_id = ?", fileID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("media_file_id = ?", fileID).Delete(&models.Summary{}).Error; err != nil {
			return err
		}
		if err := tx.Where("media_file_id = ?", fileID).Delete(&models.Analytics{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", fileID).Delete(&models.MediaFile{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil // idempotent delete, spec §8 "deleting an already-deleted file is a no-op success"
		}
		return nil
	})
}

func (s *GORMStore) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*models.MediaFile, error) {
	var files []*models.MediaFile
	err := s.db.WithContext(ctx).
		Where("status = ? AND task_last_update < ?", models.FileStatusProcessing, olderThan).
		Find(&files).Error
	return files, err
}

func (s *GORMStore) ListStalePending(ctx context.Context, olderThan time.Time) ([]*models.MediaFile, error) {
	var files []*models.MediaFile
	err := s.db.WithContext(ctx).
		Where("status = ? AND byte_length = 0 AND created_at < ?", models.FileStatusPending, olderThan).
		Find(&files).Error
	return files, err
}

func (s *GORMStore) ListOverdueCancelling(ctx context.Context, deadline time.Time) ([]*models.MediaFile, error) {
	var files []*models.MediaFile
	err := s.db.WithContext(ctx).
		Where("status = ? AND task_started_at < ?", models.FileStatusCancelling, deadline).
		Find(&files).Error
	return files, err
}
