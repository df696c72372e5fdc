package store

import (
	"context"

	"github.com/opentranscribe/mpo/pkg/store/models"
)

// ============================================
// TASK OPERATIONS
// ============================================

func (s *GORMStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getByField[models.Task](s.db, ctx, "id", id, models.ErrTaskNotFound)
}

func (s *GORMStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.Status == "" {
		task.Status = models.TaskStatusQueued
	}
	return s.db.WithContext(ctx).Create(task).Error
}

func (s *GORMStore) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, progress float64, errMsg string) error {
	return s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":   status,
			"progress": progress,
			"error":    errMsg,
		}).Error
}

func (s *GORMStore) ListTasksForFile(ctx context.Context, fileID string) ([]*models.Task, error) {
	var tasks []*models.Task
	err := s.db.WithContext(ctx).Where("file_id = ?", fileID).Order("created_at DESC").Find(&tasks).Error
	return tasks, err
}
