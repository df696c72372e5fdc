package store

import (
	"context"

	"github.com/opentranscribe/mpo/pkg/store/models"
)

// ============================================
// TRANSCRIPT SEGMENT OPERATIONS
// ============================================

func (s *GORMStore) BulkInsertSegments(ctx context.Context, segments []*models.TranscriptSegment) error {
	if len(segments) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&segments).Error
}

func (s *GORMStore) ListSegments(ctx context.Context, fileID string) ([]*models.TranscriptSegment, error) {
	var segments []*models.TranscriptSegment
	err := s.db.WithContext(ctx).
		Where("media_file_id = ?", fileID).
		Order("start_time ASC").
		Find(&segments).Error
	return segments, err
}
