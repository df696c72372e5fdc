package store

import (
	"context"

	"github.com/opentranscribe/mpo/pkg/store/models"
)

// ============================================
// SUMMARY / ANALYTICS OPERATIONS (overwrite-on-rerun)
// ============================================

func (s *GORMStore) UpsertSummary(ctx context.Context, summary *models.Summary) error {
	return s.db.WithContext(ctx).Save(summary).Error
}

func (s *GORMStore) GetSummary(ctx context.Context, fileID string) (*models.Summary, error) {
	return getByField[models.Summary](s.db, ctx, "media_file_id", fileID, models.ErrFileNotFound)
}

func (s *GORMStore) UpsertAnalytics(ctx context.Context, analytics *models.Analytics) error {
	return s.db.WithContext(ctx).Save(analytics).Error
}

func (s *GORMStore) GetAnalytics(ctx context.Context, fileID string) (*models.Analytics, error) {
	return getByField[models.Analytics](s.db, ctx, "media_file_id", fileID, models.ErrFileNotFound)
}
