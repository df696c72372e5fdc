package store

import (
	"context"

	"github.com/opentranscribe/mpo/pkg/store/models"
)

// ============================================
// DERIVED ARTIFACT OPERATIONS (waveform/thumbnail sidecars, overwrite-on-rerun)
// ============================================

func (s *GORMStore) UpsertDerivedArtifact(ctx context.Context, artifact *models.DerivedArtifact) error {
	return s.db.WithContext(ctx).Save(artifact).Error
}

func (s *GORMStore) GetDerivedArtifact(ctx context.Context, fileID string, role models.DerivedArtifactRole) (*models.DerivedArtifact, error) {
	var result models.DerivedArtifact
	err := s.db.WithContext(ctx).Where("media_file_id = ? AND role = ?", fileID, role).First(&result).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &result, nil
}
