package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opentranscribe/mpo/pkg/store/models"
)

// ============================================
// SPEAKER OPERATIONS
// ============================================

func (s *GORMStore) ListSpeakersForFile(ctx context.Context, fileID string) ([]*models.Speaker, error) {
	var speakers []*models.Speaker
	err := s.db.WithContext(ctx).Where("media_file_id = ?", fileID).Find(&speakers).Error
	return speakers, err
}

func (s *GORMStore) CreateSpeaker(ctx context.Context, speaker *models.Speaker) (string, error) {
	return createWithID(s.db, ctx, speaker, func(sp *models.Speaker, id string) { sp.ID = id }, speaker.ID, models.ErrSpeakerNotFound)
}

// MergeSpeakers implements the atomic merge in spec §4.8: source must
// belong to the same owner and file as target; all of source's segments are
// reassigned to target and source is deleted within one transaction, so no
// reader ever observes a partial merge.
func (s *GORMStore) MergeSpeakers(ctx context.Context, sourceID, targetID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var source, target models.Speaker
		if err := tx.Where("id = ?", sourceID).First(&source).Error; err != nil {
			return convertNotFoundError(err, models.ErrSpeakerNotFound)
		}
		if err := tx.Where("id = ?", targetID).First(&target).Error; err != nil {
			return convertNotFoundError(err, models.ErrSpeakerNotFound)
		}
		if source.Owner != target.Owner || source.MediaFileID != target.MediaFileID {
			return models.ErrSpeakerMismatch
		}
		if err := tx.Model(&models.TranscriptSegment{}).
			Where("speaker_id = ?", sourceID).
			Update("speaker_id", targetID).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", sourceID).Delete(&models.Speaker{}).Error
	})
}

func (s *GORMStore) CreateSpeakerProfile(ctx context.Context, profile *models.SpeakerProfile) (string, error) {
	return createWithID(s.db, ctx, profile, func(p *models.SpeakerProfile, id string) { p.ID = id }, profile.ID, models.ErrSpeakerProfileNotFound)
}

func (s *GORMStore) LinkSpeakerToProfile(ctx context.Context, speakerID, profileID string) error {
	return s.db.WithContext(ctx).Model(&models.Speaker{}).
		Where("id = ?", speakerID).
		Update("profile_id", profileID).Error
}

// DeleteSpeakerProfile clears ProfileID on any speakers linked to profileID
// before deleting the profile row, honoring the weak back-reference
// described in spec §3 "Ownership".
func (s *GORMStore) DeleteSpeakerProfile(ctx context.Context, profileID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Speaker{}).
			Where("profile_id = ?", profileID).
			Update("profile_id", nil).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", profileID).Delete(&models.SpeakerProfile{}).Error
	})
}

func (s *GORMStore) UpsertSpeakerMatch(ctx context.Context, match models.SpeakerMatch) error {
	normalized := models.NewSpeakerMatch(match.SpeakerLow, match.SpeakerHigh, match.Score)
	var existing models.SpeakerMatch
	err := s.db.WithContext(ctx).
		Where("speaker_low = ? AND speaker_high = ?", normalized.SpeakerLow, normalized.SpeakerHigh).
		First(&existing).Error
	if err == nil {
		return s.db.WithContext(ctx).Model(&models.SpeakerMatch{}).
			Where("id = ?", existing.ID).
			Update("score", normalized.Score).Error
	}
	normalized.ID = uuid.New().String()
	return s.db.WithContext(ctx).Create(&normalized).Error
}
