package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opentranscribe/mpo/pkg/store/models"
)

// ============================================
// COLLECTION / TAG / COMMENT OPERATIONS
// ============================================

func (s *GORMStore) CreateCollection(ctx context.Context, collection *models.Collection) (string, error) {
	return createWithID(s.db, ctx, collection, func(c *models.Collection, id string) { c.ID = id }, collection.ID, models.ErrDuplicateCollection)
}

func (s *GORMStore) ListCollections(ctx context.Context, owner string) ([]*models.Collection, error) {
	var collections []*models.Collection
	err := s.db.WithContext(ctx).Where("owner = ?", owner).Find(&collections).Error
	return collections, err
}

func (s *GORMStore) AddFileToCollection(ctx context.Context, collectionID, fileID string) error {
	row := &models.CollectionFile{ID: uuid.New().String(), CollectionID: collectionID, MediaFileID: fileID}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil // already a member, idempotent
		}
		return err
	}
	return nil
}

func (s *GORMStore) RemoveFileFromCollection(ctx context.Context, collectionID, fileID string) error {
	return s.db.WithContext(ctx).
		Where("collection_id = ? AND media_file_id = ?", collectionID, fileID).
		Delete(&models.CollectionFile{}).Error
}

func (s *GORMStore) GetOrCreateTag(ctx context.Context, name string) (*models.Tag, error) {
	var tag models.Tag
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&tag).Error
	if err == nil {
		return &tag, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	tag = models.Tag{ID: uuid.New().String(), Name: name}
	if err := s.db.WithContext(ctx).Create(&tag).Error; err != nil {
		if isUniqueConstraintError(err) {
			// concurrent creation raced us; fetch the winner
			if err2 := s.db.WithContext(ctx).Where("name = ?", name).First(&tag).Error; err2 != nil {
				return nil, err2
			}
			return &tag, nil
		}
		return nil, err
	}
	return &tag, nil
}

func (s *GORMStore) TagFile(ctx context.Context, fileID, tagName string) error {
	tag, err := s.GetOrCreateTag(ctx, tagName)
	if err != nil {
		return err
	}
	row := &models.FileTag{ID: uuid.New().String(), MediaFileID: fileID, TagID: tag.ID}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil
		}
		return err
	}
	return nil
}

func (s *GORMStore) UntagFile(ctx context.Context, fileID, tagName string) error {
	return s.db.WithContext(ctx).
		Where("media_file_id = ? AND tag_id = (SELECT id FROM tag WHERE name = ?)", fileID, tagName).
		Delete(&models.FileTag{}).Error
}

func (s *GORMStore) ListTagsForFile(ctx context.Context, fileID string) ([]*models.Tag, error) {
	var tags []*models.Tag
	err := s.db.WithContext(ctx).
		Joins("JOIN file_tag ON file_tag.tag_id = tag.id").
		Where("file_tag.media_file_id = ?", fileID).
		Find(&tags).Error
	return tags, err
}

func (s *GORMStore) AddComment(ctx context.Context, comment *models.Comment) (string, error) {
	return createWithID(s.db, ctx, comment, func(c *models.Comment, id string) { c.ID = id }, comment.ID, nil)
}

func (s *GORMStore) ListComments(ctx context.Context, fileID string) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := s.db.WithContext(ctx).Where("media_file_id = ?", fileID).Order("created_at ASC").Find(&comments).Error
	return comments, err
}
