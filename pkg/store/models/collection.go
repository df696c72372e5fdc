package models

import "time"

// Collection is a user-level grouping of files. No orchestration semantics;
// names are unique per owner.
type Collection struct {
	ID    string `gorm:"primaryKey;size:36" json:"id"`
	Owner string `gorm:"not null;size:255;index:idx_collection_owner_name,unique" json:"owner"`
	Name  string `gorm:"not null;size:255;index:idx_collection_owner_name,unique" json:"name"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Collection.
func (Collection) TableName() string {
	return "collection"
}

// CollectionFile is the (collection, file) membership join row; unique per
// pair.
type CollectionFile struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	CollectionID string `gorm:"not null;size:36;index:idx_collection_file,unique" json:"collection_id"`
	MediaFileID  string `gorm:"not null;size:36;index:idx_collection_file,unique" json:"media_file_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for CollectionFile.
func (CollectionFile) TableName() string {
	return "collection_file"
}

// Tag is a globally-unique label name. (file, tag) membership is recorded in
// FileTag.
type Tag struct {
	ID   string `gorm:"primaryKey;size:36" json:"id"`
	Name string `gorm:"not null;size:255;uniqueIndex" json:"name"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Tag.
func (Tag) TableName() string {
	return "tag"
}

// FileTag is the (file, tag) membership join row; unique per pair.
type FileTag struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	MediaFileID string `gorm:"not null;size:36;index:idx_file_tag,unique" json:"media_file_id"`
	TagID       string `gorm:"not null;size:36;index:idx_file_tag,unique" json:"tag_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for FileTag.
func (FileTag) TableName() string {
	return "file_tag"
}

// Comment is a user annotation on a file. No orchestration semantics.
type Comment struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	MediaFileID string `gorm:"not null;size:36;index" json:"media_file_id"`
	Owner       string `gorm:"not null;size:255" json:"owner"`
	Body        string `gorm:"type:text;not null" json:"body"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Comment.
func (Comment) TableName() string {
	return "comment"
}
