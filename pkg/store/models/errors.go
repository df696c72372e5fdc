package models

import "errors"

// Common errors for the metadata store.
var (
	ErrFileNotFound  = errors.New("media file not found")
	ErrDuplicateFile = errors.New("media file already exists")
	ErrFileConflict  = errors.New("media file status changed concurrently")

	ErrTaskNotFound = errors.New("task not found")

	ErrSpeakerNotFound        = errors.New("speaker not found")
	ErrSpeakerProfileNotFound = errors.New("speaker profile not found")
	ErrSpeakerMismatch        = errors.New("speakers do not belong to the same owner and file")

	ErrCollectionNotFound  = errors.New("collection not found")
	ErrDuplicateCollection = errors.New("collection already exists")

	ErrTagNotFound = errors.New("tag not found")

	ErrSettingNotFound = errors.New("setting not found")
)
