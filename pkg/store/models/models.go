package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&MediaFile{},
		&Task{},
		&TranscriptSegment{},
		&Speaker{},
		&SpeakerProfile{},
		&SpeakerMatch{},
		&Collection{},
		&CollectionFile{},
		&Tag{},
		&FileTag{},
		&Comment{},
		&Summary{},
		&Analytics{},
		&DerivedArtifact{},
		&Setting{},
	}
}
