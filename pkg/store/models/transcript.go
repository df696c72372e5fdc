package models

import "time"

// TranscriptSegment is a contiguous text span with start/end time and an
// optional speaker. Segments for a file form a partial order by start_time;
// adjacent same-speaker segments may be merged for display only, never in
// storage.
type TranscriptSegment struct {
	ID          string  `gorm:"primaryKey;size:36" json:"id"`
	MediaFileID string  `gorm:"not null;size:36;index:idx_segment_media_file" json:"media_file_id"`
	SpeakerID   *string `gorm:"size:36;index:idx_segment_speaker" json:"speaker_id"`
	StartTime   float64 `gorm:"not null" json:"start_time"`
	EndTime     float64 `gorm:"not null" json:"end_time"`
	Text        string  `gorm:"type:text;not null" json:"text"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for TranscriptSegment.
func (TranscriptSegment) TableName() string {
	return "transcript_segment"
}

// Speaker is a per-file detected voice identity, optionally linked to a
// user-global SpeakerProfile. The link is a weak back-reference: deleting a
// profile clears ProfileID on linked speakers but leaves the speaker rows
// intact.
type Speaker struct {
	ID          string  `gorm:"primaryKey;size:36" json:"id"`
	MediaFileID string  `gorm:"not null;size:36;index" json:"media_file_id"`
	Owner       string  `gorm:"not null;size:255" json:"owner"`
	Label       string  `gorm:"not null;size:128;index:idx_speaker_owner_file_label,unique" json:"label"`
	Embedding   []byte  `gorm:"type:blob" json:"-"`
	ProfileID   *string `gorm:"size:36;index" json:"profile_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Speaker.
func (Speaker) TableName() string {
	return "speaker"
}

// SpeakerProfile is a user-global named identity speaker instances may link
// to across files.
type SpeakerProfile struct {
	ID    string `gorm:"primaryKey;size:36" json:"id"`
	Owner string `gorm:"not null;size:255;index" json:"owner"`
	Name  string `gorm:"not null;size:255" json:"name"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for SpeakerProfile.
func (SpeakerProfile) TableName() string {
	return "speaker_profile"
}

// SpeakerMatch records a resolved pairing between two speaker instances
// (e.g. cross-file identity linking). Stored with canonical ordering
// SpeakerLow < SpeakerHigh to enforce set semantics: a pair is present at
// most once regardless of which side a caller named first.
type SpeakerMatch struct {
	ID          string  `gorm:"primaryKey;size:36" json:"id"`
	SpeakerLow  string  `gorm:"not null;size:36;index:idx_speaker_match_pair,unique" json:"speaker_low"`
	SpeakerHigh string  `gorm:"not null;size:36;index:idx_speaker_match_pair,unique" json:"speaker_high"`
	Score       float64 `json:"score"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for SpeakerMatch.
func (SpeakerMatch) TableName() string {
	return "speaker_match"
}

// NewSpeakerMatch normalizes (a, b) into canonical (low, high) ordering so
// the operation that creates a match is commutative in identity.
func NewSpeakerMatch(a, b string, score float64) SpeakerMatch {
	low, high := a, b
	if high < low {
		low, high = high, low
	}
	return SpeakerMatch{SpeakerLow: low, SpeakerHigh: high, Score: score}
}
