package models

import "time"

// DerivedArtifactRole identifies which derived by-product a DerivedArtifact
// row describes. Kept as its own string type (rather than importing
// pkg/artifact.Role) so the models package stays free of a dependency on the
// artifact store; the string values line up with artifact.RoleWaveform and
// artifact.RoleThumbnail.
type DerivedArtifactRole string

const (
	DerivedArtifactRoleWaveform  DerivedArtifactRole = "waveform"
	DerivedArtifactRoleThumbnail DerivedArtifactRole = "thumbnail"
)

// DerivedArtifactStatus mirrors SummaryStatus's overwrite-on-rerun shape:
// a utility job may find it has nothing to produce (NotConfigured) as well
// as succeed or fail outright.
type DerivedArtifactStatus string

const (
	DerivedArtifactStatusCompleted     DerivedArtifactStatus = "completed"
	DerivedArtifactStatusFailed        DerivedArtifactStatus = "failed"
	DerivedArtifactStatusNotConfigured DerivedArtifactStatus = "not_configured"
)

// DerivedArtifact tracks one utility-job by-product (waveform or thumbnail)
// for a file. The artifact's bytes live in the Artifact Store Gateway under
// {owner}/{file_uuid}/{role}; this row is the status/metadata sidecar, one
// per (file, role), overwritten on re-run like Summary and Analytics.
type DerivedArtifact struct {
	MediaFileID string              `gorm:"primaryKey;size:36" json:"media_file_id"`
	Role        DerivedArtifactRole `gorm:"primaryKey;size:32" json:"role"`
	Status      DerivedArtifactStatus `gorm:"not null;size:32" json:"status"`

	// Metadata is a small JSON object describing the artifact (e.g. bucket
	// count for a waveform). Opaque to the store.
	Metadata string `gorm:"type:text" json:"metadata"`
	Error    string `gorm:"type:text" json:"error"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for DerivedArtifact.
func (DerivedArtifact) TableName() string {
	return "derived_artifact"
}
