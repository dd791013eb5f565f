package domain

import "time"

// ArtifactKind loosely categorizes an Artifact's evidence.
type ArtifactKind string

const (
	ArtifactKindTestReport ArtifactKind = "test_report"
	ArtifactKindScreenshot ArtifactKind = "screenshot"
	ArtifactKindLog        ArtifactKind = "log"
	ArtifactKindDiff       ArtifactKind = "diff"
	ArtifactKindOther      ArtifactKind = "other"
)

// Artifact is a piece of evidence attached to a task, referenced by
// review_evidence_refs at the "-> integrated" gate. Supplements the
// distilled specification with the evidence-tracking surface the
// original system carried.
type Artifact struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"project_id"`
	TaskID    string       `json:"task_id"`
	Kind      ArtifactKind `json:"kind"`
	URI       string       `json:"uri"`
	SHA256    *string      `json:"sha256,omitempty"`
	CreatedBy string       `json:"created_by"`
	CreatedAt time.Time    `json:"created_at"`
}
