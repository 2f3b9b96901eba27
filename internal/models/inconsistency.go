package models

import "time"

// InconsistencyKind names the multi-step flow that was left half applied.
type InconsistencyKind string

const (
	// Follower edge and following edge disagree. SubjectID is the follower,
	// TargetID the followed user, Detail "follow" or "unfollow".
	KindFollowAsymmetry InconsistencyKind = "follow_asymmetry"
	// Post commentCount may not match its comment collection. SubjectID is the post.
	KindCommentCountDrift InconsistencyKind = "comment_count_drift"
	// Blob with no document referencing it. SubjectID is the object path.
	KindOrphanBlob InconsistencyKind = "orphan_blob"
	// Identity without a profile document. SubjectID is the UID, Detail the
	// display name given at sign-up.
	KindProfileMissing InconsistencyKind = "profile_missing"
)

// Inconsistency is an entry in the repair ledger (relational database).
type Inconsistency struct {
	ID         uint              `json:"id" gorm:"primaryKey"`
	Kind       InconsistencyKind `json:"kind" gorm:"size:40;index"`
	SubjectID  string            `json:"subjectId" gorm:"index"`
	TargetID   string            `json:"targetId"`
	Detail     string            `json:"detail"`
	Resolved   bool              `json:"resolved" gorm:"default:false;index"`
	Attempts   int               `json:"attempts"`
	LastError  string            `json:"lastError"`
	CreatedAt  time.Time         `json:"createdAt" gorm:"index"`
	ResolvedAt *time.Time        `json:"resolvedAt,omitempty"`
}
