// Package review holds the durable entities of the review engine and the
// revision factory that appends new snapshots to a review's history.
package review

import (
	"time"

	"github.com/google/uuid"

	"github.com/reviewdeck/pkg/models"
)

// ReviewRevision is one immutable snapshot of a review's change set.
// (ReviewID, BaseCommit, HeadCommit) is unique; re-submitting the same
// commit pair returns the existing revision.
type ReviewRevision struct {
	ID             uuid.UUID               `json:"id"`
	ReviewID       models.ReviewIdentifier `json:"review_id"`
	RevisionNumber int                     `json:"revision_number"`
	BaseCommit     string                  `json:"base_commit"`
	HeadCommit     string                  `json:"head_commit"`
	Files          []RevisionFile          `json:"files"`
	LastUpdatedAt  time.Time               `json:"last_updated_at"`
	Version        int64                   `json:"-"`
}

// RevisionFile is the raw diff snapshot recorded with a revision.
type RevisionFile struct {
	ID        uuid.UUID       `json:"id"`
	File      models.PathPair `json:"file"`
	IsNew     bool            `json:"is_new"`
	IsDeleted bool            `json:"is_deleted"`
	IsRenamed bool            `json:"is_renamed"`
}

// RevisionFileFromDiff converts a host diff entry to a snapshot record.
func RevisionFileFromDiff(d models.FileDiffEntry) RevisionFile {
	return RevisionFile{
		ID:        uuid.New(),
		File:      d.Path,
		IsNew:     d.IsNew,
		IsDeleted: d.IsDeleted,
		IsRenamed: d.IsRenamed,
	}
}

// FileHistoryEntry is one row of the append-only file history ledger: one
// file at one revision transition. A nil RevisionID marks a pre-history
// rename anchor, used only to link a rename chain's origin. FileID never
// changes after first assignment.
type FileHistoryEntry struct {
	ID         uuid.UUID               `json:"id"`
	FileID     uuid.UUID               `json:"file_id"`
	RevisionID *uuid.UUID              `json:"revision_id"`
	ReviewID   models.ReviewIdentifier `json:"review_id"`
	FileName   string                  `json:"file_name"`
	IsNew      bool                    `json:"is_new"`
	IsRenamed  bool                    `json:"is_renamed"`
	IsDeleted  bool                    `json:"is_deleted"`
	IsModified bool                    `json:"is_modified"`
}

// Review is one reviewer's state against one revision. Upserted per
// (RevisionID, UserID), never duplicated.
type Review struct {
	ID            uuid.UUID    `json:"id"`
	UserID        int          `json:"user_id"`
	RevisionID    uuid.UUID    `json:"revision_id"`
	ReviewedAt    time.Time    `json:"reviewed_at"`
	Files         []FileReview `json:"files"`
	LastUpdatedAt time.Time    `json:"last_updated_at"`
	Version       int64        `json:"-"`
}

// FileReviewStatus is the status of a per-file mark.
type FileReviewStatus int

// FileReviewed is the only status today; absence of a FileReview row means
// not reviewed.
const FileReviewed FileReviewStatus = 1

// FileReview marks a file identity reviewed as of one specific revision.
type FileReview struct {
	FileID uuid.UUID        `json:"file_id"`
	File   models.PathPair  `json:"file"`
	Status FileReviewStatus `json:"status"`
}

// DiscussionState tracks a discussion thread's lifecycle.
type DiscussionState string

const (
	StateNoActionNeeded  DiscussionState = "NoActionNeeded"
	StateNeedsResolution DiscussionState = "NeedsResolution"
	StateResolved        DiscussionState = "Resolved"
	StateGoodWork        DiscussionState = "GoodWork"
)

// Comment is a node in a discussion's reply tree.
type Comment struct {
	ID               uuid.UUID  `json:"id"`
	ParentID         *uuid.UUID `json:"parent_id,omitempty"`
	PostedInReviewID uuid.UUID  `json:"posted_in_review_id"`
	Content          string     `json:"content"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Discussion is a thread anchored to a revision.
type Discussion struct {
	ID            uuid.UUID       `json:"id"`
	RevisionID    uuid.UUID       `json:"revision_id"`
	State         DiscussionState `json:"state"`
	RootComment   *Comment        `json:"root_comment"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
	Version       int64           `json:"-"`
}

// ReviewDiscussion is a thread on the whole revision.
type ReviewDiscussion struct {
	Discussion
}

// FileDiscussion is a thread anchored to a file line within a revision.
type FileDiscussion struct {
	Discussion
	FileID     uuid.UUID       `json:"file_id"`
	File       models.PathPair `json:"file"`
	LineNumber int             `json:"line_number"`
}

// ReviewedFileRecord is the flattened (revision, file, reviewer) triple the
// file matrix consumes.
type ReviewedFileRecord struct {
	RevisionNumber int
	FileID         uuid.UUID
	Reviewer       string
}
