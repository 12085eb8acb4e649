// Package reconcile rebases buffered client review state onto the server's
// current revision numbering and file identities before the client replays
// it through a publish. Everything here is pure: no storage, no host calls,
// and no errors — state that cannot be mapped is dropped or re-anchored
// according to fixed rules, never rejected.
package reconcile

import (
	"github.com/reviewdeck/internal/matrix"
	"github.com/reviewdeck/internal/review"
	"github.com/reviewdeck/internal/revision"
	"github.com/reviewdeck/pkg/models"
)

// PastRevision is a saved revision as reported to clients.
type PastRevision struct {
	Number int    `json:"number"`
	Base   string `json:"base"`
	Head   string `json:"head"`
}

// ReviewInfo is the server's authoritative view a client reconciles
// against.
type ReviewInfo struct {
	ReviewID      models.ReviewIdentifier `json:"review_id"`
	BaseCommit    string                  `json:"base_commit"`
	HeadCommit    string                  `json:"head_commit"`
	HeadRevision  revision.RevisionId     `json:"head_revision"`
	PastRevisions []PastRevision          `json:"past_revisions"`
	FilesToReview []matrix.FileToReview   `json:"files_to_review"`
	FileMatrix    *matrix.Matrix          `json:"file_matrix"`
}

// DraftReviewDiscussion is a buffered, not-yet-published discussion on a
// whole revision.
type DraftReviewDiscussion struct {
	ID         string                 `json:"id"`
	Revision   revision.RevisionId    `json:"revision"`
	State      review.DiscussionState `json:"state"`
	Comment    string                 `json:"comment"`
	CanResolve bool                   `json:"can_resolve"`
}

// DraftFileDiscussion is a buffered discussion anchored to a file line.
type DraftFileDiscussion struct {
	ID         string                 `json:"id"`
	Revision   revision.RevisionId    `json:"revision"`
	State      review.DiscussionState `json:"state"`
	Comment    string                 `json:"comment"`
	CanResolve bool                   `json:"can_resolve"`
	FileID     string                 `json:"file_id"`
	LineNumber int                    `json:"line_number"`
}

// FileMark is a buffered reviewed or unreviewed toggle.
type FileMark struct {
	Revision revision.RevisionId `json:"revision"`
	FileID   string              `json:"file_id"`
}

// UnpublishedReview is the client's buffered state: what it drafted while
// looking at (BaseCommit, HeadCommit), which may be behind the server.
type UnpublishedReview struct {
	BaseCommit        string                  `json:"base_commit"`
	HeadCommit        string                  `json:"head_commit"`
	ReviewDiscussions []DraftReviewDiscussion `json:"review_discussions"`
	FileDiscussions   []DraftFileDiscussion   `json:"file_discussions"`
	ReviewedFiles     []FileMark              `json:"reviewed_files"`
	UnreviewedFiles   []FileMark              `json:"unreviewed_files"`
}

// FileIdMap gives the file path each buffered file id referred to at the
// time the state was buffered.
type FileIdMap map[string]string

// Upgrade rebases unpublished onto info. Deterministic and idempotent:
// upgrading an already-upgraded state is a no-op.
func Upgrade(info ReviewInfo, unpublished UnpublishedReview, fileIds FileIdMap) UnpublishedReview {
	result := unpublished
	result = remapProvisionalRevision(info, result)
	result = remapFileIds(info, result, fileIds)
	result = sanitizeReviewedFiles(info, result)
	result = sanitizeUnreviewedFiles(info, result)
	result = removeMissingReviewedFiles(info, result)
	result = convertLostFileDiscussions(info, result)
	result = handleHeadDiverged(info, result)
	result = unreviewFileThatChangesInHead(info, result)

	result.BaseCommit = info.BaseCommit
	result.HeadCommit = info.HeadCommit
	return result
}

func matchingPastRevision(info ReviewInfo, unpublished UnpublishedReview) *PastRevision {
	for i, r := range info.PastRevisions {
		if r.Base == unpublished.BaseCommit && r.Head == unpublished.HeadCommit {
			return &info.PastRevisions[i]
		}
	}
	return nil
}

// remapProvisionalRevision rewrites provisional revision references to the
// saved revision number when the buffered (base, head) has since been
// committed as a real revision.
func remapProvisionalRevision(info ReviewInfo, unpublished UnpublishedReview) UnpublishedReview {
	match := matchingPastRevision(info, unpublished)
	if match == nil {
		return unpublished
	}

	mapRevision := func(r revision.RevisionId) revision.RevisionId {
		if r.IsHash() {
			return revision.Selected(match.Number)
		}
		return r
	}

	result := unpublished
	result.FileDiscussions = append([]DraftFileDiscussion(nil), unpublished.FileDiscussions...)
	for i := range result.FileDiscussions {
		result.FileDiscussions[i].Revision = mapRevision(result.FileDiscussions[i].Revision)
	}
	result.ReviewDiscussions = append([]DraftReviewDiscussion(nil), unpublished.ReviewDiscussions...)
	for i := range result.ReviewDiscussions {
		result.ReviewDiscussions[i].Revision = mapRevision(result.ReviewDiscussions[i].Revision)
	}
	result.ReviewedFiles = mapMarks(unpublished.ReviewedFiles, mapRevision)
	result.UnreviewedFiles = mapMarks(unpublished.UnreviewedFiles, mapRevision)
	return result
}

func mapMarks(marks []FileMark, mapRevision func(revision.RevisionId) revision.RevisionId) []FileMark {
	out := append([]FileMark(nil), marks...)
	for i := range out {
		out[i].Revision = mapRevision(out[i].Revision)
	}
	return out
}

// remapFileIds rewrites file ids that were valid under the buffered
// revision to the server's current durable ids, by matching the old file's
// path against the matrix at the matched past revision. Unmatched ids are
// left alone for the later pruning stages.
func remapFileIds(info ReviewInfo, unpublished UnpublishedReview, fileIds FileIdMap) UnpublishedReview {
	match := matchingPastRevision(info, unpublished)

	remap := func(id string) string {
		if match == nil || info.FileMatrix == nil {
			return id
		}
		oldPath, ok := fileIds[id]
		if !ok {
			return id
		}
		for _, entry := range info.FileMatrix.Entries {
			status := entry.StatusAt(revision.Selected(match.Number))
			if status != nil && status.File.NewPath == oldPath {
				return entry.ClientID
			}
		}
		return id
	}

	result := unpublished
	result.ReviewedFiles = append([]FileMark(nil), unpublished.ReviewedFiles...)
	for i := range result.ReviewedFiles {
		result.ReviewedFiles[i].FileID = remap(result.ReviewedFiles[i].FileID)
	}
	result.FileDiscussions = append([]DraftFileDiscussion(nil), unpublished.FileDiscussions...)
	for i := range result.FileDiscussions {
		result.FileDiscussions[i].FileID = remap(result.FileDiscussions[i].FileID)
	}
	return result
}

// alreadyCoveredFiles are the files the server reports as having nothing
// left to review (previous == current in filesToReview).
func alreadyCoveredFiles(info ReviewInfo) map[string]bool {
	covered := map[string]bool{}
	for _, f := range info.FilesToReview {
		if f.Previous == f.Current {
			covered[f.FileID] = true
		}
	}
	return covered
}

// sanitizeReviewedFiles drops reviewed marks for files already covered.
func sanitizeReviewedFiles(info ReviewInfo, unpublished UnpublishedReview) UnpublishedReview {
	covered := alreadyCoveredFiles(info)
	result := unpublished
	result.ReviewedFiles = filterMarks(unpublished.ReviewedFiles, func(m FileMark) bool {
		return !covered[m.FileID]
	})
	return result
}

// sanitizeUnreviewedFiles keeps unreview marks only for files the server
// still counts as covered; unreviewing anything else is meaningless.
func sanitizeUnreviewedFiles(info ReviewInfo, unpublished UnpublishedReview) UnpublishedReview {
	covered := alreadyCoveredFiles(info)
	result := unpublished
	result.UnreviewedFiles = filterMarks(unpublished.UnreviewedFiles, func(m FileMark) bool {
		return covered[m.FileID]
	})
	return result
}

// removeMissingReviewedFiles drops marks for files no longer listed at all.
func removeMissingReviewedFiles(info ReviewInfo, unpublished UnpublishedReview) UnpublishedReview {
	valid := map[string]bool{}
	for _, f := range info.FilesToReview {
		valid[f.FileID] = true
	}
	result := unpublished
	result.ReviewedFiles = filterMarks(unpublished.ReviewedFiles, func(m FileMark) bool {
		return valid[m.FileID]
	})
	return result
}

func filterMarks(marks []FileMark, keep func(FileMark) bool) []FileMark {
	out := make([]FileMark, 0, len(marks))
	for _, m := range marks {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// convertLostFileDiscussions re-anchors file discussions whose file is gone
// from filesToReview as review-level discussions. Comments are never
// dropped, only demoted.
func convertLostFileDiscussions(info ReviewInfo, unpublished UnpublishedReview) UnpublishedReview {
	valid := map[string]bool{}
	for _, f := range info.FilesToReview {
		valid[f.FileID] = true
	}

	result := unpublished
	result.ReviewDiscussions = append([]DraftReviewDiscussion(nil), unpublished.ReviewDiscussions...)
	result.FileDiscussions = nil
	for _, d := range unpublished.FileDiscussions {
		if !valid[d.FileID] {
			result.ReviewDiscussions = append(result.ReviewDiscussions, DraftReviewDiscussion{
				ID:         d.ID,
				Revision:   d.Revision,
				State:      d.State,
				Comment:    d.Comment,
				CanResolve: d.CanResolve,
			})
			continue
		}
		result.FileDiscussions = append(result.FileDiscussions, d)
	}
	return result
}

// handleHeadDiverged drops reviewed marks still pointing at a provisional
// head once the server's provisional (base, head) no longer matches the
// buffered one.
func handleHeadDiverged(info ReviewInfo, unpublished UnpublishedReview) UnpublishedReview {
	provisionalHeadMatches := info.HeadRevision.IsHash() &&
		info.BaseCommit == unpublished.BaseCommit &&
		info.HeadCommit == unpublished.HeadCommit

	result := unpublished
	result.ReviewedFiles = filterMarks(unpublished.ReviewedFiles, func(m FileMark) bool {
		return !m.Revision.IsHash() || provisionalHeadMatches
	})
	return result
}

// unreviewFileThatChangesInHead drops reviewed marks targeting a saved
// revision when the file changed again in a later revision; the mark would
// claim coverage of a change its reviewer never saw.
func unreviewFileThatChangesInHead(info ReviewInfo, unpublished UnpublishedReview) UnpublishedReview {
	result := unpublished
	result.ReviewedFiles = filterMarks(unpublished.ReviewedFiles, func(m FileMark) bool {
		if m.Revision.IsHash() {
			return true
		}
		if info.FileMatrix == nil {
			return true
		}
		entry := info.FileMatrix.EntryByClientID(m.FileID)
		if entry == nil {
			return true
		}

		var lastChange revision.RevisionId
		found := false
		for _, rev := range info.FileMatrix.Revisions {
			if status := entry.StatusAt(rev); status != nil && !status.IsUnchanged {
				lastChange = rev
				found = true
			}
		}
		return !found || lastChange == m.Revision
	})
	return result
}
