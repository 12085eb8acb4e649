package matrix

import (
	"github.com/reviewdeck/internal/revision"
	"github.com/reviewdeck/pkg/models"
)

// FileToReview is the range a reviewer still has to cover for one file:
// the diff between the revision they last reviewed it at (Base when never)
// and the revision it last changed at.
type FileToReview struct {
	FileID     string              `json:"file_id"`
	ReviewFile models.PathPair     `json:"review_file"`
	DiffFile   models.PathPair     `json:"diff_file"`
	Previous   revision.RevisionId `json:"previous"`
	Current    revision.RevisionId `json:"current"`
	ChangeType string              `json:"change_type"`
}

// FindFilesToReview computes the review range of every file for one
// reviewer. Call after FillUnchanged so every revision has a status.
func (m *Matrix) FindFilesToReview(reviewerUserName string) []FileToReview {
	result := make([]FileToReview, 0, len(m.Entries))

	for _, entry := range m.Entries {
		lastChangedIndex := -1
		for i, rev := range m.Revisions {
			if s := entry.StatusAt(rev); s != nil && !s.IsUnchanged {
				lastChangedIndex = i
			}
		}
		if lastChangedIndex < 0 {
			continue
		}
		lastChanged := entry.StatusAt(m.Revisions[lastChangedIndex])
		currentRevision := m.Revisions[lastChangedIndex]

		lastReviewedIndex := -1
		for i := lastChangedIndex; i >= 0; i-- {
			s := entry.StatusAt(m.Revisions[i])
			if s != nil && s.Reviewers[reviewerUserName] {
				lastReviewedIndex = i
				break
			}
		}

		var diffFile models.PathPair
		var previousRevision revision.RevisionId
		var rangeStart int

		if lastReviewedIndex < 0 {
			first := entry.StatusAt(m.Revisions[0])
			diffFile = first.File.WithNewName(lastChanged.File.NewPath)
			previousRevision = revision.Base()
			rangeStart = 0
		} else {
			lastReviewed := entry.StatusAt(m.Revisions[lastReviewedIndex])
			diffFile = models.MakePathPair(lastReviewed.File.NewPath, lastChanged.File.NewPath)
			previousRevision = m.Revisions[lastReviewedIndex]
			rangeStart = lastReviewedIndex + 1
		}

		result = append(result, FileToReview{
			FileID:     entry.ClientID,
			ReviewFile: entry.File,
			DiffFile:   diffFile,
			Previous:   previousRevision,
			Current:    currentRevision,
			ChangeType: m.determineChangeType(entry, rangeStart, lastChangedIndex),
		})
	}

	return result
}

func (m *Matrix) determineChangeType(entry *Entry, from, to int) string {
	changeType := "modified"
	for i := to; i >= from; i-- {
		s := entry.StatusAt(m.Revisions[i])
		if s == nil {
			continue
		}
		if s.IsNew {
			return "created"
		}
		if s.IsDeleted {
			return "deleted"
		}
		if s.IsRenamed {
			changeType = "renamed"
		}
	}
	return changeType
}
