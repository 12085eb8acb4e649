// Package matrix computes the per-file, per-revision status view of a
// review: which files changed in which revision, how they were renamed, and
// who reviewed them where. Nothing here is persisted; the matrix is derived
// from the file history ledger and the host's provisional diff on demand.
package matrix

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/reviewdeck/internal/revision"
	"github.com/reviewdeck/pkg/models"
)

// Status describes one file at one revision.
type Status struct {
	File        models.PathPair `json:"file"`
	IsNew       bool            `json:"is_new"`
	IsRenamed   bool            `json:"is_renamed"`
	IsDeleted   bool            `json:"is_deleted"`
	IsUnchanged bool            `json:"is_unchanged"`
	Reviewers   map[string]bool `json:"reviewers"`
}

func newStatus(file models.PathPair, isNew, isRenamed, isDeleted bool) *Status {
	return &Status{
		File:      file,
		IsNew:     isNew,
		IsRenamed: isRenamed,
		IsDeleted: isDeleted,
		Reviewers: map[string]bool{},
	}
}

func unchangedStatus(file models.PathPair) *Status {
	return &Status{
		File:        models.MakePath(file.NewPath),
		IsUnchanged: true,
		Reviewers:   map[string]bool{},
	}
}

// Entry is one file lineage across all revisions of the matrix.
type Entry struct {
	// FileID is the durable ledger id, uuid.Nil for files seen only in the
	// provisional diff.
	FileID uuid.UUID `json:"-"`
	// ClientID is the id the client addresses this file by: the uuid
	// string, or the provisional encoding when no durable id exists yet.
	ClientID string          `json:"file_id"`
	File     models.PathPair `json:"file"`

	statuses map[revision.RevisionId]*Status
	matrix   *Matrix
}

// StatusAt returns the status recorded for a revision, or nil.
func (e *Entry) StatusAt(rev revision.RevisionId) *Status {
	return e.statuses[rev]
}

// MarshalJSON includes the per-revision statuses, keyed by the revision's
// text form.
func (e *Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ClientID string                          `json:"file_id"`
		File     models.PathPair                 `json:"file"`
		Statuses map[revision.RevisionId]*Status `json:"statuses"`
	}{e.ClientID, e.File, e.statuses})
}

// statusForRevision chases backward: the latest status assigned at or
// before rev in the matrix's revision order.
func (e *Entry) statusForRevision(rev revision.RevisionId) *Status {
	var found *Status
	for _, r := range e.matrix.Revisions {
		if s, ok := e.statuses[r]; ok {
			found = s
		}
		if r == rev {
			break
		}
	}
	return found
}

// Matrix is the computed file/revision grid. Revisions are ordered by
// ascending revision number with the provisional head, if any, last.
type Matrix struct {
	Revisions      []revision.RevisionId `json:"revisions"`
	LatestRevision revision.RevisionId   `json:"latest_revision"`
	Entries        []*Entry              `json:"entries"`
}

// NewMatrix creates an empty matrix over the given revision order.
func NewMatrix(revisions []revision.RevisionId) *Matrix {
	m := &Matrix{Revisions: revisions}
	if len(revisions) > 0 {
		m.LatestRevision = revisions[len(revisions)-1]
	}
	return m
}

func (m *Matrix) revisionIndex(rev revision.RevisionId) int {
	for i, r := range m.Revisions {
		if r == rev {
			return i
		}
	}
	return -1
}

// EntryByFileID finds the lineage for a durable file id.
func (m *Matrix) EntryByFileID(fileID uuid.UUID) *Entry {
	if fileID == uuid.Nil {
		return nil
	}
	for _, e := range m.Entries {
		if e.FileID == fileID {
			return e
		}
	}
	return nil
}

// EntryByClientID finds the lineage for a client-facing file id string.
func (m *Matrix) EntryByClientID(id string) *Entry {
	for _, e := range m.Entries {
		if e.ClientID == id {
			return e
		}
	}
	return nil
}

// Append records a file's status at a revision. Renamed files are chased
// back to their existing lineage by path so a rename updates the entry in
// place instead of creating a second lineage. Diff entries must be appended
// in input order; a file renamed twice within one diff resolves against
// whatever state earlier entries left behind (a known fragility kept for
// compatibility).
func (m *Matrix) Append(rev revision.RevisionId, fileID uuid.UUID, path models.PathPair, status *Status) {
	var entry *Entry

	if fileID != uuid.Nil {
		entry = m.EntryByFileID(fileID)
	}

	if entry == nil && status.IsRenamed {
		entry = m.findRenamedEntry(rev, path)
		if entry != nil {
			entry.File = entry.File.WithNewName(path.NewPath)
		}
	}

	if entry == nil {
		entry = m.findOrCreateEntry(fileID, path)
	}

	entry.File = entry.File.WithNewName(path.NewPath)
	entry.statuses[rev] = status
}

func (m *Matrix) findRenamedEntry(rev revision.RevisionId, path models.PathPair) *Entry {
	for _, e := range m.Entries {
		if s := e.statusForRevision(rev); s != nil && s.File.NewPath == path.OldPath {
			return e
		}
	}
	return nil
}

func (m *Matrix) findOrCreateEntry(fileID uuid.UUID, path models.PathPair) *Entry {
	for _, e := range m.Entries {
		if e.File.NewPath == path.OldPath {
			return e
		}
	}

	entry := &Entry{
		FileID:   fileID,
		File:     path,
		statuses: map[revision.RevisionId]*Status{},
		matrix:   m,
	}
	if fileID != uuid.Nil {
		entry.ClientID = fileID.String()
	} else {
		entry.ClientID = revision.ProvisionalFileId(path).String()
	}
	m.Entries = append(m.Entries, entry)
	return entry
}

// FillUnchanged gives every entry a status for every revision: revisions
// before the first known status, gaps between statuses, and revisions after
// the last one are filled with "unchanged" carrying the neighbouring path.
func (m *Matrix) FillUnchanged() {
	for _, entry := range m.Entries {
		firstIdx := -1
		for i, rev := range m.Revisions {
			if _, ok := entry.statuses[rev]; ok {
				firstIdx = i
				break
			}
		}
		if firstIdx < 0 {
			continue
		}

		first := entry.statuses[m.Revisions[firstIdx]]
		for i := 0; i < firstIdx; i++ {
			entry.statuses[m.Revisions[i]] = unchangedStatus(first.File)
		}

		previous := first
		for i := firstIdx + 1; i < len(m.Revisions); i++ {
			rev := m.Revisions[i]
			if s, ok := entry.statuses[rev]; ok {
				previous = s
				continue
			}
			previous = unchangedStatus(previous.File)
			entry.statuses[rev] = previous
		}
	}
}

// PropagateReviewers carries each reviewer forward from the revision they
// marked a file at, through every following revision where the file is
// unchanged, stopping at the first revision that changes it again.
func (m *Matrix) PropagateReviewers() {
	for _, entry := range m.Entries {
		carried := map[string]bool{}
		for _, rev := range m.Revisions {
			status, ok := entry.statuses[rev]
			if !ok {
				continue
			}
			if status.IsUnchanged {
				for reviewer := range carried {
					status.Reviewers[reviewer] = true
				}
			}
			carried = status.Reviewers
		}
	}
}

// CalculateUserStatistics counts, per file, whether the given reviewer
// reviewed the latest actual change.
func (m *Matrix) CalculateUserStatistics(userName string) (reviewedByUser, unreviewedByUser int) {
	for _, entry := range m.Entries {
		var last *Status
		for _, rev := range m.Revisions {
			if s, ok := entry.statuses[rev]; ok && !s.IsUnchanged {
				last = s
			}
		}
		if last != nil && last.Reviewers[userName] {
			reviewedByUser++
		} else {
			unreviewedByUser++
		}
	}
	return reviewedByUser, unreviewedByUser
}

// CalculateStatistics counts, per file, whether anyone reviewed the latest
// actual change.
func (m *Matrix) CalculateStatistics() (reviewedAtLatest, unreviewedAtLatest int) {
	for _, entry := range m.Entries {
		var last *Status
		for _, rev := range m.Revisions {
			if s, ok := entry.statuses[rev]; ok && !s.IsUnchanged {
				last = s
			}
		}
		if last != nil && len(last.Reviewers) > 0 {
			reviewedAtLatest++
		} else {
			unreviewedAtLatest++
		}
	}
	return reviewedAtLatest, unreviewedAtLatest
}
