package matrix

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reviewdeck/internal/host"
	"github.com/reviewdeck/internal/review"
	"github.com/reviewdeck/internal/revision"
	"github.com/reviewdeck/pkg/models"
)

// Builder assembles the file matrix for a review from the persisted file
// history ledger, extended with a provisional revision when the merge
// request head moved past the last persisted revision.
type Builder struct {
	store review.Store
	host  host.Host
}

func NewBuilder(store review.Store, h host.Host) *Builder {
	return &Builder{store: store, host: h}
}

// Build computes the full matrix for a review, including reviewer marks
// propagated across unchanged revisions.
func (b *Builder) Build(ctx context.Context, reviewID models.ReviewIdentifier) (*Matrix, error) {
	revisions, err := b.store.Revisions(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("loading revisions: %w", err)
	}

	mr, err := b.host.GetMergeRequest(ctx, reviewID.ProjectID, reviewID.ReviewID)
	if err != nil {
		return nil, fmt.Errorf("loading merge request: %w", err)
	}

	revisionIds := make([]revision.RevisionId, 0, len(revisions)+1)
	for _, rev := range revisions {
		revisionIds = append(revisionIds, revision.Selected(rev.RevisionNumber))
	}

	provisionalBase := mr.BaseCommit
	if len(revisions) > 0 {
		provisionalBase = revisions[len(revisions)-1].HeadCommit
	}
	hasProvisional := len(revisions) == 0 || revisions[len(revisions)-1].HeadCommit != mr.HeadCommit

	var provisionalDiff []models.FileDiffEntry
	var provisionalRev revision.RevisionId
	if hasProvisional {
		provisionalRev = revision.Hash(mr.HeadCommit)
		revisionIds = append(revisionIds, provisionalRev)

		provisionalDiff, err = b.host.GetDiff(ctx, reviewID.ProjectID, provisionalBase, mr.HeadCommit)
		if err != nil {
			return nil, fmt.Errorf("loading provisional diff: %w", err)
		}
	}

	m := NewMatrix(revisionIds)

	ledger, err := b.store.FileHistoryForReview(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("loading file history: %w", err)
	}

	revisionByID := map[uuid.UUID]*review.ReviewRevision{}
	for _, rev := range revisions {
		revisionByID[rev.ID] = rev
	}

	remaining := make([]*models.FileDiffEntry, len(provisionalDiff))
	for i := range provisionalDiff {
		remaining[i] = &provisionalDiff[i]
	}

	for _, fileID := range fileIDsInOrder(ledger) {
		history := historyForFile(ledger, fileID, revisionByID)

		var previous *review.FileHistoryEntry
		for _, entry := range history {
			if entry.RevisionID == nil {
				// Pre-history rename anchor, only contributes the old path.
				previous = entry
				continue
			}

			rev, ok := revisionByID[*entry.RevisionID]
			if !ok {
				log.Error().
					Str("file_id", fileID.String()).
					Str("revision_id", entry.RevisionID.String()).
					Msg("file history entry points at unknown revision")
				continue
			}

			oldPath := entry.FileName
			if previous != nil {
				oldPath = previous.FileName
			}
			path := models.MakePathPair(oldPath, entry.FileName)
			m.Append(revision.Selected(rev.RevisionNumber), fileID, path, newStatus(path, entry.IsNew, entry.IsRenamed, entry.IsDeleted))
			previous = entry
		}

		if hasProvisional && previous != nil {
			for i, d := range remaining {
				if d == nil || d.Path.OldPath != previous.FileName {
					continue
				}
				m.Append(provisionalRev, fileID, d.Path, newStatus(d.Path, d.IsNew, d.IsRenamed, d.IsDeleted))
				remaining[i] = nil
				break
			}
		}
	}

	// Files first seen in the provisional diff have no durable id yet.
	for _, d := range remaining {
		if d == nil {
			continue
		}
		m.Append(provisionalRev, uuid.Nil, d.Path, newStatus(d.Path, d.IsNew, d.IsRenamed, d.IsDeleted))
	}

	m.FillUnchanged()

	if err := b.appendReviewers(ctx, m, reviewID); err != nil {
		return nil, err
	}
	m.PropagateReviewers()

	return m, nil
}

func (b *Builder) appendReviewers(ctx context.Context, m *Matrix, reviewID models.ReviewIdentifier) error {
	records, err := b.store.ReviewedFiles(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("loading reviewed files: %w", err)
	}

	for _, record := range records {
		entry := m.EntryByFileID(record.FileID)
		if entry == nil {
			log.Warn().
				Str("file_id", record.FileID.String()).
				Str("reviewer", record.Reviewer).
				Msg("reviewed file mark for a file absent from the matrix")
			continue
		}
		status := entry.StatusAt(revision.Selected(record.RevisionNumber))
		if status == nil {
			continue
		}
		status.Reviewers[record.Reviewer] = true
	}
	return nil
}

// fileIDsInOrder returns distinct file ids in first-occurrence order so the
// matrix layout is stable across rebuilds of the same ledger.
func fileIDsInOrder(ledger []*review.FileHistoryEntry) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	var order []uuid.UUID
	for _, e := range ledger {
		if !seen[e.FileID] {
			seen[e.FileID] = true
			order = append(order, e.FileID)
		}
	}
	return order
}

// historyForFile returns one file's ledger rows ordered by revision number,
// with pre-history anchors first.
func historyForFile(ledger []*review.FileHistoryEntry, fileID uuid.UUID, revisionByID map[uuid.UUID]*review.ReviewRevision) []*review.FileHistoryEntry {
	var history []*review.FileHistoryEntry
	for _, e := range ledger {
		if e.FileID == fileID {
			history = append(history, e)
		}
	}
	number := func(e *review.FileHistoryEntry) int {
		if e.RevisionID == nil {
			return -1
		}
		if rev, ok := revisionByID[*e.RevisionID]; ok {
			return rev.RevisionNumber
		}
		return -1
	}
	sort.SliceStable(history, func(i, j int) bool {
		return number(history[i]) < number(history[j])
	})
	return history
}
