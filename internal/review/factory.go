package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reviewdeck/internal/host"
	"github.com/reviewdeck/internal/revision"
	"github.com/reviewdeck/pkg/models"
)

// FileEntry is the durable identity a ClientFileId resolves to.
type FileEntry struct {
	Name string
	ID   uuid.UUID
}

// ClientFileMap resolves client-supplied file references to durable file
// identities for one revision.
type ClientFileMap map[revision.ClientFileId]FileEntry

// Factory finds or creates revisions, keeping the file history ledger
// consistent as new commit pairs arrive.
type Factory struct {
	store Store
	host  host.Host
}

// NewFactory wires a revision factory.
func NewFactory(store Store, h host.Host) *Factory {
	return &Factory{store: store, host: h}
}

// RefName is the host ref recorded for a revision's base or head commit.
func RefName(reviewIID, revisionNumber int, refType string) string {
	return fmt.Sprintf("reviewer/%d/r%d/%s", reviewIID, revisionNumber, refType)
}

// FindOrCreateRevision returns the revision for (reviewID, baseCommit,
// headCommit), creating it when absent. Replaying the same commit pair is
// idempotent and returns the already-saved revision. The returned map
// resolves ClientFileIds (persistent and provisional) to durable file ids.
func (f *Factory) FindOrCreateRevision(ctx context.Context, reviewID models.ReviewIdentifier, baseCommit, headCommit string) (*ReviewRevision, ClientFileMap, error) {
	existing, err := f.store.GetRevisionByCommits(ctx, reviewID, baseCommit, headCommit)
	if err != nil {
		return nil, nil, fmt.Errorf("look up revision: %w", err)
	}

	if existing != nil {
		fileMap, err := f.fileMapForExisting(ctx, existing)
		if err != nil {
			return nil, nil, err
		}
		return existing, fileMap, nil
	}

	number, err := f.store.NextRevisionNumber(ctx, reviewID)
	if err != nil {
		return nil, nil, fmt.Errorf("next revision number: %w", err)
	}

	if err := f.host.CreateRef(ctx, reviewID.ProjectID, RefName(reviewID.ReviewID, number, "base"), baseCommit); err != nil {
		return nil, nil, err
	}

	if err := f.host.CreateRef(ctx, reviewID.ProjectID, RefName(reviewID.ReviewID, number, "head"), headCommit); err != nil {
		if !errors.Is(err, host.ErrRefConflict) {
			return nil, nil, err
		}
		// The base ref is already in place, so the revision record must be
		// persisted no matter what.
		log.Warn().
			Str("review", reviewID.String()).
			Int("revision", number).
			Err(err).
			Msg("head ref conflict ignored, revision is anchored by its base ref")
	}

	rev := &ReviewRevision{
		ID:             uuid.New(),
		ReviewID:       reviewID,
		RevisionNumber: number,
		BaseCommit:     baseCommit,
		HeadCommit:     headCommit,
		LastUpdatedAt:  time.Now().UTC(),
	}

	fileMap, err := f.fillFileHistory(ctx, rev)
	if err != nil {
		return nil, nil, err
	}

	return rev, fileMap, nil
}

func (f *Factory) fileMapForExisting(ctx context.Context, rev *ReviewRevision) (ClientFileMap, error) {
	entries, err := f.store.FileHistoryForRevision(ctx, rev.ID)
	if err != nil {
		return nil, fmt.Errorf("load file history: %w", err)
	}

	fileMap := ClientFileMap{}
	for _, e := range entries {
		entry := FileEntry{Name: e.FileName, ID: e.FileID}
		fileMap[revision.PersistentFileId(e.FileID)] = entry
		fileMap[revision.ProvisionalFileId(models.MakePath(e.FileName))] = entry
	}
	return fileMap, nil
}

// fillFileHistory diffs the new head against the previous one, carries every
// known file identity forward, and assigns fresh ids to first-seen paths.
// Renames whose old path is unknown get a pre-history anchor row so a later
// rename-chain lookup can find the origin.
func (f *Factory) fillFileHistory(ctx context.Context, rev *ReviewRevision) (ClientFileMap, error) {
	prevRevID, prevHead, err := f.previousRevision(ctx, rev)
	if err != nil {
		return nil, err
	}

	diff, err := f.host.GetDiff(ctx, rev.ReviewID.ProjectID, prevHead, rev.HeadCommit)
	if err != nil {
		return nil, err
	}

	for _, d := range diff {
		rev.Files = append(rev.Files, RevisionFileFromDiff(d))
	}

	if err := f.store.SaveRevision(ctx, rev); err != nil {
		return nil, fmt.Errorf("save revision: %w", err)
	}

	knownFiles, err := f.store.FileIDsAtRevision(ctx, prevRevID)
	if err != nil {
		return nil, fmt.Errorf("load previous file ids: %w", err)
	}

	fileMap := ClientFileMap{}
	for name, fileID := range knownFiles {
		fileMap[revision.PersistentFileId(fileID)] = FileEntry{Name: name, ID: fileID}
	}

	remaining := make([]*models.FileDiffEntry, len(diff))
	for i := range diff {
		remaining[i] = &diff[i]
	}

	// Carry every known identity forward, matched against the diff by the
	// file's name as of the previous revision.
	names := make([]string, 0, len(knownFiles))
	for name := range knownFiles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fileID := knownFiles[name]

		var matched *models.FileDiffEntry
		for i, d := range remaining {
			if d == nil || d.Path.OldPath != name {
				continue
			}
			if matched != nil {
				log.Error().Str("file", name).Msg("more than one diff entry matches a single file")
				continue
			}
			matched = d
			remaining[i] = nil
		}

		entry := &FileHistoryEntry{
			ID:         uuid.New(),
			RevisionID: &rev.ID,
			ReviewID:   rev.ReviewID,
			FileID:     fileID,
			FileName:   name,
		}
		if matched != nil {
			entry.FileName = matched.Path.NewPath
			entry.IsNew = matched.IsNew
			entry.IsDeleted = matched.IsDeleted
			entry.IsRenamed = matched.IsRenamed
			entry.IsModified = true
		}
		if err := f.store.SaveFileHistoryEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("save file history entry: %w", err)
		}
	}

	// Whatever is left in the diff is a first-seen path and gets a fresh id.
	for _, d := range remaining {
		if d == nil {
			continue
		}

		fileID := uuid.New()
		fileMap[revision.ProvisionalFileId(d.Path)] = FileEntry{Name: d.Path.NewPath, ID: fileID}

		if d.IsRenamed {
			anchor := &FileHistoryEntry{
				ID:       uuid.New(),
				ReviewID: rev.ReviewID,
				FileID:   fileID,
				FileName: d.Path.OldPath,
			}
			if err := f.store.SaveFileHistoryEntry(ctx, anchor); err != nil {
				return nil, fmt.Errorf("save rename anchor: %w", err)
			}
		}

		entry := &FileHistoryEntry{
			ID:         uuid.New(),
			RevisionID: &rev.ID,
			ReviewID:   rev.ReviewID,
			FileID:     fileID,
			FileName:   d.Path.NewPath,
			IsNew:      d.IsNew,
			IsDeleted:  d.IsDeleted,
			IsRenamed:  d.IsRenamed,
			IsModified: true,
		}
		if err := f.store.SaveFileHistoryEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("save file history entry: %w", err)
		}
	}

	return fileMap, nil
}

// previousRevision resolves the "previous head" a new revision is diffed
// against: the review's base commit for revision 1, the head of revision
// n-1 otherwise.
func (f *Factory) previousRevision(ctx context.Context, rev *ReviewRevision) (*uuid.UUID, string, error) {
	if rev.RevisionNumber <= 1 {
		return nil, rev.BaseCommit, nil
	}

	prev, err := f.store.GetRevisionByNumber(ctx, rev.ReviewID, rev.RevisionNumber-1)
	if err != nil {
		return nil, "", fmt.Errorf("load previous revision: %w", err)
	}
	if prev == nil {
		return nil, "", fmt.Errorf("revision %d of %s has no predecessor", rev.RevisionNumber, rev.ReviewID)
	}
	return &prev.ID, prev.HeadCommit, nil
}
