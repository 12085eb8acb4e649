package review

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewdeck/internal/host"
	"github.com/reviewdeck/internal/revision"
	"github.com/reviewdeck/pkg/models"
)

var testReview = models.ReviewIdentifier{ProjectID: 101, ReviewID: 42}

// fakeHost is a programmable host double: diffs are registered per commit
// pair, created refs are recorded, and specific ref names can be set up to
// conflict.
type fakeHost struct {
	mergeRequest *models.MergeRequest
	diffs        map[string][]models.FileDiffEntry
	refs         map[string]string
	conflicting  map[string]bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		diffs:       map[string][]models.FileDiffEntry{},
		refs:        map[string]string{},
		conflicting: map[string]bool{},
	}
}

func diffKey(from, to string) string { return from + ".." + to }

func (h *fakeHost) setupDiff(from, to string, entries ...models.FileDiffEntry) {
	h.diffs[diffKey(from, to)] = entries
}

func (h *fakeHost) GetMergeRequest(ctx context.Context, projectID, mergeRequestIID int) (*models.MergeRequest, error) {
	return h.mergeRequest, nil
}

func (h *fakeHost) GetDiff(ctx context.Context, projectID int, fromCommit, toCommit string) ([]models.FileDiffEntry, error) {
	diff, ok := h.diffs[diffKey(fromCommit, toCommit)]
	if !ok {
		return nil, fmt.Errorf("no diff registered for %s..%s", fromCommit, toCommit)
	}
	return diff, nil
}

func (h *fakeHost) CreateRef(ctx context.Context, projectID int, name, commitHash string) error {
	if h.conflicting[name] {
		return host.ErrRefConflict
	}
	h.refs[name] = commitHash
	return nil
}

func (h *fakeHost) CreateNote(ctx context.Context, projectID, mergeRequestIID int, body string) error {
	return nil
}

func (h *fakeHost) AcceptMergeRequest(ctx context.Context, projectID, mergeRequestIID int, removeBranch bool, commitMessage string) error {
	return nil
}

func (h *fakeHost) SetCommitStatus(ctx context.Context, projectID int, status models.CommitStatus) error {
	return nil
}

func (h *fakeHost) GetBuildStatuses(ctx context.Context, projectID int, commitSha string) ([]models.BuildStatus, error) {
	return nil, nil
}

func (h *fakeHost) GetAwardEmojis(ctx context.Context, projectID, mergeRequestIID int) ([]models.AwardEmoji, error) {
	return nil, nil
}

func (h *fakeHost) AddAwardEmoji(ctx context.Context, projectID, mergeRequestIID int, emoji models.EmojiType) error {
	return nil
}

func (h *fakeHost) RemoveAwardEmoji(ctx context.Context, projectID, mergeRequestIID int, awardID int) error {
	return nil
}

func modified(path string) models.FileDiffEntry {
	return models.FileDiffEntry{Path: models.MakePath(path)}
}

func added(path string) models.FileDiffEntry {
	return models.FileDiffEntry{Path: models.MakePath(path), IsNew: true}
}

func deleted(path string) models.FileDiffEntry {
	return models.FileDiffEntry{Path: models.MakePath(path), IsDeleted: true}
}

func renamed(oldPath, newPath string) models.FileDiffEntry {
	return models.FileDiffEntry{Path: models.MakePathPair(oldPath, newPath), IsRenamed: true}
}

func TestFindOrCreateRevisionAssignsNumberAndRefs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := newFakeHost()
	h.setupDiff("base1", "head1", added("file1.go"), modified("file2.go"))

	factory := NewFactory(store, h)
	rev, fileMap, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head1")
	require.NoError(t, err)

	assert.Equal(t, 1, rev.RevisionNumber)
	assert.Equal(t, "base1", rev.BaseCommit)
	assert.Equal(t, "head1", rev.HeadCommit)
	assert.Len(t, rev.Files, 2)

	assert.Equal(t, "base1", h.refs["reviewer/42/r1/base"])
	assert.Equal(t, "head1", h.refs["reviewer/42/r1/head"])

	entry, ok := fileMap[revision.ProvisionalFileId(models.MakePath("file1.go"))]
	require.True(t, ok)
	assert.Equal(t, "file1.go", entry.Name)
	assert.NotZero(t, entry.ID)
}

func TestFindOrCreateRevisionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := newFakeHost()
	h.setupDiff("base1", "head1", modified("file1.go"))

	factory := NewFactory(store, h)
	first, _, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head1")
	require.NoError(t, err)

	second, fileMap, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.FileHistory(), 1, "replay must not duplicate ledger rows")

	// The replayed map resolves the file both by durable id and by path.
	id := store.FileHistory()[0].FileID
	byID, ok := fileMap[revision.PersistentFileId(id)]
	require.True(t, ok)
	byPath, ok := fileMap[revision.ProvisionalFileId(models.MakePath("file1.go"))]
	require.True(t, ok)
	assert.Equal(t, byID, byPath)
}

func TestSecondRevisionGetsNextNumberAndDiffsAgainstPreviousHead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := newFakeHost()
	h.setupDiff("base1", "head1", modified("file1.go"))
	h.setupDiff("head1", "head2", modified("file1.go"))

	factory := NewFactory(store, h)
	_, _, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head1")
	require.NoError(t, err)

	rev2, _, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head2")
	require.NoError(t, err)

	assert.Equal(t, 2, rev2.RevisionNumber)
	assert.Len(t, rev2.Files, 1)
	assert.Equal(t, "base1", h.refs["reviewer/42/r2/base"])
	assert.Equal(t, "head2", h.refs["reviewer/42/r2/head"])
}

func TestRenameChainKeepsFileIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := newFakeHost()
	h.setupDiff("base1", "head1", renamed("a.txt", "b.txt"))
	h.setupDiff("head1", "head2", renamed("b.txt", "c.txt"))

	factory := NewFactory(store, h)
	rev1, _, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head1")
	require.NoError(t, err)

	rev2, _, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head2")
	require.NoError(t, err)

	entryAt := func(rev *ReviewRevision, name string) *FileHistoryEntry {
		t.Helper()
		for _, e := range store.FileHistory() {
			if e.RevisionID != nil && *e.RevisionID == rev.ID && e.FileName == name {
				return e
			}
		}
		t.Fatalf("no ledger row for %s at revision %d", name, rev.RevisionNumber)
		return nil
	}

	b := entryAt(rev1, "b.txt")
	c := entryAt(rev2, "c.txt")
	assert.Equal(t, b.FileID, c.FileID, "a rename chain must keep one file identity")
	assert.True(t, c.IsRenamed)

	// The origin of the chain is anchored before the first revision.
	var anchor *FileHistoryEntry
	for _, e := range store.FileHistory() {
		if e.RevisionID == nil {
			anchor = e
		}
	}
	require.NotNil(t, anchor)
	assert.Equal(t, "a.txt", anchor.FileName)
	assert.Equal(t, b.FileID, anchor.FileID)
}

func TestRenameGapCreatesNewIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := newFakeHost()
	h.setupDiff("base1", "head1", added("a.txt"))
	// b.txt was never seen before, so the rename origin is unknown.
	h.setupDiff("head1", "head2", renamed("b.txt", "c.txt"))

	factory := NewFactory(store, h)
	rev1, _, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head1")
	require.NoError(t, err)
	rev2, _, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head2")
	require.NoError(t, err)

	var aID, cID uuid.UUID
	for _, e := range store.FileHistory() {
		if e.RevisionID != nil && *e.RevisionID == rev1.ID && e.FileName == "a.txt" {
			aID = e.FileID
		}
		if e.RevisionID != nil && *e.RevisionID == rev2.ID && e.FileName == "c.txt" {
			cID = e.FileID
		}
	}
	require.NotZero(t, aID)
	require.NotZero(t, cID)
	assert.NotEqual(t, aID, cID, "a broken rename chain starts a new identity")
}

func TestUnmatchedFilesCarryForwardUnmodified(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := newFakeHost()
	h.setupDiff("base1", "head1", modified("file1.go"), modified("file2.go"))
	h.setupDiff("head1", "head2", modified("file2.go"))

	factory := NewFactory(store, h)
	rev1, _, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head1")
	require.NoError(t, err)
	rev2, _, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head2")
	require.NoError(t, err)

	byName := func(rev *ReviewRevision) map[string]*FileHistoryEntry {
		out := map[string]*FileHistoryEntry{}
		for _, e := range store.FileHistory() {
			if e.RevisionID != nil && *e.RevisionID == rev.ID {
				out[e.FileName] = e
			}
		}
		return out
	}

	first := byName(rev1)
	second := byName(rev2)
	require.Contains(t, second, "file1.go")
	require.Contains(t, second, "file2.go")

	assert.Equal(t, first["file1.go"].FileID, second["file1.go"].FileID)
	assert.False(t, second["file1.go"].IsModified, "untouched files carry forward without a change mark")
	assert.True(t, second["file2.go"].IsModified)
}

func TestHeadRefConflictIsTolerated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := newFakeHost()
	h.setupDiff("base1", "head1", modified("file1.go"))
	h.conflicting["reviewer/42/r1/head"] = true

	factory := NewFactory(store, h)
	rev, _, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head1")
	require.NoError(t, err)
	assert.Equal(t, 1, rev.RevisionNumber)

	saved, err := store.GetRevisionByCommits(ctx, testReview, "base1", "head1")
	require.NoError(t, err)
	require.NotNil(t, saved)
}

func TestBaseRefConflictIsFatal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := newFakeHost()
	h.setupDiff("base1", "head1", modified("file1.go"))
	h.conflicting["reviewer/42/r1/base"] = true

	factory := NewFactory(store, h)
	_, _, err := factory.FindOrCreateRevision(ctx, testReview, "base1", "head1")
	require.ErrorIs(t, err, host.ErrRefConflict)

	saved, err := store.GetRevisionByCommits(ctx, testReview, "base1", "head1")
	require.NoError(t, err)
	assert.Nil(t, saved, "a revision must not be persisted without its base ref")
}
