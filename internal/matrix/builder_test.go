package matrix

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewdeck/internal/host"
	"github.com/reviewdeck/internal/review"
	"github.com/reviewdeck/internal/revision"
	"github.com/reviewdeck/pkg/models"
)

var testReview = models.ReviewIdentifier{ProjectID: 7, ReviewID: 13}

type stubHost struct {
	mergeRequest *models.MergeRequest
	diffs        map[string][]models.FileDiffEntry
}

func newStubHost() *stubHost {
	return &stubHost{diffs: map[string][]models.FileDiffEntry{}}
}

func (h *stubHost) setupDiff(from, to string, entries ...models.FileDiffEntry) {
	h.diffs[from+".."+to] = entries
}

func (h *stubHost) GetMergeRequest(ctx context.Context, projectID, mergeRequestIID int) (*models.MergeRequest, error) {
	return h.mergeRequest, nil
}

func (h *stubHost) GetDiff(ctx context.Context, projectID int, fromCommit, toCommit string) ([]models.FileDiffEntry, error) {
	diff, ok := h.diffs[fromCommit+".."+toCommit]
	if !ok {
		return nil, fmt.Errorf("no diff registered for %s..%s", fromCommit, toCommit)
	}
	return diff, nil
}

func (h *stubHost) CreateRef(ctx context.Context, projectID int, name, commitHash string) error {
	return nil
}

func (h *stubHost) CreateNote(ctx context.Context, projectID, mergeRequestIID int, body string) error {
	return nil
}

func (h *stubHost) AcceptMergeRequest(ctx context.Context, projectID, mergeRequestIID int, removeBranch bool, commitMessage string) error {
	return nil
}

func (h *stubHost) SetCommitStatus(ctx context.Context, projectID int, status models.CommitStatus) error {
	return nil
}

func (h *stubHost) GetBuildStatuses(ctx context.Context, projectID int, commitSha string) ([]models.BuildStatus, error) {
	return nil, nil
}

func (h *stubHost) GetAwardEmojis(ctx context.Context, projectID, mergeRequestIID int) ([]models.AwardEmoji, error) {
	return nil, nil
}

func (h *stubHost) AddAwardEmoji(ctx context.Context, projectID, mergeRequestIID int, emoji models.EmojiType) error {
	return nil
}

func (h *stubHost) RemoveAwardEmoji(ctx context.Context, projectID, mergeRequestIID int, awardID int) error {
	return nil
}

var _ host.Host = (*stubHost)(nil)

func createRevision(t *testing.T, store review.Store, h *stubHost, base, head string) *review.ReviewRevision {
	t.Helper()
	factory := review.NewFactory(store, h)
	rev, _, err := factory.FindOrCreateRevision(context.Background(), testReview, base, head)
	require.NoError(t, err)
	return rev
}

const provisionalHead = "fedcba9876543210fedcba9876543210fedcba98"

func TestBuildAddsProvisionalRevisionForUnknownHead(t *testing.T) {
	ctx := context.Background()
	store := review.NewMemoryStore()
	h := newStubHost()
	h.setupDiff("base1", "head1", models.FileDiffEntry{Path: models.MakePath("file1.go"), IsNew: true})
	rev1 := createRevision(t, store, h, "base1", "head1")

	h.mergeRequest = &models.MergeRequest{BaseCommit: "base1", HeadCommit: provisionalHead}
	h.setupDiff("head1", provisionalHead,
		models.FileDiffEntry{Path: models.MakePath("file1.go")},
		models.FileDiffEntry{Path: models.MakePath("brand-new.go"), IsNew: true},
	)

	m, err := NewBuilder(store, h).Build(ctx, testReview)
	require.NoError(t, err)

	require.Equal(t, []revision.RevisionId{
		revision.Selected(rev1.RevisionNumber),
		revision.Hash(provisionalHead),
	}, m.Revisions)
	assert.Equal(t, revision.Hash(provisionalHead), m.LatestRevision)

	require.Len(t, m.Entries, 2)

	tracked := m.EntryByClientID(store.FileHistory()[0].FileID.String())
	require.NotNil(t, tracked)
	assert.False(t, tracked.StatusAt(revision.Hash(provisionalHead)).IsUnchanged)

	// The file first seen at the provisional head has no durable id yet and
	// is addressed by its provisional encoding.
	fresh := m.EntryByClientID(revision.ProvisionalFileId(models.MakePath("brand-new.go")).String())
	require.NotNil(t, fresh)
	assert.True(t, fresh.StatusAt(revision.Hash(provisionalHead)).IsNew)
	assert.True(t, fresh.StatusAt(revision.Selected(1)).IsUnchanged)
}

func TestBuildSkipsProvisionalRevisionWhenHeadMatches(t *testing.T) {
	ctx := context.Background()
	store := review.NewMemoryStore()
	h := newStubHost()
	h.setupDiff("base1", "head1", models.FileDiffEntry{Path: models.MakePath("file1.go"), IsNew: true})
	createRevision(t, store, h, "base1", "head1")

	h.mergeRequest = &models.MergeRequest{BaseCommit: "base1", HeadCommit: "head1"}

	m, err := NewBuilder(store, h).Build(ctx, testReview)
	require.NoError(t, err)

	assert.Equal(t, []revision.RevisionId{revision.Selected(1)}, m.Revisions)
	require.Len(t, m.Entries, 1)
}

func TestBuildFollowsRenamesAcrossRevisions(t *testing.T) {
	ctx := context.Background()
	store := review.NewMemoryStore()
	h := newStubHost()
	h.setupDiff("base1", "head1", models.FileDiffEntry{Path: models.MakePath("old.go"), IsNew: true})
	createRevision(t, store, h, "base1", "head1")
	h.setupDiff("head1", "head2", models.FileDiffEntry{Path: models.MakePathPair("old.go", "new.go"), IsRenamed: true})
	createRevision(t, store, h, "base1", "head2")

	h.mergeRequest = &models.MergeRequest{BaseCommit: "base1", HeadCommit: "head2"}

	m, err := NewBuilder(store, h).Build(ctx, testReview)
	require.NoError(t, err)

	require.Len(t, m.Entries, 1, "renames stay within one lineage")
	entry := m.Entries[0]
	assert.Equal(t, "new.go", entry.File.NewPath)
	status := entry.StatusAt(revision.Selected(2))
	require.NotNil(t, status)
	assert.True(t, status.IsRenamed)
	assert.Equal(t, "old.go", status.File.OldPath)
}

func TestBuildAppendsAndPropagatesReviewerMarks(t *testing.T) {
	ctx := context.Background()
	store := review.NewMemoryStore()
	h := newStubHost()
	h.setupDiff("base1", "head1", models.FileDiffEntry{Path: models.MakePath("file1.go"), IsNew: true})
	rev1 := createRevision(t, store, h, "base1", "head1")
	h.setupDiff("head1", "head2", models.FileDiffEntry{Path: models.MakePath("other.go"), IsNew: true})
	createRevision(t, store, h, "base1", "head2")

	h.mergeRequest = &models.MergeRequest{BaseCommit: "base1", HeadCommit: "head2"}

	require.NoError(t, store.SaveUser(ctx, &models.ReviewUser{ID: 1, UserName: "alice"}))
	fileID := store.FileHistory()[0].FileID
	require.NoError(t, store.SaveReview(ctx, &review.Review{
		UserID:     1,
		RevisionID: rev1.ID,
		Files: []review.FileReview{
			{FileID: fileID, File: models.MakePath("file1.go"), Status: review.FileReviewed},
		},
	}))

	m, err := NewBuilder(store, h).Build(ctx, testReview)
	require.NoError(t, err)

	entry := m.EntryByFileID(fileID)
	require.NotNil(t, entry)
	assert.True(t, entry.StatusAt(revision.Selected(1)).Reviewers["alice"])
	assert.True(t, entry.StatusAt(revision.Selected(2)).Reviewers["alice"],
		"file1 is unchanged in revision 2, the mark carries forward")

	reviewed, unreviewed := m.CalculateStatistics()
	assert.Equal(t, 1, reviewed)
	assert.Equal(t, 1, unreviewed)
}
