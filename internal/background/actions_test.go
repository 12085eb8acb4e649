package background

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewdeck/internal/host"
	"github.com/reviewdeck/internal/review"
	"github.com/reviewdeck/pkg/models"
)

var testReview = models.ReviewIdentifier{ProjectID: 7, ReviewID: 13}

var (
	alice = models.ReviewUser{ID: 1, UserName: "alice", Name: "Alice"}
	bob   = models.ReviewUser{ID: 2, UserName: "bob", Name: "Bob"}
)

type recordingHost struct {
	mergeRequest *models.MergeRequest
	diffs        map[string][]models.FileDiffEntry
	awards       []models.AwardEmoji

	notes      []string
	statuses   []models.CommitStatus
	added      []models.EmojiType
	removedIDs []int
}

func newRecordingHost() *recordingHost {
	return &recordingHost{diffs: map[string][]models.FileDiffEntry{}}
}

var _ host.Host = (*recordingHost)(nil)

func (h *recordingHost) GetMergeRequest(ctx context.Context, projectID, mergeRequestIID int) (*models.MergeRequest, error) {
	return h.mergeRequest, nil
}

func (h *recordingHost) GetDiff(ctx context.Context, projectID int, fromCommit, toCommit string) ([]models.FileDiffEntry, error) {
	diff, ok := h.diffs[fromCommit+".."+toCommit]
	if !ok {
		return nil, fmt.Errorf("no diff registered for %s..%s", fromCommit, toCommit)
	}
	return diff, nil
}

func (h *recordingHost) CreateRef(ctx context.Context, projectID int, name, commitHash string) error {
	return nil
}

func (h *recordingHost) CreateNote(ctx context.Context, projectID, mergeRequestIID int, body string) error {
	h.notes = append(h.notes, body)
	return nil
}

func (h *recordingHost) AcceptMergeRequest(ctx context.Context, projectID, mergeRequestIID int, removeBranch bool, commitMessage string) error {
	return nil
}

func (h *recordingHost) SetCommitStatus(ctx context.Context, projectID int, status models.CommitStatus) error {
	h.statuses = append(h.statuses, status)
	return nil
}

func (h *recordingHost) GetBuildStatuses(ctx context.Context, projectID int, commitSha string) ([]models.BuildStatus, error) {
	return nil, nil
}

func (h *recordingHost) GetAwardEmojis(ctx context.Context, projectID, mergeRequestIID int) ([]models.AwardEmoji, error) {
	return h.awards, nil
}

func (h *recordingHost) AddAwardEmoji(ctx context.Context, projectID, mergeRequestIID int, emoji models.EmojiType) error {
	h.added = append(h.added, emoji)
	return nil
}

func (h *recordingHost) RemoveAwardEmoji(ctx context.Context, projectID, mergeRequestIID int, awardID int) error {
	h.removedIDs = append(h.removedIDs, awardID)
	return nil
}

type fixture struct {
	store   *review.MemoryStore
	host    *recordingHost
	actions *Actions
	rev     *review.ReviewRevision
}

// newFixture creates one saved revision (base1..head1) containing file1.go,
// with the merge request head sitting on the same commit.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := review.NewMemoryStore()
	h := newRecordingHost()
	h.diffs["base1..head1"] = []models.FileDiffEntry{{Path: models.MakePath("file1.go"), IsNew: true}}
	h.mergeRequest = &models.MergeRequest{
		Author:     models.UserInfo{ID: 99, Username: "author"},
		BaseCommit: "base1",
		HeadCommit: "head1",
	}

	factory := review.NewFactory(store, h)
	rev, _, err := factory.FindOrCreateRevision(context.Background(), testReview, "base1", "head1")
	require.NoError(t, err)

	return &fixture{
		store:   store,
		host:    h,
		actions: NewActions(store, h, "https://deck.example.com/"),
		rev:     rev,
	}
}

// markReviewed records a reviewed mark for every file of the fixture
// revision under the given user.
func (f *fixture) markReviewed(t *testing.T, user models.ReviewUser) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveUser(ctx, &user))

	var files []review.FileReview
	for _, e := range f.store.FileHistory() {
		files = append(files, review.FileReview{
			FileID: e.FileID,
			File:   models.MakePath(e.FileName),
			Status: review.FileReviewed,
		})
	}

	r := &review.Review{ID: uuid.New(), UserID: user.ID, RevisionID: f.rev.ID, Files: files}
	require.NoError(t, f.store.SaveReview(ctx, r))
	return r.ID
}

func (f *fixture) addDiscussion(t *testing.T, state review.DiscussionState, postedIn uuid.UUID) {
	t.Helper()
	d := &review.ReviewDiscussion{Discussion: review.Discussion{
		ID:         uuid.New(),
		RevisionID: f.rev.ID,
		State:      state,
		RootComment: &review.Comment{
			ID:               uuid.New(),
			PostedInReviewID: postedIn,
			Content:          "a comment",
		},
	}}
	require.NoError(t, f.store.SaveReviewDiscussion(context.Background(), d))
}

func TestCommitStatusPendingWhileFilesUnreviewed(t *testing.T) {
	f := newFixture(t)

	status, err := f.actions.CommitStatusFor(context.Background(), testReview)
	require.NoError(t, err)

	assert.Equal(t, models.CommitStatusPending, status.State)
	assert.Equal(t, "head1", status.Commit)
	assert.Contains(t, status.Description, "1 files not reviewed")
	assert.Equal(t, "https://deck.example.com/project/7/review/13", status.TargetURL)
}

func TestCommitStatusSuccessWhenEverythingReviewed(t *testing.T) {
	f := newFixture(t)
	f.markReviewed(t, alice)

	status, err := f.actions.CommitStatusFor(context.Background(), testReview)
	require.NoError(t, err)

	assert.Equal(t, models.CommitStatusSuccess, status.State)
	assert.Contains(t, status.Description, "1 files reviewed at latest revision")
}

func TestCommitStatusPendingWhileDiscussionsUnresolved(t *testing.T) {
	f := newFixture(t)
	reviewID := f.markReviewed(t, alice)
	f.addDiscussion(t, review.StateNeedsResolution, reviewID)

	status, err := f.actions.CommitStatusFor(context.Background(), testReview)
	require.NoError(t, err)

	assert.Equal(t, models.CommitStatusPending, status.State)
	assert.Contains(t, status.Description, "1 discussions unresolved")
}

func TestUpdateCommitStatusPushesToHost(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.actions.UpdateCommitStatus(context.Background(), testReview))

	require.Len(t, f.host.statuses, 1)
	assert.Equal(t, commitStatusName, f.host.statuses[0].Name)
}

func TestPostReviewSummaryNote(t *testing.T) {
	f := newFixture(t)
	f.markReviewed(t, alice)

	require.NoError(t, f.actions.PostReviewSummary(context.Background(), testReview, alice))

	require.Len(t, f.host.notes, 1)
	note := f.host.notes[0]
	assert.Contains(t, note, "Alice posted review on this merge request.")
	assert.Contains(t, note, "1 files reviewed in latest version, 0 yet to review.")
	assert.Contains(t, note, "0 unresolved discussions")
	assert.Contains(t, note, "https://deck.example.com/project/7/review/13")
}

func TestUserVoteSkipsMergeRequestAuthor(t *testing.T) {
	f := newFixture(t)
	author := models.ReviewUser{ID: 99, UserName: "author"}

	require.NoError(t, f.actions.PublishUserVote(context.Background(), testReview, author))

	assert.Empty(t, f.host.added)
	assert.Empty(t, f.host.removedIDs)
}

func TestUserVoteThumbsUpWhenAllReviewed(t *testing.T) {
	f := newFixture(t)
	f.markReviewed(t, alice)
	f.host.awards = []models.AwardEmoji{
		{ID: 5, Name: models.EmojiThumbsDown, User: models.UserInfo{Username: "alice"}},
	}

	require.NoError(t, f.actions.PublishUserVote(context.Background(), testReview, alice))

	assert.Equal(t, []models.EmojiType{models.EmojiThumbsUp}, f.host.added)
	assert.Equal(t, []int{5}, f.host.removedIDs, "stale thumbs down is withdrawn")
}

func TestUserVoteThumbsDownWhenOwnDiscussionUnresolved(t *testing.T) {
	f := newFixture(t)
	reviewID := f.markReviewed(t, alice)
	f.addDiscussion(t, review.StateNeedsResolution, reviewID)

	require.NoError(t, f.actions.PublishUserVote(context.Background(), testReview, alice))

	assert.Equal(t, []models.EmojiType{models.EmojiThumbsDown}, f.host.added)
}

func TestUserVoteIgnoresOtherUsersUnresolvedDiscussions(t *testing.T) {
	f := newFixture(t)
	f.markReviewed(t, alice)
	bobReviewID := f.markReviewed(t, bob)
	f.addDiscussion(t, review.StateNeedsResolution, bobReviewID)

	require.NoError(t, f.actions.PublishUserVote(context.Background(), testReview, alice))

	assert.Equal(t, []models.EmojiType{models.EmojiThumbsUp}, f.host.added,
		"bob's open discussion does not block alice's thumbs up")
}

func TestUserVoteClearedWhenNothingReviewed(t *testing.T) {
	f := newFixture(t)
	f.host.awards = []models.AwardEmoji{
		{ID: 3, Name: models.EmojiThumbsUp, User: models.UserInfo{Username: "alice"}},
		{ID: 4, Name: models.EmojiThumbsDown, User: models.UserInfo{Username: "bob"}},
	}

	require.NoError(t, f.actions.PublishUserVote(context.Background(), testReview, alice))

	assert.Empty(t, f.host.added)
	assert.Equal(t, []int{3}, f.host.removedIDs, "only alice's own award is removed")
}

func TestSummaryCountsExistingAwardVoteIdempotent(t *testing.T) {
	f := newFixture(t)
	f.markReviewed(t, alice)
	f.host.awards = []models.AwardEmoji{
		{ID: 8, Name: models.EmojiThumbsUp, User: models.UserInfo{Username: "alice"}},
	}

	require.NoError(t, f.actions.PublishUserVote(context.Background(), testReview, alice))

	assert.Empty(t, f.host.added, "thumbs up already present, nothing to add")
	assert.Empty(t, f.host.removedIDs)
}
