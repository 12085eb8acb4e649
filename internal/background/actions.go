// Package background holds the actions that run after a review is
// published: pushing a commit status to the host, posting a summary note on
// the merge request, and placing the reviewer's vote emoji.
package background

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/reviewdeck/internal/host"
	"github.com/reviewdeck/internal/matrix"
	"github.com/reviewdeck/internal/review"
	"github.com/reviewdeck/pkg/models"
)

const commitStatusName = "Code review (reviewdeck)"

// Actions bundles the post-publish consumers. Each method is independent
// and safe to retry.
type Actions struct {
	store    review.Store
	host     host.Host
	builder  *matrix.Builder
	siteBase string
}

func NewActions(store review.Store, h host.Host, siteBase string) *Actions {
	return &Actions{
		store:    store,
		host:     h,
		builder:  matrix.NewBuilder(store, h),
		siteBase: strings.TrimSuffix(siteBase, "/"),
	}
}

type reviewSummary struct {
	matrix      *matrix.Matrix
	discussions []*review.Discussion
	unresolved  int
	goodWork    int
	headCommit  string
}

func (a *Actions) summarize(ctx context.Context, reviewID models.ReviewIdentifier) (*reviewSummary, error) {
	m, err := a.builder.Build(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	discussions, err := a.store.DiscussionsForReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	mr, err := a.host.GetMergeRequest(ctx, reviewID.ProjectID, reviewID.ReviewID)
	if err != nil {
		return nil, err
	}

	s := &reviewSummary{
		matrix:      m,
		discussions: discussions,
		headCommit:  mr.HeadCommit,
	}
	for _, d := range discussions {
		switch d.State {
		case review.StateNeedsResolution:
			s.unresolved++
		case review.StateGoodWork:
			s.goodWork++
		}
	}
	return s, nil
}

func (a *Actions) reviewURL(reviewID models.ReviewIdentifier) string {
	return fmt.Sprintf("%s/project/%d/review/%d", a.siteBase, reviewID.ProjectID, reviewID.ReviewID)
}

// CommitStatusFor computes the status pushed to the head commit: success
// when every file is reviewed at the latest revision and no discussion
// needs resolution, pending otherwise.
func (a *Actions) CommitStatusFor(ctx context.Context, reviewID models.ReviewIdentifier) (models.CommitStatus, error) {
	summary, err := a.summarize(ctx, reviewID)
	if err != nil {
		return models.CommitStatus{}, err
	}

	reviewed, unreviewed := summary.matrix.CalculateStatistics()

	ok := true
	var reasons []string

	if reviewed > 0 {
		reasons = append(reasons, fmt.Sprintf("%d files reviewed at latest revision", reviewed))
	}
	if unreviewed > 0 {
		ok = false
		reasons = append(reasons, fmt.Sprintf("%d files not reviewed", unreviewed))
	}
	if summary.unresolved > 0 {
		ok = false
		reasons = append(reasons, fmt.Sprintf("%d discussions unresolved", summary.unresolved))
	}
	if summary.goodWork > 0 {
		reasons = append(reasons, fmt.Sprintf("%d potatoes for good work", summary.goodWork))
	}

	state := models.CommitStatusPending
	if ok {
		state = models.CommitStatusSuccess
	}

	return models.CommitStatus{
		Commit:      summary.headCommit,
		Name:        commitStatusName,
		State:       state,
		Description: strings.Join(reasons, ", "),
		TargetURL:   a.reviewURL(reviewID),
	}, nil
}

// UpdateCommitStatus pushes the computed status to the host.
func (a *Actions) UpdateCommitStatus(ctx context.Context, reviewID models.ReviewIdentifier) error {
	status, err := a.CommitStatusFor(ctx, reviewID)
	if err != nil {
		return err
	}

	log.Debug().
		Str("review", reviewID.String()).
		Str("state", string(status.State)).
		Msg("updating commit status")

	return a.host.SetCommitStatus(ctx, reviewID.ProjectID, status)
}

// PostReviewSummary posts a merge request note describing the review's
// progress after a publish.
func (a *Actions) PostReviewSummary(ctx context.Context, reviewID models.ReviewIdentifier, user models.ReviewUser) error {
	summary, err := a.summarize(ctx, reviewID)
	if err != nil {
		return err
	}

	reviewed, unreviewed := summary.matrix.CalculateStatistics()

	name := user.Name
	if name == "" {
		name = user.UserName
	}

	body := fmt.Sprintf(
		"%s posted review on this merge request.\n\n%d files reviewed in latest version, %d yet to review.\n\n%d unresolved discussions\n\nSee full review [here](%s)",
		name, reviewed, unreviewed, summary.unresolved, a.reviewURL(reviewID))

	return a.host.CreateNote(ctx, reviewID.ProjectID, reviewID.ReviewID, body)
}

// PublishUserVote places or clears the reviewer's thumb emoji on the merge
// request. The merge request author never votes on their own changes.
func (a *Actions) PublishUserVote(ctx context.Context, reviewID models.ReviewIdentifier, user models.ReviewUser) error {
	mr, err := a.host.GetMergeRequest(ctx, reviewID.ProjectID, reviewID.ReviewID)
	if err != nil {
		return err
	}
	if mr.Author.Username == user.UserName {
		return nil
	}

	toAdd, toRemove, err := a.voteFor(ctx, reviewID, user)
	if err != nil {
		return err
	}

	awards, err := a.host.GetAwardEmojis(ctx, reviewID.ProjectID, reviewID.ReviewID)
	if err != nil {
		return err
	}

	mine := map[models.EmojiType]int{}
	for _, award := range awards {
		if award.User.Username == user.UserName {
			mine[award.Name] = award.ID
		}
	}

	for _, emoji := range toRemove {
		id, ok := mine[emoji]
		if !ok {
			continue
		}
		if err := a.host.RemoveAwardEmoji(ctx, reviewID.ProjectID, reviewID.ReviewID, id); err != nil {
			return err
		}
	}

	for _, emoji := range toAdd {
		if _, ok := mine[emoji]; ok {
			continue
		}
		if err := a.host.AddAwardEmoji(ctx, reviewID.ProjectID, reviewID.ReviewID, emoji); err != nil {
			return err
		}
	}
	return nil
}

// voteFor decides the thumb: no vote while the user reviewed nothing,
// thumbs up when they reviewed everything and none of their discussions
// awaits resolution, thumbs down otherwise.
func (a *Actions) voteFor(ctx context.Context, reviewID models.ReviewIdentifier, user models.ReviewUser) (toAdd, toRemove []models.EmojiType, err error) {
	summary, err := a.summarize(ctx, reviewID)
	if err != nil {
		return nil, nil, err
	}

	reviewedByUser, unreviewedByUser := summary.matrix.CalculateUserStatistics(user.UserName)
	if reviewedByUser == 0 {
		return nil, []models.EmojiType{models.EmojiThumbsUp, models.EmojiThumbsDown}, nil
	}

	myUnresolved, err := a.countUnresolvedBy(ctx, reviewID, user, summary.discussions)
	if err != nil {
		return nil, nil, err
	}

	allGood := unreviewedByUser == 0 && myUnresolved == 0
	if allGood {
		return []models.EmojiType{models.EmojiThumbsUp}, []models.EmojiType{models.EmojiThumbsDown}, nil
	}
	return []models.EmojiType{models.EmojiThumbsDown}, []models.EmojiType{models.EmojiThumbsUp}, nil
}

// countUnresolvedBy counts NeedsResolution discussions whose root comment
// the user posted, identified through the user's own review records.
func (a *Actions) countUnresolvedBy(ctx context.Context, reviewID models.ReviewIdentifier, user models.ReviewUser, discussions []*review.Discussion) (int, error) {
	reviews, err := a.store.ReviewsForUser(ctx, reviewID, user.ID)
	if err != nil {
		return 0, err
	}

	mine := map[string]bool{}
	for _, r := range reviews {
		mine[r.ID.String()] = true
	}

	count := 0
	for _, d := range discussions {
		if d.State != review.StateNeedsResolution || d.RootComment == nil {
			continue
		}
		if mine[d.RootComment.PostedInReviewID.String()] {
			count++
		}
	}
	return count, nil
}
