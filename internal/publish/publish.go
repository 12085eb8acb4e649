// Package publish implements the review publish pipeline: one transaction
// that records a revision, the reviewer's state, new discussions, replies
// and per-file review marks, then announces the publish on the event bus.
package publish

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reviewdeck/internal/events"
	"github.com/reviewdeck/internal/host"
	"github.com/reviewdeck/internal/review"
	"github.com/reviewdeck/internal/revision"
	"github.com/reviewdeck/pkg/models"
)

// RevisionCommits is the client's current (base, head) pair.
type RevisionCommits struct {
	Base string `json:"base"`
	Head string `json:"head"`
}

// NewReviewDiscussion is a draft discussion on a whole revision.
type NewReviewDiscussion struct {
	TemporaryID     string              `json:"temporary_id"`
	Content         string              `json:"content"`
	NeedsResolution bool                `json:"needs_resolution"`
	TargetRevision  revision.RevisionId `json:"target_revision"`
}

// NewFileDiscussion is a draft discussion anchored to a file line.
type NewFileDiscussion struct {
	TemporaryID    string                `json:"temporary_id"`
	FileID         revision.ClientFileId `json:"file_id"`
	LineNumber     int                   `json:"line_number"`
	State          review.DiscussionState `json:"state"`
	Content        string                `json:"content"`
	TargetRevision revision.RevisionId   `json:"target_revision"`
}

// Reply is a draft comment under an existing or just-published comment.
// ParentID is either a real comment id or another draft's temporary id.
type Reply struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Content  string `json:"content"`
}

// Command is one publish request.
type Command struct {
	ReviewID                 models.ReviewIdentifier
	Revision                 RevisionCommits
	StartedReviewDiscussions []NewReviewDiscussion
	StartedFileDiscussions   []NewFileDiscussion
	ResolvedDiscussions      []string
	Replies                  []Reply
	ReviewedFiles            map[revision.RevisionId][]revision.ClientFileId
	UnreviewedFiles          map[revision.RevisionId][]revision.ClientFileId
}

// UnresolvableFileReferenceError reports a client file reference that maps
// to no file known at the target revision. Always fatal for the whole
// publish.
type UnresolvableFileReferenceError struct {
	FileID revision.ClientFileId
}

func (e *UnresolvableFileReferenceError) Error() string {
	return fmt.Sprintf("file reference %q cannot be resolved to a known file", e.FileID.String())
}

// Publisher runs publish commands.
type Publisher struct {
	store review.Store
	host  host.Host
	bus   events.Bus
}

func NewPublisher(store review.Store, h host.Host, bus events.Bus) *Publisher {
	return &Publisher{store: store, host: h, bus: bus}
}

// Publish applies cmd for user inside a single transaction and emits
// ReviewPublishedEvent after the transaction commits. Any failure past
// revision creation rolls the whole publish back.
func (p *Publisher) Publish(ctx context.Context, user *models.ReviewUser, cmd *Command) error {
	err := p.store.InTransaction(ctx, func(ctx context.Context, tx review.Store) error {
		return p.publishInTx(ctx, tx, user, cmd)
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("review", cmd.ReviewID.String()).
		Str("user", user.UserName).
		Msg("review published")

	return p.bus.Publish(ctx, events.ReviewPublishedEvent{ReviewID: cmd.ReviewID, PublishedBy: *user})
}

func (p *Publisher) publishInTx(ctx context.Context, tx review.Store, user *models.ReviewUser, cmd *Command) error {
	// The publishing user may not have a row yet; everything keyed by
	// user id depends on one existing.
	if err := tx.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}

	factory := review.NewFactory(tx, p.host)

	headRevision, fileMap, err := factory.FindOrCreateRevision(ctx, cmd.ReviewID, cmd.Revision.Base, cmd.Revision.Head)
	if err != nil {
		return err
	}

	headReview, err := p.findOrCreateReview(ctx, tx, headRevision.ID, user)
	if err != nil {
		return err
	}

	reviewFor, err := p.reviewResolver(ctx, tx, cmd, user, headRevision, headReview)
	if err != nil {
		return err
	}

	resolveFile := func(id revision.ClientFileId) (review.FileEntry, error) {
		if entry, ok := fileMap[id]; ok {
			return entry, nil
		}
		return review.FileEntry{}, &UnresolvableFileReferenceError{FileID: id}
	}

	newComments := map[string]uuid.UUID{}
	newDiscussions := map[string]uuid.UUID{}

	if err := p.publishReviewDiscussions(ctx, tx, cmd.StartedReviewDiscussions, reviewFor, newComments, newDiscussions); err != nil {
		return err
	}
	if err := p.publishFileDiscussions(ctx, tx, cmd.StartedFileDiscussions, reviewFor, resolveFile, newComments, newDiscussions); err != nil {
		return err
	}
	if err := p.resolveDiscussions(ctx, tx, cmd.ResolvedDiscussions, newDiscussions); err != nil {
		return err
	}
	if err := p.publishReplies(ctx, tx, cmd.Replies, headReview, newComments); err != nil {
		return err
	}
	if err := p.markFiles(ctx, tx, cmd, reviewFor, resolveFile); err != nil {
		return err
	}

	return nil
}

func (p *Publisher) findOrCreateReview(ctx context.Context, tx review.Store, revisionID uuid.UUID, user *models.ReviewUser) (*review.Review, error) {
	r, err := tx.GetReview(ctx, revisionID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("look up review: %w", err)
	}
	if r == nil {
		r = &review.Review{
			ID:         uuid.New(),
			RevisionID: revisionID,
			UserID:     user.ID,
		}
	}

	r.ReviewedAt = time.Now().UTC()
	if err := tx.SaveReview(ctx, r); err != nil {
		return nil, fmt.Errorf("save review: %w", err)
	}
	return r, nil
}

type findReviewFunc func(revision.RevisionId) (*review.Review, error)

// reviewResolver returns a lookup over the user's Review rows keyed by
// RevisionId. Discussions and marks may target any past revision, so a
// Review row is created lazily the first time an older revision is hit.
func (p *Publisher) reviewResolver(ctx context.Context, tx review.Store, cmd *Command, user *models.ReviewUser, headRevision *review.ReviewRevision, headReview *review.Review) (findReviewFunc, error) {
	existing, err := tx.ReviewsForUser(ctx, cmd.ReviewID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load user reviews: %w", err)
	}

	reviews := map[revision.RevisionId]*review.Review{}
	for number, r := range existing {
		reviews[revision.Selected(number)] = r
	}
	reviews[revision.Selected(headRevision.RevisionNumber)] = headReview
	reviews[revision.Hash(cmd.Revision.Head)] = headReview

	return func(revID revision.RevisionId) (*review.Review, error) {
		if r, ok := reviews[revID]; ok {
			return r, nil
		}
		if !revID.IsSelected() {
			return nil, fmt.Errorf("no review exists for revision %s", revID)
		}

		rev, err := tx.GetRevisionByNumber(ctx, cmd.ReviewID, revID.Number())
		if err != nil {
			return nil, fmt.Errorf("load revision %s: %w", revID, err)
		}
		if rev == nil {
			return nil, fmt.Errorf("revision %s does not exist in %s", revID, cmd.ReviewID)
		}

		r := &review.Review{
			ID:         uuid.New(),
			RevisionID: rev.ID,
			UserID:     user.ID,
			ReviewedAt: time.Now().UTC(),
		}
		if err := tx.SaveReview(ctx, r); err != nil {
			return nil, fmt.Errorf("save review for %s: %w", revID, err)
		}
		reviews[revID] = r
		return r, nil
	}, nil
}

func (p *Publisher) publishReviewDiscussions(ctx context.Context, tx review.Store, discussions []NewReviewDiscussion, reviewFor findReviewFunc, newComments, newDiscussions map[string]uuid.UUID) error {
	for _, d := range discussions {
		commentID := uuid.New()
		discussionID := uuid.New()
		newComments[d.TemporaryID] = commentID
		newDiscussions[d.TemporaryID] = discussionID

		r, err := reviewFor(d.TargetRevision)
		if err != nil {
			return err
		}

		state := review.StateNoActionNeeded
		if d.NeedsResolution {
			state = review.StateNeedsResolution
		}

		err = tx.SaveReviewDiscussion(ctx, &review.ReviewDiscussion{
			Discussion: review.Discussion{
				ID:         discussionID,
				RevisionID: r.RevisionID,
				State:      state,
				RootComment: &review.Comment{
					ID:               commentID,
					PostedInReviewID: r.ID,
					Content:          d.Content,
					CreatedAt:        time.Now().UTC(),
				},
			},
		})
		if err != nil {
			return fmt.Errorf("save review discussion: %w", err)
		}
	}
	return nil
}

func (p *Publisher) publishFileDiscussions(ctx context.Context, tx review.Store, discussions []NewFileDiscussion, reviewFor findReviewFunc, resolveFile func(revision.ClientFileId) (review.FileEntry, error), newComments, newDiscussions map[string]uuid.UUID) error {
	for _, d := range discussions {
		commentID := uuid.New()
		discussionID := uuid.New()
		newComments[d.TemporaryID] = commentID
		newDiscussions[d.TemporaryID] = discussionID

		r, err := reviewFor(d.TargetRevision)
		if err != nil {
			return err
		}

		entry, err := resolveFile(d.FileID)
		if err != nil {
			return err
		}

		file, err := p.filePathAtRevision(ctx, tx, entry, r.RevisionID)
		if err != nil {
			return err
		}

		err = tx.SaveFileDiscussion(ctx, &review.FileDiscussion{
			Discussion: review.Discussion{
				ID:         discussionID,
				RevisionID: r.RevisionID,
				State:      d.State,
				RootComment: &review.Comment{
					ID:               commentID,
					PostedInReviewID: r.ID,
					Content:          d.Content,
					CreatedAt:        time.Now().UTC(),
				},
			},
			FileID:     entry.ID,
			File:       file,
			LineNumber: d.LineNumber,
		})
		if err != nil {
			return fmt.Errorf("save file discussion: %w", err)
		}
	}
	return nil
}

// filePathAtRevision reconstructs a file's (old, new) pair at a revision
// from the ledger: the name at the previous revision when one exists, the
// current name otherwise.
func (p *Publisher) filePathAtRevision(ctx context.Context, tx review.Store, entry review.FileEntry, revisionID uuid.UUID) (models.PathPair, error) {
	current, err := tx.FileHistoryEntryAt(ctx, entry.ID, revisionID)
	if err != nil {
		return models.PathPair{}, fmt.Errorf("load file history: %w", err)
	}
	if current == nil {
		// No ledger row at this revision: the file was untouched there.
		return models.MakePath(entry.Name), nil
	}

	oldName := current.FileName
	if prev, err := p.previousEntry(ctx, tx, entry.ID, revisionID); err != nil {
		return models.PathPair{}, err
	} else if prev != nil {
		oldName = prev.FileName
	}
	return models.MakePathPair(oldName, current.FileName), nil
}

func (p *Publisher) previousEntry(ctx context.Context, tx review.Store, fileID, revisionID uuid.UUID) (*review.FileHistoryEntry, error) {
	rev, err := tx.GetRevisionByID(ctx, revisionID)
	if err != nil || rev == nil {
		return nil, err
	}
	prev, err := tx.GetRevisionByNumber(ctx, rev.ReviewID, rev.RevisionNumber-1)
	if err != nil || prev == nil {
		return nil, err
	}
	return tx.FileHistoryEntryAt(ctx, fileID, prev.ID)
}

func (p *Publisher) resolveDiscussions(ctx context.Context, tx review.Store, resolved []string, newDiscussions map[string]uuid.UUID) error {
	for _, raw := range resolved {
		id, ok := newDiscussions[raw]
		if !ok {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("resolved discussion id %q: %w", raw, err)
			}
			id = parsed
		}
		if err := tx.SetDiscussionState(ctx, id, review.StateResolved); err != nil {
			return fmt.Errorf("resolve discussion %s: %w", id, err)
		}
	}
	return nil
}

// tempReplyPrefix marks client-generated reply ids that do not exist
// server-side yet.
const tempReplyPrefix = "REPLY-"

// publishReplies persists replies as a worklist: an item is ready once its
// parent id is a real comment id (directly, or via the temp-id map filled
// by the discussion publishers). Persisting an item rewrites its children's
// parent references, so arbitrarily deep draft chains drain in rounds.
// Items whose parent never materializes are dropped.
func (p *Publisher) publishReplies(ctx context.Context, tx review.Store, replies []Reply, headReview *review.Review, newComments map[string]uuid.UUID) error {
	pending := make([]*Reply, len(replies))
	for i := range replies {
		item := replies[i]
		pending[i] = &item
	}

	for {
		var ready []*Reply
		for _, item := range pending {
			if item != nil && !isTempReplyID(item.ParentID) {
				ready = append(ready, item)
			}
		}
		if len(ready) == 0 {
			return nil
		}

		for _, item := range ready {
			id := uuid.New()

			parentID, ok := newComments[item.ParentID]
			if !ok {
				parsed, err := uuid.Parse(item.ParentID)
				if err != nil {
					return fmt.Errorf("reply parent id %q: %w", item.ParentID, err)
				}
				parentID = parsed
			}

			err := tx.SaveComment(ctx, &review.Comment{
				ID:               id,
				ParentID:         &parentID,
				PostedInReviewID: headReview.ID,
				Content:          item.Content,
				CreatedAt:        time.Now().UTC(),
			})
			if err != nil {
				return fmt.Errorf("save reply: %w", err)
			}

			for _, child := range pending {
				if child != nil && child.ParentID == item.ID {
					child.ParentID = id.String()
				}
			}

			for i, it := range pending {
				if it == item {
					pending[i] = nil
				}
			}
		}
	}
}

func isTempReplyID(id string) bool {
	return len(id) >= len(tempReplyPrefix) && id[:len(tempReplyPrefix)] == tempReplyPrefix
}

// markFiles applies reviewed and unreviewed marks, each against the Review
// row of the revision it targets. Marks never touch other revisions; carry
// forward across unchanged revisions is a read-time computation.
func (p *Publisher) markFiles(ctx context.Context, tx review.Store, cmd *Command, reviewFor findReviewFunc, resolveFile func(revision.ClientFileId) (review.FileEntry, error)) error {
	for _, revID := range sortedRevisionKeys(cmd.ReviewedFiles) {
		r, err := reviewFor(revID)
		if err != nil {
			return err
		}

		changed := false
		for _, clientID := range cmd.ReviewedFiles[revID] {
			entry, err := resolveFile(clientID)
			if err != nil {
				return err
			}
			if hasFileReview(r, entry.ID) {
				continue
			}
			file, err := p.filePathAtRevision(ctx, tx, entry, r.RevisionID)
			if err != nil {
				return err
			}
			r.Files = append(r.Files, review.FileReview{
				FileID: entry.ID,
				File:   file,
				Status: review.FileReviewed,
			})
			changed = true
		}
		if changed {
			if err := tx.SaveReview(ctx, r); err != nil {
				return fmt.Errorf("save reviewed marks: %w", err)
			}
		}
	}

	for _, revID := range sortedRevisionKeys(cmd.UnreviewedFiles) {
		r, err := reviewFor(revID)
		if err != nil {
			return err
		}

		remove := map[uuid.UUID]bool{}
		for _, clientID := range cmd.UnreviewedFiles[revID] {
			entry, err := resolveFile(clientID)
			if err != nil {
				return err
			}
			remove[entry.ID] = true
		}

		var kept []review.FileReview
		for _, f := range r.Files {
			if !remove[f.FileID] {
				kept = append(kept, f)
			}
		}
		if len(kept) != len(r.Files) {
			r.Files = kept
			if err := tx.SaveReview(ctx, r); err != nil {
				return fmt.Errorf("save unreviewed marks: %w", err)
			}
		}
	}

	return nil
}

func hasFileReview(r *review.Review, fileID uuid.UUID) bool {
	for _, f := range r.Files {
		if f.FileID == fileID {
			return true
		}
	}
	return false
}

func sortedRevisionKeys(m map[revision.RevisionId][]revision.ClientFileId) []revision.RevisionId {
	keys := make([]revision.RevisionId, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}
