package review

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/reviewdeck/pkg/models"
)

// ErrConcurrencyConflict reports an optimistic-concurrency version mismatch
// on save. Retryable by resubmission, never retried internally.
var ErrConcurrencyConflict = errors.New("concurrent modification detected")

// Store is the persistence contract for review entities. Lookups that find
// nothing return (nil, nil); errors are reserved for storage failures.
// Implementations must honor the version token on revisions, reviews and
// discussions, failing saves with ErrConcurrencyConflict on mismatch.
type Store interface {
	// InTransaction runs fn against a transactional view of the store.
	// Any error from fn rolls the transaction back.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	GetRevisionByCommits(ctx context.Context, reviewID models.ReviewIdentifier, baseCommit, headCommit string) (*ReviewRevision, error)
	GetRevisionByNumber(ctx context.Context, reviewID models.ReviewIdentifier, number int) (*ReviewRevision, error)
	GetRevisionByID(ctx context.Context, id uuid.UUID) (*ReviewRevision, error)
	// Revisions returns all revisions of a review ordered by ascending
	// revision number.
	Revisions(ctx context.Context, reviewID models.ReviewIdentifier) ([]*ReviewRevision, error)
	NextRevisionNumber(ctx context.Context, reviewID models.ReviewIdentifier) (int, error)
	SaveRevision(ctx context.Context, rev *ReviewRevision) error

	SaveFileHistoryEntry(ctx context.Context, entry *FileHistoryEntry) error
	FileHistoryForRevision(ctx context.Context, revisionID uuid.UUID) ([]*FileHistoryEntry, error)
	FileHistoryForReview(ctx context.Context, reviewID models.ReviewIdentifier) ([]*FileHistoryEntry, error)
	// FileIDsAtRevision maps current file name to durable file id as of the
	// given revision. A nil revision id means "before the first revision"
	// and yields an empty map.
	FileIDsAtRevision(ctx context.Context, revisionID *uuid.UUID) (map[string]uuid.UUID, error)
	// FileHistoryEntryAt finds the ledger row for a file at a revision, nil
	// when the file has no row there.
	FileHistoryEntryAt(ctx context.Context, fileID uuid.UUID, revisionID uuid.UUID) (*FileHistoryEntry, error)

	GetReview(ctx context.Context, revisionID uuid.UUID, userID int) (*Review, error)
	// ReviewsForUser returns the user's reviews across all revisions of a
	// review, keyed by revision number.
	ReviewsForUser(ctx context.Context, reviewID models.ReviewIdentifier, userID int) (map[int]*Review, error)
	// ReviewedFiles returns every (revision, file, reviewer) reviewed mark
	// recorded for a review.
	ReviewedFiles(ctx context.Context, reviewID models.ReviewIdentifier) ([]ReviewedFileRecord, error)
	SaveReview(ctx context.Context, r *Review) error

	SaveReviewDiscussion(ctx context.Context, d *ReviewDiscussion) error
	SaveFileDiscussion(ctx context.Context, d *FileDiscussion) error
	SaveComment(ctx context.Context, c *Comment) error
	// SetDiscussionState updates a discussion's state; unknown ids are
	// silently skipped.
	SetDiscussionState(ctx context.Context, id uuid.UUID, state DiscussionState) error
	DiscussionsForReview(ctx context.Context, reviewID models.ReviewIdentifier) ([]*Discussion, error)

	GetUser(ctx context.Context, id int) (*models.ReviewUser, error)
	SaveUser(ctx context.Context, user *models.ReviewUser) error
}
