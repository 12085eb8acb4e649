package review

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/reviewdeck/pkg/models"
)

// MemoryStore is an in-memory Store used by tests and by the demo commands.
// It applies the same uniqueness rules as the SQL store but performs no
// real transaction isolation: InTransaction simply runs fn against the
// store itself.
type MemoryStore struct {
	mu sync.Mutex

	revisions         []*ReviewRevision
	fileHistory       []*FileHistoryEntry
	reviews           map[uuid.UUID]map[int]*Review // revision id -> user id
	reviewDiscussions []*ReviewDiscussion
	fileDiscussions   []*FileDiscussion
	comments          []*Comment
	discussionsByID   map[uuid.UUID]*Discussion
	users             map[int]*models.ReviewUser
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reviews:         map[uuid.UUID]map[int]*Review{},
		discussionsByID: map[uuid.UUID]*Discussion{},
		users:           map[int]*models.ReviewUser{},
	}
}

func (s *MemoryStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, s)
}

func (s *MemoryStore) GetRevisionByCommits(ctx context.Context, reviewID models.ReviewIdentifier, baseCommit, headCommit string) (*ReviewRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rev := range s.revisions {
		if rev.ReviewID == reviewID && rev.BaseCommit == baseCommit && rev.HeadCommit == headCommit {
			return rev, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetRevisionByNumber(ctx context.Context, reviewID models.ReviewIdentifier, number int) (*ReviewRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rev := range s.revisions {
		if rev.ReviewID == reviewID && rev.RevisionNumber == number {
			return rev, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetRevisionByID(ctx context.Context, id uuid.UUID) (*ReviewRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findRevision(id), nil
}

func (s *MemoryStore) findRevision(id uuid.UUID) *ReviewRevision {
	for _, rev := range s.revisions {
		if rev.ID == id {
			return rev
		}
	}
	return nil
}

func (s *MemoryStore) Revisions(ctx context.Context, reviewID models.ReviewIdentifier) ([]*ReviewRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ReviewRevision
	for _, rev := range s.revisions {
		if rev.ReviewID == reviewID {
			out = append(out, rev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RevisionNumber < out[j].RevisionNumber })
	return out, nil
}

func (s *MemoryStore) NextRevisionNumber(ctx context.Context, reviewID models.ReviewIdentifier) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, rev := range s.revisions {
		if rev.ReviewID == reviewID && rev.RevisionNumber > max {
			max = rev.RevisionNumber
		}
	}
	return max + 1, nil
}

func (s *MemoryStore) SaveRevision(ctx context.Context, rev *ReviewRevision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.findRevision(rev.ID); existing != nil {
		return nil
	}
	s.revisions = append(s.revisions, rev)
	return nil
}

func (s *MemoryStore) SaveFileHistoryEntry(ctx context.Context, entry *FileHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileHistory = append(s.fileHistory, entry)
	return nil
}

func (s *MemoryStore) FileHistoryForRevision(ctx context.Context, revisionID uuid.UUID) ([]*FileHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*FileHistoryEntry
	for _, e := range s.fileHistory {
		if e.RevisionID != nil && *e.RevisionID == revisionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) FileHistoryForReview(ctx context.Context, reviewID models.ReviewIdentifier) ([]*FileHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*FileHistoryEntry
	for _, e := range s.fileHistory {
		if e.ReviewID == reviewID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) FileIDsAtRevision(ctx context.Context, revisionID *uuid.UUID) (map[string]uuid.UUID, error) {
	out := map[string]uuid.UUID{}
	if revisionID == nil {
		return out, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.fileHistory {
		if e.RevisionID != nil && *e.RevisionID == *revisionID {
			out[e.FileName] = e.FileID
		}
	}
	return out, nil
}

func (s *MemoryStore) FileHistoryEntryAt(ctx context.Context, fileID uuid.UUID, revisionID uuid.UUID) (*FileHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.fileHistory {
		if e.FileID == fileID && e.RevisionID != nil && *e.RevisionID == revisionID {
			return e, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetReview(ctx context.Context, revisionID uuid.UUID, userID int) (*Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reviews[revisionID][userID], nil
}

func (s *MemoryStore) ReviewsForUser(ctx context.Context, reviewID models.ReviewIdentifier, userID int) (map[int]*Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int]*Review{}
	for _, rev := range s.revisions {
		if rev.ReviewID != reviewID {
			continue
		}
		if r, ok := s.reviews[rev.ID][userID]; ok {
			out[rev.RevisionNumber] = r
		}
	}
	return out, nil
}

func (s *MemoryStore) ReviewedFiles(ctx context.Context, reviewID models.ReviewIdentifier) ([]ReviewedFileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ReviewedFileRecord
	for _, rev := range s.revisions {
		if rev.ReviewID != reviewID {
			continue
		}
		for userID, r := range s.reviews[rev.ID] {
			user := s.users[userID]
			for _, f := range r.Files {
				if f.Status != FileReviewed {
					continue
				}
				rec := ReviewedFileRecord{RevisionNumber: rev.RevisionNumber, FileID: f.FileID}
				if user != nil {
					rec.Reviewer = user.UserName
				}
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveReview(ctx context.Context, r *Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.reviews[r.RevisionID]
	if !ok {
		byUser = map[int]*Review{}
		s.reviews[r.RevisionID] = byUser
	}
	byUser[r.UserID] = r
	return nil
}

func (s *MemoryStore) SaveReviewDiscussion(ctx context.Context, d *ReviewDiscussion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviewDiscussions = append(s.reviewDiscussions, d)
	s.discussionsByID[d.ID] = &d.Discussion
	return nil
}

func (s *MemoryStore) SaveFileDiscussion(ctx context.Context, d *FileDiscussion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileDiscussions = append(s.fileDiscussions, d)
	s.discussionsByID[d.ID] = &d.Discussion
	return nil
}

func (s *MemoryStore) SaveComment(ctx context.Context, c *Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = append(s.comments, c)
	return nil
}

func (s *MemoryStore) SetDiscussionState(ctx context.Context, id uuid.UUID, state DiscussionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.discussionsByID[id]; ok {
		d.State = state
	}
	return nil
}

func (s *MemoryStore) DiscussionsForReview(ctx context.Context, reviewID models.ReviewIdentifier) ([]*Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	revisionIDs := map[uuid.UUID]bool{}
	for _, rev := range s.revisions {
		if rev.ReviewID == reviewID {
			revisionIDs[rev.ID] = true
		}
	}
	var out []*Discussion
	for _, d := range s.reviewDiscussions {
		if revisionIDs[d.RevisionID] {
			out = append(out, &d.Discussion)
		}
	}
	for _, d := range s.fileDiscussions {
		if revisionIDs[d.RevisionID] {
			out = append(out, &d.Discussion)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id int) (*models.ReviewUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id], nil
}

func (s *MemoryStore) SaveUser(ctx context.Context, user *models.ReviewUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

// ReviewDiscussions returns all stored review-level discussions. Test helper.
func (s *MemoryStore) ReviewDiscussions() []*ReviewDiscussion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ReviewDiscussion(nil), s.reviewDiscussions...)
}

// FileDiscussions returns all stored file discussions. Test helper.
func (s *MemoryStore) FileDiscussions() []*FileDiscussion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*FileDiscussion(nil), s.fileDiscussions...)
}

// Comments returns all stored reply comments. Test helper.
func (s *MemoryStore) Comments() []*Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Comment(nil), s.comments...)
}

// FileHistory returns the full ledger. Test helper.
func (s *MemoryStore) FileHistory() []*FileHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*FileHistoryEntry(nil), s.fileHistory...)
}
