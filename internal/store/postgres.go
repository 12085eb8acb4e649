// Package store persists review entities in Postgres with hand-written SQL.
// Mutable entities carry a version column; every save checks and increments
// it, surfacing review.ErrConcurrencyConflict on a mismatch.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reviewdeck/internal/database"
	"github.com/reviewdeck/internal/review"
	"github.com/reviewdeck/pkg/models"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PgStore is the Postgres-backed review store.
type PgStore struct {
	db *sql.DB // nil inside a transaction
	q  querier
}

var _ review.Store = (*PgStore)(nil)

// New wraps an open database handle.
func New(db *sql.DB) *PgStore {
	return &PgStore{db: db, q: db}
}

// Open connects to Postgres and verifies the connection.
func Open(databaseURL string) (*PgStore, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// InTransaction runs fn against a transactional store view. Nested calls
// reuse the surrounding transaction.
func (s *PgStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx review.Store) error) error {
	if s.db == nil {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, &PgStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const revisionColumns = `id, project_id, review_iid, revision_number, base_commit, head_commit, last_updated_at, version`

func (s *PgStore) scanRevision(ctx context.Context, row *sql.Row) (*review.ReviewRevision, error) {
	var rev review.ReviewRevision
	err := row.Scan(&rev.ID, &rev.ReviewID.ProjectID, &rev.ReviewID.ReviewID, &rev.RevisionNumber,
		&rev.BaseCommit, &rev.HeadCommit, &rev.LastUpdatedAt, &rev.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan revision: %w", err)
	}

	if err := s.loadRevisionFiles(ctx, &rev); err != nil {
		return nil, err
	}
	return &rev, nil
}

func (s *PgStore) loadRevisionFiles(ctx context.Context, rev *review.ReviewRevision) error {
	rows, err := s.q.QueryContext(ctx, `
	SELECT id, old_path, new_path, is_new, is_renamed, is_deleted
	FROM revision_files
	WHERE revision_id = $1
	ORDER BY new_path
	`, rev.ID)
	if err != nil {
		return fmt.Errorf("load revision files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f review.RevisionFile
		if err := rows.Scan(&f.ID, &f.File.OldPath, &f.File.NewPath, &f.IsNew, &f.IsRenamed, &f.IsDeleted); err != nil {
			return fmt.Errorf("scan revision file: %w", err)
		}
		rev.Files = append(rev.Files, f)
	}
	return rows.Err()
}

func (s *PgStore) GetRevisionByCommits(ctx context.Context, reviewID models.ReviewIdentifier, baseCommit, headCommit string) (*review.ReviewRevision, error) {
	row := s.q.QueryRowContext(ctx, `
	SELECT `+revisionColumns+`
	FROM revisions
	WHERE project_id = $1 AND review_iid = $2 AND base_commit = $3 AND head_commit = $4
	`, reviewID.ProjectID, reviewID.ReviewID, baseCommit, headCommit)
	return s.scanRevision(ctx, row)
}

func (s *PgStore) GetRevisionByNumber(ctx context.Context, reviewID models.ReviewIdentifier, number int) (*review.ReviewRevision, error) {
	row := s.q.QueryRowContext(ctx, `
	SELECT `+revisionColumns+`
	FROM revisions
	WHERE project_id = $1 AND review_iid = $2 AND revision_number = $3
	`, reviewID.ProjectID, reviewID.ReviewID, number)
	return s.scanRevision(ctx, row)
}

func (s *PgStore) GetRevisionByID(ctx context.Context, id uuid.UUID) (*review.ReviewRevision, error) {
	row := s.q.QueryRowContext(ctx, `
	SELECT `+revisionColumns+`
	FROM revisions
	WHERE id = $1
	`, id)
	return s.scanRevision(ctx, row)
}

func (s *PgStore) Revisions(ctx context.Context, reviewID models.ReviewIdentifier) ([]*review.ReviewRevision, error) {
	rows, err := s.q.QueryContext(ctx, `
	SELECT `+revisionColumns+`
	FROM revisions
	WHERE project_id = $1 AND review_iid = $2
	ORDER BY revision_number
	`, reviewID.ProjectID, reviewID.ReviewID)
	if err != nil {
		return nil, fmt.Errorf("load revisions: %w", err)
	}
	defer rows.Close()

	var out []*review.ReviewRevision
	for rows.Next() {
		var rev review.ReviewRevision
		err := rows.Scan(&rev.ID, &rev.ReviewID.ProjectID, &rev.ReviewID.ReviewID, &rev.RevisionNumber,
			&rev.BaseCommit, &rev.HeadCommit, &rev.LastUpdatedAt, &rev.Version)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		out = append(out, &rev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rev := range out {
		if err := s.loadRevisionFiles(ctx, rev); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PgStore) NextRevisionNumber(ctx context.Context, reviewID models.ReviewIdentifier) (int, error) {
	var next int
	err := s.q.QueryRowContext(ctx, `
	SELECT COALESCE(MAX(revision_number), 0) + 1
	FROM revisions
	WHERE project_id = $1 AND review_iid = $2
	`, reviewID.ProjectID, reviewID.ReviewID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next revision number: %w", err)
	}
	return next, nil
}

func (s *PgStore) SaveRevision(ctx context.Context, rev *review.ReviewRevision) error {
	rev.LastUpdatedAt = time.Now().UTC()

	if rev.Version == 0 {
		_, err := s.q.ExecContext(ctx, `
		INSERT INTO revisions (id, project_id, review_iid, revision_number, base_commit, head_commit, last_updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		`, rev.ID, rev.ReviewID.ProjectID, rev.ReviewID.ReviewID, rev.RevisionNumber,
			rev.BaseCommit, rev.HeadCommit, rev.LastUpdatedAt)
		if err != nil {
			return fmt.Errorf("insert revision: %w", err)
		}
		rev.Version = 1
	} else {
		result, err := s.q.ExecContext(ctx, `
		UPDATE revisions
		SET base_commit = $2, head_commit = $3, last_updated_at = $4, version = version + 1
		WHERE id = $1 AND version = $5
		`, rev.ID, rev.BaseCommit, rev.HeadCommit, rev.LastUpdatedAt, rev.Version)
		if err != nil {
			return fmt.Errorf("update revision: %w", err)
		}
		if err := expectOneRow(result); err != nil {
			return err
		}
		rev.Version++
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM revision_files WHERE revision_id = $1`, rev.ID); err != nil {
		return fmt.Errorf("clear revision files: %w", err)
	}
	for _, f := range rev.Files {
		_, err := s.q.ExecContext(ctx, `
		INSERT INTO revision_files (id, revision_id, old_path, new_path, is_new, is_renamed, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, f.ID, rev.ID, f.File.OldPath, f.File.NewPath, f.IsNew, f.IsRenamed, f.IsDeleted)
		if err != nil {
			return fmt.Errorf("insert revision file: %w", err)
		}
	}
	return nil
}

func (s *PgStore) SaveFileHistoryEntry(ctx context.Context, entry *review.FileHistoryEntry) error {
	_, err := s.q.ExecContext(ctx, `
	INSERT INTO file_history (id, file_id, revision_id, project_id, review_iid, file_name, is_new, is_renamed, is_deleted, is_modified)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.FileID, entry.RevisionID, entry.ReviewID.ProjectID, entry.ReviewID.ReviewID,
		entry.FileName, entry.IsNew, entry.IsRenamed, entry.IsDeleted, entry.IsModified)
	if err != nil {
		return fmt.Errorf("insert file history entry: %w", err)
	}
	return nil
}

const fileHistoryColumns = `id, file_id, revision_id, project_id, review_iid, file_name, is_new, is_renamed, is_deleted, is_modified`

func scanFileHistory(rows *sql.Rows) ([]*review.FileHistoryEntry, error) {
	var out []*review.FileHistoryEntry
	for rows.Next() {
		var e review.FileHistoryEntry
		err := rows.Scan(&e.ID, &e.FileID, &e.RevisionID, &e.ReviewID.ProjectID, &e.ReviewID.ReviewID,
			&e.FileName, &e.IsNew, &e.IsRenamed, &e.IsDeleted, &e.IsModified)
		if err != nil {
			return nil, fmt.Errorf("scan file history entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PgStore) FileHistoryForRevision(ctx context.Context, revisionID uuid.UUID) ([]*review.FileHistoryEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
	SELECT `+fileHistoryColumns+`
	FROM file_history
	WHERE revision_id = $1
	ORDER BY file_name
	`, revisionID)
	if err != nil {
		return nil, fmt.Errorf("load file history: %w", err)
	}
	defer rows.Close()
	return scanFileHistory(rows)
}

func (s *PgStore) FileHistoryForReview(ctx context.Context, reviewID models.ReviewIdentifier) ([]*review.FileHistoryEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
	SELECT `+fileHistoryColumns+`
	FROM file_history
	WHERE project_id = $1 AND review_iid = $2
	ORDER BY file_id, revision_id NULLS FIRST
	`, reviewID.ProjectID, reviewID.ReviewID)
	if err != nil {
		return nil, fmt.Errorf("load file history: %w", err)
	}
	defer rows.Close()
	return scanFileHistory(rows)
}

func (s *PgStore) FileIDsAtRevision(ctx context.Context, revisionID *uuid.UUID) (map[string]uuid.UUID, error) {
	out := map[string]uuid.UUID{}
	if revisionID == nil {
		return out, nil
	}

	rows, err := s.q.QueryContext(ctx, `
	SELECT file_name, file_id
	FROM file_history
	WHERE revision_id = $1
	`, *revisionID)
	if err != nil {
		return nil, fmt.Errorf("load file ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var id uuid.UUID
		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("scan file id: %w", err)
		}
		out[name] = id
	}
	return out, rows.Err()
}

func (s *PgStore) FileHistoryEntryAt(ctx context.Context, fileID uuid.UUID, revisionID uuid.UUID) (*review.FileHistoryEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
	SELECT `+fileHistoryColumns+`
	FROM file_history
	WHERE file_id = $1 AND revision_id = $2
	`, fileID, revisionID)
	if err != nil {
		return nil, fmt.Errorf("load file history entry: %w", err)
	}
	defer rows.Close()

	entries, err := scanFileHistory(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func (s *PgStore) GetReview(ctx context.Context, revisionID uuid.UUID, userID int) (*review.Review, error) {
	row := s.q.QueryRowContext(ctx, `
	SELECT id, user_id, revision_id, reviewed_at, last_updated_at, version
	FROM reviews
	WHERE revision_id = $1 AND user_id = $2
	`, revisionID, userID)

	var r review.Review
	err := row.Scan(&r.ID, &r.UserID, &r.RevisionID, &r.ReviewedAt, &r.LastUpdatedAt, &r.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan review: %w", err)
	}

	if err := s.loadReviewFiles(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PgStore) loadReviewFiles(ctx context.Context, r *review.Review) error {
	rows, err := s.q.QueryContext(ctx, `
	SELECT file_id, old_path, new_path, status
	FROM review_files
	WHERE review_id = $1
	ORDER BY new_path
	`, r.ID)
	if err != nil {
		return fmt.Errorf("load review files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f review.FileReview
		if err := rows.Scan(&f.FileID, &f.File.OldPath, &f.File.NewPath, &f.Status); err != nil {
			return fmt.Errorf("scan review file: %w", err)
		}
		r.Files = append(r.Files, f)
	}
	return rows.Err()
}

func (s *PgStore) ReviewsForUser(ctx context.Context, reviewID models.ReviewIdentifier, userID int) (map[int]*review.Review, error) {
	rows, err := s.q.QueryContext(ctx, `
	SELECT rev.revision_number, r.id, r.user_id, r.revision_id, r.reviewed_at, r.last_updated_at, r.version
	FROM reviews r
	JOIN revisions rev ON rev.id = r.revision_id
	WHERE rev.project_id = $1 AND rev.review_iid = $2 AND r.user_id = $3
	`, reviewID.ProjectID, reviewID.ReviewID, userID)
	if err != nil {
		return nil, fmt.Errorf("load user reviews: %w", err)
	}
	defer rows.Close()

	out := map[int]*review.Review{}
	for rows.Next() {
		var number int
		var r review.Review
		err := rows.Scan(&number, &r.ID, &r.UserID, &r.RevisionID, &r.ReviewedAt, &r.LastUpdatedAt, &r.Version)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out[number] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range out {
		if err := s.loadReviewFiles(ctx, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PgStore) ReviewedFiles(ctx context.Context, reviewID models.ReviewIdentifier) ([]review.ReviewedFileRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
	SELECT rev.revision_number, rf.file_id, u.username
	FROM review_files rf
	JOIN reviews r ON r.id = rf.review_id
	JOIN revisions rev ON rev.id = r.revision_id
	JOIN users u ON u.id = r.user_id
	WHERE rev.project_id = $1 AND rev.review_iid = $2 AND rf.status = $3
	`, reviewID.ProjectID, reviewID.ReviewID, review.FileReviewed)
	if err != nil {
		return nil, fmt.Errorf("load reviewed files: %w", err)
	}
	defer rows.Close()

	var out []review.ReviewedFileRecord
	for rows.Next() {
		var rec review.ReviewedFileRecord
		if err := rows.Scan(&rec.RevisionNumber, &rec.FileID, &rec.Reviewer); err != nil {
			return nil, fmt.Errorf("scan reviewed file: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PgStore) SaveReview(ctx context.Context, r *review.Review) error {
	r.LastUpdatedAt = time.Now().UTC()

	if r.Version == 0 {
		_, err := s.q.ExecContext(ctx, `
		INSERT INTO reviews (id, user_id, revision_id, reviewed_at, last_updated_at, version)
		VALUES ($1, $2, $3, $4, $5, 1)
		`, r.ID, r.UserID, r.RevisionID, r.ReviewedAt, r.LastUpdatedAt)
		if err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
		r.Version = 1
	} else {
		result, err := s.q.ExecContext(ctx, `
		UPDATE reviews
		SET reviewed_at = $2, last_updated_at = $3, version = version + 1
		WHERE id = $1 AND version = $4
		`, r.ID, r.ReviewedAt, r.LastUpdatedAt, r.Version)
		if err != nil {
			return fmt.Errorf("update review: %w", err)
		}
		if err := expectOneRow(result); err != nil {
			return err
		}
		r.Version++
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM review_files WHERE review_id = $1`, r.ID); err != nil {
		return fmt.Errorf("clear review files: %w", err)
	}
	for _, f := range r.Files {
		_, err := s.q.ExecContext(ctx, `
		INSERT INTO review_files (review_id, file_id, old_path, new_path, status)
		VALUES ($1, $2, $3, $4, $5)
		`, r.ID, f.FileID, f.File.OldPath, f.File.NewPath, f.Status)
		if err != nil {
			return fmt.Errorf("insert review file: %w", err)
		}
	}
	return nil
}

func (s *PgStore) SaveReviewDiscussion(ctx context.Context, d *review.ReviewDiscussion) error {
	return s.saveDiscussion(ctx, &d.Discussion, "review", nil, models.PathPair{}, 0)
}

func (s *PgStore) SaveFileDiscussion(ctx context.Context, d *review.FileDiscussion) error {
	return s.saveDiscussion(ctx, &d.Discussion, "file", &d.FileID, d.File, d.LineNumber)
}

func (s *PgStore) saveDiscussion(ctx context.Context, d *review.Discussion, kind string, fileID *uuid.UUID, file models.PathPair, lineNumber int) error {
	d.LastUpdatedAt = time.Now().UTC()

	if d.Version == 0 {
		_, err := s.q.ExecContext(ctx, `
		INSERT INTO discussions (id, kind, revision_id, state, file_id, old_path, new_path, line_number, last_updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
		`, d.ID, kind, d.RevisionID, d.State, fileID, file.OldPath, file.NewPath, lineNumber, d.LastUpdatedAt)
		if err != nil {
			return fmt.Errorf("insert discussion: %w", err)
		}
		d.Version = 1
	} else {
		result, err := s.q.ExecContext(ctx, `
		UPDATE discussions
		SET state = $2, last_updated_at = $3, version = version + 1
		WHERE id = $1 AND version = $4
		`, d.ID, d.State, d.LastUpdatedAt, d.Version)
		if err != nil {
			return fmt.Errorf("update discussion: %w", err)
		}
		if err := expectOneRow(result); err != nil {
			return err
		}
		d.Version++
	}

	if d.RootComment != nil {
		if err := s.upsertComment(ctx, d.RootComment, &d.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PgStore) SaveComment(ctx context.Context, c *review.Comment) error {
	return s.upsertComment(ctx, c, nil)
}

func (s *PgStore) upsertComment(ctx context.Context, c *review.Comment, discussionID *uuid.UUID) error {
	_, err := s.q.ExecContext(ctx, `
	INSERT INTO comments (id, parent_id, discussion_id, posted_in_review_id, content, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content
	`, c.ID, c.ParentID, discussionID, c.PostedInReviewID, c.Content, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("save comment: %w", err)
	}
	return nil
}

func (s *PgStore) SetDiscussionState(ctx context.Context, id uuid.UUID, state review.DiscussionState) error {
	result, err := s.q.ExecContext(ctx, `
	UPDATE discussions
	SET state = $2, last_updated_at = $3, version = version + 1
	WHERE id = $1
	`, id, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set discussion state: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		log.Debug().Str("discussion_id", id.String()).Msg("discussion to resolve not found, skipping")
	}
	return nil
}

func (s *PgStore) DiscussionsForReview(ctx context.Context, reviewID models.ReviewIdentifier) ([]*review.Discussion, error) {
	rows, err := s.q.QueryContext(ctx, `
	SELECT d.id, d.revision_id, d.state, d.last_updated_at, d.version,
	       c.id, c.parent_id, c.posted_in_review_id, c.content, c.created_at
	FROM discussions d
	JOIN revisions rev ON rev.id = d.revision_id
	LEFT JOIN comments c ON c.discussion_id = d.id
	WHERE rev.project_id = $1 AND rev.review_iid = $2
	ORDER BY d.last_updated_at
	`, reviewID.ProjectID, reviewID.ReviewID)
	if err != nil {
		return nil, fmt.Errorf("load discussions: %w", err)
	}
	defer rows.Close()

	var out []*review.Discussion
	for rows.Next() {
		var d review.Discussion
		var commentID, postedIn sql.Null[uuid.UUID]
		var parentID *uuid.UUID
		var content sql.NullString
		var createdAt sql.NullTime

		err := rows.Scan(&d.ID, &d.RevisionID, &d.State, &d.LastUpdatedAt, &d.Version,
			&commentID, &parentID, &postedIn, &content, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan discussion: %w", err)
		}

		if commentID.Valid {
			d.RootComment = &review.Comment{
				ID:               commentID.V,
				ParentID:         parentID,
				PostedInReviewID: postedIn.V,
				Content:          content.String,
				CreatedAt:        createdAt.Time,
			}
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *PgStore) GetUser(ctx context.Context, id int) (*models.ReviewUser, error) {
	row := s.q.QueryRowContext(ctx, `
	SELECT id, username, name, avatar_url
	FROM users
	WHERE id = $1
	`, id)

	var u models.ReviewUser
	err := row.Scan(&u.ID, &u.UserName, &u.Name, &u.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *PgStore) SaveUser(ctx context.Context, user *models.ReviewUser) error {
	_, err := s.q.ExecContext(ctx, `
	INSERT INTO users (id, username, name, avatar_url)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url
	`, user.ID, user.UserName, user.Name, user.AvatarURL)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return review.ErrConcurrencyConflict
	}
	return nil
}
