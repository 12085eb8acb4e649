// Package host defines the narrow contract the review core consumes from a
// source-control host, plus the error taxonomy for host failures.
package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/reviewdeck/pkg/models"
)

// Host is the source-control collaborator. All calls are fatal on failure
// unless the caller explicitly tolerates a specific error.
type Host interface {
	GetMergeRequest(ctx context.Context, projectID, mergeRequestIID int) (*models.MergeRequest, error)
	GetDiff(ctx context.Context, projectID int, fromCommit, toCommit string) ([]models.FileDiffEntry, error)
	CreateRef(ctx context.Context, projectID int, name, commitHash string) error
	CreateNote(ctx context.Context, projectID, mergeRequestIID int, body string) error
	AcceptMergeRequest(ctx context.Context, projectID, mergeRequestIID int, removeBranch bool, commitMessage string) error
	SetCommitStatus(ctx context.Context, projectID int, status models.CommitStatus) error
	GetBuildStatuses(ctx context.Context, projectID int, commitSha string) ([]models.BuildStatus, error)
	GetAwardEmojis(ctx context.Context, projectID, mergeRequestIID int) ([]models.AwardEmoji, error)
	AddAwardEmoji(ctx context.Context, projectID, mergeRequestIID int, emoji models.EmojiType) error
	RemoveAwardEmoji(ctx context.Context, projectID, mergeRequestIID int, awardID int) error
}

// ErrRefConflict reports that a ref already exists and points at a different
// commit. Revision creation surfaces this as a concurrency conflict except
// for the tolerated head-ref case.
var ErrRefConflict = errors.New("ref already exists with a different target")

// ErrMergeFailed reports that the host refused to merge. Kept distinct from
// generic host failures so callers can show a specific message.
var ErrMergeFailed = errors.New("merge request could not be merged")

// Error wraps an unexpected host API failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("host: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WrapErr tags err as a host failure for operation op.
func WrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
