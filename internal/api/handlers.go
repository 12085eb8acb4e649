package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/reviewdeck/internal/host"
	"github.com/reviewdeck/internal/publish"
	"github.com/reviewdeck/internal/reconcile"
	"github.com/reviewdeck/internal/review"
	"github.com/reviewdeck/internal/revision"
	"github.com/reviewdeck/pkg/models"
)

func (s *Server) reviewID(c echo.Context) (models.ReviewIdentifier, error) {
	projectID, err := strconv.Atoi(c.Param("projectId"))
	if err != nil {
		return models.ReviewIdentifier{}, echo.NewHTTPError(http.StatusBadRequest, "invalid project id")
	}
	reviewIID, err := strconv.Atoi(c.Param("reviewId"))
	if err != nil {
		return models.ReviewIdentifier{}, echo.NewHTTPError(http.StatusBadRequest, "invalid review id")
	}
	return models.ReviewIdentifier{ProjectID: projectID, ReviewID: reviewIID}, nil
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c echo.Context, err error) error {
	var unresolvable *publish.UnresolvableFileReferenceError
	var hostErr *host.Error

	switch {
	case errors.As(err, &unresolvable):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": unresolvable.Error()})
	case errors.Is(err, revision.ErrFormat):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, review.ErrConcurrencyConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, host.ErrMergeFailed):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.As(err, &hostErr):
		log.Error().Err(err).Msg("host call failed")
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("request failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// buildReviewInfo assembles the authoritative review view the client renders
// and reconciles against.
func (s *Server) buildReviewInfo(ctx context.Context, reviewID models.ReviewIdentifier, userName string) (reconcile.ReviewInfo, error) {
	m, err := s.builder.Build(ctx, reviewID)
	if err != nil {
		return reconcile.ReviewInfo{}, err
	}

	revisions, err := s.store.Revisions(ctx, reviewID)
	if err != nil {
		return reconcile.ReviewInfo{}, err
	}

	mr, err := s.host.GetMergeRequest(ctx, reviewID.ProjectID, reviewID.ReviewID)
	if err != nil {
		return reconcile.ReviewInfo{}, err
	}

	info := reconcile.ReviewInfo{
		ReviewID:     reviewID,
		BaseCommit:   mr.BaseCommit,
		HeadCommit:   mr.HeadCommit,
		HeadRevision: revision.Hash(mr.HeadCommit),
		FileMatrix:   m,
	}

	for _, rev := range revisions {
		info.PastRevisions = append(info.PastRevisions, reconcile.PastRevision{
			Number: rev.RevisionNumber,
			Base:   rev.BaseCommit,
			Head:   rev.HeadCommit,
		})
	}

	if n := len(revisions); n > 0 {
		last := revisions[n-1]
		info.BaseCommit = last.BaseCommit
		if last.HeadCommit == mr.HeadCommit {
			info.HeadRevision = revision.Selected(last.RevisionNumber)
		}
	}

	if userName != "" {
		info.FilesToReview = m.FindFilesToReview(userName)
	}

	return info, nil
}

func (s *Server) getReviewInfo(c echo.Context) error {
	reviewID, err := s.reviewID(c)
	if err != nil {
		return err
	}

	info, err := s.buildReviewInfo(c.Request().Context(), reviewID, c.QueryParam("user"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

type publishRequest struct {
	User                     models.ReviewUser                                   `json:"user"`
	Revision                 publish.RevisionCommits                             `json:"revision"`
	StartedReviewDiscussions []publish.NewReviewDiscussion                       `json:"started_review_discussions"`
	StartedFileDiscussions   []publish.NewFileDiscussion                         `json:"started_file_discussions"`
	ResolvedDiscussions      []string                                            `json:"resolved_discussions"`
	Replies                  []publish.Reply                                     `json:"replies"`
	ReviewedFiles            map[revision.RevisionId][]revision.ClientFileId     `json:"reviewed_files"`
	UnreviewedFiles          map[revision.RevisionId][]revision.ClientFileId     `json:"unreviewed_files"`
}

func (s *Server) publishReview(c echo.Context) error {
	reviewID, err := s.reviewID(c)
	if err != nil {
		return err
	}

	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	cmd := &publish.Command{
		ReviewID:                 reviewID,
		Revision:                 req.Revision,
		StartedReviewDiscussions: req.StartedReviewDiscussions,
		StartedFileDiscussions:   req.StartedFileDiscussions,
		ResolvedDiscussions:      req.ResolvedDiscussions,
		Replies:                  req.Replies,
		ReviewedFiles:            req.ReviewedFiles,
		UnreviewedFiles:          req.UnreviewedFiles,
	}

	if err := s.publisher.Publish(c.Request().Context(), &req.User, cmd); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type reconcileRequest struct {
	User        string                      `json:"user"`
	Unpublished reconcile.UnpublishedReview `json:"unpublished"`
	FileIdMap   reconcile.FileIdMap         `json:"file_id_map"`
}

func (s *Server) reconcileReview(c echo.Context) error {
	reviewID, err := s.reviewID(c)
	if err != nil {
		return err
	}

	var req reconcileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	info, err := s.buildReviewInfo(c.Request().Context(), reviewID, req.User)
	if err != nil {
		return writeError(c, err)
	}

	upgraded := reconcile.Upgrade(info, req.Unpublished, req.FileIdMap)
	return c.JSON(http.StatusOK, upgraded)
}

func (s *Server) getCommitStatus(c echo.Context) error {
	reviewID, err := s.reviewID(c)
	if err != nil {
		return err
	}

	status, err := s.actions.CommitStatusFor(c.Request().Context(), reviewID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

type mergeRequestBody struct {
	RemoveBranch  bool   `json:"remove_branch"`
	CommitMessage string `json:"commit_message"`
}

func (s *Server) mergeReview(c echo.Context) error {
	reviewID, err := s.reviewID(c)
	if err != nil {
		return err
	}

	var req mergeRequestBody
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	err = s.host.AcceptMergeRequest(c.Request().Context(), reviewID.ProjectID, reviewID.ReviewID, req.RemoveBranch, req.CommitMessage)
	if err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
