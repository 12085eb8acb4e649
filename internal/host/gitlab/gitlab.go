// Package gitlab implements the host contract on top of the GitLab API.
package gitlab

import (
	"context"
	"fmt"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/reviewdeck/internal/host"
	"github.com/reviewdeck/pkg/models"
)

// Config contains connection settings for a GitLab instance.
type Config struct {
	URL   string `koanf:"url"`
	Token string `koanf:"token"`
}

// Host talks to one GitLab instance.
type Host struct {
	client *gitlab.Client
}

var _ host.Host = (*Host)(nil)

// New creates a GitLab host client.
func New(config Config) (*Host, error) {
	var opts []gitlab.ClientOptionFunc
	if config.URL != "" {
		opts = append(opts, gitlab.WithBaseURL(fmt.Sprintf("%s/api/v4", config.URL)))
	}

	client, err := gitlab.NewClient(config.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &Host{client: client}, nil
}

func (h *Host) GetMergeRequest(ctx context.Context, projectID, mergeRequestIID int) (*models.MergeRequest, error) {
	mr, _, err := h.client.MergeRequests.GetMergeRequest(projectID, mergeRequestIID, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, host.WrapErr("get merge request", err)
	}

	out := &models.MergeRequest{
		ID:           mr.IID,
		Title:        mr.Title,
		Description:  mr.Description,
		HeadCommit:   mr.SHA,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		State:        mr.State,
		MergeStatus:  mr.MergeStatus,
		WebURL:       mr.WebURL,
	}
	if mr.DiffRefs != nil {
		out.BaseCommit = mr.DiffRefs.BaseSha
	}
	if mr.Author != nil {
		out.Author = models.UserInfo{
			ID:        mr.Author.ID,
			Username:  mr.Author.Username,
			Name:      mr.Author.Name,
			AvatarURL: mr.Author.AvatarURL,
		}
	}
	return out, nil
}

func (h *Host) GetDiff(ctx context.Context, projectID int, fromCommit, toCommit string) ([]models.FileDiffEntry, error) {
	compare, _, err := h.client.Repositories.Compare(projectID, &gitlab.CompareOptions{
		From: gitlab.Ptr(fromCommit),
		To:   gitlab.Ptr(toCommit),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, host.WrapErr("compare commits", err)
	}

	diff := make([]models.FileDiffEntry, 0, len(compare.Diffs))
	for _, d := range compare.Diffs {
		diff = append(diff, models.FileDiffEntry{
			Path:      models.MakePathPair(d.OldPath, d.NewPath),
			IsNew:     d.NewFile,
			IsRenamed: d.RenamedFile,
			IsDeleted: d.DeletedFile,
		})
	}
	return diff, nil
}

// CreateRef records a commit under a tag. A pre-existing tag with the same
// target counts as success; with a different target it is a conflict.
func (h *Host) CreateRef(ctx context.Context, projectID int, name, commitHash string) error {
	_, _, err := h.client.Tags.CreateTag(projectID, &gitlab.CreateTagOptions{
		TagName: gitlab.Ptr(name),
		Ref:     gitlab.Ptr(commitHash),
	}, gitlab.WithContext(ctx))
	if err == nil {
		return nil
	}

	existing, _, getErr := h.client.Tags.GetTag(projectID, name, gitlab.WithContext(ctx))
	if getErr != nil || existing == nil || existing.Commit == nil {
		return host.WrapErr("create ref", err)
	}
	if existing.Commit.ID == commitHash {
		return nil
	}
	return fmt.Errorf("ref %s: %w", name, host.ErrRefConflict)
}

func (h *Host) CreateNote(ctx context.Context, projectID, mergeRequestIID int, body string) error {
	_, _, err := h.client.Notes.CreateMergeRequestNote(projectID, mergeRequestIID, &gitlab.CreateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	return host.WrapErr("create note", err)
}

func (h *Host) AcceptMergeRequest(ctx context.Context, projectID, mergeRequestIID int, removeBranch bool, commitMessage string) error {
	opts := &gitlab.AcceptMergeRequestOptions{
		ShouldRemoveSourceBranch: gitlab.Ptr(removeBranch),
	}
	if commitMessage != "" {
		opts.MergeCommitMessage = gitlab.Ptr(commitMessage)
	}

	_, resp, err := h.client.MergeRequests.AcceptMergeRequest(projectID, mergeRequestIID, opts, gitlab.WithContext(ctx))
	if err != nil {
		// 405/406 mean GitLab refused the merge itself rather than the call.
		if resp != nil && (resp.StatusCode == 405 || resp.StatusCode == 406) {
			return fmt.Errorf("merge request %d: %w", mergeRequestIID, host.ErrMergeFailed)
		}
		return host.WrapErr("accept merge request", err)
	}
	return nil
}

func (h *Host) SetCommitStatus(ctx context.Context, projectID int, status models.CommitStatus) error {
	_, _, err := h.client.Commits.SetCommitStatus(projectID, status.Commit, &gitlab.SetCommitStatusOptions{
		State:       gitlab.BuildStateValue(status.State),
		Name:        gitlab.Ptr(status.Name),
		Description: gitlab.Ptr(status.Description),
		TargetURL:   gitlab.Ptr(status.TargetURL),
	}, gitlab.WithContext(ctx))
	return host.WrapErr("set commit status", err)
}

// GetBuildStatuses returns the latest status per pipeline job name.
func (h *Host) GetBuildStatuses(ctx context.Context, projectID int, commitSha string) ([]models.BuildStatus, error) {
	statuses, _, err := h.client.Commits.GetCommitStatuses(projectID, commitSha, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, host.WrapErr("get commit statuses", err)
	}

	latest := map[string]*gitlab.CommitStatus{}
	var names []string
	for _, s := range statuses {
		if prev, ok := latest[s.Name]; !ok {
			latest[s.Name] = s
			names = append(names, s.Name)
		} else if s.ID > prev.ID {
			latest[s.Name] = s
		}
	}

	out := make([]models.BuildStatus, 0, len(names))
	for _, name := range names {
		s := latest[name]
		out = append(out, models.BuildStatus{
			Status:      s.Status,
			Name:        s.Name,
			TargetURL:   s.TargetURL,
			Description: s.Description,
		})
	}
	return out, nil
}

func (h *Host) GetAwardEmojis(ctx context.Context, projectID, mergeRequestIID int) ([]models.AwardEmoji, error) {
	emojis, _, err := h.client.AwardEmoji.ListMergeRequestAwardEmoji(projectID, mergeRequestIID, &gitlab.ListAwardEmojiOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, host.WrapErr("list award emoji", err)
	}

	out := make([]models.AwardEmoji, 0, len(emojis))
	for _, e := range emojis {
		out = append(out, models.AwardEmoji{
			ID:   e.ID,
			Name: models.EmojiType(e.Name),
			User: models.UserInfo{
				ID:        e.User.ID,
				Username:  e.User.Username,
				Name:      e.User.Name,
				AvatarURL: e.User.AvatarURL,
			},
		})
	}
	return out, nil
}

func (h *Host) AddAwardEmoji(ctx context.Context, projectID, mergeRequestIID int, emoji models.EmojiType) error {
	_, _, err := h.client.AwardEmoji.CreateMergeRequestAwardEmoji(projectID, mergeRequestIID, &gitlab.CreateAwardEmojiOptions{
		Name: string(emoji),
	}, gitlab.WithContext(ctx))
	return host.WrapErr("add award emoji", err)
}

func (h *Host) RemoveAwardEmoji(ctx context.Context, projectID, mergeRequestIID int, awardID int) error {
	_, err := h.client.AwardEmoji.DeleteMergeRequestAwardEmoji(projectID, mergeRequestIID, awardID, gitlab.WithContext(ctx))
	return host.WrapErr("remove award emoji", err)
}
