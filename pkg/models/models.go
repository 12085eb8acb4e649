package models

import "fmt"

// ReviewIdentifier is the stable key for one reviewable merge request.
type ReviewIdentifier struct {
	ProjectID int `json:"project_id"`
	ReviewID  int `json:"review_id"`
}

func (r ReviewIdentifier) String() string {
	return fmt.Sprintf("%d/%d", r.ProjectID, r.ReviewID)
}

// PathPair carries a file's old and new path across a change.
// For unrenamed files both sides are equal.
type PathPair struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

// MakePath returns a pair for an unrenamed path.
func MakePath(path string) PathPair {
	return PathPair{OldPath: path, NewPath: path}
}

// MakePathPair returns a pair for a rename.
func MakePathPair(oldPath, newPath string) PathPair {
	return PathPair{OldPath: oldPath, NewPath: newPath}
}

// WithNewName keeps the old path and replaces the new one.
func (p PathPair) WithNewName(newPath string) PathPair {
	return PathPair{OldPath: p.OldPath, NewPath: newPath}
}

func (p PathPair) String() string {
	return p.OldPath + "->" + p.NewPath
}

// FileDiffEntry is one changed file reported by the source-control host.
type FileDiffEntry struct {
	Path      PathPair `json:"path"`
	IsNew     bool     `json:"is_new"`
	IsRenamed bool     `json:"is_renamed"`
	IsDeleted bool     `json:"is_deleted"`
}

// MergeRequest holds the merge request metadata the core needs.
type MergeRequest struct {
	ID           int      `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Author       UserInfo `json:"author"`
	BaseCommit   string   `json:"base_commit"`
	HeadCommit   string   `json:"head_commit"`
	SourceBranch string   `json:"source_branch"`
	TargetBranch string   `json:"target_branch"`
	State        string   `json:"state"`
	MergeStatus  string   `json:"merge_status"`
	WebURL       string   `json:"web_url"`
}

// UserInfo identifies a user on the source-control host.
type UserInfo struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// ReviewUser is the acting reviewer, injected explicitly per request.
type ReviewUser struct {
	ID        int    `json:"id"`
	UserName  string `json:"username"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// CommitStatusState enumerates the states a commit status can take.
type CommitStatusState string

const (
	CommitStatusSuccess CommitStatusState = "success"
	CommitStatusPending CommitStatusState = "pending"
	CommitStatusRunning CommitStatusState = "running"
	CommitStatusFailed  CommitStatusState = "failed"
)

// CommitStatus is pushed to the host after each publish.
type CommitStatus struct {
	Commit      string            `json:"commit"`
	Name        string            `json:"name"`
	State       CommitStatusState `json:"state"`
	Description string            `json:"description"`
	TargetURL   string            `json:"target_url"`
}

// BuildStatus is a CI status reported by the host for a commit.
type BuildStatus struct {
	Status      string `json:"status"`
	Name        string `json:"name"`
	TargetURL   string `json:"target_url"`
	Description string `json:"description"`
}

// EmojiType is a merge-request award emoji name.
type EmojiType string

const (
	EmojiThumbsUp   EmojiType = "thumbsup"
	EmojiThumbsDown EmojiType = "thumbsdown"
)

// AwardEmoji is an award placed on a merge request by a user.
type AwardEmoji struct {
	ID   int       `json:"id"`
	Name EmojiType `json:"name"`
	User UserInfo  `json:"user"`
}
