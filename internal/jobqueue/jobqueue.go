// Package jobqueue runs the post-publish actions on a River job queue so a
// slow or failing host API never blocks the publish request. Each action is
// its own job kind and retries independently.
package jobqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/reviewdeck/internal/background"
	"github.com/reviewdeck/internal/events"
	"github.com/reviewdeck/pkg/models"
)

// CommitStatusJobArgs requests a commit status push for a review.
type CommitStatusJobArgs struct {
	ReviewID models.ReviewIdentifier `json:"review_id"`
}

func (CommitStatusJobArgs) Kind() string { return "commit_status_update" }

// ReviewSummaryJobArgs requests a summary note on the merge request.
type ReviewSummaryJobArgs struct {
	ReviewID    models.ReviewIdentifier `json:"review_id"`
	PublishedBy models.ReviewUser       `json:"published_by"`
}

func (ReviewSummaryJobArgs) Kind() string { return "review_summary_note" }

// UserVoteJobArgs requests a thumb emoji update for the publishing user.
type UserVoteJobArgs struct {
	ReviewID    models.ReviewIdentifier `json:"review_id"`
	PublishedBy models.ReviewUser       `json:"published_by"`
}

func (UserVoteJobArgs) Kind() string { return "review_user_vote" }

type commitStatusWorker struct {
	river.WorkerDefaults[CommitStatusJobArgs]
	actions *background.Actions
}

func (w *commitStatusWorker) Work(ctx context.Context, job *river.Job[CommitStatusJobArgs]) error {
	log.Debug().Str("review", job.Args.ReviewID.String()).Msg("running commit status job")
	return w.actions.UpdateCommitStatus(ctx, job.Args.ReviewID)
}

type reviewSummaryWorker struct {
	river.WorkerDefaults[ReviewSummaryJobArgs]
	actions *background.Actions
}

func (w *reviewSummaryWorker) Work(ctx context.Context, job *river.Job[ReviewSummaryJobArgs]) error {
	log.Debug().Str("review", job.Args.ReviewID.String()).Msg("running summary note job")
	return w.actions.PostReviewSummary(ctx, job.Args.ReviewID, job.Args.PublishedBy)
}

type userVoteWorker struct {
	river.WorkerDefaults[UserVoteJobArgs]
	actions *background.Actions
}

func (w *userVoteWorker) Work(ctx context.Context, job *river.Job[UserVoteJobArgs]) error {
	log.Debug().Str("review", job.Args.ReviewID.String()).Msg("running user vote job")
	return w.actions.PublishUserVote(ctx, job.Args.ReviewID, job.Args.PublishedBy)
}

// JobQueue manages the River client and its connection pool.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
}

// NewJobQueue connects to Postgres and registers the post-publish workers.
func NewJobQueue(databaseURL string, actions *background.Actions, config *QueueConfig) (*JobQueue, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &commitStatusWorker{actions: actions})
	river.AddWorker(workers, &reviewSummaryWorker{actions: actions})
	river.AddWorker(workers, &userVoteWorker{actions: actions})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create river client: %w", err)
	}

	return &JobQueue{client: client, pool: pool}, nil
}

// Start starts the queue workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop drains and stops the queue workers and closes the pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// EnqueueReviewPublished queues all three post-publish jobs for one publish.
func (jq *JobQueue) EnqueueReviewPublished(ctx context.Context, event events.ReviewPublishedEvent) error {
	params := []river.InsertManyParams{
		{Args: CommitStatusJobArgs{ReviewID: event.ReviewID}},
		{Args: ReviewSummaryJobArgs{ReviewID: event.ReviewID, PublishedBy: event.PublishedBy}},
		{Args: UserVoteJobArgs{ReviewID: event.ReviewID, PublishedBy: event.PublishedBy}},
	}

	if _, err := jq.client.InsertMany(ctx, params); err != nil {
		return fmt.Errorf("failed to queue publish jobs: %w", err)
	}
	return nil
}

// ConnectBus routes published review events into the queue.
func (jq *JobQueue) ConnectBus(registry *events.Registry) {
	registry.Subscribe(events.ReviewPublishedEvent{}.EventName(), func(ctx context.Context, event events.Event) error {
		published, ok := event.(events.ReviewPublishedEvent)
		if !ok {
			return fmt.Errorf("unexpected event type %T", event)
		}
		return jq.EnqueueReviewPublished(ctx, published)
	})
}
