package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/reviewdeck/internal/api"
	"github.com/reviewdeck/internal/background"
	"github.com/reviewdeck/internal/config"
	"github.com/reviewdeck/internal/events"
	"github.com/reviewdeck/internal/host/gitlab"
	"github.com/reviewdeck/internal/jobqueue"
	"github.com/reviewdeck/internal/store"
)

// APICommand returns the CLI command for starting the API server.
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the reviewdeck API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	port := cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	pg, err := store.Open(cfg.Database.URL)
	if err != nil {
		return err
	}
	if err := pg.Migrate(c.Context); err != nil {
		return err
	}

	gitlabHost, err := gitlab.New(cfg.GitLab)
	if err != nil {
		return err
	}

	actions := background.NewActions(pg, gitlabHost, cfg.Server.SiteBase)

	queueConfig := jobqueue.DefaultQueueConfig()
	if cfg.Queue.MaxWorkers > 0 {
		queueConfig.MaxWorkers = cfg.Queue.MaxWorkers
	}

	queue, err := jobqueue.NewJobQueue(cfg.Database.URL, actions, queueConfig)
	if err != nil {
		return err
	}

	bus := events.NewRegistry()
	queue.ConnectBus(bus)

	if err := queue.Start(c.Context); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer func() {
		if err := queue.Stop(context.Background()); err != nil {
			log.Error().Err(err).Msg("job queue shutdown failed")
		}
	}()

	log.Info().Int("port", port).Msg("starting API server")

	server := api.NewServer(port, pg, gitlabHost, bus, actions)
	return server.Start()
}
