package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/esnunes/studio/internal/changes"
	"github.com/esnunes/studio/internal/config"
	"github.com/esnunes/studio/internal/db"
	"github.com/esnunes/studio/internal/gate"
	"github.com/esnunes/studio/internal/github"
	"github.com/esnunes/studio/internal/models"
	"github.com/esnunes/studio/internal/policy"
	"github.com/esnunes/studio/internal/sanitize"
	"github.com/esnunes/studio/internal/server"
	"github.com/esnunes/studio/internal/session"
)

func newServeCmd(load configLoader) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, newLogger(cfg.Log, cmd.ErrOrStderr()))
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	dbPath, err := db.DBPath(cfg.DataDir)
	if err != nil {
		return err
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	queries := db.NewQueries(database)

	initial, err := initialGateState(cfg, queries)
	if err != nil {
		return err
	}
	g := gate.New(
		gate.WithInitialState(initial),
		gate.WithRecorder(queries),
		gate.WithLogger(logger),
	)
	if initial.Enabled {
		logger.Warn("safety gate is enabled at startup", "by", initial.LastToggledBy)
	}

	guard, err := policy.NewFSGuard([]string{cfg.DataDir}, cfg.Storage.Protected...)
	if err != nil {
		return fmt.Errorf("creating storage guard: %w", err)
	}
	sanitizer := sanitize.New(sanitize.WithLogger(logger), sanitize.WithRecorder(queries))
	store, err := session.New(session.Opts{
		Path:      cfg.SessionsFile(),
		Guard:     guard,
		Gate:      g,
		Sanitizer: sanitizer,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	repoPolicy, err := policy.NewRepoPolicy(
		policy.WithForbidden(cfg.Policy.Forbidden...),
		policy.WithAllowed(cfg.Policy.Allowed...),
		policy.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("creating repository policy: %w", err)
	}
	builder := changes.NewBuilder(changes.BuilderOpts{
		Gate:     g,
		Policy:   repoPolicy,
		Sessions: store,
		Previews: queries,
		Audit:    queries,
		Logger:   logger,
	})

	client, err := github.NewRESTClient(ctx, github.Options{Token: cfg.GitHubToken(), BaseURL: cfg.GitHub.BaseURL})
	if err != nil {
		return err
	}
	if cfg.GitHubToken() == "" {
		logger.Info("no GitHub token configured, repository reads are unauthenticated", "env", cfg.GitHub.TokenEnv)
	}

	if len(cfg.Admin.Users) == 0 {
		logger.Warn("no admin users configured, gate toggles over HTTP are disabled")
	}
	srv, err := server.New(server.Deps{
		Sessions: store,
		Previews: builder,
		Queries:  queries,
		Gate:     g,
		Repos:    github.NewReader(client, logger),
		Admins:   cfg.Admin.Users,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := srv.Listen(cfg.Listen); err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// initialGateState restores the last persisted toggle. Config or the
// environment can force the gate on but never off.
func initialGateState(cfg *config.Config, queries *db.Queries) (models.GateState, error) {
	state, _, err := queries.LatestGateState()
	if err != nil {
		return state, fmt.Errorf("restoring gate state: %w", err)
	}
	if cfg.Gate.Enabled && !state.Enabled {
		state.Enabled = true
		state.LastToggledBy = "config"
		state.LastToggledAt = time.Now()
	}
	return state, nil
}
