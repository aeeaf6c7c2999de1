package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/newswire/pkg/app"
	"github.com/platinummonkey/newswire/pkg/config"
	"github.com/platinummonkey/newswire/pkg/jobs"
	"github.com/platinummonkey/newswire/pkg/observability"
)

var (
	configFile    = flag.String("config", "", "YAML config overlay (overrides NEWSWIRE_CONFIG_FILE)")
	runOnce       = flag.String("run-once", "", "Run one job (promote-scheduled, session-cleanup, retention-purge or all) and exit")
	issueSession  = flag.String("issue-session", "", "Create a staff session for this username, print the token and exit")
	revokeSession = flag.String("revoke-session", "", "Delete the staff session with this token and exit")
)

func main() {
	flag.Parse()
	if *configFile != "" {
		os.Setenv("NEWSWIRE_CONFIG_FILE", *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logCloser := observability.NewLoggerWithFile(cfg.Observability.LogLevel, cfg.Observability.LogFile)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := app.Open(ctx, cfg, logger, app.Options{Archive: true})
	if err != nil {
		log.Fatalf("Failed to open backends: %v", err)
	}
	defer res.Close()

	sessions := res.Sessions(cfg)

	if *issueSession != "" {
		token, user, err := sessions.CreateForUsername(ctx, *issueSession, time.Now())
		if err != nil {
			log.Fatalf("Failed to create session: %v", err)
		}
		logger.WithFields(map[string]interface{}{"user_id": user.ID, "role": user.Role}).Info("Staff session created")
		fmt.Println(token)
		return
	}

	if *revokeSession != "" {
		if err := sessions.Revoke(ctx, *revokeSession); err != nil {
			log.Fatalf("Failed to revoke session: %v", err)
		}
		logger.Info("Staff session revoked")
		return
	}

	var purger jobs.EventPurger
	if p := res.Purger(cfg); p != nil {
		purger = p
	}
	runner := jobs.NewRunner(res.Posts(cfg), sessions, purger, res.Metrics, logger)

	if *runOnce != "" {
		names := []string{*runOnce}
		if *runOnce == "all" {
			names = runner.Names()
		}
		failed := false
		for _, name := range names {
			if err := runner.Run(ctx, name); err != nil {
				failed = true
			}
		}
		if failed {
			os.Exit(1)
		}
		return
	}

	c := cron.New()
	if err := runner.Schedule(ctx, c, jobs.SchedulesFrom(cfg.Jobs)); err != nil {
		log.Fatalf("Failed to schedule jobs: %v", err)
	}

	c.Start()
	logger.WithField("jobs", strings.Join(runner.Names(), ",")).Info("newswire-jobs started")

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(sctx context.Context) error {
		stopped := c.Stop()
		select {
		case <-stopped.Done():
		case <-sctx.Done():
		}
		cancel()
		return nil
	})
	if err := shutdown.WaitForShutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
	logger.Info("newswire-jobs stopped")
}
