package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verwatch/verwatch/internal/api"
	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/repository"
	"github.com/verwatch/verwatch/internal/results"
	"github.com/verwatch/verwatch/internal/results/sinks"
	"github.com/verwatch/verwatch/internal/scheduler"
	"github.com/verwatch/verwatch/internal/version"
)

const (
	shutdownTimeout = 15 * time.Second
	mirrorTimeout   = 5 * time.Minute
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the version check service with its HTTP API",
		Long: `Starts the long-running service: the scheduler dispatches version
checks for tracked packages, results flow to the configured sinks, and the
HTTP API accepts ad-hoc check submissions. Packages listed in the config
file are seeded into the repository and checked on startup, then again on
every scheduler.check_interval tick.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	sinkList, pubsubClient, err := buildSinks(ctx, a)
	if err != nil {
		return err
	}
	if pubsubClient != nil {
		defer func() {
			if cerr := pubsubClient.Close(); cerr != nil {
				logger.Warn("close pubsub client", zap.Error(cerr))
			}
		}()
	}

	hub := results.NewHub(results.Config{
		Logger: logger.Named("hub"),
	}, newUpdateHandler(a), sinkList...)

	sched := scheduler.New(a.registry, hub,
		scheduler.WithSlots(a.cfg.Scheduler.Slots),
		scheduler.WithRetryPolicy(a.cfg.RetryPolicy()),
		scheduler.WithLogger(logger.Named("scheduler")),
	)

	if err := seedPackages(ctx, a); err != nil {
		return err
	}
	submitTracked(ctx, a, sched)

	if interval := a.cfg.Scheduler.CheckInterval; interval > 0 {
		go resubmitLoop(ctx, a, sched, interval)
	}

	apiServer := api.NewServer(sched, a.repo, logger.Named("api"), api.Config{
		RequestTimeout: a.cfg.HTTP.RequestTimeout,
		APIKey:         a.cfg.HTTP.APIKey,
	})
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	if err := sched.Close(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("result hub shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// buildSinks assembles the result sinks: structured logs and the repository
// always, Prometheus counters for scraping, and Pub/Sub when enabled. The
// returned client is non-nil only for Pub/Sub and must be closed last.
func buildSinks(ctx context.Context, a *app) ([]results.Sink, *pubsub.Client, error) {
	sinkList := []results.Sink{
		sinks.NewLogSink(a.logger.Named("results")),
		sinks.NewStoreSink(a.repo, a.logger.Named("store")),
	}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if !a.cfg.PubSub.Enabled {
		return sinkList, nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	sinkList = append(sinkList, sinks.NewPubSubSink(client.Topic(a.cfg.PubSub.TopicID)))
	return sinkList, client, nil
}

// newUpdateHandler builds the hub handler that compares each successful
// check against the tracked local version, logs available updates, and
// kicks off artifact mirroring when a blob store is configured.
func newUpdateHandler(a *app) results.Handler {
	return func(res check.Result) {
		if !res.Success {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pkg, err := a.repo.GetPackage(ctx, res.PackageID)
		if err != nil {
			// Ad-hoc API submissions are not tracked; nothing to compare.
			if !errors.Is(err, repository.ErrNotFound) {
				a.logger.Warn("load package for update check",
					zap.String("package", res.PackageID), zap.Error(err))
			}
			return
		}
		if !version.Newer(res.Version.Version, pkg.LocalVersion) {
			return
		}
		a.logger.Info("update available",
			zap.String("package", pkg.ID),
			zap.String("local", pkg.LocalVersion),
			zap.String("upstream", res.Version.Version),
		)
		if a.mirror != nil && res.Version.Metadata["artifact"] != "" {
			go mirrorArtifact(a, res.PackageID, res.Version)
		}
	}
}

func mirrorArtifact(a *app, packageID string, info check.VersionInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	uri, size, err := a.mirror.Fetch(ctx, packageID, info.Normalized, info.Metadata["artifact"], nil)
	if err != nil {
		a.logger.Warn("mirror artifact",
			zap.String("package", packageID), zap.Error(err))
		return
	}
	a.logger.Info("artifact mirrored",
		zap.String("package", packageID),
		zap.String("uri", uri),
		zap.Int64("bytes", size),
	)
}

// seedPackages writes the packages from the config file into the repository
// so they survive into the pending set.
func seedPackages(ctx context.Context, a *app) error {
	for _, pc := range a.cfg.Packages {
		pkg := pc.Package()
		if pkg.ID == "" || pkg.Source.Kind == "" {
			return fmt.Errorf("package seed needs id and kind (got id=%q kind=%q)", pkg.ID, pkg.Source.Kind)
		}
		if err := a.repo.UpsertPackage(ctx, pkg); err != nil {
			return fmt.Errorf("seed package %s: %w", pkg.ID, err)
		}
	}
	return nil
}

// submitTracked enqueues a check for every tracked package. Submission is
// idempotent while a task for the same package and source is still live.
func submitTracked(ctx context.Context, a *app, sched *scheduler.Scheduler) {
	pkgs, err := a.repo.LoadPendingPackages(ctx)
	if err != nil {
		a.logger.Error("load tracked packages", zap.Error(err))
		return
	}
	for _, pkg := range pkgs {
		if _, err := sched.Submit(pkg.ID, pkg.Source, pkg.Priority); err != nil {
			a.logger.Warn("submit tracked package",
				zap.String("package", pkg.ID), zap.Error(err))
		}
	}
	a.logger.Info("tracked packages submitted", zap.Int("count", len(pkgs)))
}

func resubmitLoop(ctx context.Context, a *app, sched *scheduler.Scheduler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			submitTracked(ctx, a, sched)
		}
	}
}
