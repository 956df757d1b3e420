package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/results"
	"github.com/verwatch/verwatch/internal/results/sinks"
	"github.com/verwatch/verwatch/internal/scheduler"
	"github.com/verwatch/verwatch/internal/version"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Runs one check pass over the configured packages and exits",
		Long: `Checks every package from the config file (and any already in the
repository) once, prints a per-package summary, and exits. Useful from cron
or for trying out a configuration.`,
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := seedPackages(ctx, a); err != nil {
		return err
	}
	pkgs, err := a.repo.LoadPendingPackages(ctx)
	if err != nil {
		return fmt.Errorf("load tracked packages: %w", err)
	}
	if len(pkgs) == 0 {
		return errors.New("no packages configured; add a packages section to the config file")
	}

	hub := results.NewHub(results.Config{
		Logger: a.logger.Named("hub"),
	}, newUpdateHandler(a),
		sinks.NewStoreSink(a.repo, a.logger.Named("store")),
	)
	sched := scheduler.New(a.registry, hub,
		scheduler.WithSlots(a.cfg.Scheduler.Slots),
		scheduler.WithRetryPolicy(a.cfg.RetryPolicy()),
		scheduler.WithLogger(a.logger.Named("scheduler")),
	)

	local := make(map[string]string, len(pkgs))
	handles := make([]*scheduler.Handle, 0, len(pkgs))
	for _, pkg := range pkgs {
		local[pkg.ID] = pkg.LocalVersion
		h, err := sched.Submit(pkg.ID, pkg.Source, pkg.Priority)
		if err != nil {
			return fmt.Errorf("submit %s: %w", pkg.ID, err)
		}
		handles = append(handles, h)
	}

	exitErr := waitAndReport(ctx, cmd, handles, local)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Close(shutdownCtx); err != nil {
		a.logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		a.logger.Warn("result hub shutdown", zap.Error(err))
	}
	return exitErr
}

// waitAndReport blocks on every handle and prints one summary line per
// package. It returns an error when the pass was interrupted or any check
// failed, so cron jobs get a non-zero exit.
func waitAndReport(ctx context.Context, cmd *cobra.Command, handles []*scheduler.Handle, local map[string]string) error {
	failed := 0
	for _, h := range handles {
		res, err := h.Wait(ctx)
		if err != nil {
			return fmt.Errorf("check pass interrupted: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), summarize(res, local[res.PackageID]))
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(handles))
	}
	return nil
}

func summarize(res check.Result, localVersion string) string {
	key := res.PackageID + "/" + res.SourceKind
	if !res.Success {
		return fmt.Sprintf("%-40s FAILED (%s): %s", key, res.ErrKind, res.Message)
	}
	upstream := res.Version.Version
	switch {
	case localVersion == "":
		return fmt.Sprintf("%-40s %s", key, upstream)
	case version.Newer(upstream, localVersion):
		return fmt.Sprintf("%-40s %s -> %s  UPDATE", key, localVersion, upstream)
	default:
		return fmt.Sprintf("%-40s %s (up to date)", key, localVersion)
	}
}
