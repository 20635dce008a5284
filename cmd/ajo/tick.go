package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

func runTick(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer eng.store.Close()

	report, err := eng.scheduler.RunOnce(ctx)
	slog.Info("Scheduler tick finished",
		"cycles_created", report.CyclesCreated,
		"groups_completed", report.GroupsCompleted,
		"contributions_overdue", report.Penalties.Evaluated,
		"penalties_applied", report.Penalties.Applied,
		"payouts_dispatched", report.Payouts.Dispatched,
		"payouts_recovered", report.Payouts.Recovered,
		"payout_errors", report.Payouts.Errors,
	)
	return err
}
