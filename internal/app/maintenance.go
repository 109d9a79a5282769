package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var maintenanceCronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// nextMaintenanceRun resolves the next run after the given instant in
// the configured IANA timezone, returned in UTC.
func nextMaintenanceRun(cronExpr, timezone string, from time.Time) (time.Time, error) {
	cronExpr = strings.Join(strings.Fields(cronExpr), " ")
	if cronExpr == "" {
		return time.Time{}, fmt.Errorf("empty cron expression")
	}
	if strings.TrimSpace(timezone) == "" {
		timezone = "UTC"
	}
	location, err := time.LoadLocation(strings.TrimSpace(timezone))
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone: %w", err)
	}
	spec, err := maintenanceCronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression: %w", err)
	}
	if from.IsZero() {
		from = time.Now().UTC()
	}
	return spec.Next(from.In(location)).UTC(), nil
}

func (r *Runtime) runMaintenanceLoop(ctx context.Context) error {
	logger := r.logger.With("component", "maintenance")

	// Reject a bad expression up front instead of on the first tick.
	if _, err := nextMaintenanceRun(r.cfg.MaintenanceCron, r.cfg.MaintenanceTimezone, time.Now()); err != nil {
		logger.Error("maintenance schedule invalid, loop disabled", "cron", r.cfg.MaintenanceCron, "error", err)
		r.health.Disabled("maintenance", "schedule invalid")
		<-ctx.Done()
		return nil
	}

	r.health.Beat("maintenance", "scheduled")
	for {
		next, err := nextMaintenanceRun(r.cfg.MaintenanceCron, r.cfg.MaintenanceTimezone, time.Now())
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			r.health.Stopped("maintenance", "stopped")
			return nil
		case <-time.After(time.Until(next)):
		}

		if err := r.store.Maintenance(ctx); err != nil {
			logger.Error("store maintenance failed", "error", err)
			r.health.Degrade("maintenance", "run failed", err)
			continue
		}
		if stats, err := r.store.Stats(ctx); err == nil {
			logger.Info("store maintenance completed", "rows", stats)
		} else {
			logger.Info("store maintenance completed")
		}
		r.health.Beat("maintenance", "last run ok")
	}
}
