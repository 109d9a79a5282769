package app

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/aomori/sobriquet/internal/httpapi"
)

func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("sobriquetd starting", "addr", r.cfg.HTTPAddr, "db_path", r.cfg.DBPath)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		r.health.Starting("pipeline", "consumer starting")
		r.pipeline.Start()
		if r.pipeline.Disabled() {
			r.health.Disabled("pipeline", "configuration invalid")
		} else {
			r.health.Beat("pipeline", "consumer running")
		}
		<-groupCtx.Done()
		r.pipeline.Stop()
		r.health.Stopped("pipeline", "stopped")
		return nil
	})

	for _, conn := range r.connectors {
		connector := conn
		group.Go(func() error {
			return connector.Start(groupCtx)
		})
	}

	if r.watcher != nil {
		group.Go(func() error {
			return r.watcher.Start(groupCtx)
		})
	}

	if strings.TrimSpace(r.cfg.MaintenanceCron) != "" {
		group.Go(func() error {
			return r.runMaintenanceLoop(groupCtx)
		})
	}

	group.Go(func() error {
		return httpapi.Serve(groupCtx, r.cfg.HTTPAddr, r.handler, r.logger.With("component", "httpapi"))
	})

	return group.Wait()
}
