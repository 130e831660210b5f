package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
)

// Runner schedules admin jobs on six-field cron specs (seconds first).
type Runner struct {
	cron    *cron.Cron
	log     *slog.Logger
	baseCtx context.Context
}

// NewRunner creates a Runner whose jobs receive baseCtx.
func NewRunner(baseCtx context.Context, log *slog.Logger) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds()),
		log:     logger.OrDefault(log).With("component", "cron"),
		baseCtx: baseCtx,
	}
}

// Add registers job at spec.
func (r *Runner) Add(name, spec string, job func(context.Context)) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		r.log.Info("cron job started", "job", name)
		job(r.baseCtx)
	})
	if err != nil {
		return 0, fmt.Errorf("admin cron %s %q: %w", name, spec, err)
	}
	return id, nil
}

// AddDailyReport schedules SendDailyReport.
func (r *Runner) AddDailyReport(spec string, svc *Service) (cron.EntryID, error) {
	return r.Add("daily_report", spec, func(ctx context.Context) { svc.SendDailyReport(ctx) })
}

// Entries returns the scheduled jobs.
func (r *Runner) Entries() []cron.Entry {
	return r.cron.Entries()
}

func (r *Runner) Start() {
	r.log.Info("cron started", "jobs", len(r.cron.Entries()))
	r.cron.Start()
}

// Stop waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("cron stopped")
}
