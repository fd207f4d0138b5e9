// Package watch is the control loop: one cycle fetches new content per
// category, notifies subscribers, and only then advances and persists the
// watermarks. Failures route through the alert throttle; nothing in here
// terminates the process.
package watch

import (
	"context"
	"fmt"
	"time"

	"notewatch/internal/config"
	"notewatch/internal/content"
	"notewatch/internal/history"
	"notewatch/internal/metrics"
	"notewatch/internal/notify"
	"notewatch/pkg/logx"
)

// Runner executes check cycles. Cycles are serialized by the scheduler's
// single worker, so Runner itself holds no lock around its phases.
type Runner struct {
	cfgs    *config.Manager
	fetcher *Fetcher
	hist    *history.Store
	disp    notify.Dispatcher
	alerts  *Alerter
	mets    *metrics.Set // may be nil
	log     logx.Logger

	now func() time.Time
}

type RunnerOptions struct {
	Metrics *metrics.Set
	Now     func() time.Time
}

func NewRunner(cfgs *config.Manager, fetcher *Fetcher, hist *history.Store, disp notify.Dispatcher, alerts *Alerter, log logx.Logger, opt RunnerOptions) *Runner {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Runner{
		cfgs:    cfgs,
		fetcher: fetcher,
		hist:    hist,
		disp:    disp,
		alerts:  alerts,
		mets:    opt.Metrics,
		log:     log,
		now:     opt.Now,
	}
}

// RunCycle is the scheduler's job body: reload config, gate on the operating
// window, fetch, notify, persist. The phase order is the correctness
// guarantee: watermarks advance only after a successful delivery, so a crash
// or failure in between re-delivers rather than silently drops.
func (r *Runner) RunCycle(ctx context.Context) error {
	start := r.now()

	cfg, err := r.cfgs.Reload()
	if err != nil {
		// Config failures always alert: a broken config means every future
		// cycle is dead too, and the operator is the only one who can fix it.
		r.alerts.ReportAlways(ctx, "configuration reload failed: "+err.Error())
		r.count("config_error")
		return fmt.Errorf("reload config: %w", err)
	}

	if hour := start.In(r.location(cfg)).Hour(); !cfg.Watch.WithinWindow(hour) {
		r.log.Debug("outside operating window, skipping cycle",
			logx.Int("hour", hour),
			logx.Int("begin", cfg.Watch.OperationHourBegin),
			logx.Int("end", cfg.Watch.OperationHourEnd))
		r.count("skipped")
		return nil
	}

	cats, err := cfg.Watch.CategoryList()
	if err != nil {
		// Validate() makes this unreachable, but a cycle never trusts that.
		r.alerts.ReportAlways(ctx, "invalid monitored categories: "+err.Error())
		r.count("config_error")
		return err
	}

	batch, err := r.fetcher.FetchAll(ctx, cats, r.hist.LastSeen)
	if err != nil {
		r.alerts.Report(ctx, "content fetch failed: "+content.CategoryUnspecified.String())
		if r.mets != nil {
			r.mets.FetchErrors.WithLabelValues(content.CategoryUnspecified.String()).Inc()
		}
		r.count("fetch_error")
		return fmt.Errorf("fetch: %w", err)
	}

	if batch.Empty() {
		r.log.Debug("no new content", logx.Duration("dur", r.now().Sub(start)))
		r.count("empty")
		return nil
	}

	recipients := append([]int64(nil), cfg.Telegram.SubscriberIDs...)
	if cfg.Telegram.AdminChatID != 0 {
		recipients = append(recipients, cfg.Telegram.AdminChatID)
	}

	if err := r.disp.SendBatch(ctx, recipients, batch); err != nil {
		// Watermarks stay put: the same items are retried next cycle.
		r.alerts.Report(ctx, "content delivery failed")
		r.count("send_error")
		return fmt.Errorf("deliver batch: %w", err)
	}

	for cat, items := range batch {
		// Newest-first: the first element carries the highest id.
		r.hist.Advance(cat, items[0].ID)
		if r.mets != nil {
			r.mets.ItemsFetched.WithLabelValues(cat.String()).Add(float64(len(items)))
		}
	}
	if err := r.hist.Persist(ctx); err != nil {
		// Best-effort: the notification went out, so failing the cycle now
		// would only cause a duplicate delivery later. Log and move on.
		r.log.Error("watermark persist failed", logx.Err(err))
		if r.mets != nil {
			r.mets.PersistErrors.Inc()
		}
	}

	r.log.Info("cycle complete",
		logx.Int("categories", len(batch)),
		logx.Int("items", batch.Total()),
		logx.Duration("dur", r.now().Sub(start)))
	r.count("ok")
	return nil
}

// OnCategoryError is wired into the Fetcher so per-category failures raise a
// throttled alert naming the category, while the cycle carries on.
func (r *Runner) OnCategoryError(ctx context.Context, cat content.Category, err error) {
	r.alerts.Report(ctx, fmt.Sprintf("content fetch failed: %s", cat))
	if r.mets != nil {
		r.mets.FetchErrors.WithLabelValues(cat.String()).Inc()
	}
}

func (r *Runner) count(result string) {
	if r.mets != nil {
		r.mets.CyclesTotal.WithLabelValues(result).Inc()
	}
}

func (r *Runner) location(cfg *config.Config) *time.Location {
	if tz := cfg.Watch.Timezone; tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}
