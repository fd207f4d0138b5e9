package watch

import (
	"context"
	"sync"
	"time"

	"notewatch/pkg/logx"
)

// DefaultAlertWindow is how long the throttle suppresses repeat alerts. A
// persistently failing source produces at most one admin message per window.
const DefaultAlertWindow = 8 * time.Hour

// AdminSender is the slice of the dispatcher the throttle needs.
type AdminSender interface {
	SendAdmin(ctx context.Context, recipient int64, text string) error
}

// Alerter rate-limits failure escalation to the single administrative
// recipient. It is process-wide state: the window applies across all error
// kinds, not per kind. It never returns an error; with no admin configured
// every report is a silent no-op.
type Alerter struct {
	sender AdminSender
	admin  func() int64 // current admin recipient, 0 = none
	window time.Duration
	log    logx.Logger

	now    func() time.Time
	onMark func(ctx context.Context, t time.Time) // persistence hook, may be nil
	onSent func()                                 // counts delivered alerts, may be nil

	mu   sync.Mutex
	last time.Time
}

type AlerterOptions struct {
	Window time.Duration
	Now    func() time.Time
	// LastAt seeds the throttle from persisted state so restarts don't reset
	// the window.
	LastAt time.Time
	OnMark func(ctx context.Context, t time.Time)
	OnSent func()
}

func NewAlerter(sender AdminSender, admin func() int64, log logx.Logger, opt AlerterOptions) *Alerter {
	if opt.Window <= 0 {
		opt.Window = DefaultAlertWindow
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Alerter{
		sender: sender,
		admin:  admin,
		window: opt.Window,
		log:    log,
		now:    opt.Now,
		onMark: opt.OnMark,
		onSent: opt.OnSent,
		last:   opt.LastAt,
	}
}

// Report escalates a failure, suppressed while inside the throttle window.
func (a *Alerter) Report(ctx context.Context, msg string) { a.report(ctx, msg, true) }

// ReportAlways escalates unconditionally. Used for failures that make the
// whole cycle unusable, like an unreadable configuration.
func (a *Alerter) ReportAlways(ctx context.Context, msg string) { a.report(ctx, msg, false) }

func (a *Alerter) report(ctx context.Context, msg string, rateLimited bool) {
	now := a.now()

	a.mu.Lock()
	if rateLimited && now.Sub(a.last) <= a.window {
		a.mu.Unlock()
		a.log.Debug("alert suppressed", logx.String("msg", msg), logx.Time("last_alert", a.last))
		return
	}
	a.last = now
	a.mu.Unlock()

	if a.onMark != nil {
		a.onMark(ctx, now)
	}

	admin := a.admin()
	if admin == 0 {
		a.log.Warn("alert dropped: no admin recipient configured", logx.String("msg", msg))
		return
	}
	if err := a.sender.SendAdmin(ctx, admin, msg); err != nil {
		// Alerts are best-effort; the error channel for the error channel
		// is the log.
		a.log.Error("alert delivery failed", logx.String("msg", msg), logx.Err(err))
		return
	}
	if a.onSent != nil {
		a.onSent()
	}
	a.log.Info("alert sent", logx.String("msg", msg))
}
