// Package stats keeps in-memory counters of dispatcher outcomes and logs a
// summary on a fixed cadence and at shutdown. Counters reset on restart;
// the summary therefore also reports terminal-state totals from the store.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"matchbot/internal/dispatch"
	"matchbot/internal/eventbus"
	logx "matchbot/pkg/logx"
)

// CountSource supplies lifetime terminal-state totals. storage.Store satisfies it.
type CountSource interface {
	TerminalCounts(ctx context.Context) (completed, failed int64, err error)
}

type Summary struct {
	Processed uint64
	Succeeded uint64
	Failed    uint64
}

// SuccessRate is the succeeded share of processed attempts, in percent.
func (s Summary) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Processed) * 100
}

type Reporter struct {
	mu  sync.Mutex
	sum Summary

	interval time.Duration
	log      logx.Logger
	bus      eventbus.Bus
	src      CountSource

	c       *cron.Cron
	unsub   func()
	wg      sync.WaitGroup
	started time.Time
}

func New(interval time.Duration, bus eventbus.Bus, src CountSource, log logx.Logger) *Reporter {
	if interval <= 0 {
		interval = time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{interval: interval, log: log, bus: bus, src: src}
}

func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}
	r.started = time.Now()

	ch, unsub := r.bus.Subscribe(64)
	r.unsub = unsub
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for ev := range ch {
			r.record(ev.Type)
		}
	}()

	c := cron.New()
	spec := "@every " + r.interval.String()
	if _, err := c.AddFunc(spec, func() { r.LogSummary(ctx) }); err != nil {
		unsub()
		r.unsub = nil
		return fmt.Errorf("schedule summary: %w", err)
	}
	r.c = c
	c.Start()
	return nil
}

func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	unsub := r.unsub
	r.c = nil
	r.unsub = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if unsub != nil {
		unsub()
	}
	r.wg.Wait()

	// Final summary on graceful shutdown.
	r.LogSummary(ctx)
}

func (r *Reporter) record(evType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch evType {
	case dispatch.EventCompleted:
		r.sum.Processed++
		r.sum.Succeeded++
	case dispatch.EventRetried, dispatch.EventFailed:
		// Every failed attempt counts, including ones that will retry.
		r.sum.Processed++
		r.sum.Failed++
	}
}

func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sum
}

func (r *Reporter) LogSummary(ctx context.Context) {
	sum := r.Summary()

	fields := []logx.Field{
		logx.Uint64("processed", sum.Processed),
		logx.Uint64("succeeded", sum.Succeeded),
		logx.Uint64("failed", sum.Failed),
		logx.Float64("success_rate_pct", sum.SuccessRate()),
		logx.Duration("uptime", time.Since(r.started).Round(time.Second)),
	}

	if r.src != nil {
		if completed, failed, err := r.src.TerminalCounts(ctx); err == nil {
			fields = append(fields,
				logx.Int64("total_completed", completed),
				logx.Int64("total_failed", failed))
		} else {
			r.log.Warn("terminal counts unavailable", logx.Err(err))
		}
	}

	r.log.Info("dispatcher statistics", fields...)
}
