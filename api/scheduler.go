/*
scheduler.go - Background reconciliation sweep

PURPOSE:
  Periodically verifies every entity's cached balance against its history
  and reports drift. It never corrects: a drifted entity keeps refusing
  postings until someone rebuilds it explicitly.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs once immediately on start
  - Keeps the last report for the API and logs drifted entities at warn

USAGE:
  scheduler := NewReconciliationScheduler(ledger, time.Hour, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: per-entity reconciliation and rebuild endpoints
  - ledger/reconcile.go: Verify / VerifyAll
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/subledger/ledger"
)

// SweepReport summarizes one pass over every entity.
type SweepReport struct {
	RanAt   time.Time
	Checked int
	Stale   int
	Drifted []ledger.Verification
}

// ReconciliationScheduler verifies all entities on an interval.
type ReconciliationScheduler struct {
	Ledger        *ledger.Ledger
	CheckInterval time.Duration

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   *SweepReport
}

// NewReconciliationScheduler creates a new scheduler. A non-positive
// interval leaves it disabled.
func NewReconciliationScheduler(l *ledger.Ledger, interval time.Duration, log zerolog.Logger) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Ledger:        l,
		CheckInterval: interval,
		log:           log,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.CheckInterval <= 0 {
		rs.log.Info().Msg("reconciliation sweep disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run(rs.ticker, rs.stop)

	rs.log.Info().Dur("interval", rs.CheckInterval).Msg("reconciliation sweep started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	ticker, stop := rs.ticker, rs.stop
	rs.ticker, rs.stop = nil, nil
	rs.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	rs.wg.Wait()
	rs.log.Info().Msg("reconciliation sweep stopped")
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	rs.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			rs.sweep(ctx)
		case <-stop:
			return
		}
	}
}

func (rs *ReconciliationScheduler) sweep(ctx context.Context) {
	if _, err := rs.RunNow(ctx); err != nil && ctx.Err() == nil {
		rs.log.Error().Err(err).Msg("reconciliation sweep failed")
	}
}

// RunNow verifies every entity immediately and records the report.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) (SweepReport, error) {
	results, err := rs.Ledger.VerifyAll(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{RanAt: time.Now().UTC(), Checked: len(results)}
	for _, v := range results {
		if v.Stale {
			report.Stale++
		}
		if !v.Consistent {
			report.Drifted = append(report.Drifted, v)
			rs.log.Warn().
				Str("entity_id", string(v.EntityID)).
				Str("stored", v.Stored.String()).
				Str("derived", v.Derived.String()).
				Msg("balance drift detected")
		}
	}

	rs.mu.Lock()
	rs.last = &report
	rs.mu.Unlock()

	rs.log.Debug().Int("checked", report.Checked).Int("drifted", len(report.Drifted)).Msg("reconciliation sweep complete")
	return report, nil
}

// LastReport returns the most recent sweep, if any has run.
func (rs *ReconciliationScheduler) LastReport() (SweepReport, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.last == nil {
		return SweepReport{}, false
	}
	return *rs.last, true
}
