package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// poller drives the sync loop for one active plan. Each tick triggers a
// full sync cycle against the task store; a tick that lands while the
// previous cycle is still running is skipped, never queued.
type poller struct {
	planID  string
	orch    *Orchestrator
	cancel  context.CancelFunc
	syncing atomic.Bool
	once    sync.Once
}

// startPoller begins polling a plan. Idempotent per plan.
func (o *Orchestrator) startPoller(planID string) {
	o.mu.Lock()
	if _, ok := o.pollers[planID]; ok {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{planID: planID, orch: o, cancel: cancel}
	o.pollers[planID] = p
	o.trackers[planID] = &stagnationTracker{}
	o.mu.Unlock()

	o.wg.Add(1)
	go p.run(ctx)
}

// stopPoller cancels a plan's poll loop and drops its tracking state.
func (o *Orchestrator) stopPoller(planID string) {
	o.mu.Lock()
	p, ok := o.pollers[planID]
	if ok {
		delete(o.pollers, planID)
		delete(o.trackers, planID)
		delete(o.lastCycleCheck, planID)
	}
	o.mu.Unlock()
	if ok {
		p.stop()
	}
}

// run executes the tick loop until stopped. An immediate first sync avoids
// waiting a full interval after plan start.
func (p *poller) run(ctx context.Context) {
	defer p.orch.wg.Done()

	p.tick(ctx)
	for {
		interval := p.orch.config().Poller.Interval
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			p.tick(ctx)
		}
	}
}

// tick runs one sync cycle unless the previous one is still in flight.
func (p *poller) tick(ctx context.Context) {
	if !p.syncing.CompareAndSwap(false, true) {
		// Previous cycle still running; skip this tick.
		return
	}
	defer p.syncing.Store(false)

	stillActive, err := p.orch.syncPlan(ctx, p.planID)
	if err != nil {
		p.orch.logger.Logf("sync plan %s: %v", p.planID, err)
		return
	}
	if !stillActive {
		// The plan left the polled statuses; stop from outside the loop
		// so stopPoller's cancel does not deadlock on this goroutine.
		go p.orch.stopPoller(p.planID)
	}
}

// stop cancels the loop. Safe to call more than once.
func (p *poller) stop() {
	p.once.Do(p.cancel)
}
