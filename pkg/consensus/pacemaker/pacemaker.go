// Package pacemaker drives view progression: it tracks the current view,
// answers who leads a view and fires a timeout when a view makes no progress.
package pacemaker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// TimeoutEvent is delivered when the timer of View expires.
type TimeoutEvent struct {
	View     types.ViewNumber
	Duration time.Duration
}

// Pacemaker owns the current view. Views never decrease.
type Pacemaker struct {
	mu          sync.RWMutex
	validators  *types.ValidatorSet
	view        types.ViewNumber
	timeouts    *TimeoutController
	lastAdvance time.Time

	ctx       context.Context
	stopTimer context.CancelFunc
	timeoutCh chan TimeoutEvent
	wg        sync.WaitGroup
	started   bool

	log zerolog.Logger
}

// New creates a pacemaker at view 0. Start arms the first timer.
func New(validators *types.ValidatorSet, cfg Config, log zerolog.Logger) (*Pacemaker, error) {
	tc, err := NewTimeoutController(cfg)
	if err != nil {
		return nil, err
	}
	return &Pacemaker{
		validators: validators,
		timeouts:   tc,
		stopTimer:  func() {},
		timeoutCh:  make(chan TimeoutEvent, 1),
		log:        log.With().Str("component", "pacemaker").Logger(),
	}, nil
}

// LeaderFor returns the leader of view. It is a pure function of the view and
// the validator set, identical on every honest validator.
func (p *Pacemaker) LeaderFor(view types.ViewNumber) types.NodeID {
	return p.validators.LeaderFor(view)
}

// CurrentView returns the current view.
func (p *Pacemaker) CurrentView() types.ViewNumber {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.view
}

// IsLeader reports whether id leads the current view.
func (p *Pacemaker) IsLeader(id types.NodeID) bool {
	return p.LeaderFor(p.CurrentView()) == id
}

// CurrentTimeout returns the timeout the current view was armed with.
func (p *Pacemaker) CurrentTimeout() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.timeouts.Duration()
}

// FailedViews returns the number of consecutive views that timed out.
func (p *Pacemaker) FailedViews() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.timeouts.FailedViews()
}

// Timeouts returns the channel on which expired views are reported. A stale
// event can still be buffered after the view moved on; OnTimeout ignores it.
func (p *Pacemaker) Timeouts() <-chan TimeoutEvent {
	return p.timeoutCh
}

// Start enters view (restored from storage, or 1 on a fresh chain) and arms
// its timer. The timer stops when ctx is cancelled or Stop is called.
func (p *Pacemaker) Start(ctx context.Context, view types.ViewNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ctx = ctx
	p.started = true
	if view > p.view {
		p.view = view
	}
	p.lastAdvance = time.Now()
	p.armLocked()
}

// Stop cancels the pending timer and waits for the timer goroutine to exit.
func (p *Pacemaker) Stop() {
	p.mu.Lock()
	p.started = false
	p.stopTimer()
	p.mu.Unlock()

	p.wg.Wait()
}

// AdvanceOnQC moves to qc.View+1 if that is ahead of the current view. A QC
// for the current view or later proves progress, so the backoff is reset and
// the pending timer is replaced. It returns true if the view changed.
func (p *Pacemaker) AdvanceOnQC(qc *types.QuorumCertificate) bool {
	if qc == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := qc.View + 1
	if next <= p.view {
		return false
	}

	p.timeouts.OnProgress()
	p.enterLocked(next, "qc")
	return true
}

// AdvanceTo jumps forward to view without touching the backoff. Used when the
// validator learns of a higher view from a legitimate proposal or from f+1
// NewView messages. It returns true if the view changed.
func (p *Pacemaker) AdvanceTo(view types.ViewNumber) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if view <= p.view {
		return false
	}
	p.enterLocked(view, "sync")
	return true
}

// OnTimeout handles the expiry of view. If view is still current, the failed
// view is counted, the pacemaker moves to view+1 and returns it; the caller
// sends NewView for that view to its leader. Stale timeouts return false.
func (p *Pacemaker) OnTimeout(view types.ViewNumber) (types.ViewNumber, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if view != p.view {
		return p.view, false
	}

	p.timeouts.OnTimeout()
	p.enterLocked(view+1, "timeout")
	return p.view, true
}

func (p *Pacemaker) enterLocked(view types.ViewNumber, reason string) {
	old := p.view
	p.view = view
	now := time.Now()
	elapsed := now.Sub(p.lastAdvance)
	p.lastAdvance = now
	p.armLocked()

	p.log.Debug().
		Uint64("from_view", uint64(old)).
		Uint64("view", uint64(view)).
		Str("reason", reason).
		Uint16("leader", uint16(p.LeaderFor(view))).
		Dur("previous_view_duration", elapsed).
		Dur("timeout", p.timeouts.Duration()).
		Msg("Entered view")
}

// armLocked replaces the pending timer with one for the current view.
func (p *Pacemaker) armLocked() {
	p.stopTimer()
	if !p.started || p.ctx == nil {
		return
	}

	ctx, cancel := context.WithCancel(p.ctx)
	p.stopTimer = cancel

	event := TimeoutEvent{View: p.view, Duration: p.timeouts.Duration()}
	p.wg.Add(1)
	go p.fireAfter(ctx, event)
}

func (p *Pacemaker) fireAfter(ctx context.Context, event TimeoutEvent) {
	defer p.wg.Done()

	timer := time.NewTimer(event.Duration)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	select {
	case p.timeoutCh <- event:
	case <-ctx.Done():
	}
}
