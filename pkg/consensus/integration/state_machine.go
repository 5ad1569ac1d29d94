// Package integration assembles the consensus core: it runs the state machine
// that feeds network input through the safety engine, the vote aggregator and
// the pacemaker, and persists every decision before acting on it.
package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/engine"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/events"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/metrics"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/network"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/pacemaker"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/storage"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// ErrSafetyViolation is returned by Run when a quorum finalized a block that
// conflicts with the committed chain. The state machine halts permanently.
var ErrSafetyViolation = engine.ErrSafetyViolation

// ErrAlreadyRunning is returned when Run is called more than once.
var ErrAlreadyRunning = errors.New("state machine already running")

// PayloadSource supplies the opaque payload of the block a leader is about to
// propose.
type PayloadSource interface {
	NextPayload(ctx context.Context, view types.ViewNumber) ([]byte, error)
}

// Status is a snapshot of the state machine, safe to read from any goroutine.
type Status struct {
	View            types.ViewNumber
	CommittedHeight types.Height
	LockedView      types.ViewNumber
	HighQCView      types.ViewNumber
	Halted          bool
}

// StateMachine is the consensus state machine of one validator. Every piece of
// consensus state is owned by the goroutine executing Run; the network feeds it
// through an unbounded queue and outbound traffic leaves through the outbox.
type StateMachine struct {
	cfg        Config
	self       types.NodeID
	validators *types.ValidatorSet
	signer     crypto.CryptoInterface
	store      storage.Store
	net        network.NetworkInterface
	payload    PayloadSource

	pm      *pacemaker.Pacemaker
	safety  *engine.SafetyRules
	votes   *engine.VoteAggregator
	genesis *types.Block

	queue        *eventQueue
	outbox       *outbox
	views        *viewSync
	sync         *blockSync
	phases       *phaseTracker
	proposedView types.ViewNumber
	startView    types.ViewNumber
	viewStarted  time.Time

	running         *atomic.Bool
	halted          *atomic.Bool
	committedHeight *atomic.Uint64
	lockedView      *atomic.Uint64
	highQCView      *atomic.Uint64

	tracer   events.EventTracer
	metrics  metrics.Consensus
	onCommit []func(*types.Block)
	log      zerolog.Logger
}

// NewStateMachine creates the state machine of cfg.NodeID. No state is read
// from store until Run.
func NewStateMachine(
	cfg Config,
	signer crypto.CryptoInterface,
	store storage.Store,
	net network.NetworkInterface,
	payload PayloadSource,
	log zerolog.Logger,
	opts ...Option,
) (*StateMachine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state machine config: %w", err)
	}
	if signer == nil {
		return nil, fmt.Errorf("crypto interface cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if net == nil {
		return nil, fmt.Errorf("network interface cannot be nil")
	}
	if payload == nil {
		return nil, fmt.Errorf("payload source cannot be nil")
	}

	log = log.With().Uint16("node_id", uint16(cfg.NodeID)).Logger()

	pm, err := pacemaker.New(cfg.Validators, cfg.Pacemaker, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create pacemaker: %w", err)
	}

	sm := &StateMachine{
		cfg:             cfg,
		self:            cfg.NodeID,
		validators:      cfg.Validators,
		signer:          signer,
		store:           store,
		net:             net,
		payload:         payload,
		pm:              pm,
		queue:           newEventQueue(),
		outbox:          newOutbox(net, cfg.OutboxSize, cfg.Retry, log),
		views:           newViewSync(cfg.Validators),
		sync:            newBlockSync(),
		running:         atomic.NewBool(false),
		halted:          atomic.NewBool(false),
		committedHeight: atomic.NewUint64(0),
		lockedView:      atomic.NewUint64(0),
		highQCView:      atomic.NewUint64(0),
		tracer:          &events.NoOpEventTracer{},
		metrics:         metrics.NewNoopCollector(),
		log:             log.With().Str("component", "state_machine").Logger(),
	}
	for _, opt := range opts {
		opt(sm)
	}
	sm.phases = newPhaseTracker(sm.self, sm.tracer)

	return sm, nil
}

// Run recovers the persisted state and processes events until ctx ends or a
// fatal error occurs. It returns nil on cancellation, an error wrapping
// ErrSafetyViolation after a halt, and any adapter error that outlived its
// retries.
func (sm *StateMachine) Run(ctx context.Context) error {
	if !sm.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if sm.halted.Load() {
		return fmt.Errorf("%w: node is halted", ErrSafetyViolation)
	}

	if err := sm.recover(ctx); err != nil {
		return sm.fail(ctx, fmt.Errorf("recovery failed: %w", err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		sm.pm.Stop()
		wg.Wait()
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		sm.ingest(runCtx)
	}()
	go func() {
		defer wg.Done()
		sm.outbox.run(runCtx)
	}()

	sm.pm.Start(runCtx, sm.startView)
	if err := sm.enterView(runCtx, sm.pm.CurrentView(), "start"); err != nil {
		return sm.fail(runCtx, err)
	}
	sm.publish()

	sm.log.Info().
		Uint64("view", uint64(sm.pm.CurrentView())).
		Uint64("height", uint64(sm.safety.CommittedHeight())).
		Msg("Consensus state machine started")

	for {
		select {
		case <-runCtx.Done():
			sm.log.Info().Msg("Consensus state machine stopped")
			return nil

		case <-sm.queue.Notify():
			for {
				ev, ok := sm.queue.Pop()
				if !ok {
					break
				}
				if err := sm.handleMessage(runCtx, ev); err != nil {
					return sm.fail(runCtx, err)
				}
				if runCtx.Err() != nil {
					return nil
				}
			}

		case ev := <-sm.pm.Timeouts():
			if err := sm.onTimeout(runCtx, ev); err != nil {
				return sm.fail(runCtx, err)
			}
		}
		sm.publish()
	}
}

// Halted reports whether the state machine stopped on a safety violation.
func (sm *StateMachine) Halted() bool {
	return sm.halted.Load()
}

// Status returns a snapshot of the validator's progress.
func (sm *StateMachine) Status() Status {
	return Status{
		View:            sm.pm.CurrentView(),
		CommittedHeight: types.Height(sm.committedHeight.Load()),
		LockedView:      types.ViewNumber(sm.lockedView.Load()),
		HighQCView:      types.ViewNumber(sm.highQCView.Load()),
		Halted:          sm.halted.Load(),
	}
}

// NodeID returns the validator this state machine runs for.
func (sm *StateMachine) NodeID() types.NodeID {
	return sm.self
}

// recover rebuilds the consensus state from the store: the committed block
// becomes the tree root, pending blocks are re-attached and the safety record
// restores lock, high QC, last voted view and view.
func (sm *StateMachine) recover(ctx context.Context) error {
	sm.tracer.RecordTransition(uint16(sm.self), "", events.StateRecovering, "start")

	sm.genesis = engine.NewGenesisBlock(sm.signer)

	stored, err := sm.store.GetBlockByHeight(0)
	switch {
	case storage.IsStorageError(err, storage.ErrorTypeNotFound):
		if err := sm.persistBlock(ctx, sm.genesis); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("failed to read genesis block: %w", err)
	case stored.Hash != sm.genesis.Hash:
		return fmt.Errorf("store holds genesis %s, expected %s", stored.Hash, sm.genesis.Hash)
	}

	height, err := sm.store.CommittedHeight()
	if err != nil {
		return fmt.Errorf("failed to read committed height: %w", err)
	}
	root := sm.genesis
	if height > 0 {
		root, err = sm.store.GetBlockByHeight(height)
		if err != nil {
			return fmt.Errorf("failed to read committed block %d: %w", height, err)
		}
	}

	sd, err := sm.store.GetSafetyData()
	if err != nil && !storage.IsStorageError(err, storage.ErrorTypeNotFound) {
		return fmt.Errorf("failed to read safety data: %w", err)
	}
	pending, err := sm.store.PendingBlocks()
	if err != nil {
		return fmt.Errorf("failed to read pending blocks: %w", err)
	}

	sm.safety = engine.NewSafetyRules(sm.self, sm.signer, root, sm.log)
	sm.safety.Restore(sd, pending)
	if err := sm.safety.Tree().ValidateTree(); err != nil {
		return fmt.Errorf("restored block tree is inconsistent: %w", err)
	}
	sm.votes = engine.NewVoteAggregator(sm.validators, sm.signer, sm.safety.Tree(), sm.genesis.Hash)
	sm.votes.PruneBelow(sm.safety.LockedQC().View)

	sm.startView = 1
	if sd != nil && sd.CurrentView > sm.startView {
		sm.startView = sd.CurrentView
	}
	if next := sm.safety.HighQC().View + 1; next > sm.startView {
		sm.startView = next
	}
	sm.viewStarted = time.Now()

	sm.metrics.CommittedHeight(uint64(sm.safety.CommittedHeight()))
	sm.metrics.LockedView(uint64(sm.safety.LockedQC().View))

	sm.log.Info().
		Uint64("height", uint64(sm.safety.CommittedHeight())).
		Str("block_hash", root.Hash.String()).
		Uint64("locked_view", uint64(sm.safety.LockedQC().View)).
		Uint64("high_qc_view", uint64(sm.safety.HighQC().View)).
		Uint64("last_voted_view", uint64(sm.safety.LastVotedView())).
		Int("pending_blocks", len(pending)).
		Uint64("view", uint64(sm.startView)).
		Msg("Recovered consensus state")

	return nil
}

// ingest moves inbound network messages into the event queue.
func (sm *StateMachine) ingest(ctx context.Context) {
	inbound := sm.net.Receive()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			sm.queue.Push(msg)
		}
	}
}

// fail classifies a fatal error. A safety violation halts the node for good.
func (sm *StateMachine) fail(ctx context.Context, err error) error {
	if errors.Is(err, ErrSafetyViolation) {
		sm.halted.Store(true)
		sm.tracer.RecordEvent(uint16(sm.self), events.EventSafetyViolation, events.EventPayload{
			"error": err.Error(),
		})
		sm.tracer.RecordTransition(uint16(sm.self), "", events.StateHalted, "safety_violation")
		sm.log.Error().Err(err).Msg("Safety violation, halting")
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	sm.log.Error().Err(err).Msg("Consensus state machine failed")
	return err
}

// publish copies the state other goroutines may read into atomics.
func (sm *StateMachine) publish() {
	if sm.safety == nil {
		return
	}
	sm.committedHeight.Store(uint64(sm.safety.CommittedHeight()))
	sm.lockedView.Store(uint64(sm.safety.LockedQC().View))
	sm.highQCView.Store(uint64(sm.safety.HighQC().View))
}

func (sm *StateMachine) persistBlock(ctx context.Context, block *types.Block) error {
	err := withRetry(ctx, sm.cfg.Retry, storage.IsRetryable, func(ctx context.Context) error {
		return sm.store.PersistBlock(ctx, block)
	})
	if storage.IsStorageError(err, storage.ErrorTypeConflict) {
		return fmt.Errorf("%w: height %d: %v", ErrSafetyViolation, block.Height, err)
	}
	if err != nil {
		return fmt.Errorf("failed to persist block %d: %w", block.Height, err)
	}
	return nil
}

func (sm *StateMachine) storePending(ctx context.Context, block *types.Block) error {
	err := withRetry(ctx, sm.cfg.Retry, storage.IsRetryable, func(ctx context.Context) error {
		return sm.store.StorePending(ctx, block)
	})
	if err != nil {
		return fmt.Errorf("failed to store pending block %s: %w", block.Hash, err)
	}
	return nil
}

func (sm *StateMachine) persistSafetyData(ctx context.Context) error {
	sd := sm.safety.SafetyData(sm.pm.CurrentView())
	err := withRetry(ctx, sm.cfg.Retry, storage.IsRetryable, func(ctx context.Context) error {
		return sm.store.PutSafetyData(ctx, sd)
	})
	if err != nil {
		return fmt.Errorf("failed to persist safety data: %w", err)
	}
	sm.tracer.RecordEvent(uint16(sm.self), events.EventSafetyDataPersisted, events.EventPayload{
		"last_voted_view":  uint64(sd.LastVotedView),
		"committed_height": uint64(sd.CommittedHeight),
	})
	return nil
}
