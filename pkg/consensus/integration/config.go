package integration

import (
	"fmt"
	"time"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/events"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/metrics"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/pacemaker"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// RetryConfig bounds the retries of adapter writes and sends.
type RetryConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries uint64
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		MaxRetries: 10,
	}
}

// Validate checks that the policy can build a backoff.
func (c RetryConfig) Validate() error {
	if c.BaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive, got %s", c.BaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("retry max delay %s is below base delay %s", c.MaxDelay, c.BaseDelay)
	}
	return nil
}

// Config is the static configuration of one validator's state machine.
type Config struct {
	NodeID     types.NodeID
	Validators *types.ValidatorSet
	Pacemaker  pacemaker.Config
	Retry      RetryConfig
	// OutboxSize bounds queued outbound messages; extra sends are dropped.
	OutboxSize int
}

// DefaultConfig returns a configuration for id in validators.
func DefaultConfig(id types.NodeID, validators *types.ValidatorSet) Config {
	return Config{
		NodeID:     id,
		Validators: validators,
		Pacemaker:  pacemaker.DefaultConfig(),
		Retry:      DefaultRetryConfig(),
		OutboxSize: 1024,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Validators == nil {
		return fmt.Errorf("validator set cannot be nil")
	}
	if !c.Validators.IsMember(c.NodeID) {
		return fmt.Errorf("node %d is not in the validator set", c.NodeID)
	}
	if err := c.Pacemaker.Validate(); err != nil {
		return fmt.Errorf("invalid pacemaker config: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}
	if c.OutboxSize < 1 {
		return fmt.Errorf("outbox size must be positive, got %d", c.OutboxSize)
	}
	return nil
}

// Option customizes a StateMachine.
type Option func(*StateMachine)

// WithEventTracer reports protocol events to tracer.
func WithEventTracer(tracer events.EventTracer) Option {
	return func(sm *StateMachine) {
		if tracer != nil {
			sm.tracer = tracer
		}
	}
}

// WithMetrics reports progress to collector.
func WithMetrics(collector metrics.Consensus) Option {
	return func(sm *StateMachine) {
		if collector != nil {
			sm.metrics = collector
		}
	}
}

// WithCommitHandler calls fn for every block the node finalizes, lowest height
// first, after the block is durable. fn runs on the consensus goroutine.
func WithCommitHandler(fn func(*types.Block)) Option {
	return func(sm *StateMachine) {
		if fn != nil {
			sm.onCommit = append(sm.onCommit, fn)
		}
	}
}
