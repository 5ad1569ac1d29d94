package integration

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/messages"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/network"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

type outbound struct {
	target    types.NodeID
	broadcast bool
	msg       messages.ConsensusMessage
}

// outbox hands messages to the network from its own goroutine so the state
// machine never waits on I/O. Failed sends are retried with backoff.
type outbox struct {
	net   network.NetworkInterface
	ch    chan outbound
	retry RetryConfig
	log   zerolog.Logger
}

func newOutbox(net network.NetworkInterface, size int, retry RetryConfig, log zerolog.Logger) *outbox {
	return &outbox{
		net:   net,
		ch:    make(chan outbound, size),
		retry: retry,
		log:   log.With().Str("component", "outbox").Logger(),
	}
}

// Send queues msg for target.
func (o *outbox) Send(target types.NodeID, msg messages.ConsensusMessage) {
	o.enqueue(outbound{target: target, msg: msg})
}

// Broadcast queues msg for every other validator.
func (o *outbox) Broadcast(msg messages.ConsensusMessage) {
	o.enqueue(outbound{broadcast: true, msg: msg})
}

func (o *outbox) enqueue(out outbound) {
	select {
	case o.ch <- out:
	default:
		o.log.Warn().
			Str("message_type", out.msg.Type().String()).
			Uint64("view", uint64(out.msg.View())).
			Msg("Outbox full, dropping message")
	}
}

func (o *outbox) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-o.ch:
			o.deliver(ctx, out)
		}
	}
}

func (o *outbox) deliver(ctx context.Context, out outbound) {
	err := withRetry(ctx, o.retry, network.IsRetryable, func(ctx context.Context) error {
		if out.broadcast {
			return o.net.Broadcast(ctx, out.msg)
		}
		return o.net.Send(ctx, out.target, out.msg)
	})
	if err != nil && ctx.Err() == nil {
		ev := o.log.Warn().Err(err).
			Str("message_type", out.msg.Type().String()).
			Uint64("view", uint64(out.msg.View()))
		if !out.broadcast {
			ev = ev.Uint16("destination", uint16(out.target))
		}
		ev.Msg("Failed to send message")
	}
}
