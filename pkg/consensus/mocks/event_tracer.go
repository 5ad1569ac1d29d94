package mocks

import (
	"sync"
	"time"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/events"
)

// ConsensusEventTracer keeps every event of every node in recording order so
// tests can assert on what the state machines did.
type ConsensusEventTracer struct {
	mu     sync.RWMutex
	events []events.ConsensusEvent
}

// NewConsensusEventTracer creates an empty tracer.
func NewConsensusEventTracer() *ConsensusEventTracer {
	return &ConsensusEventTracer{events: make([]events.ConsensusEvent, 0, 1024)}
}

func (t *ConsensusEventTracer) record(ev events.ConsensusEvent) {
	ev.Timestamp = time.Now()
	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
}

// RecordEvent implements events.EventTracer.
func (t *ConsensusEventTracer) RecordEvent(nodeID uint16, eventType events.EventType, payload events.EventPayload) {
	t.record(events.ConsensusEvent{NodeID: nodeID, EventType: eventType, Payload: payload})
}

// RecordTransition implements events.EventTracer. The phases are mirrored
// into the payload so payload-only assertions see them too.
func (t *ConsensusEventTracer) RecordTransition(nodeID uint16, from, to events.State, trigger string) {
	t.record(events.ConsensusEvent{
		NodeID:    nodeID,
		EventType: events.EventPhaseTransition,
		FromState: from,
		ToState:   to,
		Trigger:   trigger,
		Payload: events.EventPayload{
			"from_state": string(from),
			"to_state":   string(to),
			"trigger":    trigger,
		},
	})
}

// RecordMessage implements events.EventTracer.
func (t *ConsensusEventTracer) RecordMessage(nodeID uint16, direction events.MessageDirection, msgType string, payload events.EventPayload) {
	t.record(events.ConsensusEvent{
		NodeID:      nodeID,
		EventType:   events.EventType("message_" + string(direction)),
		Direction:   direction,
		MessageType: msgType,
		Payload:     payload,
	})
}

// Filter returns the recorded events for which keep is true.
func (t *ConsensusEventTracer) Filter(keep func(events.ConsensusEvent) bool) []events.ConsensusEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []events.ConsensusEvent
	for _, ev := range t.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// GetEventsByType returns all events of eventType.
func (t *ConsensusEventTracer) GetEventsByType(eventType events.EventType) []events.ConsensusEvent {
	return t.Filter(func(ev events.ConsensusEvent) bool { return ev.EventType == eventType })
}

// GetEventsByNodeAndType returns the events of eventType recorded by nodeID.
func (t *ConsensusEventTracer) GetEventsByNodeAndType(nodeID uint16, eventType events.EventType) []events.ConsensusEvent {
	return t.Filter(func(ev events.ConsensusEvent) bool {
		return ev.NodeID == nodeID && ev.EventType == eventType
	})
}

// CountByNodeAndType returns how many events of eventType node recorded.
func (t *ConsensusEventTracer) CountByNodeAndType(nodeID uint16, eventType events.EventType) int {
	return len(t.GetEventsByNodeAndType(nodeID, eventType))
}

// GetEventCount returns the total number of recorded events.
func (t *ConsensusEventTracer) GetEventCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}
