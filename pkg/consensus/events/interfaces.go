// Package events defines the tracing hooks the consensus state machine reports
// through. Production nodes use NoOpEventTracer; tests collect events to
// assert on protocol behaviour.
package events

import (
	"time"
)

// EventTracer receives consensus events.
type EventTracer interface {
	// RecordEvent records a consensus event with associated payload
	RecordEvent(nodeID uint16, eventType EventType, payload EventPayload)

	// RecordTransition records a phase transition within a view
	RecordTransition(nodeID uint16, from, to State, trigger string)

	// RecordMessage records message sending/receiving for network analysis
	RecordMessage(nodeID uint16, direction MessageDirection, msgType string, payload EventPayload)
}

// EventType represents the type of consensus event that occurred
type EventType string

const (
	// Proposal lifecycle
	EventProposalCreated  EventType = "proposal_created"
	EventProposalReceived EventType = "proposal_received"
	EventProposalAccepted EventType = "proposal_accepted"
	EventProposalRejected EventType = "proposal_rejected"

	// Votes and certificates
	EventVoteSent     EventType = "vote_sent"
	EventVoteReceived EventType = "vote_received"
	EventVoteRejected EventType = "vote_rejected"
	EventQCFormed     EventType = "qc_formed"
	EventQCObserved   EventType = "qc_observed"

	// View management
	EventViewTimeout      EventType = "view_timeout"
	EventViewChange       EventType = "view_change"
	EventNewViewSent      EventType = "new_view_sent"
	EventNewViewReceived  EventType = "new_view_received"
	EventNewViewRejected  EventType = "new_view_rejected"
	EventViewSynchronized EventType = "view_synchronized"
	EventLeaderElected    EventType = "leader_elected"
	EventHighestQCUpdated EventType = "highest_qc_updated"
	EventLockedQCUpdated  EventType = "locked_qc_updated"
	EventBlockCommitted   EventType = "block_committed"

	// Block sync
	EventBlockRequested EventType = "block_requested"
	EventBlocksSynced   EventType = "blocks_synced"
	EventSyncRejected   EventType = "sync_rejected"

	// Persistence
	EventSafetyDataPersisted EventType = "safety_data_persisted"

	// Byzantine behaviour and fatal conditions
	EventEquivocationFound EventType = "equivocation_found"
	EventSafetyViolation   EventType = "safety_violation"

	// Phase transitions
	EventPhaseTransition EventType = "phase_transition"
)

// EventPayload contains event-specific data as key-value pairs
type EventPayload map[string]interface{}

// State is the per-view phase as reported to tracers.
type State string

const (
	StatePrepare    State = "prepare"
	StatePreCommit  State = "precommit"
	StateCommit     State = "commit"
	StateDecide     State = "decide"
	StateTimedOut   State = "timed_out"
	StateRecovering State = "recovering"
	StateHalted     State = "halted"
)

// MessageDirection distinguishes sent from received messages.
type MessageDirection string

const (
	MessageInbound  MessageDirection = "inbound"
	MessageOutbound MessageDirection = "outbound"
)

// ConsensusEvent represents a single recorded event in the consensus protocol
type ConsensusEvent struct {
	NodeID    uint16       `json:"node_id"`
	EventType EventType    `json:"event_type"`
	Payload   EventPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`

	// State transition specific fields
	FromState State  `json:"from_state,omitempty"`
	ToState   State  `json:"to_state,omitempty"`
	Trigger   string `json:"trigger,omitempty"`

	// Message specific fields
	Direction   MessageDirection `json:"direction,omitempty"`
	MessageType string           `json:"message_type,omitempty"`
}

// NoOpEventTracer discards every event.
type NoOpEventTracer struct{}

// RecordEvent does nothing
func (t *NoOpEventTracer) RecordEvent(nodeID uint16, eventType EventType, payload EventPayload) {}

// RecordTransition does nothing
func (t *NoOpEventTracer) RecordTransition(nodeID uint16, from, to State, trigger string) {}

// RecordMessage does nothing
func (t *NoOpEventTracer) RecordMessage(nodeID uint16, direction MessageDirection, msgType string, payload EventPayload) {}
