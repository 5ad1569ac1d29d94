package integration

import (
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/events"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// phaseTracker follows the phase of the current view. Phases only move
// forward within a view; entering a new view restarts at Prepare.
type phaseTracker struct {
	self   types.NodeID
	view   types.ViewNumber
	phase  types.ViewPhase
	tracer events.EventTracer
}

func newPhaseTracker(self types.NodeID, tracer events.EventTracer) *phaseTracker {
	return &phaseTracker{self: self, tracer: tracer}
}

// Enter starts view in the Prepare phase.
func (p *phaseTracker) Enter(view types.ViewNumber, trigger string) {
	if view <= p.view {
		return
	}
	from := p.phase
	p.view = view
	p.phase = types.PhasePrepare
	p.tracer.RecordTransition(uint16(p.self), stateOf(from), events.StatePrepare, trigger)
}

// Advance moves view to phase if view is current and phase is later.
func (p *phaseTracker) Advance(view types.ViewNumber, phase types.ViewPhase, trigger string) {
	if view != p.view || p.phase.IsTerminal() || phase <= p.phase {
		return
	}
	from := p.phase
	p.phase = phase
	p.tracer.RecordTransition(uint16(p.self), stateOf(from), stateOf(phase), trigger)
}

// Phase returns the current view and its phase.
func (p *phaseTracker) Phase() (types.ViewNumber, types.ViewPhase) {
	return p.view, p.phase
}

func stateOf(phase types.ViewPhase) events.State {
	switch phase {
	case types.PhasePrepare:
		return events.StatePrepare
	case types.PhasePreCommit:
		return events.StatePreCommit
	case types.PhaseCommit:
		return events.StateCommit
	case types.PhaseDecide:
		return events.StateDecide
	case types.PhaseTimedOut:
		return events.StateTimedOut
	default:
		return events.State(phase.String())
	}
}
