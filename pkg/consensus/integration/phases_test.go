package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/events"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/mocks"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

func TestPhaseTracker_Transitions(t *testing.T) {
	tracer := mocks.NewConsensusEventTracer()
	p := newPhaseTracker(1, tracer)

	p.Enter(1, "start")
	p.Advance(1, types.PhasePreCommit, "vote")
	p.Advance(1, types.PhasePrepare, "late")
	p.Advance(2, types.PhaseCommit, "other view")

	view, phase := p.Phase()
	assert.Equal(t, types.ViewNumber(1), view)
	assert.Equal(t, types.PhasePreCommit, phase, "phases never move backwards")

	p.Advance(1, types.PhaseDecide, "commit")
	p.Advance(1, types.PhaseTimedOut, "timeout")
	_, phase = p.Phase()
	assert.Equal(t, types.PhaseDecide, phase, "decided views stay decided")

	p.Enter(1, "again")
	p.Enter(3, "timeout")
	view, phase = p.Phase()
	assert.Equal(t, types.ViewNumber(3), view)
	assert.Equal(t, types.PhasePrepare, phase)

	assert.Equal(t, 4, tracer.GetEventCount())
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, events.StatePrepare, stateOf(types.PhasePrepare))
	assert.Equal(t, events.StatePreCommit, stateOf(types.PhasePreCommit))
	assert.Equal(t, events.StateCommit, stateOf(types.PhaseCommit))
	assert.Equal(t, events.StateDecide, stateOf(types.PhaseDecide))
	assert.Equal(t, events.StateTimedOut, stateOf(types.PhaseTimedOut))
}
