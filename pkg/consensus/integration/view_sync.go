package integration

import (
	"sort"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/messages"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// viewSync tracks the NewView messages a validator has received. Only the
// highest view announced by each sender is kept, so memory is bounded by the
// validator set whatever the senders claim.
type viewSync struct {
	validators *types.ValidatorSet
	latest     map[types.NodeID]*messages.NewViewMsg
}

func newViewSync(validators *types.ValidatorSet) *viewSync {
	return &viewSync{
		validators: validators,
		latest:     make(map[types.NodeID]*messages.NewViewMsg),
	}
}

// Add records msg and reports whether it raised its sender's announced view.
func (s *viewSync) Add(msg *messages.NewViewMsg) bool {
	prev, ok := s.latest[msg.SenderID]
	if ok && prev.ViewNumber >= msg.ViewNumber {
		return false
	}
	s.latest[msg.SenderID] = msg
	return true
}

// Count returns how many validators announced view or a later one.
func (s *viewSync) Count(view types.ViewNumber) int {
	n := 0
	for _, msg := range s.latest {
		if msg.ViewNumber >= view {
			n++
		}
	}
	return n
}

// HasQuorum reports whether 2f+1 validators have moved to view or beyond.
func (s *viewSync) HasQuorum(view types.ViewNumber) bool {
	return s.validators.HasQuorum(s.Count(view))
}

// JumpTarget returns the highest view above current that f+1 validators have
// announced. At least one of them is honest, so the view is legitimate.
func (s *viewSync) JumpTarget(current types.ViewNumber) (types.ViewNumber, bool) {
	witnesses := s.validators.FaultyNodes() + 1
	if len(s.latest) < witnesses {
		return 0, false
	}

	views := make([]types.ViewNumber, 0, len(s.latest))
	for _, msg := range s.latest {
		views = append(views, msg.ViewNumber)
	}
	sort.Slice(views, func(i, j int) bool { return views[i] > views[j] })

	target := views[witnesses-1]
	if target <= current {
		return 0, false
	}
	return target, true
}
