package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.CurrentView(7)
	c.CommittedHeight(4)
	c.LockedView(5)
	c.ViewTimedOut()
	c.ViewTimedOut()
	c.VoteAccepted()
	c.QCFormed()
	c.ProposalSent()
	c.MessageRejected("Vote")
	c.MessageRejected("Vote")
	c.MessageRejected("Proposal")
	c.EquivocationDetected()
	c.BlocksSynced(3)
	c.ViewDuration(150 * time.Millisecond)

	assert.Equal(t, 7.0, testutil.ToFloat64(c.currentView))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.committedHeight))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.lockedView))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.timeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.votes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.qcs))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.proposals))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.rejected.WithLabelValues("Vote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejected.WithLabelValues("Proposal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.equivocations))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.synced))

	count, err := testutil.GatherAndCount(reg, "novai_hotstuff_view_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
		NewCollector(prometheus.NewRegistry())
	})
}

func TestNoopCollector(t *testing.T) {
	var m Consensus = NewNoopCollector()
	m.CurrentView(1)
	m.MessageRejected("x")
}
