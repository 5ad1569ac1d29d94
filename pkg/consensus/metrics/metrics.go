// Package metrics exposes consensus progress as prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespaceConsensus = "novai"
	subsystemHotStuff  = "hotstuff"
)

// Consensus is the set of observations the state machine reports.
type Consensus interface {
	CurrentView(view uint64)
	CommittedHeight(height uint64)
	LockedView(view uint64)
	ViewTimedOut()
	VoteAccepted()
	QCFormed()
	ProposalSent()
	MessageRejected(kind string)
	EquivocationDetected()
	BlocksSynced(n int)
	ViewDuration(d time.Duration)
}

// Collector implements Consensus on top of prometheus.
type Collector struct {
	currentView     prometheus.Gauge
	committedHeight prometheus.Gauge
	lockedView      prometheus.Gauge
	timeouts        prometheus.Counter
	votes           prometheus.Counter
	qcs             prometheus.Counter
	proposals       prometheus.Counter
	rejected        *prometheus.CounterVec
	equivocations   prometheus.Counter
	synced          prometheus.Counter
	viewDuration    prometheus.Histogram
}

// NewCollector registers the consensus collectors with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		currentView: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "current_view",
			Namespace: namespaceConsensus,
			Subsystem: subsystemHotStuff,
			Help:      "the view the replica is currently in",
		}),
		committedHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "committed_height",
			Namespace: namespaceConsensus,
			Subsystem: subsystemHotStuff,
			Help:      "the height of the last committed block",
		}),
		lockedView: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "locked_view",
			Namespace: namespaceConsensus,
			Subsystem: subsystemHotStuff,
			Help:      "the view of the locked QC",
		}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Name:      "timeouts_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemHotStuff,
			Help:      "the number of views that ended in a local timeout",
		}),
		votes: factory.NewCounter(prometheus.CounterOpts{
			Name:      "votes_accepted_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemHotStuff,
			Help:      "the number of valid votes counted by this replica",
		}),
		qcs: factory.NewCounter(prometheus.CounterOpts{
			Name:      "qcs_formed_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemHotStuff,
			Help:      "the number of quorum certificates assembled by this replica",
		}),
		proposals: factory.NewCounter(prometheus.CounterOpts{
			Name:      "proposals_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemHotStuff,
			Help:      "the number of blocks proposed by this replica",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "messages_rejected_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemHotStuff,
			Help:      "the number of inbound messages dropped, by message kind",
		}, []string{"kind"}),
		equivocations: factory.NewCounter(prometheus.CounterOpts{
			Name:      "equivocations_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemHotStuff,
			Help:      "the number of conflicting votes observed",
		}),
		synced: factory.NewCounter(prometheus.CounterOpts{
			Name:      "blocks_synced_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemHotStuff,
			Help:      "the number of blocks fetched from peers to fill gaps in the chain",
		}),
		viewDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:      "view_duration_seconds",
			Namespace: namespaceConsensus,
			Subsystem: subsystemHotStuff,
			Help:      "time spent in each view",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}
}

func (c *Collector) CurrentView(view uint64)       { c.currentView.Set(float64(view)) }
func (c *Collector) CommittedHeight(height uint64) { c.committedHeight.Set(float64(height)) }
func (c *Collector) LockedView(view uint64)        { c.lockedView.Set(float64(view)) }
func (c *Collector) ViewTimedOut()                 { c.timeouts.Inc() }
func (c *Collector) VoteAccepted()                 { c.votes.Inc() }
func (c *Collector) QCFormed()                     { c.qcs.Inc() }
func (c *Collector) ProposalSent()                 { c.proposals.Inc() }
func (c *Collector) MessageRejected(kind string)   { c.rejected.WithLabelValues(kind).Inc() }
func (c *Collector) EquivocationDetected()         { c.equivocations.Inc() }
func (c *Collector) BlocksSynced(n int)            { c.synced.Add(float64(n)) }
func (c *Collector) ViewDuration(d time.Duration)  { c.viewDuration.Observe(d.Seconds()) }

// NoopCollector discards every observation.
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector { return &NoopCollector{} }

func (NoopCollector) CurrentView(uint64)         {}
func (NoopCollector) CommittedHeight(uint64)     {}
func (NoopCollector) LockedView(uint64)          {}
func (NoopCollector) ViewTimedOut()              {}
func (NoopCollector) VoteAccepted()              {}
func (NoopCollector) QCFormed()                  {}
func (NoopCollector) ProposalSent()              {}
func (NoopCollector) MessageRejected(string)     {}
func (NoopCollector) EquivocationDetected()      {}
func (NoopCollector) BlocksSynced(int)            {}
func (NoopCollector) ViewDuration(time.Duration) {}
