package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics Prometheus метрики ядра мостов.
//
// Собираются:
//   - созданные, существующие и распущенные мосты
//   - входы, активные участники, время в мосту и отказы технологии
//   - переходы состояний участников по метке state
//   - действия по метке type и отброшенные кадры
//   - слияния по результату, перенесенные участники и смены технологии
//
// Все методы допускают nil получатель: реестр без метрик ничего не собирает.
type Metrics struct {
	bridgesTotal     prometheus.Counter
	bridgesActive    prometheus.Gauge
	bridgesDissolved prometheus.Counter

	channelsJoined  prometheus.Counter
	channelsActive  prometheus.Gauge
	channelDuration prometheus.Histogram
	pushRejects     prometheus.Counter

	stateTransitions *prometheus.CounterVec
	merges           *prometheus.CounterVec
	mergedChannels   prometheus.Counter
	techSwaps        prometheus.Counter
	actions          *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
}

// NewMetrics создает метрики и регистрирует их в reg.
// nil reg означает prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "softbridge"
	}
	f := promauto.With(reg)
	const subsystem = "bridge"

	return &Metrics{
		bridgesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bridges_total",
			Help:      "Total number of registered bridges",
		}),
		bridgesActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bridges_active",
			Help:      "Number of registered, not yet destroyed bridges",
		}),
		bridgesDissolved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bridges_dissolved_total",
			Help:      "Total number of dissolved bridges",
		}),
		channelsJoined: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "channels_joined_total",
			Help:      "Total number of channels admitted into bridges",
		}),
		channelsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "channels_active",
			Help:      "Number of channels currently in bridges",
		}),
		channelDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "channel_duration_seconds",
			Help:      "Time channels spent in a bridge",
			Buckets:   []float64{0.1, 1, 5, 10, 30, 60, 300, 1800, 3600},
		}),
		pushRejects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "push_rejected_total",
			Help:      "Total number of channels rejected by a bridge technology",
		}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Participant state transitions by target state",
		}, []string{"state"}),
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "merges_total",
			Help:      "Bridge merges by result",
		}, []string{"result"}),
		mergedChannels: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "merged_channels_total",
			Help:      "Total number of channels moved by merges",
		}),
		techSwaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "technology_swaps_total",
			Help:      "Total number of technology swaps in smart bridges",
		}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "actions_total",
			Help:      "Bridge queue actions delivered by type",
		}, []string{"type"}),
		framesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped by the core by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) bridgeCreated() {
	if m == nil {
		return
	}
	m.bridgesTotal.Inc()
	m.bridgesActive.Inc()
}

func (m *Metrics) bridgeDestroyed() {
	if m == nil {
		return
	}
	m.bridgesActive.Dec()
}

func (m *Metrics) bridgeDissolved() {
	if m == nil {
		return
	}
	m.bridgesDissolved.Inc()
}

func (m *Metrics) channelJoined() {
	if m == nil {
		return
	}
	m.channelsJoined.Inc()
	m.channelsActive.Inc()
}

func (m *Metrics) channelLeft(d time.Duration) {
	if m == nil {
		return
	}
	m.channelsActive.Dec()
	m.channelDuration.Observe(d.Seconds())
}

func (m *Metrics) stateChanged(s ChannelState) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) pushRejected() {
	if m == nil {
		return
	}
	m.pushRejects.Inc()
}

func (m *Metrics) merged(result string, moved int) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(result).Inc()
	m.mergedChannels.Add(float64(moved))
}

func (m *Metrics) technologySwapped() {
	if m == nil {
		return
	}
	m.techSwaps.Inc()
}

func (m *Metrics) actionQueued(t ActionType) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) frameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}
