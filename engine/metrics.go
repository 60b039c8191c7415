package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chazu/modhook/multicast"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	classes  *prometheus.CounterVec
	callouts prometheus.Counter
	skipped  prometheus.Counter
	fatal    prometheus.Counter
	bakes    prometheus.CounterFunc
	gens     prometheus.GaugeFunc

	registerer prometheus.Registerer
	registered bool
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modhook",
		Subsystem: "engine",
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the collectors. They are registered on registerer by
// Register; a nil registerer leaves them private to the engine.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		registerer: registerer,
		classes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modhook",
			Subsystem: "engine",
			Name:      "classes_total",
			Help:      "Classes offered to the engine that a hook or accessor targets, by result",
		}, []string{"result"}),
		callouts: newCounter("callouts_total", "Event call-outs emitted into host methods"),
		skipped:  newCounter("hooks_skipped_total", "Hooks skipped because their method or site was missing"),
		fatal:    newCounter("fatal_total", "Fatal configuration errors"),
		bakes: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "modhook",
			Subsystem: "multicast",
			Name:      "bakes_total",
			Help:      "Dispatchers baked by every handler list in the process",
		}, func() float64 { return float64(multicast.TotalBakes()) }),
		gens: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "modhook",
			Subsystem: "multicast",
			Name:      "discarded_dispatchers",
			Help:      "Dispatchers discarded since the last forced collection",
		}, func() float64 { return float64(multicast.Generations()) }),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m.registered || m.registerer == nil {
		return nil
	}
	collectors := []prometheus.Collector{m.classes, m.callouts, m.skipped, m.fatal, m.bakes, m.gens}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			// Check if it's already registered (not an error)
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}
