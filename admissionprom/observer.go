package admissionprom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/failsafe-go/admission"
	"github.com/failsafe-go/admission/priority"
)

const (
	causeCPU   = "cpu"
	causeQueue = "queue"
)

// Observer is an admission.Observer that exports admission decisions as Prometheus counters, labelled by priority
// group.
//
// This type is concurrency safe.
type Observer struct {
	registerer prometheus.Registerer
	admitted   *prometheus.CounterVec
	shed       *prometheus.CounterVec
}

var _ admission.Observer = &Observer{}

// NewObserver returns a new Observer whose counters are registered with the registerer under the namespace. Panics if
// the counters are already registered.
func NewObserver(registerer prometheus.Registerer, namespace string) *Observer {
	factory := promauto.With(registerer)
	return &Observer{
		registerer: registerer,
		admitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "admitted_total",
			Help:      "Total requests admitted",
		}, []string{"group"}),
		shed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "shed_total",
			Help:      "Total requests shed",
		}, []string{"group", "cause"}),
	}
}

func (o *Observer) Enter(value priority.Value) {
	o.admitted.WithLabelValues(value.Group().String()).Inc()
}

func (o *Observer) ShedByCPU(value priority.Value) {
	o.shed.WithLabelValues(value.Group().String(), causeCPU).Inc()
}

func (o *Observer) ShedByQueue(value priority.Value) {
	o.shed.WithLabelValues(value.Group().String(), causeQueue).Inc()
}

// Close unregisters the observer's counters.
func (o *Observer) Close() {
	if o.registerer != nil {
		o.registerer.Unregister(o.admitted)
		o.registerer.Unregister(o.shed)
	}
}
