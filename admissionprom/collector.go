package admissionprom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/failsafe-go/admission"
)

// Collector is a prometheus.Collector that exports an Engine's watermarks and admit fractions as gauges each time
// it's scraped.
type Collector struct {
	engine        *admission.Engine
	watermark     *prometheus.Desc
	admitFraction *prometheus.Desc
	timeCycle     *prometheus.Desc
}

var _ prometheus.Collector = &Collector{}

// NewCollector returns a new Collector for the engine, with metrics under the namespace.
func NewCollector(engine *admission.Engine, namespace string) *Collector {
	return &Collector{
		engine: engine,
		watermark: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "admission", "watermark"),
			"Priority ordinal at or below which requests are admitted",
			[]string{"kind"}, nil),
		admitFraction: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "admission", "admit_fraction"),
			"Fraction of recent traffic being admitted",
			[]string{"kind"}, nil),
		timeCycle: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "admission", "window_time_cycle_seconds"),
			"Current max duration of a sampling window",
			nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.watermark
	ch <- c.admitFraction
	ch <- c.timeCycle
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	status := c.engine.Status()
	for _, kind := range status.Kinds {
		ch <- prometheus.MustNewConstMetric(c.watermark, prometheus.GaugeValue, float64(kind.Watermark), kind.Kind)
		ch <- prometheus.MustNewConstMetric(c.admitFraction, prometheus.GaugeValue, kind.AdmitFraction, kind.Kind)
	}
	ch <- prometheus.MustNewConstMetric(c.timeCycle, prometheus.GaugeValue, status.WindowTimeCycle.Seconds())
}
