package calib

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/labdisplay/gammacal/gamma"
	"github.com/labdisplay/gammacal/validate"
)

// Observer is told about the progress of a run
type Observer interface {
	SampleCaptured(run Kind, s gamma.Sample)
	RunFinished(run Kind, rep *validate.Report, err error)
}

type nopObserver struct{}

func (nopObserver) SampleCaptured(Kind, gamma.Sample) {}
func (nopObserver) RunFinished(Kind, *validate.Report, error) {}

// Metrics is an Observer that exports prometheus metrics
type Metrics struct {
	samples   *prometheus.CounterVec
	luminance *prometheus.GaugeVec
	gamma     *prometheus.GaugeVec
	runs      *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "gammacal",
			Name:      "samples_total",
			Help:      "Photometer samples captured, by channel.",
		}, []string{"channel"}),
		luminance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: "gammacal",
			Name:      "luminance_cd_m2",
			Help:      "Most recent luminance by channel and gray level.",
		}, []string{"channel", "gray"}),
		gamma: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: "gammacal",
			Name:      "fitted_gamma",
			Help:      "Gamma of the most recent fit, by channel.  NaN when unfittable.",
		}, []string{"channel"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "gammacal",
			Name:      "runs_total",
			Help:      "Calibration runs by kind and result (PASS, FAIL, ERROR).",
		}, []string{"kind", "result"}),
	}
	for _, c := range []prometheus.Collector{m.samples, m.luminance, m.gamma, m.runs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SampleCaptured updates the sample counter and luminance gauge
func (m *Metrics) SampleCaptured(run Kind, s gamma.Sample) {
	ch := string(s.Channel)
	m.samples.WithLabelValues(ch).Inc()
	m.luminance.WithLabelValues(ch, strconv.Itoa(s.Gray)).Set(s.Luminance)
}

// RunFinished counts the run and records fitted gammas
func (m *Metrics) RunFinished(run Kind, rep *validate.Report, err error) {
	result := "ERROR"
	if err == nil && rep != nil {
		result = "FAIL"
		if rep.Pass {
			result = "PASS"
		}
		for _, gv := range rep.Gamma {
			m.gamma.WithLabelValues(string(gv.Channel)).Set(gv.Gamma)
		}
	}
	m.runs.WithLabelValues(string(run), result).Inc()
}
