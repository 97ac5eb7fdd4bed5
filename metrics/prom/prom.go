// Package prom adapts cync.Sink to github.com/prometheus/client_golang,
// the one concrete metrics backend this module wires up. cync itself
// never imports prometheus directly; every counter/gauge/histogram it
// names is created here, lazily, the first time a given metric name is
// observed with a given label set.
package prom

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink implements cync.Sink against a prometheus.Registerer.
type Sink struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// New returns a Sink that registers its metrics against reg.
func New(reg prometheus.Registerer) *Sink {
	return &Sink{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (s *Sink) counterVec(name string, labels map[string]string) *prometheus.CounterVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	cv, ok := s.counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelNames(labels))
		s.reg.MustRegister(cv)
		s.counters[name] = cv
	}
	return cv
}

func (s *Sink) histogramVec(name string, labels map[string]string) *prometheus.HistogramVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	hv, ok := s.histograms[name]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name}, labelNames(labels))
		s.reg.MustRegister(hv)
		s.histograms[name] = hv
	}
	return hv
}

func (s *Sink) gaugeVec(name string, labels map[string]string) *prometheus.GaugeVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	gv, ok := s.gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelNames(labels))
		s.reg.MustRegister(gv)
		s.gauges[name] = gv
	}
	return gv
}

// IncCounter implements cync.Sink.
func (s *Sink) IncCounter(name string, labels map[string]string) {
	s.counterVec(name, labels).With(labels).Inc()
}

// ObserveHistogram implements cync.Sink.
func (s *Sink) ObserveHistogram(name string, labels map[string]string, value float64) {
	s.histogramVec(name, labels).With(labels).Observe(value)
}

// SetGauge implements cync.Sink.
func (s *Sink) SetGauge(name string, labels map[string]string, value float64) {
	s.gaugeVec(name, labels).With(labels).Set(value)
}
