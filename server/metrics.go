package server

import (
	"github.com/telekv/telekv/metrics"
)

// serverMetrics holds the counters the handler increments. Counters are wired in only
// when metrics are enabled; a nil counter is a no-op so the handler never has to care.
type serverMetrics struct {
	pointOps          metrics.Counter
	iteratorsOpened   metrics.Counter
	iteratorsReleased metrics.Counter
}

func (m *serverMetrics) wire(factory metrics.Factory, openHandles func() float64) error {
	var err error
	if m.pointOps, err = factory.CreateCounter("telekv_point_ops_total",
		"Number of point operations (has/get/put/delete) served"); err != nil {
		return err
	}
	if m.iteratorsOpened, err = factory.CreateCounter("telekv_iterators_opened_total",
		"Number of iterator handles created"); err != nil {
		return err
	}
	if m.iteratorsReleased, err = factory.CreateCounter("telekv_iterators_released_total",
		"Number of iterator handles released, explicitly or on disconnect"); err != nil {
		return err
	}
	return factory.CreateGaugeFunc("telekv_open_iterator_handles",
		"Number of live iterator handles", openHandles)
}

func (m *serverMetrics) incPointOps() {
	if m.pointOps != nil {
		m.pointOps.Inc()
	}
}

func (m *serverMetrics) incIteratorsOpened() {
	if m.iteratorsOpened != nil {
		m.iteratorsOpened.Inc()
	}
}

func (m *serverMetrics) incIteratorsReleased() {
	if m.iteratorsReleased != nil {
		m.iteratorsReleased.Inc()
	}
}
