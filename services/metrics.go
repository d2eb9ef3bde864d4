package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports conversion counters and latencies.
type Metrics struct {
	conversions *prometheus.CounterVec
	duration    prometheus.Histogram
	outputBytes prometheus.Counter
	rejections  *prometheus.CounterVec
}

// NewMetrics registers the conversion collectors with reg, reusing collectors
// that are already registered. A nil reg means the default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webpconverter",
			Name:      "conversions_total",
			Help:      "Image conversions by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "webpconverter",
			Name:      "conversion_duration_seconds",
			Help:      "Time spent decoding and encoding one image.",
			Buckets:   prometheus.DefBuckets,
		}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webpconverter",
			Name:      "output_bytes_total",
			Help:      "Cumulative size of committed artifacts.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webpconverter",
			Name:      "rejections_total",
			Help:      "Uploads rejected by validation, by reason.",
		}, []string{"reason"}),
	}

	var err error
	if m.conversions, err = register(reg, m.conversions); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.outputBytes, err = register(reg, m.outputBytes); err != nil {
		return nil, err
	}
	if m.rejections, err = register(reg, m.rejections); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

func (m *Metrics) ObserveConversion(outcome string, d time.Duration, outputBytes int64) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		m.duration.Observe(d.Seconds())
		m.outputBytes.Add(float64(outputBytes))
	}
}

func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}
