// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for bundle registration and activation.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RegistrationsTotal *prometheus.CounterVec
	ActivationsTotal   *prometheus.CounterVec
	ActivationSeconds  prometheus.Histogram
	Bundles            *prometheus.GaugeVec
}

// NewMetrics creates and registers the loader metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prismhost_registrations_total",
				Help: "Total number of bundle registrations by result",
			},
			[]string{"result"},
		),
		ActivationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prismhost_activations_total",
				Help: "Total number of entry point invocations and rejected activations by outcome",
			},
			[]string{"outcome"},
		),
		ActivationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prismhost_activation_duration_seconds",
				Help:    "Time spent inside bundle entry points",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
		Bundles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prismhost_bundles",
				Help: "Number of bundles by activation state",
			},
			[]string{"state"},
		),
	}

	reg.MustRegister(m.RegistrationsTotal)
	reg.MustRegister(m.ActivationsTotal)
	reg.MustRegister(m.ActivationSeconds)
	reg.MustRegister(m.Bundles)

	return m
}

func (m *Metrics) registration(result string) {
	if m == nil {
		return
	}
	m.RegistrationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) activation(outcome string) {
	if m == nil {
		return
	}
	m.ActivationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) loadDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.ActivationSeconds.Observe(d.Seconds())
}

func (m *Metrics) transition(from, to State) {
	if m == nil {
		return
	}
	if from != StateUnregistered {
		m.Bundles.WithLabelValues(from.String()).Dec()
	}
	if to != StateUnregistered {
		m.Bundles.WithLabelValues(to.String()).Inc()
	}
}

func (m *Metrics) reset() {
	if m == nil {
		return
	}
	m.Bundles.Reset()
}
