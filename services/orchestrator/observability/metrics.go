// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the dialogue service.
//
// # Description
//
// Metrics include:
//   - Turn counters by intent, emotion and language
//   - Turn latency and confidence histograms
//   - Encoder and persistence failure counters
//   - Catalog reload counters and the serving pattern count
//   - HTTP request counters and active WebSocket connections
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/AleutianAI/intentchat/services/dialogue/emotion"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "intentchat"

// Subsystem for dialogue metrics
const dialogueSubsystem = "dialogue"

// DialogueMetrics holds all Prometheus metrics of the service.
//
// # Description
//
// Implements the dialogue engine's MetricsRecorder. Create once per registry
// via NewDialogueMetrics.
//
// # Thread Safety
//
// All operations are thread-safe.
type DialogueMetrics struct {
	// TurnsTotal counts processed turns.
	// Labels: intent, emotion, language
	TurnsTotal *prometheus.CounterVec

	// TurnDurationSeconds measures Process latency.
	// Labels: language
	TurnDurationSeconds *prometheus.HistogramVec

	// Confidence records the best similarity score of each turn.
	Confidence prometheus.Histogram

	// EncoderFailuresTotal counts degraded turns.
	// Labels: reason (timeout, error)
	EncoderFailuresTotal *prometheus.CounterVec

	// PersistFailuresTotal counts store errors.
	// Labels: operation (save, rate)
	PersistFailuresTotal *prometheus.CounterVec

	// CatalogReloadsTotal counts catalog builds.
	// Labels: status (success, error)
	CatalogReloadsTotal *prometheus.CounterVec

	// CatalogPatterns is the pattern count of the serving catalog.
	CatalogPatterns prometheus.Gauge

	// RequestsTotal counts HTTP requests.
	// Labels: endpoint, status (success, client_error, error)
	RequestsTotal *prometheus.CounterVec

	// ActiveWebSockets tracks open chat sockets.
	ActiveWebSockets prometheus.Gauge
}

// NewDialogueMetrics creates and registers all metrics on reg.
//
// # Inputs
//
//   - reg: Target registry. nil uses prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics if called twice on the same registry (duplicate registration).
func NewDialogueMetrics(reg prometheus.Registerer) *DialogueMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &DialogueMetrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "turns_total",
				Help:      "Total processed turns by intent, emotion and language",
			},
			[]string{"intent", "emotion", "language"},
		),

		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Time to process one turn in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"language"},
		),

		Confidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "confidence",
				Help:      "Best similarity score per turn",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),

		EncoderFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "encoder_failures_total",
				Help:      "Turns degraded to the unknown intent by encoder failures",
			},
			[]string{"reason"},
		),

		PersistFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "persist_failures_total",
				Help:      "Conversation store failures by operation",
			},
			[]string{"operation"},
		),

		CatalogReloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "catalog_reloads_total",
				Help:      "Catalog builds by status",
			},
			[]string{"status"},
		),

		CatalogPatterns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "catalog_patterns",
				Help:      "Number of patterns in the serving catalog",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		ActiveWebSockets: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "active_websockets",
				Help:      "Number of open chat WebSocket connections",
			},
		),
	}
}

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint labels HTTP request metrics.
type Endpoint string

const (
	EndpointChat      Endpoint = "chat"
	EndpointFeedback  Endpoint = "feedback"
	EndpointStats     Endpoint = "stats"
	EndpointHistory   Endpoint = "history"
	EndpointWebSocket Endpoint = "websocket"
)

// Request outcome labels.
const (
	StatusSuccess     = "success"
	StatusClientError = "client_error"
	StatusError       = "error"
)

// =============================================================================
// Recorder Methods
// =============================================================================

// ObserveTurn records one processed turn.
func (m *DialogueMetrics) ObserveTurn(intent string, emo emotion.Label, language string, confidence float64, duration time.Duration) {
	m.TurnsTotal.WithLabelValues(intent, string(emo), language).Inc()
	m.TurnDurationSeconds.WithLabelValues(language).Observe(duration.Seconds())
	m.Confidence.Observe(confidence)
}

// EncoderFailure records a degraded turn.
func (m *DialogueMetrics) EncoderFailure(reason string) {
	m.EncoderFailuresTotal.WithLabelValues(reason).Inc()
}

// PersistFailure records a store error.
func (m *DialogueMetrics) PersistFailure(operation string) {
	m.PersistFailuresTotal.WithLabelValues(operation).Inc()
}

// CatalogReload records a catalog build.
func (m *DialogueMetrics) CatalogReload(success bool, patterns int) {
	if !success {
		m.CatalogReloadsTotal.WithLabelValues(StatusError).Inc()
		return
	}
	m.CatalogReloadsTotal.WithLabelValues(StatusSuccess).Inc()
	m.CatalogPatterns.Set(float64(patterns))
}

// RecordRequest records a completed HTTP request.
func (m *DialogueMetrics) RecordRequest(endpoint Endpoint, status string) {
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// WebSocketOpened increments the active socket gauge.
func (m *DialogueMetrics) WebSocketOpened() { m.ActiveWebSockets.Inc() }

// WebSocketClosed decrements the active socket gauge.
func (m *DialogueMetrics) WebSocketClosed() { m.ActiveWebSockets.Dec() }
