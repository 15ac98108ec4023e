// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package perf

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsSubSystemRelay = "relay"
	metricsSubSystemCalls = "calls"
)

type Metrics struct {
	registry *prometheus.Registry

	RelayConnections     prometheus.Gauge
	RelayRooms           prometheus.Gauge
	RelayMessageCounters *prometheus.CounterVec
	RelayDropCounters    *prometheus.CounterVec

	CallRecordCounters *prometheus.CounterVec
	CallPrunedCounter  prometheus.Counter
}

func NewMetrics(namespace string, registry *prometheus.Registry) *Metrics {
	var m Metrics

	if registry != nil {
		m.registry = registry
	} else {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
			Namespace: namespace,
		}))
		m.registry.MustRegister(collectors.NewGoCollector())
	}

	m.RelayConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRelay,
			Name:      "connections_total",
			Help:      "Total number of active relay connections",
		},
	)
	m.registry.MustRegister(m.RelayConnections)

	m.RelayRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRelay,
			Name:      "rooms_total",
			Help:      "Total number of rooms with at least one member",
		},
	)
	m.registry.MustRegister(m.RelayRooms)

	m.RelayMessageCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRelay,
			Name:      "messages_total",
			Help:      "Total number of sent/received relay messages",
		},
		[]string{"type", "direction"},
	)
	m.registry.MustRegister(m.RelayMessageCounters)

	m.RelayDropCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRelay,
			Name:      "dropped_messages_total",
			Help:      "Total number of relay messages that could not be delivered",
		},
		[]string{"reason"},
	)
	m.registry.MustRegister(m.RelayDropCounters)

	m.CallRecordCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemCalls,
			Name:      "records_total",
			Help:      "Total number of call record transitions by resulting status",
		},
		[]string{"status"},
	)
	m.registry.MustRegister(m.CallRecordCounters)

	m.CallPrunedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemCalls,
			Name:      "pruned_records_total",
			Help:      "Total number of call records removed by retention",
		},
	)
	m.registry.MustRegister(m.CallPrunedCounter)

	return &m
}

func (m *Metrics) IncRelayConnections() {
	m.RelayConnections.Inc()
}

func (m *Metrics) DecRelayConnections() {
	m.RelayConnections.Dec()
}

func (m *Metrics) SetRelayRooms(n int) {
	m.RelayRooms.Set(float64(n))
}

func (m *Metrics) IncRelayMessages(msgType, direction string) {
	m.RelayMessageCounters.With(prometheus.Labels{"type": msgType, "direction": direction}).Inc()
}

func (m *Metrics) IncRelayDropped(reason string) {
	m.RelayDropCounters.With(prometheus.Labels{"reason": reason}).Inc()
}

func (m *Metrics) IncCallRecords(status string) {
	m.CallRecordCounters.With(prometheus.Labels{"status": status}).Inc()
}

func (m *Metrics) AddCallsPruned(n int) {
	m.CallPrunedCounter.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
