// Package stats exports relay-engine and thread-pool counters as
// prometheus collectors. The core keeps plain atomic counters; this is the
// collaborator-level adapter.
/*
 * Copyright (c) 2022-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/solidoss/solidframe/mprpc/relay"
)

type engineCollector struct {
	e *relay.SingleNameEngine

	messages    *prometheus.Desc
	dataChunks  *prometheus.Desc
	cancels     *prometheus.Desc
	notifies    *prometheus.Desc
	connections *prometheus.Desc
	messagesNow *prometheus.Desc
}

// NewEngineCollector wraps the engine's counters; register it with any
// prometheus.Registerer.
func NewEngineCollector(e *relay.SingleNameEngine) prometheus.Collector {
	return &engineCollector{
		e: e,
		messages: prometheus.NewDesc("relay_messages_total",
			"Relayed messages opened", nil, nil),
		dataChunks: prometheus.NewDesc("relay_data_chunks_total",
			"Relay-data chunks accepted from senders", nil, nil),
		cancels: prometheus.NewDesc("relay_cancels_total",
			"Cancellations processed (either side)", nil, nil),
		notifies: prometheus.NewDesc("relay_notifications_total",
			"NewData/DoneData notifications posted", nil, nil),
		connections: prometheus.NewDesc("relay_connections",
			"Live connection stubs (named placeholders included)", nil, nil),
		messagesNow: prometheus.NewDesc("relay_messages_inflight",
			"Message stubs currently outside the cache", nil, nil),
	}
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messages
	ch <- c.dataChunks
	ch <- c.cancels
	ch <- c.notifies
	ch <- c.connections
	ch <- c.messagesNow
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.e.ReadStats()
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(st.Messages))
	ch <- prometheus.MustNewConstMetric(c.dataChunks, prometheus.CounterValue, float64(st.DataChunks))
	ch <- prometheus.MustNewConstMetric(c.cancels, prometheus.CounterValue, float64(st.Cancels))
	ch <- prometheus.MustNewConstMetric(c.notifies, prometheus.CounterValue, float64(st.Notifies))
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(st.Connections))
	ch <- prometheus.MustNewConstMetric(c.messagesNow, prometheus.GaugeValue, float64(st.MessagesNow))
}
