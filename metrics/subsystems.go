// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Gossip counts protocol-core traffic.
type Gossip struct {
	MessagesReceived     *prometheus.CounterVec
	MessagesSent         *prometheus.CounterVec
	AnnouncementsDropped prometheus.Counter
	PeersConnected       prometheus.Gauge
}

// NewGossip registers the gossip subsystem's metrics on reg.
func NewGossip(reg prometheus.Registerer) (*Gossip, error) {
	m := &Gossip{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_received",
			Help: "Messages received, by wire tag",
		}, []string{"tag"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_sent",
			Help: "Messages sent, by wire tag",
		}, []string{"tag"}),
		AnnouncementsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "announcements_dropped",
			Help: "Announcements discarded as stale, conflicting, or rate-limited",
		}),
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peers_connected",
			Help: "Peers currently in the gossiping state",
		}),
	}
	for _, c := range []prometheus.Collector{m.MessagesReceived, m.MessagesSent, m.AnnouncementsDropped, m.PeersConnected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Fetch tracks fetch sub-protocol outcomes.
type Fetch struct {
	SeedsSucceeded    prometheus.Counter
	SeedsFailed       prometheus.Counter
	NamespacesDropped prometheus.Counter
	Duration          prometheus.Histogram
}

// NewFetch registers the fetch subsystem's metrics on reg.
func NewFetch(reg prometheus.Registerer) (*Fetch, error) {
	m := &Fetch{
		SeedsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seeds_succeeded",
			Help: "Seeds that contributed at least one valid namespace",
		}),
		SeedsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seeds_failed",
			Help: "Seeds that contributed nothing",
		}),
		NamespacesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "namespaces_dropped",
			Help: "Namespaces dropped during verification",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "duration_seconds",
			Help:    "Wall-clock duration of fetch runs",
			Buckets: prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{m.SeedsSucceeded, m.SeedsFailed, m.NamespacesDropped, m.Duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Canon tracks canonical-election outcomes.
type Canon struct {
	Elections prometheus.Counter
	Warnings  prometheus.Counter
}

// NewCanon registers the canonical-election metrics on reg.
func NewCanon(reg prometheus.Registerer) (*Canon, error) {
	m := &Canon{
		Elections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elections",
			Help: "Canonical-tip elections run",
		}),
		Warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warnings",
			Help: "Elections that could not meet the vote threshold",
		}),
	}
	for _, c := range []prometheus.Collector{m.Elections, m.Warnings} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
