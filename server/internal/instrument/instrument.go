// instrument.go - server metrics hooks
// Copyright (C) 2026  The dotmap authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package instrument exposes the server's metrics hooks.
package instrument

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotmap",
			Name:      "connections_accepted_total",
			Help:      "Number of accepted connections",
		},
	)
	connectionsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotmap",
			Name:      "connections_dropped_total",
			Help:      "Number of dropped connections",
		},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dotmap",
			Name:      "active_connections",
			Help:      "Number of live connections",
		},
	)
	framesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotmap",
			Name:      "frames_read_total",
			Help:      "Number of frames read from clients",
		},
	)
	framesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotmap",
			Name:      "frames_written_total",
			Help:      "Number of frames written to clients",
		},
	)
	commandsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dotmap",
			Name:      "commands_processed_total",
			Help:      "Number of processed commands",
		},
		[]string{"op"},
	)
	subsNotified = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotmap",
			Name:      "subscriber_notifications_total",
			Help:      "Number of subscriber notifications routed",
		},
	)
	snapshotsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotmap",
			Name:      "snapshots_saved_total",
			Help:      "Number of store snapshots written to disk",
		},
	)
)

func init() {
	prometheus.MustRegister(connectionsAccepted)
	prometheus.MustRegister(connectionsDropped)
	prometheus.MustRegister(activeConnections)
	prometheus.MustRegister(framesRead)
	prometheus.MustRegister(framesWritten)
	prometheus.MustRegister(commandsProcessed)
	prometheus.MustRegister(subsNotified)
	prometheus.MustRegister(snapshotsSaved)
}

// ConnectionAccepted counts an accepted connection.
func ConnectionAccepted() {
	connectionsAccepted.Inc()
	activeConnections.Inc()
}

// ConnectionDropped counts a dropped connection.
func ConnectionDropped() {
	connectionsDropped.Inc()
	activeConnections.Dec()
}

// FrameRead counts an inbound frame.
func FrameRead() {
	framesRead.Inc()
}

// FrameWritten counts an outbound frame.
func FrameWritten() {
	framesWritten.Inc()
}

// CommandProcessed counts a processed command by op.
func CommandProcessed(op string) {
	commandsProcessed.With(prometheus.Labels{"op": op}).Inc()
}

// SubsNotified counts routed subscriber notifications.
func SubsNotified(n int) {
	subsNotified.Add(float64(n))
}

// SnapshotSaved counts a persisted snapshot.
func SnapshotSaved() {
	snapshotsSaved.Inc()
}
