// Package metrics declares the Prometheus collectors exported by a presence instance.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hzpresence_logins_total",
			Help: "Total number of connection authentication outcomes.",
		},
		[]string{"result"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hzpresence_active_sessions",
			Help: "Number of sessions registered on this instance.",
		},
	)

	EchoesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hzpresence_echoes_total",
			Help: "Total number of presence echo events delivered to local sockets.",
		},
		[]string{"event"},
	)

	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hzpresence_store_errors_total",
			Help: "Total number of failed state store operations.",
		},
		[]string{"op"},
	)

	OrphanedEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hzpresence_orphaned_entries_total",
			Help: "Presence entries left behind because their delete failed.",
		},
	)

	ReapedEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hzpresence_reaped_entries_total",
			Help: "Presence entries removed by the reconciliation pass.",
		},
	)
)

var registerOnce sync.Once

// MustRegister registers all collectors with the default registry. Safe to call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			LoginsTotal,
			ActiveSessions,
			EchoesTotal,
			StoreErrorsTotal,
			OrphanedEntriesTotal,
			ReapedEntriesTotal,
		)
	})
}
