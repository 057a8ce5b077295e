package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_queue_published_total",
		Help: "Jobs published, by queue and delivery mode (durable or buffered).",
	}, []string{"queue", "mode"})

	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_queue_processed_total",
		Help: "Jobs processed, by queue and result (ack or dead_letter).",
	}, []string{"queue", "result"})

	degradedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_queue_degraded",
		Help: "1 while jobs are buffered in memory instead of the durable broker.",
	})

	bufferedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vault_queue_buffered_jobs",
		Help: "Jobs waiting in the volatile in-memory buffer.",
	}, []string{"queue"})
)
