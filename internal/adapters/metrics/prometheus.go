package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "v3kn_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "v3kn_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "v3kn_online_users",
		Help: "Users currently in the presence table",
	})

	PollWaiters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "v3kn_poll_waiters",
		Help: "Long-poll requests currently parked",
	}, []string{"kind"})

	EventsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "v3kn_events_pending",
		Help: "Friend events waiting in inboxes",
	})

	UploadBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "v3kn_upload_bytes_total",
		Help: "Bytes accepted by upload endpoints",
	}, []string{"type"})
)
