package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requestDuration *prometheus.HistogramVec
	framesSent      prometheus.Counter
	framesReceived  prometheus.Counter
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		requestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cqlwire",
			Name:      "request_duration_seconds",
			Help:      "Time spent waiting for a response frame.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"opcode"}),
		framesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "cqlwire",
			Name:      "frames_sent_total",
			Help:      "Total request frames written to the connection.",
		}),
		framesReceived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "cqlwire",
			Name:      "frames_received_total",
			Help:      "Total response frames read from the connection.",
		}),
		bytesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "cqlwire",
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to the connection, headers included.",
		}),
		bytesReceived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "cqlwire",
			Name:      "bytes_received_total",
			Help:      "Total body bytes read from the connection.",
		}),
	}
}
