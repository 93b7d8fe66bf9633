package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters exported on /metrics.
var (
	CheckIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventpoints_checkins_total",
		Help: "Successful check-ins.",
	})

	CheckOuts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventpoints_checkouts_total",
		Help: "Successful check-outs.",
	})

	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventpoints_rejections_total",
		Help: "Attendance attempts refused, by reason kind.",
	}, []string{"kind"})

	PointsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventpoints_points_credited_total",
		Help: "Sum of point values credited.",
	})

	CertificatesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventpoints_certificates_sent_total",
		Help: "Certificates dispatched by the worker.",
	})
)
