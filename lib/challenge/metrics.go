package challenge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var TimeTaken = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "formcaptcha_time_taken",
	Help:    "The time taken between issuing a challenge and it being solved (seconds)",
	Buckets: prometheus.ExponentialBucketsRange(1, 300, 12),
})
