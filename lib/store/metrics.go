package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ChallengesSwept = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "formcaptcha_challenges_swept",
	Help: "The total number of expired challenges removed by a sweep",
}, []string{"backend"})
