package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "challenge_sessions_started_total",
		Help: "Challenge sessions created, by difficulty tier.",
	}, []string{"difficulty"})

	sessionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "challenge_sessions_settled_total",
		Help: "Challenge sessions reaching a terminal state, by outcome.",
	}, []string{"status"})
)
