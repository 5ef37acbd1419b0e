package loop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loop_messages_total",
		Help: "Worker messages handled by the dispatcher",
	}, []string{"type"})

	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loop_commands_sent_total",
		Help: "Commands sent to workers",
	}, []string{"type", "result"})

	metricTTSTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loop_tts_timeout_resets_total",
		Help: "Sessions reset because playback never reported an end",
	})

	metricSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loop_sessions",
		Help: "Sessions with a live floor engine",
	})
)
