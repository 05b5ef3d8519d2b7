package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(botActionsTotal) }

var botActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bot_actions_total",
		Help: "Telegram commands and button presses by outcome.",
	},
	[]string{"action", "outcome"}, // outcome: ok|error|unauthorized|limited
)

func IncBotAction(action, outcome string) {
	botActionsTotal.WithLabelValues(norm(action), norm(outcome)).Inc()
}
