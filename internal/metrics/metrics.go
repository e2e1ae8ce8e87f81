package metrics

import (
	"net/http"
	"strconv"

	"quiz-battle-service/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exports battle counters to Prometheus and implements app.Recorder.
type Recorder struct {
	registry *prometheus.Registry

	battlesCreated *prometheus.CounterVec
	joins          *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	answers        *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	pointsPaid     *prometheus.CounterVec
	creditFailures prometheus.Counter
}

// New registers the battle collectors, plus the Go and process collectors, on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		battlesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiz_battle",
			Name:      "battles_created_total",
			Help:      "Battles created, by mode.",
		}, []string{"mode"}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiz_battle",
			Name:      "participants_joined_total",
			Help:      "Participants added to a battle roster, by mode.",
		}, []string{"mode"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiz_battle",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions applied, by event.",
		}, []string{"event"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiz_battle",
			Name:      "answers_total",
			Help:      "Accepted answers, by correctness.",
		}, []string{"correct"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiz_battle",
			Name:      "settlements_total",
			Help:      "Finished battles settled, by mode.",
		}, []string{"mode"}),
		pointsPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiz_battle",
			Name:      "points_paid_total",
			Help:      "Points credited to participants at settlement, by mode.",
		}, []string{"mode"}),
		creditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quiz_battle",
			Name:      "credit_failures_total",
			Help:      "Reward credits the ledger rejected.",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.battlesCreated,
		r.joins,
		r.transitions,
		r.answers,
		r.settlements,
		r.pointsPaid,
		r.creditFailures,
	)
	return r
}

func (r *Recorder) BattleCreated(mode domain.Mode) {
	r.battlesCreated.WithLabelValues(string(mode)).Inc()
}

func (r *Recorder) ParticipantJoined(mode domain.Mode) {
	r.joins.WithLabelValues(string(mode)).Inc()
}

func (r *Recorder) TransitionApplied(event string) {
	r.transitions.WithLabelValues(event).Inc()
}

func (r *Recorder) AnswerRecorded(correct bool) {
	r.answers.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

func (r *Recorder) Settled(mode domain.Mode, paid int, failures int) {
	r.settlements.WithLabelValues(string(mode)).Inc()
	r.pointsPaid.WithLabelValues(string(mode)).Add(float64(paid))
	r.creditFailures.Add(float64(failures))
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
