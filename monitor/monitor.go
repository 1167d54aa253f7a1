package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors exposed by the arcade server. Room and match collectors are
// labelled by game type.
type Collectors struct {
	Connections   prometheus.Gauge
	Rooms         prometheus.Gauge
	Envelopes     *prometheus.CounterVec
	Dispatch      *prometheus.HistogramVec
	Matches       *prometheus.CounterVec
	Aborts        *prometheus.CounterVec
	RejectedMoves *prometheus.CounterVec
}

var dispatchBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25}

// NewCollectors registers every collector on reg under namespace.
func NewCollectors(namespace string, reg prometheus.Registerer) *Collectors {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	c := &Collectors{
		Connections:   gauge("connections", "Open websocket connections"),
		Rooms:         gauge("rooms_active", "Rooms held by the registry"),
		Envelopes:     counter("envelopes_total", "Inbound envelopes by game and event", "game", "event"),
		Matches:       counter("matches_total", "Matches that reached a terminal phase", "game", "result"),
		Aborts:        counter("aborts_total", "Aborted matches by reason", "game", "reason"),
		RejectedMoves: counter("moves_rejected_total", "Moves refused for turn order or game rules", "game"),
		Dispatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_seconds",
			Help:      "Time spent handling one inbound envelope",
			Buckets:   dispatchBuckets,
		}, []string{"game"}),
	}
	reg.MustRegister(c.Connections, c.Rooms, c.Envelopes, c.Dispatch, c.Matches, c.Aborts, c.RejectedMoves)
	return c
}

// Monitor feeds the collectors from the room registry and the websocket
// server, and serves them over HTTP.
type Monitor struct {
	c        *Collectors
	gatherer prometheus.Gatherer
	started  time.Time
	handled  atomic.Int64
	publish  sync.Once
}

// NewMonitor registers on the default prometheus registry.
func NewMonitor(namespace string) *Monitor {
	return NewMonitorWithRegistry(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func NewMonitorWithRegistry(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Monitor {
	return &Monitor{
		c:        NewCollectors(namespace, reg),
		gatherer: gatherer,
		started:  time.Now(),
	}
}

func (m *Monitor) Collectors() *Collectors {
	return m.c
}

// Handler serves /metrics and /debug/vars.
func (m *Monitor) Handler() http.Handler {
	// expvar 只能注册一次
	m.publish.Do(func() {
		expvar.Publish("uptime_seconds", expvar.Func(func() any {
			return time.Since(m.started).Seconds()
		}))
		expvar.Publish("envelopes_handled", expvar.Func(func() any {
			return m.handled.Load()
		}))
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}

// StartServer serves Handler on addr in the background.
func (m *Monitor) StartServer(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: m.Handler()}
	go srv.ListenAndServe()
	return srv
}

func (m *Monitor) ConnectionOpened() { m.c.Connections.Inc() }
func (m *Monitor) ConnectionClosed() { m.c.Connections.Dec() }

// EnvelopeHandled counts one inbound envelope and how long dispatch took.
func (m *Monitor) EnvelopeHandled(gameType, event string, took time.Duration) {
	m.handled.Add(1)
	m.c.Envelopes.WithLabelValues(gameType, event).Inc()
	m.c.Dispatch.WithLabelValues(gameType).Observe(took.Seconds())
}

func (m *Monitor) SetActiveRooms(count int) {
	m.c.Rooms.Set(float64(count))
}

func (m *Monitor) MatchFinished(gameType string) {
	m.c.Matches.WithLabelValues(gameType, "finished").Inc()
}

func (m *Monitor) MatchAborted(gameType, reason string) {
	m.c.Matches.WithLabelValues(gameType, "aborted").Inc()
	m.c.Aborts.WithLabelValues(gameType, reason).Inc()
}

func (m *Monitor) MoveRejected(gameType string) {
	m.c.RejectedMoves.WithLabelValues(gameType).Inc()
}
