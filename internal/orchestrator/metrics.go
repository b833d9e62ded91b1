package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики операций. nil *Metrics допустим и ничего не пишет.
type Metrics struct {
	operations *prometheus.CounterVec
	stages     *prometheus.HistogramVec
	live       prometheus.Gauge
	copied     prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil = DefaultRegisterer)
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "worldtpl",
			Name:      "operations_total",
			Help:      "Завершённые операции с шаблонами по типу и результату.",
		}, []string{"op", "result"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "worldtpl",
			Name:      "stage_duration_seconds",
			Help:      "Длительность этапов: copy, delete, instantiate, settle, register.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "worldtpl",
			Name:      "live_worlds",
			Help:      "Миры, загруженные из шаблонов и ещё не забытые.",
		}),
		copied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldtpl",
			Name:      "copied_bytes_total",
			Help:      "Объём скопированных файлов миров и шаблонов.",
		}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.stages, m.live, m.copied} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) operation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) stage(name string, since time.Time) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(name).Observe(time.Since(since).Seconds())
}

func (m *Metrics) setLive(n int) {
	if m == nil {
		return
	}
	m.live.Set(float64(n))
}

func (m *Metrics) addCopied(bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.copied.Add(float64(bytes))
}
