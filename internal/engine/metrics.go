package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine-side instruments: queue pressure and task
// outcomes. The HTTP layer carries its own request metrics; these cover
// what happens after admission.
type Metrics struct {
	tasksTotal   *prometheus.CounterVec
	taskDuration prometheus.Histogram
	queueDepth   prometheus.GaugeFunc
	inflight     prometheus.GaugeFunc
	busyWorkers  prometheus.GaugeFunc
	queueWait    prometheus.Histogram
}

// NewMetrics registers the engine instruments on reg. The gauges read
// live queue and pool state on scrape instead of being pushed.
func NewMetrics(reg prometheus.Registerer, q *Queue, p *Pool) *Metrics {
	ns, sub := "browserd", "engine"
	m := &Metrics{
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "tasks_total",
			Help: "Completed generation tasks by outcome code.",
		}, []string{"code"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "task_duration_seconds",
			Help:    "Wall time of a task from dispatch to completion.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "queue_wait_seconds",
			Help:    "Time a task spent queued before a worker was reserved.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 180},
		}),
		queueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "queue_depth",
			Help: "Tasks waiting for a worker.",
		}, func() float64 { pending, _ := q.Depth(); return float64(pending) }),
		inflight: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "tasks_inflight",
			Help: "Tasks currently executing on a worker.",
		}, func() float64 { _, inflight := q.Depth(); return float64(inflight) }),
		busyWorkers: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "workers_busy",
			Help: "Workers holding a task or reservation.",
		}, func() float64 { return float64(p.BusyCount()) }),
	}
	reg.MustRegister(m.tasksTotal, m.taskDuration, m.queueWait, m.queueDepth, m.inflight, m.busyWorkers)
	return m
}

func (m *Metrics) observeTask(code Code, start time.Time) {
	if m == nil {
		return
	}
	label := "OK"
	if code != "" {
		label = string(code)
	}
	m.tasksTotal.WithLabelValues(label).Inc()
	m.taskDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeQueueWait(enqueued time.Time) {
	if m == nil {
		return
	}
	m.queueWait.Observe(time.Since(enqueued).Seconds())
}
