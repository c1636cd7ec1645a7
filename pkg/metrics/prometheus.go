// Package metrics exports engine lifecycle events as Prometheus metrics.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petrijr/sconcur/pkg/api"
)

const subsystem = "engine"

// PrometheusObserver is an api.Observer backed by Prometheus collectors.
type PrometheusObserver struct {
	flowsCreated prometheus.Counter
	flowsStopped prometheus.Counter
	activeFlows  prometheus.Gauge

	tasksPushed   *prometheus.CounterVec   // By method
	tasksStarted  *prometheus.CounterVec   // By method
	tasksFinished *prometheus.CounterVec   // By method and status
	liveTasks     prometheus.Gauge         // Pending + Running
	execDuration  *prometheus.HistogramVec // By method, completed tasks only
}

var _ api.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver creates the collectors and registers them with reg.
// An empty namespace defaults to "sconcur".
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "sconcur"
	}

	m := &PrometheusObserver{
		flowsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flows_created_total",
			Help:      "Total number of flows created",
		}),
		flowsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flows_stopped_total",
			Help:      "Total number of flows that reached the Stopped state",
		}),
		activeFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_flows",
			Help:      "Flows created and not yet stopped",
		}),
		tasksPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tasks_pushed_total",
			Help:      "Total number of tasks admitted",
		}, []string{"method"}),
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tasks_started_total",
			Help:      "Total number of tasks handed to a worker",
		}, []string{"method"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tasks_finished_total",
			Help:      "Total number of tasks that reached a terminal status",
		}, []string{"method", "status"}),
		liveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "live_tasks",
			Help:      "Tasks currently Pending or Running",
		}),
		execDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "task_execution_seconds",
			Help:      "Handler execution time of completed tasks",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method"}),
	}

	collectors := []prometheus.Collector{
		m.flowsCreated,
		m.flowsStopped,
		m.activeFlows,
		m.tasksPushed,
		m.tasksStarted,
		m.tasksFinished,
		m.liveTasks,
		m.execDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func methodLabel(m api.Method) string {
	return strconv.Itoa(int(m))
}

func (m *PrometheusObserver) OnFlowCreated(ctx context.Context, flowKey string) {
	m.flowsCreated.Inc()
	m.activeFlows.Inc()
}

func (m *PrometheusObserver) OnTaskPushed(ctx context.Context, req api.Request) {
	m.tasksPushed.WithLabelValues(methodLabel(req.Method)).Inc()
	m.liveTasks.Inc()
}

func (m *PrometheusObserver) OnTaskStarted(ctx context.Context, req api.Request) {
	m.tasksStarted.WithLabelValues(methodLabel(req.Method)).Inc()
}

func (m *PrometheusObserver) OnTaskFinished(ctx context.Context, out api.Outcome) {
	method := methodLabel(out.Method)
	m.tasksFinished.WithLabelValues(method, string(out.Status)).Inc()
	m.liveTasks.Dec()
	if out.Status == api.TaskCompleted {
		m.execDuration.WithLabelValues(method).Observe(float64(out.ExecutionMs) / 1000)
	}
}

func (m *PrometheusObserver) OnFlowStopped(ctx context.Context, flowKey string) {
	m.flowsStopped.Inc()
	m.activeFlows.Dec()
}
