package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the brain
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// TasksIssued counts tasks handed to devices by instance and action
	TasksIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "brain_tasks_issued_total", Help: "Tasks handed to devices."},
		[]string{"instance", "action"},
	)
	// EmptyPolls counts polls that produced no task
	EmptyPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "brain_empty_polls_total", Help: "Device polls answered without a task."},
		[]string{"instance"},
	)
	// Completions counts finished work cycles
	Completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "brain_completions_total", Help: "Work cycles completed."},
		[]string{"instance", "kind"},
	)
	// StorageErrors counts failed storage calls made by controllers
	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "brain_storage_errors_total", Help: "Failed storage calls."},
		[]string{"instance", "op"},
	)
	// IVChecks counts post-dispatch IV verifications by outcome
	IVChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "brain_iv_checks_total", Help: "IV scan verifications by result."},
		[]string{"instance", "result"},
	)
	// RaidRefreshes counts gym cache re-syncs
	RaidRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "brain_raid_refreshes_total", Help: "Smart raid gym cache refreshes."},
		[]string{"instance"},
	)
	// QueueDepth reports the pending work of queue based instances
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "brain_queue_depth", Help: "Pending work items per instance."},
		[]string{"instance"},
	)
)

// RegisterDefault registers collectors to the brain registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(TasksIssued)
		Registry.MustRegister(EmptyPolls)
		Registry.MustRegister(Completions)
		Registry.MustRegister(StorageErrors)
		Registry.MustRegister(IVChecks)
		Registry.MustRegister(RaidRefreshes)
		Registry.MustRegister(QueueDepth)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
