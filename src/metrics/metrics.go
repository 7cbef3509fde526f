package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "goster_zk"

var (
	registerOnce sync.Once

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "同步会话次数",
		},
		[]string{"terminal", "result"},
	)
	syncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "单次同步会话耗时",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"terminal"},
	)
	syncedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "同步写入的记录数 (用户为全量，指纹为变化数，考勤为新增数)",
		},
		[]string{"terminal", "kind"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP 请求数",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP 请求耗时",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(syncRuns, syncDuration, syncedRecords, httpRequests, httpDuration)
	})
}

// RecordSync 记录一次同步会话的结果
func RecordSync(run inter.SyncRun, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	syncRuns.WithLabelValues(run.Terminal, result).Inc()
	if !run.StartedAt.IsZero() && !run.FinishedAt.IsZero() {
		syncDuration.WithLabelValues(run.Terminal).Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
	syncedRecords.WithLabelValues(run.Terminal, "users").Add(float64(run.Users))
	syncedRecords.WithLabelValues(run.Terminal, "templates").Add(float64(run.Templates))
	syncedRecords.WithLabelValues(run.Terminal, "attendance").Add(float64(run.Attendance))
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}

// Handler 暴露默认注册表
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}
