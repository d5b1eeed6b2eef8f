// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 脚本执行指标
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	executionMemory   *prometheus.HistogramVec
	validationsTotal  *prometheus.CounterVec

	// 工具调用指标
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 脚本执行指标
	c.executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of script executions by outcome",
		},
		[]string{"outcome"}, // ok, timeout, memory_exceeded, runtime_error, validation_failed
	)

	c.executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Script execution wall-clock duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	c.executionMemory = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_memory_sampled_bytes",
			Help:      "Approximate heap growth sampled during an execution",
			Buckets:   prometheus.ExponentialBuckets(1<<14, 4, 10),
		},
		[]string{"outcome"},
	)

	c.validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Total number of static script validations by result",
		},
		[]string{"result"}, // ok, missing_entry, dangerous_construct
	)

	// 工具调用指标
	c.toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of in-sandbox tool callbacks invoked",
		},
		[]string{"tool", "outcome"}, // tool: http.get, http.post, json.decode, json.encode
	)

	c.toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of in-sandbox tool callbacks",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🧪 执行指标记录
// =============================================================================

// RecordExecution 记录一次脚本执行
func (c *Collector) RecordExecution(outcome string, duration time.Duration, sampledMemoryBytes int64) {
	c.executionsTotal.WithLabelValues(outcome).Inc()
	c.executionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if sampledMemoryBytes > 0 {
		c.executionMemory.WithLabelValues(outcome).Observe(float64(sampledMemoryBytes))
	}
}

// RecordValidation 记录一次静态校验
func (c *Collector) RecordValidation(result string) {
	c.validationsTotal.WithLabelValues(result).Inc()
}

// =============================================================================
// 🔧 工具调用指标记录
// =============================================================================

// RecordToolCall 记录一次沙箱内工具调用
func (c *Collector) RecordToolCall(tool, outcome string, duration time.Duration) {
	c.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
