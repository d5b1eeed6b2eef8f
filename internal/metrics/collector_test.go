package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.executionsTotal)
	assert.NotNil(t, collector.executionDuration)
	assert.NotNil(t, collector.validationsTotal)
	assert.NotNil(t, collector.toolCallsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录请求
	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)

	// 验证指标
	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	// 再记录一次相同的请求
	collector.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 512, 1024)

	// 验证计数增加
	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordExecution(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordExecution("ok", 120*time.Millisecond, 4096)
	collector.RecordExecution("timeout", 30*time.Second, 0)

	count := testutil.CollectAndCount(collector.executionsTotal)
	assert.Greater(t, count, 0)

	durationCount := testutil.CollectAndCount(collector.executionDuration)
	assert.Greater(t, durationCount, 0)

	// "timeout" passed sampledMemoryBytes == 0, which must not create an
	// observation on the memory histogram for that outcome.
	memCount := testutil.CollectAndCount(collector.executionMemory)
	assert.Equal(t, 1, memCount)
}

func TestCollector_RecordValidation(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordValidation("ok")
	collector.RecordValidation("missing_entry")

	count := testutil.CollectAndCount(collector.validationsTotal)
	assert.Equal(t, 2, count)
}

func TestCollector_RecordToolCall(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordToolCall("http.get", "ok", 30*time.Millisecond)
	collector.RecordToolCall("http.get", "error", 10*time.Millisecond)

	count := testutil.CollectAndCount(collector.toolCallsTotal)
	assert.Equal(t, 2, count)

	durationCount := testutil.CollectAndCount(collector.toolCallDuration)
	assert.Greater(t, durationCount, 0)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 并发记录多个指标
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordExecution("ok", 50*time.Millisecond, 1024)
			collector.RecordToolCall("json.decode", "ok", 1*time.Millisecond)
			done <- true
		}(i)
	}

	// 等待所有 goroutine 完成
	for i := 0; i < 10; i++ {
		<-done
	}

	// 验证指标被正确记录
	httpCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, httpCount, 0)

	execCount := testutil.CollectAndCount(collector.executionsTotal)
	assert.Greater(t, execCount, 0)

	toolCount := testutil.CollectAndCount(collector.toolCallsTotal)
	assert.Greater(t, toolCount, 0)
}

func TestCollector_MetricsRegistration(t *testing.T) {
	logger := zap.NewNop()

	// 创建自定义 registry
	registry := prometheus.NewRegistry()

	// 创建 collector（会自动注册到默认 registry）
	collector := NewCollector(nextTestNamespace(), logger)

	// 手动注册到自定义 registry
	registry.MustRegister(collector.httpRequestsTotal)
	registry.MustRegister(collector.httpRequestDuration)

	// 记录一些数据
	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 0, 0)

	// 验证可以从自定义 registry 收集指标
	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)
}
