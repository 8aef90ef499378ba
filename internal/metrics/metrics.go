package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "contract_auditor"

var (
	// clauseOutcomes 条款分析结果计数
	// Labels: clause, result (found, not_found, error)
	clauseOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "clause_outcomes_total",
		Help:      "Clause analysis outcomes by clause type and result",
	}, []string{"clause", "result"})

	// retrievalLatency 单个条款检索耗时
	retrievalLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "latency_seconds",
		Help:      "Clause retrieval latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"clause"})

	// retrievalCandidates 检索候选池大小
	retrievalCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "candidates",
		Help:      "Size of the merged candidate pool before diversification",
		Buckets:   []float64{0, 1, 2, 5, 10, 15, 20, 40},
	})

	// providerLatency 模型服务调用耗时
	// Labels: provider (embedding, llm), operation
	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "latency_seconds",
		Help:      "Model provider call latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider", "operation"})

	// providerErrors 模型服务错误计数
	providerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "errors_total",
		Help:      "Model provider call errors",
	}, []string{"provider", "operation"})

	// indexWrites 索引写入计数
	// Labels: mode (rebuild, upsert, skipped)
	indexWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "index",
		Name:      "writes_total",
		Help:      "Index writes by mode",
	}, []string{"mode"})

	// cacheLookups 缓存查询计数
	// Labels: cache (embedding, qa), result (hit, miss)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by cache and result",
	}, []string{"cache", "result"})

	// httpRequests HTTP请求计数
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	// httpLatency HTTP请求耗时
	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// RecordClauseOutcome 记录条款分析结果
func RecordClauseOutcome(clause, result string) {
	clauseOutcomes.WithLabelValues(clause, result).Inc()
}

// ObserveRetrieval 记录一次条款检索
func ObserveRetrieval(clause string, candidates int, d time.Duration) {
	retrievalLatency.WithLabelValues(clause).Observe(d.Seconds())
	retrievalCandidates.Observe(float64(candidates))
}

// ObserveProvider 记录一次模型服务调用
func ObserveProvider(provider, operation string, d time.Duration, err error) {
	providerLatency.WithLabelValues(provider, operation).Observe(d.Seconds())
	if err != nil {
		providerErrors.WithLabelValues(provider, operation).Inc()
	}
}

// RecordIndexWrite 记录索引写入
func RecordIndexWrite(mode string) {
	indexWrites.WithLabelValues(mode).Inc()
}

// RecordCacheLookup 记录一次缓存查询
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(cache, result).Inc()
}

// ObserveHTTP 记录HTTP请求
func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
