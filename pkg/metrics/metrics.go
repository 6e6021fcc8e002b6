package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector 是显式构造、显式注入的指标采集器。
//
// 设计原则：
//   - 不使用包级单例：测试可以每个 case 构造一个全新实例
//   - 显式生命周期：Start 注册指标，Stop 反注册
//   - 各组件通过注入的 *Collector 打点，不触碰全局 Registry
type Collector struct {
	reg prometheus.Registerer

	mu      sync.Mutex
	started bool

	FeedRequests     *prometheus.CounterVec // 按 mode（personalized/fallback）计数
	FeedLatency      prometheus.Histogram   // 整条发现链路耗时
	CacheHits        *prometheus.CounterVec // 按缓存域（embedding/search/preference/profile）
	CacheMisses      *prometheus.CounterVec
	UpstreamErrors   *prometheus.CounterVec // 按上游（vector/embedding）
	BatchSubFailures prometheus.Counter     // 批量检索中失败的子批数
	Invalidations    *prometheus.CounterVec // 按策略（immediate/batched）
}

// NewCollector 创建采集器；reg 为 nil 时指标不注册（纯内存计数，测试友好）。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{reg: reg}

	c.FeedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedkit", Name: "feed_requests_total",
		Help: "Discovery feed requests by ranking mode.",
	}, []string{"mode"})
	c.FeedLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "feedkit", Name: "feed_latency_seconds",
		Help:    "End-to-end discovery feed latency.",
		Buckets: prometheus.DefBuckets,
	})
	c.CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedkit", Name: "cache_hits_total",
		Help: "Cache hits by domain.",
	}, []string{"domain"})
	c.CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedkit", Name: "cache_misses_total",
		Help: "Cache misses by domain.",
	}, []string{"domain"})
	c.UpstreamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedkit", Name: "upstream_errors_total",
		Help: "Upstream failures after retries, by service.",
	}, []string{"service"})
	c.BatchSubFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedkit", Name: "batch_subbatch_failures_total",
		Help: "Failed sub-batches in batched vector operations.",
	})
	c.Invalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedkit", Name: "cache_invalidations_total",
		Help: "Cache invalidation sweeps by strategy.",
	}, []string{"strategy"})

	return c
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.FeedRequests, c.FeedLatency, c.CacheHits, c.CacheMisses,
		c.UpstreamErrors, c.BatchSubFailures, c.Invalidations,
	}
}

// Start 向 Registry 注册全部指标。重复调用无副作用。
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.reg == nil {
		c.started = true
		return nil
	}
	for _, col := range c.collectors() {
		if err := c.reg.Register(col); err != nil {
			return err
		}
	}
	c.started = true
	return nil
}

// Stop 反注册全部指标。
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	if c.reg != nil {
		for _, col := range c.collectors() {
			c.reg.Unregister(col)
		}
	}
	c.started = false
}

// ObserveFeed 记录一次发现请求。
func (c *Collector) ObserveFeed(mode string, elapsed time.Duration) {
	c.FeedRequests.WithLabelValues(mode).Inc()
	c.FeedLatency.Observe(elapsed.Seconds())
}
