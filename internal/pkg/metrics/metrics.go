// Package metrics 定义所有 Prometheus 指标。
//
// 指标在包加载时构建，注册由 InitMetrics 完成；未注册时
// 观测只是不对外暴露，测试里可以放心触碰。
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TicksTotal 按结果（success / failed）统计定价 Tick 次数。
	TicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "berza",
		Name:      "ticks_total",
		Help:      "Pricing ticks executed, by result.",
	}, []string{"result"})

	// TickFiringsDroppedTotal 因上一个 Tick 仍在执行而被丢弃的触发次数。
	TickFiringsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "berza",
		Name:      "tick_firings_dropped_total",
		Help:      "Scheduler firings dropped because a tick was still running.",
	})

	// TickDuration 单个 Tick 的执行耗时（秒）。
	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "berza",
		Name:      "tick_duration_seconds",
		Help:      "Duration of a single pricing tick.",
		Buckets:   prometheus.DefBuckets,
	})

	// PriceChangesTotal 按方向（up / down）统计写入台账的价格变动条数。
	PriceChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "berza",
		Name:      "price_changes_total",
		Help:      "Price history entries written, by direction.",
	}, []string{"direction"})

	// OrdersTotal 创建成功的订单总数。
	OrdersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "berza",
		Name:      "orders_total",
		Help:      "Orders accepted at the bar entry endpoint.",
	})

	// PromoTriggersTotal 促销轮播的触发总数。
	PromoTriggersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "berza",
		Name:      "promo_triggers_total",
		Help:      "Promotion rotation triggers.",
	})

	// RateLimitWaitDuration 下单限流的等待耗时（秒）。
	RateLimitWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "berza",
		Name:      "ratelimit_wait_duration_seconds",
		Help:      "Time spent waiting for a rate limit token.",
		Buckets:   prometheus.DefBuckets,
	})

	// RateLimitTimeoutTotal 限流等待超时次数。
	RateLimitTimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "berza",
		Name:      "ratelimit_timeout_total",
		Help:      "Rate limit waits aborted by context cancellation.",
	})

	initOnce sync.Once
)

// InitMetrics 把所有指标注册到默认 Registry，可安全重复调用。
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			TicksTotal,
			TickFiringsDroppedTotal,
			TickDuration,
			PriceChangesTotal,
			OrdersTotal,
			PromoTriggersTotal,
			RateLimitWaitDuration,
			RateLimitTimeoutTotal,
		)
	})
}
