package market

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"berza/internal/pkg/metrics"
)

// TickRunner 是调度驱动器触发的执行体。
type TickRunner interface {
	RunTick(ctx context.Context, now time.Time) (map[uint]PriceChange, error)
}

// Driver 按固定间隔触发 Tick，并保证同一时刻最多一个在途。
//
// 触发点落在上一个 Tick 还没结束时直接丢弃（不排队），
// 与 coalesce 调度语义一致：过期的触发没有补跑价值。
type Driver struct {
	interval time.Duration
	runner   TickRunner
	logger   *slog.Logger

	inFlight atomic.Bool
	now      func() time.Time
}

// NewDriver 创建调度驱动器。
func NewDriver(interval time.Duration, runner TickRunner, logger *slog.Logger) *Driver {
	return &Driver{
		interval: interval,
		runner:   runner,
		logger:   logger,
		now:      time.Now,
	}
}

// Run 阻塞运行调度循环，ctx 取消后返回。
// 启动时立即触发一次，之后每 interval 触发。
func (d *Driver) Run(ctx context.Context) {
	d.logger.Info("tick driver started", slog.String("interval", d.interval.String()))

	d.TryTick(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("tick driver stopped")
			return
		case <-ticker.C:
			d.TryTick(ctx)
		}
	}
}

// TryTick 尝试触发一次 Tick。上一次还在执行时返回 false 并
// 丢弃本次触发。
func (d *Driver) TryTick(ctx context.Context) bool {
	if !d.inFlight.CompareAndSwap(false, true) {
		metrics.TickFiringsDroppedTotal.Inc()
		d.logger.Debug("tick firing dropped, previous tick still running")
		return false
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tick panicked", slog.Any("panic", r))
			}
			d.inFlight.Store(false)
		}()
		if _, err := d.runner.RunTick(ctx, d.now()); err != nil {
			d.logger.Error("tick failed", slog.String("error", err.Error()))
		}
	}()
	return true
}
