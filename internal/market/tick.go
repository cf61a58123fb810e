package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"berza/internal/model"
	"berza/internal/pkg/metrics"
	"berza/internal/pkg/notify"
)

// TickStore 是 Tick 控制器需要的持久化能力。
type TickStore interface {
	ListDrinks(ctx context.Context) ([]model.Drink, error)
	SumSales(ctx context.Context, from, to time.Time) (map[uint]int64, error)
	ApplyTick(ctx context.Context, updates []PriceUpdate, history []model.PriceHistory) error
}

// BoardWriter 在 Tick 提交后刷新实时价格看板缓存。
type BoardWriter interface {
	Publish(ctx context.Context, rows []PriceRow) error
}

// PriceChange 是一次 Tick 对单个酒水的审计结果。
type PriceChange struct {
	Old float64
	New float64
}

// TickController 执行一个完整的定价周期。
//
// 聚合销量 → 对每个酒水应用规则 → 台账与价格修改作为一个
// 事务提交。失败的 Tick 不产生任何部分写入，等下一个周期重试。
type TickController struct {
	store     TickStore
	logger    *slog.Logger
	window    time.Duration
	roundStep float64

	board      BoardWriter     // 可为 nil（看板缓存不可用时走 DB）
	notifier   notify.Notifier // 可为 nil（关闭触顶告警）
	alertEmail string
}

// NewTickController 创建 Tick 控制器。
func NewTickController(store TickStore, logger *slog.Logger, window time.Duration, roundStep float64) *TickController {
	if roundStep <= 0 {
		roundStep = 0.01
	}
	return &TickController{
		store:     store,
		logger:    logger,
		window:    window,
		roundStep: roundStep,
	}
}

// WithBoard 设置看板缓存。
func (t *TickController) WithBoard(board BoardWriter) *TickController {
	t.board = board
	return t
}

// WithCapAlert 启用价格触顶邮件告警。
func (t *TickController) WithCapAlert(notifier notify.Notifier, toEmail string) *TickController {
	t.notifier = notifier
	t.alertEmail = toEmail
	return t
}

// RunTick 执行一次定价周期并返回审计结果 {drinkID: {old, new}}。
//
// 销量窗口是半开区间 [now−window, now)。台账仅在舍入后价格
// 确实变化时追加；previous/current 则对每个酒水无条件滚动，
// 这样涨跌箭头总是反映最近一个 Tick。
func (t *TickController) RunTick(ctx context.Context, now time.Time) (map[uint]PriceChange, error) {
	start := time.Now()

	sales, err := t.store.SumSales(ctx, now.Add(-t.window), now)
	if err != nil {
		metrics.TicksTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("aggregate sales: %w", err)
	}

	drinks, err := t.store.ListDrinks(ctx)
	if err != nil {
		metrics.TicksTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("load drinks: %w", err)
	}

	changes := make(map[uint]PriceChange, len(drinks))
	updates := make([]PriceUpdate, 0, len(drinks))
	var history []model.PriceHistory
	var capped []model.Drink

	for _, d := range drinks {
		sold := sales[d.ID]
		next := Evaluate(d.CurrentPrice, sold, d.MinPrice, d.MaxPrice, t.roundStep)

		changes[d.ID] = PriceChange{Old: d.CurrentPrice, New: next}
		updates = append(updates, PriceUpdate{
			DrinkID:  d.ID,
			Previous: d.CurrentPrice,
			Current:  next,
		})

		if SameAtStep(next, d.CurrentPrice, t.roundStep) {
			continue
		}
		pct := (next - d.CurrentPrice) / d.CurrentPrice * 100
		history = append(history, model.PriceHistory{
			DrinkID:   d.ID,
			OldPrice:  d.CurrentPrice,
			NewPrice:  next,
			Reason:    fmt.Sprintf("%d sold (change: %+.2f%%)", sold, pct),
			CreatedAt: now,
		})
		if next >= d.MaxPrice && d.CurrentPrice < d.MaxPrice {
			capped = append(capped, d)
		}
	}

	if err := t.store.ApplyTick(ctx, updates, history); err != nil {
		metrics.TicksTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.TicksTotal.WithLabelValues("success").Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	for _, h := range history {
		if h.NewPrice > h.OldPrice {
			metrics.PriceChangesTotal.WithLabelValues("up").Inc()
		} else {
			metrics.PriceChangesTotal.WithLabelValues("down").Inc()
		}
	}

	t.publishBoard(ctx, drinks, changes)
	t.sendCapAlerts(capped)

	t.logger.Info("prices updated",
		slog.Int("drinks", len(drinks)),
		slog.Int("changed", len(history)),
		slog.String("window", t.window.String()))
	return changes, nil
}

// publishBoard 把提交后的价格状态写入看板缓存（尽力而为）。
func (t *TickController) publishBoard(ctx context.Context, drinks []model.Drink, changes map[uint]PriceChange) {
	if t.board == nil {
		return
	}
	rows := make([]PriceRow, 0, len(drinks))
	for _, d := range drinks {
		ch := changes[d.ID]
		rows = append(rows, PriceRow{
			ID:        d.ID,
			Name:      d.Name,
			Price:     ch.New,
			Direction: DirectionOf(ch.New, ch.Old),
		})
	}
	if err := t.board.Publish(ctx, rows); err != nil {
		t.logger.Warn("publish price board failed", slog.String("error", err.Error()))
	}
}

// sendCapAlerts 对本轮首次触顶的酒水发送告警邮件。
//
// 使用 Background context 异步发送：邮件服务再慢也不能拖住
// 下一个 Tick。
func (t *TickController) sendCapAlerts(capped []model.Drink) {
	if t.notifier == nil || t.alertEmail == "" || len(capped) == 0 {
		return
	}
	go func(drinks []model.Drink) {
		for _, d := range drinks {
			if err := t.notifier.SendCapAlert(context.Background(), d.Name, d.MaxPrice, t.alertEmail); err != nil {
				t.logger.Warn("cap alert failed",
					slog.String("drink", d.Name),
					slog.String("error", err.Error()))
			}
		}
	}(capped)
}

// DirectionOf 比较当前价与上一价，返回涨跌方向。
func DirectionOf(current, previous float64) string {
	switch {
	case current > previous:
		return "up"
	case current < previous:
		return "down"
	default:
		return "flat"
	}
}
