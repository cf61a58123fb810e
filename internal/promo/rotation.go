// Package promo 实现促销视频的轮换状态机。
//
// 候选列表按位置循环：每次只评估当前候选，价格达到触发线即
// 锁定播放决定；显示端播完后调用 Advance 进入冷却并指向下
// 一个候选。状态整体在内存里，进程重启等于回到冷启动。
package promo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"berza/internal/pkg/metrics"
)

// Candidate 是一个可触发的促销条目。
type Candidate struct {
	DrinkID      uint
	Name         string
	ClipURL      string
	TriggerPrice float64
}

// PriceFunc 返回某个酒水的当前价格。
type PriceFunc func(ctx context.Context, drinkID uint) (float64, error)

// Decision 是一次轮询的结果。Play 为 false 时其余字段为零值。
type Decision struct {
	Play  bool    `json:"play"`
	Clip  string  `json:"clip,omitempty"`
	Name  string  `json:"name,omitempty"`
	Price float64 `json:"price,omitempty"`
}

// Rotation 持有轮换状态机。所有方法并发安全。
type Rotation struct {
	mu         sync.Mutex
	candidates []Candidate
	idx        int
	triggered  bool
	current    Decision

	serverStart  time.Time
	lastCycleEnd time.Time
	initialDelay time.Duration
	pause        time.Duration

	price  PriceFunc
	logger *slog.Logger
	now    func() time.Time
}

// NewRotation 创建轮换状态机，冷启动计时从创建时刻开始。
func NewRotation(candidates []Candidate, price PriceFunc, initialDelay, pause time.Duration, logger *slog.Logger) *Rotation {
	r := &Rotation{
		candidates:   candidates,
		initialDelay: initialDelay,
		pause:        pause,
		price:        price,
		logger:       logger,
		now:          time.Now,
	}
	r.serverStart = r.now()
	return r
}

// Poll 返回当前的播放决定。
//
// 已触发状态下重复轮询返回同一个锁定的决定（触发时捕获的
// 价格），直到 Advance 被调用；触发本身是幂等的。
func (r *Rotation) Poll(ctx context.Context) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.candidates) == 0 {
		return Decision{}
	}
	if r.triggered {
		return r.current
	}

	now := r.now()
	if now.Sub(r.serverStart) < r.initialDelay {
		return Decision{}
	}
	if !r.lastCycleEnd.IsZero() && now.Sub(r.lastCycleEnd) < r.pause {
		return Decision{}
	}

	c := r.candidates[r.idx]
	price, err := r.price(ctx, c.DrinkID)
	if err != nil {
		r.logger.Warn("promo price lookup failed",
			slog.String("drink", c.Name),
			slog.String("error", err.Error()))
		return Decision{}
	}
	if price < c.TriggerPrice {
		return Decision{}
	}

	r.triggered = true
	r.current = Decision{Play: true, Clip: c.ClipURL, Name: c.Name, Price: price}
	metrics.PromoTriggersTotal.Inc()
	r.logger.Info("promo triggered",
		slog.String("drink", c.Name),
		slog.Float64("price", price),
		slog.Float64("trigger", c.TriggerPrice))
	return r.current
}

// Advance 表示显示端已播完当前片段：清除触发态、开始冷却、
// 轮换指针循环前移。未触发时调用是无害的空操作，返回 false。
func (r *Rotation) Advance() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.triggered {
		return false
	}
	r.triggered = false
	r.current = Decision{}
	r.lastCycleEnd = r.now()
	r.idx = (r.idx + 1) % len(r.candidates)
	r.logger.Info("promo advanced", slog.Int("next_index", r.idx))
	return true
}
