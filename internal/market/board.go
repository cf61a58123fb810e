package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const boardKey = "berza:board:prices"

// PriceRow 是实时价格看板里的一行。
type PriceRow struct {
	ID        uint    `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Direction string  `json:"direction"`
}

// Board 把最新一轮 Tick 的价格快照缓存到 Redis，
// 让价格看板的高频轮询不打到 MySQL。
type Board struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBoard 创建价格看板缓存。TTL 应大于 Tick 间隔，
// 这样缓存只在调度器停摆时过期。
func NewBoard(rdb *redis.Client, ttl time.Duration) *Board {
	return &Board{rdb: rdb, ttl: ttl}
}

// Publish 覆盖写入完整快照。
func (b *Board) Publish(ctx context.Context, rows []PriceRow) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal board: %w", err)
	}
	if err := b.rdb.Set(ctx, boardKey, data, b.ttl).Err(); err != nil {
		return fmt.Errorf("write board: %w", err)
	}
	return nil
}

// Load 读取快照。缓存未命中或不可用时第二个返回值为 false，
// 调用方回退到数据库。
func (b *Board) Load(ctx context.Context) ([]PriceRow, bool) {
	data, err := b.rdb.Get(ctx, boardKey).Bytes()
	if err != nil {
		return nil, false
	}
	var rows []PriceRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, false
	}
	return rows, true
}
