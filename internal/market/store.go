package market

import (
	"context"
	"fmt"
	"time"

	"berza/internal/model"

	"gorm.io/gorm"
)

// PriceUpdate 描述一次 Tick 对单个酒水价格字段的修改。
type PriceUpdate struct {
	DrinkID  uint
	Previous float64 // 写入 previous_price
	Current  float64 // 写入 current_price
}

// Store 是核心的 MySQL 持久化层。
type Store struct {
	db *gorm.DB
}

// NewStore 创建 Store。
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListDrinks 返回全部酒水，按 ID 升序。
func (s *Store) ListDrinks(ctx context.Context) ([]model.Drink, error) {
	var drinks []model.Drink
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&drinks).Error; err != nil {
		return nil, fmt.Errorf("list drinks: %w", err)
	}
	return drinks, nil
}

// DrinkByID 按 ID 查询单个酒水。
func (s *Store) DrinkByID(ctx context.Context, id uint) (*model.Drink, error) {
	var drink model.Drink
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&drink).Error; err != nil {
		return nil, err
	}
	return &drink, nil
}

// SumSales 统计半开窗口 [from, to) 内每个酒水的销量。
//
// 只有窗口内有订单的酒水才会出现在结果里；没出现即销量为 0。
// 读到的都是已提交的订单行（订单入口与 Tick 不共享事务）。
func (s *Store) SumSales(ctx context.Context, from, to time.Time) (map[uint]int64, error) {
	type row struct {
		DrinkID uint
		Total   int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Model(&model.Order{}).
		Select("drink_id, SUM(quantity) AS total").
		Where("created_at >= ? AND created_at < ?", from, to).
		Group("drink_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("sum sales: %w", err)
	}

	sales := make(map[uint]int64, len(rows))
	for _, r := range rows {
		sales[r.DrinkID] = r.Total
	}
	return sales, nil
}

// ApplyTick 在一个事务里提交一次 Tick 的全部价格修改与台账插入。
//
// 任何一步失败整个事务回滚：部分酒水已更新、部分没更新的状态
// 永远不会对外可见。并发的 API 读请求要么看到 Tick 前、要么看到
// Tick 后的完整状态。
func (s *Store) ApplyTick(ctx context.Context, updates []PriceUpdate, history []model.PriceHistory) error {
	if len(updates) == 0 && len(history) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := tx.Model(&model.Drink{}).
				Where("id = ?", u.DrinkID).
				Updates(map[string]interface{}{
					"previous_price": u.Previous,
					"current_price":  u.Current,
				}).Error; err != nil {
				return err
			}
		}
		if len(history) > 0 {
			if err := tx.Create(&history).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply tick: %w", err)
	}
	return nil
}

// CreateOrder 插入一笔订单。
func (s *Store) CreateOrder(ctx context.Context, order *model.Order) error {
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// RecentOrders 返回最新的 limit 笔订单（含酒水名），按时间倒序。
func (s *Store) RecentOrders(ctx context.Context, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []model.Order
	if err := s.db.WithContext(ctx).
		Preload("Drink").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("recent orders: %w", err)
	}
	return orders, nil
}

// HistoryByDrink 返回某个酒水的价格台账，按时间升序。
func (s *Store) HistoryByDrink(ctx context.Context, drinkID uint, limit int) ([]model.PriceHistory, error) {
	q := s.db.WithContext(ctx).
		Where("drink_id = ?", drinkID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []model.PriceHistory
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}
	return entries, nil
}

// PromoCandidates 返回启用的促销候选，按轮播顺序升序。
func (s *Store) PromoCandidates(ctx context.Context) ([]model.PromoCandidate, error) {
	var candidates []model.PromoCandidate
	if err := s.db.WithContext(ctx).
		Preload("Drink").
		Where("enabled = ?", true).
		Order("position ASC, id ASC").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("promo candidates: %w", err)
	}
	return candidates, nil
}

// CurrentPrice 返回某个酒水的实时价（促销轮播用）。
func (s *Store) CurrentPrice(ctx context.Context, drinkID uint) (float64, error) {
	var drink model.Drink
	if err := s.db.WithContext(ctx).
		Select("current_price").
		Where("id = ?", drinkID).
		First(&drink).Error; err != nil {
		return 0, fmt.Errorf("current price: %w", err)
	}
	return drink.CurrentPrice, nil
}
