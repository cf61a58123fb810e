package model

import (
	"time"
)

// Drink 表示一种参与"酒水交易所"定价的鸡尾酒。
//
// 价格上下限在首次 Seed 时按基础价的固定比例推导，此后不再重算；
// CurrentPrice / PreviousPrice 只由定价 Tick 修改。
type Drink struct {
	ID        uint      `gorm:"primaryKey"` // 酒水唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Name      string  `gorm:"type:varchar(80);uniqueIndex;not null"` // 酒水名称（唯一）
	BasePrice float64 `gorm:"not null"`                              // 基础价（菜单价）

	CurrentPrice  float64 `gorm:"not null"` // 当前实时价
	PreviousPrice float64 `gorm:"not null"` // 上一个 Tick 的价格（用于涨跌箭头）

	MinPrice float64 `gorm:"not null"` // 价格下限（base × floor_ratio，仅在 Seed 时计算）
	MaxPrice float64 `gorm:"not null"` // 价格上限（base × cap_ratio，仅在 Seed 时计算）

	Orders []Order `gorm:"foreignKey:DrinkID"` // 关联订单
}

// Order 表示一笔酒水订单（销售记录）。
//
// 只追加，核心逻辑只读：它是销量聚合器的唯一输入。
// PriceAtOrder 固定下单瞬间的实时价，之后价格涨跌不影响已下的单。
type Order struct {
	ID      uint  `gorm:"primaryKey"`
	DrinkID uint  `gorm:"not null;index"`
	Drink   Drink `gorm:"foreignKey:DrinkID"`

	Quantity     int     `gorm:"not null"`                  // 杯数（必须为正，入口校验）
	TableNo      string  `gorm:"type:varchar(10);not null"` // 下单桌号
	PriceAtOrder float64 `gorm:"not null"`                  // 下单时的成交单价

	CreatedAt time.Time `gorm:"index"` // 下单时间（销量窗口按此过滤）
}

// PriceHistory 表示一次价格变动的台账记录。
//
// 仅当四舍五入后的新旧价不同时才写入；只追加，不修改不删除。
type PriceHistory struct {
	ID      uint `gorm:"primaryKey"`
	DrinkID uint `gorm:"not null;index"`

	OldPrice float64 `gorm:"not null"`
	NewPrice float64 `gorm:"not null"`
	Reason   string  `gorm:"type:varchar(100)"` // 如 "3 sold (change: +3.00%)"

	CreatedAt time.Time `gorm:"index"`
}

// PromoCandidate 表示一个参与促销轮播的候选酒水。
//
// Position 决定轮播顺序；TriggerPrice 是触发播放的实时价阈值。
type PromoCandidate struct {
	ID      uint  `gorm:"primaryKey"`
	DrinkID uint  `gorm:"not null"`
	Drink   Drink `gorm:"foreignKey:DrinkID"`

	ClipURL      string  `gorm:"type:varchar(255);not null"` // 促销视频地址
	TriggerPrice float64 `gorm:"not null"`                   // 触发阈值
	Position     int     `gorm:"not null;default:0"`         // 轮播顺序
	Enabled      bool    `gorm:"default:true"`
}

// Staff 表示可以登录下单的员工账号（吧台/管理员）。
type Staff struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Username string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Password string `gorm:"not null"`                           // bcrypt 哈希
	Role     string `gorm:"type:varchar(16);default:bartender"` // bartender / admin
}
