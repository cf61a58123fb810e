package market

import (
	"math"
)

// 交易所规则常数：每卖出一杯上涨 1%，无销量时整体下跌 2%。
const (
	growthPerUnit = 0.01
	decayFactor   = 0.98
)

// Evaluate 根据窗口销量对单个价格应用交易所规则。
//
// 纯函数，对文档化的输入域（正价格、非负销量）总是返回
// 满足 min ≤ 结果 ≤ max 的值：先按销量计算涨跌，再截断到
// [min, max]，最后按 step 粒度四舍五入。调用方保证 min/max
// 本身落在 step 网格上（Seed 时已对齐），否则舍入可能越界。
func Evaluate(oldPrice float64, sold int64, minPrice, maxPrice, step float64) float64 {
	var next float64
	if sold > 0 {
		next = oldPrice * (1 + growthPerUnit*float64(sold))
	} else {
		next = oldPrice * decayFactor
	}

	if next > maxPrice {
		next = maxPrice
	}
	if next < minPrice {
		next = minPrice
	}
	return RoundTo(next, step)
}

// RoundTo 将 v 四舍五入到 step 的整数倍。
//
// step 为 0.01 时即四舍五入到分；整数货币传 1。
func RoundTo(v, step float64) float64 {
	if step <= 0 {
		step = 0.01
	}
	return math.Round(v/step) * step
}

// SameAtStep 判断两个价格在 step 粒度下是否相等。
//
// 台账只在舍入后价格确实变化时追加记录，浮点直接比较不可靠，
// 统一换算成 step 的整数倍再比。
func SameAtStep(a, b, step float64) bool {
	if step <= 0 {
		step = 0.01
	}
	return math.Round(a/step) == math.Round(b/step)
}
