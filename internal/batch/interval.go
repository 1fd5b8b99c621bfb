package batch

import (
	"math"
	"time"
)

// sizeBounds 计算第 i 批可随机抽取的数量区间。区间两侧同时收紧：
// 下界保证抽取后剩余数量不超过后续批次的最大容量之和，
// 上界保证抽取后剩余数量仍够后续批次各自达到最小数量。
// 调用方须保证 count*min <= total <= count*max，此时区间恒非空。
func sizeBounds(remaining float64, remainingBatches int, minAmount, maxAmount float64) (float64, float64) {
	rest := float64(remainingBatches - 1)
	lo := math.Max(minAmount, remaining-rest*maxAmount)
	hi := math.Min(maxAmount, remaining-rest*minAmount)
	return lo, hi
}

// pacingInterval 返回相邻子订单之间的固定间隔。
func pacingInterval(durationMinutes, count int) time.Duration {
	if count <= 0 {
		return 0
	}
	seconds := float64(durationMinutes) * 60 / float64(count)
	return time.Duration(seconds * float64(time.Second))
}
