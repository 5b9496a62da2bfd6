// 随机数引擎，包装了golang.org/x/exp/rand，为确定性仿真提供可复现的随机数
package randengine

import (
	"golang.org/x/exp/rand"
)

// Engine 随机数引擎
// 功能：以固定种子生成可复现的随机序列，仅用于打破平局（等价车道选择等），
// 从不进入影响仿真结果的主干逻辑。调度是单线程串行的，引擎不需要锁保护。
type Engine struct {
	*rand.Rand
}

// New 使用给定种子创建随机数引擎
func New(seed uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed))}
}

// PTrue 以指定概率返回true
func (e *Engine) PTrue(p float64) bool {
	return e.Float64() < p
}

// PickTie 在若干并列候选中随机挑出一个下标，用于确定性种子下的平局打破
// （例如占用空间完全相等的两条等价目标车道之间选择）
func (e *Engine) PickTie(n int) int {
	if n <= 1 {
		return 0
	}
	return e.Intn(n)
}
