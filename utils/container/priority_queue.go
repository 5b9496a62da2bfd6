package container

import "container/heap"

// item 优先队列中单个元素
// 功能：表示优先队列中的一个元素，包含值和优先级信息
// 说明：实现了heap.Interface所需的索引管理功能
type item[T any, P any] struct {
	Value    T // 元素的值（任意类型）
	Priority P // 元素在队列中的优先级（由Less比较，越"小"越优先）
	// 索引由 update 方法使用，并由 heap.Interface 方法维护。
	index int // 项在堆中的索引。
}

// priorityQueue 优先队列实现了 heap.Interface 并保存了元素
// 功能：内部优先队列实现，基于Go标准库的heap包
// 说明：优先级类型P由调用方通过less函数比较，而不是内置的float64排序，
// 这样调用方可以把(时间,序号)这类组合键直接作为优先级使用，不借助浮点数。
type priorityQueue[T any, P any] struct {
	items []*item[T, P]
	less  func(a, b P) bool
}

func (pq priorityQueue[T, P]) Len() int { return len(pq.items) }

func (pq priorityQueue[T, P]) Less(i, j int) bool {
	// 我们希望 Pop 方法返回最低优先级的项，因此这里使用 less。
	return pq.less(pq.items[i].Priority, pq.items[j].Priority)
}

func (pq priorityQueue[T, P]) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].index = i
	pq.items[j].index = j
}

func (pq *priorityQueue[T, P]) Push(x any) {
	n := len(pq.items)
	it := x.(*item[T, P])
	it.index = n
	pq.items = append(pq.items, it)
}

func (pq *priorityQueue[T, P]) Pop() any {
	old := pq.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil  // 避免内存泄漏
	it.index = -1 // 为了安全起见
	pq.items = old[0 : n-1]
	return it
}

// PriorityQueue 优先队列
// 功能：提供优先队列的公共接口，封装内部堆实现
// 说明：优先级类型P任意，由New时传入的less比较函数定义顺序；调用方可以把
// 组合键（如仿真时间+单调序号）作为优先级，而不必退化为浮点数比较。
type PriorityQueue[T any, P any] struct {
	queue priorityQueue[T, P]
}

// NewPriorityQueue 创建优先队列，less定义优先级的严格弱序
func NewPriorityQueue[T any, P any](less func(a, b P) bool) *PriorityQueue[T, P] {
	return &PriorityQueue[T, P]{queue: priorityQueue[T, P]{less: less}}
}

// Len 获取当前队列长度
func (q *PriorityQueue[T, P]) Len() int {
	return len(q.queue.items)
}

// First 获取第一个元素（最优先的元素），不移除
func (q *PriorityQueue[T, P]) First() T {
	return q.queue.items[0].Value
}

// FirstPriority 获取第一个元素的优先级，不移除
func (q *PriorityQueue[T, P]) FirstPriority() P {
	return q.queue.items[0].Priority
}

// HeapPush 加入元素并维护堆结构
func (q *PriorityQueue[T, P]) HeapPush(value T, priority P) {
	heap.Push(&q.queue, &item[T, P]{
		Value:    value,
		Priority: priority,
	})
}

// HeapPop 弹出最优先的元素
func (q *PriorityQueue[T, P]) HeapPop() (value T, priority P) {
	it := heap.Pop(&q.queue).(*item[T, P])
	return it.Value, it.Priority
}
