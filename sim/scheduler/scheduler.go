// 命令调度器：以(虚拟时间,单调序号)为键的最小堆，带O(1)的取消标记。
// 它是仿真推进的唯一驱动者——没有轮询、没有中途挂起，这里的所有集合
// 都按堆序或插入序迭代，绝不按哈希序。
package scheduler

import (
	"sort"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/sim/command"
	"github.com/opencitylab/streetsim/sim/simerr"
	"github.com/opencitylab/streetsim/utils/container"
)

// Handle 标识一条已调度命令，用于取消。它同时就是打破平局的序号：
// 取自单调递增计数器，绝不来自内存地址或哈希迭代顺序
type Handle uint64

type key struct {
	When    clock.Time
	Ordinal uint64
}

func keyLess(a, b key) bool {
	if a.When != b.When {
		return a.When < b.When
	}
	return a.Ordinal < b.Ordinal
}

type entry struct {
	Handle Handle
	Cmd    command.Command
}

// Entry 快照中的一条待决命令
type Entry struct {
	When    clock.Time
	Ordinal uint64
	Cmd     command.Command
}

// Scheduler 命令堆的持有者
type Scheduler struct {
	pq        *container.PriorityQueue[entry, key]
	now       clock.Time
	nextOrd   uint64
	cancelled map[Handle]bool
}

func New() *Scheduler {
	return &Scheduler{
		pq:        container.NewPriorityQueue[entry, key](keyLess),
		cancelled: make(map[Handle]bool),
	}
}

// Now 调度器当前的虚拟时间（最近一次派发命令的时刻，尚未派发时为场景起点）
func (s *Scheduler) Now() clock.Time { return s.now }

// Schedule 插入cmd在when时刻派发，返回可用于Cancel的Handle。
// 早于当前时间的调度请求以PastEvent失败
func (s *Scheduler) Schedule(cmd command.Command, when clock.Time) (Handle, error) {
	if when.Before(s.now) {
		return 0, simerr.PastEvent("schedule " + cmd.Kind.String() + " before current time")
	}
	h := Handle(s.nextOrd)
	s.nextOrd++
	s.pq.HeapPush(entry{Handle: h, Cmd: cmd}, key{When: when, Ordinal: uint64(h)})
	return h, nil
}

// Cancel 把已调度命令标记为已取消，之后弹出时静默丢弃。O(1)
func (s *Scheduler) Cancel(h Handle) {
	s.cancelled[h] = true
}

type emptyError struct{}

func (emptyError) Error() string { return "scheduler: empty" }

// Empty 调度器已空的哨兵错误
var Empty error = emptyError{}

// PopNext 弹出最早的未取消命令并把Now()推进到其时刻，
// 途中遇到的已取消条目被透明丢弃
func (s *Scheduler) PopNext() (command.Command, clock.Time, error) {
	for s.pq.Len() > 0 {
		e, k := s.pq.HeapPop()
		if s.cancelled[e.Handle] {
			delete(s.cancelled, e.Handle)
			continue
		}
		s.now = k.When
		return e.Cmd, k.When, nil
	}
	return command.Command{}, s.now, Empty
}

// PeekTime 返回最早待决命令的时刻但不弹出；沿途的已取消条目被真正丢弃
func (s *Scheduler) PeekTime() (clock.Time, error) {
	for s.pq.Len() > 0 {
		// 弹出再推回以越过已取消的堆顶，存活条目的堆序不受影响
		e, k := s.pq.HeapPop()
		if s.cancelled[e.Handle] {
			delete(s.cancelled, e.Handle)
			continue
		}
		s.pq.HeapPush(e, k)
		return k.When, nil
	}
	return s.now, Empty
}

// Len 待决条目数（含尚未被丢弃的已取消条目）
func (s *Scheduler) Len() int { return s.pq.Len() }

// Entries 导出全部存活条目，按(时间,序号)排序，用于快照。
// 堆本身被弹空后原样重建
func (s *Scheduler) Entries() []Entry {
	var out []Entry
	var kept []struct {
		e entry
		k key
	}
	for s.pq.Len() > 0 {
		e, k := s.pq.HeapPop()
		if s.cancelled[e.Handle] {
			delete(s.cancelled, e.Handle)
			continue
		}
		kept = append(kept, struct {
			e entry
			k key
		}{e, k})
		out = append(out, Entry{When: k.When, Ordinal: uint64(e.Handle), Cmd: e.Cmd})
	}
	for _, p := range kept {
		s.pq.HeapPush(p.e, p.k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].When != out[j].When {
			return out[i].When < out[j].When
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out
}

// NextOrdinal 当前的序号计数器值，用于快照
func (s *Scheduler) NextOrdinal() uint64 { return s.nextOrd }

// Restore 从快照重建调度器状态
func (s *Scheduler) Restore(now clock.Time, nextOrd uint64, entries []Entry) {
	s.pq = container.NewPriorityQueue[entry, key](keyLess)
	s.cancelled = make(map[Handle]bool)
	s.now = now
	s.nextOrd = nextOrd
	for _, e := range entries {
		s.pq.HeapPush(entry{Handle: Handle(e.Ordinal), Cmd: e.Cmd}, key{When: e.When, Ordinal: e.Ordinal})
	}
}
