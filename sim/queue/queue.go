// 车道/转弯的FIFO队列力学：每段traversable上的车辆要么在Crossing
// （开行覆盖里程），要么Queued（堆在前车后面）。精确位置按需从各成员
// 记录的区间惰性重建，没有任何逐tick的轮询更新。
package queue

import (
	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/sim/simerr"
)

type MemberState int

const (
	Crossing MemberState = iota
	Queued
)

// Member 队列中一辆车的槽位（车辆id+占用长度+运动区间）
type Member struct {
	Vehicle  entity.VehicleID
	Length   clock.Distance
	MaxSpeed clock.Speed
	State    MemberState

	// Crossing区间，仅State==Crossing时有意义
	T0, T1 clock.Time
	D0, D1 clock.Distance
}

// LaggyHead 已作为正式成员离开本段、但车尾仍突出在本段内的车辆。
// 每段traversable只建模一个滞后车头；车长超过路径上任一段的车辆在
// 路径校验时即被拒绝，不在运行时处理
type LaggyHead struct {
	Vehicle entity.VehicleID
	Length  clock.Distance
}

// Queue 一段traversable（车道或转弯）上的FIFO
type Queue struct {
	Length clock.Distance // traversable长度
	Gap    clock.Distance // 成员间的最小跟车间隙

	members []*Member // 从队首（下标0）到队尾
	laggy   *LaggyHead
}

func New(length, gap clock.Distance) *Queue {
	return &Queue{Length: length, Gap: gap}
}

// Reserved 正式成员与滞后车头当前占用的总空间
func (q *Queue) Reserved() clock.Distance {
	var r clock.Distance
	for _, m := range q.members {
		r += m.Length + q.Gap
	}
	if q.laggy != nil {
		r += q.laggy.Length + q.Gap
	}
	return r
}

// HasRoom 判断给定长度的车辆能否进入：
// 剩余空间须不小于车长+间隙
func (q *Queue) HasRoom(length clock.Distance) bool {
	return q.Length-q.Reserved() >= length+q.Gap
}

// Len 当前正式成员数
func (q *Queue) Len() int { return len(q.members) }

// Front 返回队首成员
func (q *Queue) Front() (*Member, bool) {
	if len(q.members) == 0 {
		return nil, false
	}
	return q.members[0], true
}

// Find 按车辆id查找成员，返回可变指针
func (q *Queue) Find(vehicle entity.VehicleID) *Member {
	for _, m := range q.members {
		if m.Vehicle == vehicle {
			return m
		}
	}
	return nil
}

// IsFront 判断vehicle是否为队首成员
func (q *Queue) IsFront(vehicle entity.VehicleID) bool {
	return len(q.members) > 0 && q.members[0].Vehicle == vehicle
}

// PushBack 在队尾接纳一个新成员，容量不足时返回NoRoom
func (q *Queue) PushBack(m Member) error {
	if !q.HasRoom(m.Length) {
		return simerr.NoRoom("traversable has no room for vehicle")
	}
	cp := m
	q.members = append(q.members, &cp)
	return nil
}

// InsertAtPosition 按t时刻的位置序插入一个新成员（泊车起步的车辆从
// 车道中段进入队列时使用），保持队列从前到后位置递减的不变式。
// 容量不足时返回NoRoom。
func (q *Queue) InsertAtPosition(m Member, t clock.Time) error {
	if !q.HasRoom(m.Length) {
		return simerr.NoRoom("traversable has no room for vehicle")
	}
	cp := m
	positions := q.Positions(t)
	idx := len(q.members)
	for i, pos := range positions {
		if pos < cp.D0 {
			idx = i
			break
		}
	}
	q.members = append(q.members, nil)
	copy(q.members[idx+1:], q.members[idx:])
	q.members[idx] = &cp
	return nil
}

// SetLaggyHead 记录vehicle已离开本段但车尾（length长）仍突出其中
func (q *Queue) SetLaggyHead(vehicle entity.VehicleID, length clock.Distance) {
	q.laggy = &LaggyHead{Vehicle: vehicle, Length: length}
}

// ClearLaggyHead 车尾完全离开后释放滞后车头的空间占用
func (q *Queue) ClearLaggyHead() {
	q.laggy = nil
}

// Laggy 返回当前滞后车头（快照用）
func (q *Queue) Laggy() (LaggyHead, bool) {
	if q.laggy == nil {
		return LaggyHead{}, false
	}
	return *q.laggy, true
}

// Positions 计算t时刻每个成员车头的精确位置：
// 队首按区间插值（Crossing）或顶在段末（Queued）；后续成员先取自身
// 理想位置，再被前车位置-前车长-间隙从上方钳制；队首还要受滞后车头
// 的占位约束
func (q *Queue) Positions(t clock.Time) []clock.Distance {
	positions := make([]clock.Distance, len(q.members))
	var prevPos, prevLen clock.Distance
	for i, m := range q.members {
		var ideal clock.Distance
		if m.State == Crossing {
			ideal = clock.PositionAt(m.T0, m.T1, m.D0, m.D1, t)
		} else {
			ideal = q.Length
		}
		if i == 0 {
			if q.laggy != nil {
				bound := q.Length - q.laggy.Length - q.Gap
				if ideal > bound {
					ideal = bound
				}
			}
		} else {
			bound := prevPos - prevLen - q.Gap
			if ideal > bound {
				ideal = bound
			}
		}
		positions[i] = ideal
		prevPos, prevLen = ideal, m.Length
	}
	return positions
}

// Remove 把vehicle从队列中摘除（开始转弯、完成泊车或消失），并做平滑
// 修复：紧随其后、处于Queued的成员被提升为Crossing，以当前位置为起点、
// 以min(车道限速,车辆最高速度)驶向段末，位置保持连续。仍在Crossing的
// 后车不动。返回被摘除的成员与被提升的成员（若有）。
func (q *Queue) Remove(vehicle entity.VehicleID, now clock.Time, speedLimit clock.Speed) (removed, promoted *Member) {
	idx := -1
	for i, m := range q.members {
		if m.Vehicle == vehicle {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}
	// 摘除前先算好后车的当前位置，保证连续性
	var followerPos clock.Distance
	hasFollower := idx+1 < len(q.members)
	if hasFollower {
		followerPos = q.Positions(now)[idx+1]
	}
	removed = q.members[idx]
	q.members = append(q.members[:idx], q.members[idx+1:]...)
	if hasFollower {
		follower := q.members[idx]
		if follower.State == Queued {
			remaining := q.Length - followerPos
			speed := clock.MinSpeed(speedLimit, follower.MaxSpeed)
			follower.State = Crossing
			follower.T0 = now
			follower.D0 = followerPos
			follower.D1 = q.Length
			follower.T1 = now.Add(speed.TravelTime(remaining))
			promoted = follower
		}
	}
	return removed, promoted
}

// PopFrontAndFixup 摘除队首成员并做平滑修复，等价于Remove(队首)
func (q *Queue) PopFrontAndFixup(now clock.Time, laneSpeedLimit clock.Speed) (*Member, bool) {
	if len(q.members) == 0 {
		return nil, false
	}
	removed, _ := q.Remove(q.members[0].Vehicle, now, laneSpeedLimit)
	return removed, removed != nil
}

// MarkQueued 把指定成员转为Queued：它到达了自己调度的t1但还不能推进
// （不在队首、被滞后车头压着或路口未放行）
func (q *Queue) MarkQueued(vehicle entity.VehicleID, now clock.Time) {
	for i, m := range q.members {
		if m.Vehicle == vehicle {
			m.D0 = q.Positions(now)[i]
			m.State = Queued
			return
		}
	}
}

// Members 返回成员的快照副本，从队首到队尾
func (q *Queue) Members() []Member {
	out := make([]Member, len(q.members))
	for i, m := range q.members {
		out[i] = *m
	}
	return out
}

// Restore 从快照恢复成员与滞后车头
func (q *Queue) Restore(members []Member, laggy *LaggyHead) {
	q.members = make([]*Member, len(members))
	for i := range members {
		cp := members[i]
		q.members[i] = &cp
	}
	if laggy != nil {
		cp := *laggy
		q.laggy = &cp
	} else {
		q.laggy = nil
	}
}
