// 路口准入控制：停车让行与定时信号灯两种策略下的转弯放行、冲突互斥、
// 防堵箱（block-the-box）、uber-turn锁定、被拒请求的延迟重评估，以及
// 防死锁的最后阀门。
package intersection

import (
	"sort"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
)

// DefaultStopDelay 低优先级来路在停车让行路口被考虑前必须支付的固定等待
const DefaultStopDelay = 3 * clock.Second

// DefaultGridlockThreshold 死锁破除阀门的默认阈值
const DefaultGridlockThreshold = 5 * clock.Minute

// Config 调试/覆盖开关
type Config struct {
	DisableTurnConflicts bool
	DisableBlockTheBox   bool
	GridlockThreshold    clock.Duration
}

// Request 一个待决的放行请求：车辆要开始某个转弯，或行人要过某条人行横道
type Request struct {
	Turn      entity.TurnID
	Vehicle   entity.VehicleID
	Ped       entity.PedestrianID
	ArrivedAt clock.Time
}

type admission struct {
	Vehicle entity.VehicleID
	Ped     entity.PedestrianID
}

// TurnAdmission 快照中一条已放行记录
type TurnAdmission struct {
	Turn    entity.TurnID
	Vehicle entity.VehicleID
	Ped     entity.PedestrianID
}

// UberLock 快照中一条uber-turn下游锁记录
type UberLock struct {
	Turn    entity.TurnID
	Vehicle entity.VehicleID
}

// State 控制器的可序列化状态
type State struct {
	Admitted      []TurnAdmission
	Pending       []Request
	StageIndex    int
	StageEnd      clock.Time
	UberLocks     []UberLock
	Override      []mapmodel.Stage
	PendingStages []mapmodel.Stage
	HasPending    bool
}

// Controller 一个路口的准入状态机
type Controller struct {
	ID  entity.IntersectionID
	def mapmodel.Intersection
	m   mapmodel.Map
	cfg Config

	admitted map[entity.TurnID]admission
	pending  []*Request // 按首次排队顺序的FIFO

	stageIndex int
	stageEnd   clock.Time

	uberLock map[entity.TurnID]entity.VehicleID // 被锁定的下游转弯 -> 持锁车辆

	// set_signal的覆盖相位表：先缓冲，到下一个相位边界才生效，
	// 避免把当前相位拦腰截断
	stagesOverride []mapmodel.Stage
	pendingStages  []mapmodel.Stage
	hasPending     bool

	// GridlockFired 死锁阀门强行放行时的回调（用于问题事件记录），可为nil
	GridlockFired func(turn entity.TurnID, vehicle entity.VehicleID)
}

func New(id entity.IntersectionID, def mapmodel.Intersection, m mapmodel.Map, cfg Config) *Controller {
	c := &Controller{
		ID: id, def: def, m: m, cfg: cfg,
		admitted: make(map[entity.TurnID]admission),
		uberLock: make(map[entity.TurnID]entity.VehicleID),
	}
	if c.cfg.GridlockThreshold <= 0 {
		c.cfg.GridlockThreshold = DefaultGridlockThreshold
	}
	if def.Policy() == mapmodel.FixedTimerPolicy && len(c.stages()) > 0 {
		c.stageEnd = clock.Time(0).Add(c.stages()[0].Duration)
	}
	return c
}

// stages 当前生效的相位表：已生效的覆盖表优先，否则用地图默认
func (c *Controller) stages() []mapmodel.Stage {
	if c.stagesOverride != nil {
		return c.stagesOverride
	}
	return c.def.Stages()
}

// conflicts 判断turn是否与任何已放行转弯几何冲突
func (c *Controller) conflicts(turn entity.TurnID) bool {
	if c.cfg.DisableTurnConflicts {
		return false
	}
	def := c.m.Turn(turn)
	for admitted := range c.admitted {
		if admitted == turn {
			continue
		}
		if def.ConflictsWith(admitted) {
			return true
		}
	}
	return false
}

func (c *Controller) stageAllows(turn entity.TurnID) bool {
	stages := c.stages()
	if len(stages) == 0 {
		return true
	}
	stage := stages[c.stageIndex%len(stages)]
	for _, t := range stage.Protected {
		if t == turn {
			return true
		}
	}
	for _, t := range stage.Permitted {
		if t == turn {
			return true
		}
	}
	return false
}

// gridlocked 判断turn的请求是否已持续超过阈值
func (c *Controller) gridlocked(turn entity.TurnID, now clock.Time) bool {
	for _, r := range c.pending {
		if r.Turn == turn {
			return now.Sub(r.ArrivedAt) >= c.cfg.GridlockThreshold
		}
	}
	return false
}

// uberBlocked 判断turn是否被别的车辆在途的uber-turn序列挡住：
// 被直接锁定，或与某个被锁转弯冲突
func (c *Controller) uberBlocked(turn entity.TurnID, requester entity.VehicleID) bool {
	if holder, locked := c.uberLock[turn]; locked && holder != requester {
		return true
	}
	def := c.m.Turn(turn)
	for t, holder := range c.uberLock {
		if holder != requester && def.ConflictsWith(t) {
			return true
		}
	}
	return false
}

// canAdmit 评估req现在能否放行，依次应用：uber锁、停车让行延迟或
// 信号相位、冲突互斥、防堵箱，最后是死锁阀门的兜底放行
func (c *Controller) canAdmit(req *Request, now clock.Time, targetHasRoom bool, uberInProgress bool) (ok, viaGridlock bool) {
	if c.uberBlocked(req.Turn, req.Vehicle) {
		return false, false
	}

	gridlock := req.Ped == entity.NoPedestrian && c.gridlocked(req.Turn, now)

	if req.Ped != entity.NoPedestrian {
		// 行人过街：不付停车延迟、不占车道容量，只受相位与冲突约束
		if c.def.Policy() == mapmodel.FixedTimerPolicy && !c.stageAllows(req.Turn) {
			return false, false
		}
		if c.conflicts(req.Turn) {
			return false, false
		}
		return true, false
	}

	switch c.def.Policy() {
	case mapmodel.StopSignPolicy:
		rank := c.def.IncomingRoadRank(req.Turn)
		if rank > 0 && !gridlock {
			if now.Sub(req.ArrivedAt) < DefaultStopDelay {
				return false, false
			}
		}
	case mapmodel.FixedTimerPolicy:
		if !c.stageAllows(req.Turn) && !gridlock {
			return false, false
		}
	}

	if !gridlock && c.conflicts(req.Turn) {
		return false, false
	}

	if !c.cfg.DisableBlockTheBox && !uberInProgress && !targetHasRoom {
		return false, false
	}

	return true, gridlock
}

// Request 车辆申请开始turn。targetHasRoom由调用方按目标车道队列容量算好；
// 请求者正处于uber-turn序列中时防堵箱检查被绕过。立即放行返回true，
// 否则请求被记入待决表等待重评估
func (c *Controller) Request(turn entity.TurnID, vehicle entity.VehicleID, now clock.Time, targetHasRoom bool) bool {
	for _, r := range c.pending {
		if r.Turn == turn && r.Vehicle == vehicle && r.Ped == entity.NoPedestrian {
			return c.tryGrant(r, now, targetHasRoom, c.inUberSequence(vehicle))
		}
	}
	req := &Request{Turn: turn, Vehicle: vehicle, Ped: entity.NoPedestrian, ArrivedAt: now}
	if c.tryGrant(req, now, targetHasRoom, c.inUberSequence(vehicle)) {
		return true
	}
	c.pending = append(c.pending, req)
	return false
}

// RequestCrosswalk 行人申请通过人行横道turn。人行横道总会被放行，
// 但要等信号的步行相位、且不得与已放行的机动车转弯冲突
func (c *Controller) RequestCrosswalk(turn entity.TurnID, ped entity.PedestrianID, now clock.Time) bool {
	for _, r := range c.pending {
		if r.Turn == turn && r.Ped == ped {
			return c.tryGrant(r, now, true, false)
		}
	}
	req := &Request{Turn: turn, Vehicle: entity.NoVehicle, Ped: ped, ArrivedAt: now}
	if c.tryGrant(req, now, true, false) {
		return true
	}
	c.pending = append(c.pending, req)
	return false
}

func (c *Controller) inUberSequence(vehicle entity.VehicleID) bool {
	for _, holder := range c.uberLock {
		if holder == vehicle {
			return true
		}
	}
	return false
}

func (c *Controller) tryGrant(req *Request, now clock.Time, targetHasRoom bool, uberInProgress bool) bool {
	ok, viaGridlock := c.canAdmit(req, now, targetHasRoom, uberInProgress)
	if !ok {
		return false
	}
	c.admitted[req.Turn] = admission{Vehicle: req.Vehicle, Ped: req.Ped}
	if viaGridlock && c.GridlockFired != nil {
		c.GridlockFired(req.Turn, req.Vehicle)
	}
	c.removePending(req)
	return true
}

func (c *Controller) removePending(req *Request) {
	out := c.pending[:0]
	for _, r := range c.pending {
		if r.Turn == req.Turn && r.Vehicle == req.Vehicle && r.Ped == req.Ped {
			continue
		}
		out = append(out, r)
	}
	c.pending = out
}

// Complete 车辆车尾完全离开turn后释放其放行记录；exitingUber为true时
// 同时释放该车在本路口还持有的全部下游锁
func (c *Controller) Complete(turn entity.TurnID, vehicle entity.VehicleID, exitingUber bool) {
	delete(c.admitted, turn)
	if exitingUber {
		c.ReleaseLocks(vehicle)
	}
}

// LockTurn 替vehicle锁定本路口的一个下游转弯。uber-turn序列的首个
// 路口放行时，引擎把序列里后续转弯的锁布置到各自的路口上
func (c *Controller) LockTurn(turn entity.TurnID, vehicle entity.VehicleID) {
	c.uberLock[turn] = vehicle
}

// ReleaseLocks 释放vehicle在本路口持有的全部锁，按id序保证确定性
func (c *Controller) ReleaseLocks(vehicle entity.VehicleID) {
	var locked []entity.TurnID
	for t, holder := range c.uberLock {
		if holder == vehicle {
			locked = append(locked, t)
		}
	}
	sort.Slice(locked, func(i, j int) bool { return locked[i] < locked[j] })
	for _, t := range locked {
		delete(c.uberLock, t)
	}
}

// CompleteCrosswalk 行人走完人行横道后释放放行记录
func (c *Controller) CompleteCrosswalk(turn entity.TurnID) {
	delete(c.admitted, turn)
}

// Reevaluate 按首次排队顺序重评估每个待决请求，返回新放行的请求。
// roomCheck按(转弯,请求车辆)报告目标车道当前是否装得下它
func (c *Controller) Reevaluate(now clock.Time, roomCheck func(entity.TurnID, entity.VehicleID) bool) []Request {
	var granted []Request
	pending := make([]*Request, len(c.pending))
	copy(pending, c.pending)
	for _, req := range pending {
		if c.tryGrant(req, now, roomCheck(req.Turn, req.Vehicle), c.inUberSequence(req.Vehicle)) {
			granted = append(granted, *req)
		}
	}
	return granted
}

// Withdraw 撤回某车辆的全部待决请求（出行取消、车辆被逐出时），
// 避免事后替一辆已不存在的车放行
func (c *Controller) Withdraw(vehicle entity.VehicleID) {
	out := c.pending[:0]
	for _, r := range c.pending {
		if r.Vehicle == vehicle && r.Ped == entity.NoPedestrian {
			continue
		}
		out = append(out, r)
	}
	c.pending = out
}

// AdvanceStage 定时信号灯推进到下一相位；缓冲中的覆盖相位表在这里
// （相位边界处）生效。返回再下一次相位切换应当调度的时刻
func (c *Controller) AdvanceStage(now clock.Time) clock.Time {
	if c.hasPending {
		c.stagesOverride = c.pendingStages
		c.pendingStages = nil
		c.hasPending = false
		c.stageIndex = -1 // 新相位表从头开始
	}
	stages := c.stages()
	if len(stages) == 0 {
		return now
	}
	c.stageIndex = (c.stageIndex + 1) % len(stages)
	c.stageEnd = now.Add(stages[c.stageIndex].Duration)
	return c.stageEnd
}

// StageEnd 当前相位的预定结束时刻
func (c *Controller) StageEnd() clock.Time { return c.stageEnd }

// SetStages 宿主覆盖定时信号灯的相位表。新表先缓冲，到下一个相位边界
// 由AdvanceStage生效，当前相位不被截断，已放行的转弯不受影响
func (c *Controller) SetStages(stages []mapmodel.Stage) {
	c.pendingStages = stages
	c.hasPending = true
}

// Stages 当前生效的相位表
func (c *Controller) Stages() []mapmodel.Stage {
	return c.stages()
}

// Export 导出可序列化状态，map按id排序成切片，保证编码字节确定
func (c *Controller) Export() State {
	st := State{
		Pending:       make([]Request, 0, len(c.pending)),
		StageIndex:    c.stageIndex,
		StageEnd:      c.stageEnd,
		Override:      c.stagesOverride,
		PendingStages: c.pendingStages,
		HasPending:    c.hasPending,
	}
	for _, r := range c.pending {
		st.Pending = append(st.Pending, *r)
	}
	for t, a := range c.admitted {
		st.Admitted = append(st.Admitted, TurnAdmission{Turn: t, Vehicle: a.Vehicle, Ped: a.Ped})
	}
	sort.Slice(st.Admitted, func(i, j int) bool { return st.Admitted[i].Turn < st.Admitted[j].Turn })
	for t, v := range c.uberLock {
		st.UberLocks = append(st.UberLocks, UberLock{Turn: t, Vehicle: v})
	}
	sort.Slice(st.UberLocks, func(i, j int) bool { return st.UberLocks[i].Turn < st.UberLocks[j].Turn })
	return st
}

// Import 从快照恢复状态
func (c *Controller) Import(st State) {
	c.admitted = make(map[entity.TurnID]admission, len(st.Admitted))
	for _, a := range st.Admitted {
		c.admitted[a.Turn] = admission{Vehicle: a.Vehicle, Ped: a.Ped}
	}
	c.pending = make([]*Request, 0, len(st.Pending))
	for i := range st.Pending {
		cp := st.Pending[i]
		c.pending = append(c.pending, &cp)
	}
	c.stageIndex = st.StageIndex
	c.stageEnd = st.StageEnd
	c.uberLock = make(map[entity.TurnID]entity.VehicleID, len(st.UberLocks))
	for _, l := range st.UberLocks {
		c.uberLock[l.Turn] = l.Vehicle
	}
	c.stagesOverride = st.Override
	c.pendingStages = st.PendingStages
	c.hasPending = st.HasPending
}
