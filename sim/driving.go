package sim

import (
	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/sim/command"
	"github.com/opencitylab/streetsim/sim/intersection"
	"github.com/opencitylab/streetsim/sim/queue"
)

// 驾驶组件：沿着车道与转弯交替的既定路径推进车辆。
// 车辆的"等待"一律建模为不调度——前车离开、路口放行、容量释放等事件
// 发生时才会把它唤醒，从不轮询。

func (e *Engine) scheduleVehicleUpdate(v *entity.Vehicle, when clock.Time) {
	if _, err := e.Scheduler.Schedule(command.Command{
		Kind: command.UpdateVehicle, Vehicle: v.ID, Epoch: v.Epoch,
	}, when); err != nil {
		e.Alert.Raise("schedule update for %s: %v", v.ID, err)
	}
}

func (e *Engine) scheduleIntersectionUpdate(id entity.IntersectionID, when clock.Time) {
	if _, err := e.Scheduler.Schedule(command.Command{
		Kind: command.UpdateIntersection, Intersection: id,
	}, when); err != nil {
		e.Alert.Raise("schedule update for %s: %v", id, err)
	}
}

func (e *Engine) gridlockThreshold() clock.Duration {
	d := clock.Duration(e.Options.GridlockDetectionSecs) * clock.Second
	if d <= 0 {
		d = intersection.DefaultGridlockThreshold
	}
	return d
}

// startDriveLeg 开始一个驾驶/骑行段：解析并校验路径，然后让车辆出库
func (e *Engine) startDriveLeg(trip *entity.Trip, leg entity.TripLeg, now clock.Time) {
	v := e.Vehicles[leg.Vehicle]
	if v == nil {
		e.cancelTrip(trip, now)
		return
	}
	v.Trip = trip.ID

	path, err := e.resolvePath(mapmodel.PathRequest{
		StartLane: leg.OriginLane, StartDist: leg.OriginDist,
		EndLane: leg.DestLane, EndDist: leg.DestDist,
		Mode: leg.Kind,
	})
	if err != nil {
		e.cancelTrip(trip, now)
		return
	}
	if err := e.validateVehiclePath(v, path); err != nil {
		e.cancelTrip(trip, now)
		return
	}

	arrival := arrivePark
	if leg.Kind == entity.LegBike {
		arrival = arriveDismount
	} else if dest := e.Map.Lane(leg.DestLane); dest.Intersection() < 0 && leg.DestDist >= dest.Length() {
		arrival = arriveBorder
	}
	e.vehiclePaths[v.ID] = &vehiclePath{
		Lanes: path.Lanes, Turns: path.Turns,
		DestDist: leg.DestDist, Arrival: arrival,
	}
	v.Lane = path.Lanes[0]
	v.OnTurn = false
	v.State = entity.StateUnparking
	e.beginUnparking(v, leg.OriginDist, now)
}

// beginUnparking 车辆在出库时长内以静止成员的形式占住车道；车道暂时
// 没有空间时登记为等待者，容量释放后重试
func (e *Engine) beginUnparking(v *entity.Vehicle, frontDist clock.Distance, now clock.Time) {
	q := e.LaneQueues[v.Lane]
	m := queue.Member{
		Vehicle: v.ID, Length: v.Length, MaxSpeed: v.MaxSpeed,
		State: queue.Crossing,
		T0:    now, T1: now, D0: frontDist, D1: frontDist,
	}
	if err := q.InsertAtPosition(m, now); err != nil {
		v.Interval = entity.CrossingInterval{T0: now, T1: now, D0: frontDist, D1: frontDist}
		e.addLaneWaiter(v.Lane, v.ID)
		return
	}
	v.Interval = entity.CrossingInterval{T0: now, T1: now.Add(unparkDuration), D0: frontDist, D1: frontDist}
	e.scheduleVehicleUpdate(v, v.Interval.T1)
}

// handleUpdateVehicle 重新审视车辆状态并完成任何已到期的转换
func (e *Engine) handleUpdateVehicle(cmd command.Command, now clock.Time) {
	v := e.Vehicles[cmd.Vehicle]
	if v == nil || cmd.Epoch != v.Epoch {
		return
	}
	// 滞后车尾的清除与主状态转换共用更新命令，先处理已到期的车尾
	if v.HasLaggyTail && !now.Before(v.LaggyUntil) {
		e.clearLaggyTail(v, now)
	}
	switch v.State {
	case entity.StateUnparking:
		e.progressUnparking(v, now)
	case entity.StateCrossingLane, entity.StateQueued:
		if v.OnTurn {
			// 堵在转弯上的车（排在转弯队列里或等下游容量）从转弯继续
			e.progressOnTurn(v, now)
		} else {
			e.progressOnLane(v, now)
		}
	case entity.StateWaitingToAdvance:
		e.requestTurn(v, now)
	case entity.StateCrossingTurn:
		e.progressOnTurn(v, now)
	case entity.StateParking:
		e.progressParking(v, now)
	case entity.StateIdling, entity.StateVanishing:
		// 公交停靠由BusDwellExpires推进；消失的车辆无事可做
	}
}

func (e *Engine) progressUnparking(v *entity.Vehicle, now clock.Time) {
	q := e.LaneQueues[v.Lane]
	if q.Find(v.ID) == nil {
		// 之前没挤进车道，容量释放后的重试
		e.beginUnparking(v, v.Interval.D0, now)
		return
	}
	if now.Before(v.Interval.T1) {
		return
	}
	// 出库完成：释放车位，从原地开始行驶
	if v.Spot != entity.NoSpot {
		e.releaseSpot(v.Spot)
		v.Spot = entity.NoSpot
	}
	e.startCrossingCurrentLane(v, v.Interval.D0, now)
}

// startCrossingCurrentLane 让车辆从d0出发驶向当前车道的目标里程
// （中途车道驶向段末，末段车道驶向目的里程）
func (e *Engine) startCrossingCurrentLane(v *entity.Vehicle, d0 clock.Distance, now clock.Time) {
	p := e.vehiclePaths[v.ID]
	lane := e.Map.Lane(v.Lane)
	target := lane.Length()
	if p != nil && p.lastLane() && p.DestDist < target {
		target = p.DestDist
	}
	if target < d0 {
		target = d0
	}
	speed := clock.MinSpeed(lane.SpeedLimit(), v.MaxSpeed)
	q := e.LaneQueues[v.Lane]
	m := q.Find(v.ID)
	if m == nil {
		e.Alert.Raise("%s missing from %s queue", v.ID, v.Lane)
		return
	}
	m.State = queue.Crossing
	m.T0, m.D0, m.D1 = now, d0, target
	m.T1 = now.Add(speed.TravelTime(target - d0))
	v.State = entity.StateCrossingLane
	v.Interval = entity.CrossingInterval{T0: m.T0, T1: m.T1, D0: m.D0, D1: m.D1}
	e.scheduleVehicleUpdate(v, m.T1)
}

// progressOnLane 车辆在车道上到达了自己调度的t1：若被前车或滞后车头
// 压着则转入Queued等事件唤醒；若已是队首且到达目标，则收尾或请求转弯
func (e *Engine) progressOnLane(v *entity.Vehicle, now clock.Time) {
	if now.Before(v.Interval.T1) {
		return
	}
	q := e.LaneQueues[v.Lane]
	p := e.vehiclePaths[v.ID]
	if p == nil {
		return
	}
	if !q.IsFront(v.ID) {
		q.MarkQueued(v.ID, now)
		v.State = entity.StateQueued
		return
	}
	lane := e.Map.Lane(v.Lane)
	target := lane.Length()
	if p.lastLane() && p.DestDist < target {
		target = p.DestDist
	}
	pos := q.Positions(now)[0]
	if pos < target {
		// 队首但被滞后车头占位压着，等它清掉再被提升
		q.MarkQueued(v.ID, now)
		v.State = entity.StateQueued
		return
	}
	if p.lastLane() {
		e.arrive(v, now)
		return
	}
	q.MarkQueued(v.ID, now)
	v.State = entity.StateWaitingToAdvance
	e.requestTurn(v, now)
}

// requestTurn 向路口申请下一个转弯。路径允许等价换道转弯时，
// 选目标队列占用最少的那条；完全并列时用种子RNG打破平局
func (e *Engine) requestTurn(v *entity.Vehicle, now clock.Time) {
	p := e.vehiclePaths[v.ID]
	if p == nil {
		return
	}
	turnID, ok := p.currentTurn()
	if !ok {
		return
	}
	if cands := e.Map.EquivalentTurns(turnID); len(cands) > 1 {
		turnID = e.chooseTurn(v, cands)
		if turnID != p.Turns[p.Idx] {
			p.Turns[p.Idx] = turnID
			p.Lanes[p.Idx+1] = e.Map.Turn(turnID).TargetLane()
		}
	}
	turnDef := e.Map.Turn(turnID)
	target := turnDef.TargetLane()
	room := e.LaneQueues[target].HasRoom(v.Length) && e.TurnQueues[turnID].HasRoom(v.Length)
	ic := e.Intersections[turnDef.Intersection()]
	if ic.Request(turnID, v.ID, now, room) {
		e.beginTurn(v, turnID, now)
		return
	}
	// 被拒：按策略安排唤醒点。停车让行的低优先级请求在固定等待期满后
	// 重评估；死锁阀门到点后强制重评估
	def := e.Map.Intersection(turnDef.Intersection())
	if def.Policy() == mapmodel.StopSignPolicy && def.IncomingRoadRank(turnID) > 0 {
		e.scheduleIntersectionUpdate(ic.ID, now.Add(intersection.DefaultStopDelay))
	}
	e.scheduleIntersectionUpdate(ic.ID, now.Add(e.gridlockThreshold()))
}

// chooseTurn 在等价转弯中选目标车道剩余占用最少的，完全并列时RNG挑选
func (e *Engine) chooseTurn(v *entity.Vehicle, cands []entity.TurnID) entity.TurnID {
	best := cands[:0:0]
	var bestReserved clock.Distance
	for _, t := range cands {
		r := e.LaneQueues[e.Map.Turn(t).TargetLane()].Reserved()
		switch {
		case len(best) == 0 || r < bestReserved:
			best = append(best[:0], t)
			bestReserved = r
		case r == bestReserved:
			best = append(best, t)
		}
	}
	return best[e.RNG.PickTie(len(best))]
}

// beginTurn 路口放行后进入转弯：离开旧车道（旧车道记滞后车头直到
// 车尾清空），成为转弯队列的新成员
func (e *Engine) beginTurn(v *entity.Vehicle, turnID entity.TurnID, now clock.Time) {
	laneID := v.Lane
	lane := e.Map.Lane(laneID)
	q := e.LaneQueues[laneID]

	if v.HasLaggyTail {
		// 上一段的车尾还挂着，先强制清掉再挂新的
		e.clearLaggyTail(v, now)
	}

	_, promoted := q.Remove(v.ID, now, lane.SpeedLimit())
	q.SetLaggyHead(v.ID, v.Length)
	speed := clock.MinSpeed(lane.SpeedLimit(), v.MaxSpeed)
	v.HasLaggyTail = true
	v.LaggyOnTurn = false
	v.LaggyLane = laneID
	v.LaggyUntil = now.Add(speed.TravelTime(v.Length))
	e.scheduleVehicleUpdate(v, v.LaggyUntil)

	// 进入uber-turn序列的首个转弯时，把下游各路口的转弯替本车锁住
	if group, ok := e.uberGroupOf[turnID]; ok && len(group) > 0 && group[0] == turnID {
		for _, t := range group[1:] {
			e.Intersections[e.Map.Turn(t).Intersection()].LockTurn(t, v.ID)
		}
	}

	turnDef := e.Map.Turn(turnID)
	tq := e.TurnQueues[turnID]
	m := queue.Member{
		Vehicle: v.ID, Length: v.Length, MaxSpeed: v.MaxSpeed,
		State: queue.Crossing,
		T0:    now, T1: now.Add(speed.TravelTime(turnDef.Length())),
		D0: 0, D1: turnDef.Length(),
	}
	if err := tq.PushBack(m); err != nil {
		e.Alert.Raise("admitted %s but %s has no room", v.ID, turnID)
	}
	v.OnTurn = true
	v.Turn = turnID
	v.State = entity.StateCrossingTurn
	v.Interval = entity.CrossingInterval{T0: m.T0, T1: m.T1, D0: m.D0, D1: m.D1}
	e.scheduleVehicleUpdate(v, m.T1)

	e.syncPromoted(promoted, now)
}

// progressOnTurn 车辆走完转弯后尝试进入下一条车道
func (e *Engine) progressOnTurn(v *entity.Vehicle, now clock.Time) {
	if now.Before(v.Interval.T1) {
		return
	}
	tq := e.TurnQueues[v.Turn]
	if !tq.IsFront(v.ID) {
		tq.MarkQueued(v.ID, now)
		v.State = entity.StateQueued
		return
	}
	e.tryEnterNextLane(v, now)
}

// tryEnterNextLane 从转弯末端进入下一条车道；下游没有空间时堵在转弯
// 末端等容量释放（防堵箱开启时正常不会发生）
func (e *Engine) tryEnterNextLane(v *entity.Vehicle, now clock.Time) {
	p := e.vehiclePaths[v.ID]
	if p == nil {
		return
	}
	turnID := p.Turns[p.Idx]
	next := p.Lanes[p.Idx+1]
	nq := e.LaneQueues[next]
	if !nq.HasRoom(v.Length) {
		e.TurnQueues[turnID].MarkQueued(v.ID, now)
		v.State = entity.StateQueued
		e.addLaneWaiter(next, v.ID)
		return
	}

	if v.HasLaggyTail {
		e.clearLaggyTail(v, now)
	}

	lane := e.Map.Lane(next)
	tq := e.TurnQueues[turnID]
	_, promoted := tq.Remove(v.ID, now, lane.SpeedLimit())
	tq.SetLaggyHead(v.ID, v.Length)
	speed := clock.MinSpeed(lane.SpeedLimit(), v.MaxSpeed)
	v.HasLaggyTail = true
	v.LaggyOnTurn = true
	v.LaggyTurn = turnID
	v.LaggyUntil = now.Add(speed.TravelTime(v.Length))
	e.scheduleVehicleUpdate(v, v.LaggyUntil)

	p.advance()
	v.Lane = next
	v.OnTurn = false
	target := lane.Length()
	if p.lastLane() && p.DestDist < target {
		target = p.DestDist
	}
	m := queue.Member{
		Vehicle: v.ID, Length: v.Length, MaxSpeed: v.MaxSpeed,
		State: queue.Crossing,
		T0:    now, T1: now.Add(speed.TravelTime(target)),
		D0: 0, D1: target,
	}
	if err := nq.PushBack(m); err != nil {
		e.Alert.Raise("room checked but %s rejected %s", next, v.ID)
	}
	v.State = entity.StateCrossingLane
	v.Interval = entity.CrossingInterval{T0: m.T0, T1: m.T1, D0: m.D0, D1: m.D1}
	e.scheduleVehicleUpdate(v, m.T1)

	e.syncPromoted(promoted, now)
}

// clearLaggyTail 车尾完全清出上一段traversable：释放其空间占用，
// 提升被压住的队首，完成转弯的还要释放路口放行并触发重评估
func (e *Engine) clearLaggyTail(v *entity.Vehicle, now clock.Time) {
	if !v.HasLaggyTail {
		return
	}
	v.HasLaggyTail = false
	if v.LaggyOnTurn {
		turnID := v.LaggyTurn
		tq := e.TurnQueues[turnID]
		if laggy, ok := tq.Laggy(); ok && laggy.Vehicle == v.ID {
			tq.ClearLaggyHead()
		}
		turnDef := e.Map.Turn(turnID)
		e.promoteFrontAfterLaggy(tq, e.Map.Lane(turnDef.TargetLane()).SpeedLimit(), now)
		ic := e.Intersections[turnDef.Intersection()]
		exiting := e.exitsUberGroup(v, turnID)
		ic.Complete(turnID, v.ID, exiting)
		if exiting {
			// 序列途经的其他路口也要交还这辆车的锁
			if group, ok := e.uberGroupOf[turnID]; ok {
				for _, t := range group {
					other := e.Intersections[e.Map.Turn(t).Intersection()]
					if other != ic {
						other.ReleaseLocks(v.ID)
					}
				}
			}
		}
		e.reevaluateIntersection(ic, now)
		return
	}
	laneID := v.LaggyLane
	q := e.LaneQueues[laneID]
	if laggy, ok := q.Laggy(); ok && laggy.Vehicle == v.ID {
		q.ClearLaggyHead()
	}
	e.promoteFrontAfterLaggy(q, e.Map.Lane(laneID).SpeedLimit(), now)
	e.onLaneCapacityFreed(laneID, now)
}

// exitsUberGroup 判断完成turnID后车辆是否退出了uber-turn序列
// （下一个转弯不在同组即退出，锁随之全部释放）
func (e *Engine) exitsUberGroup(v *entity.Vehicle, turnID entity.TurnID) bool {
	group, ok := e.uberGroupOf[turnID]
	if !ok {
		return true
	}
	p := e.vehiclePaths[v.ID]
	if p == nil {
		return true
	}
	next, ok := p.currentTurn()
	if !ok {
		return true
	}
	for _, t := range group {
		if t == next {
			return false
		}
	}
	return true
}

// promoteFrontAfterLaggy 滞后车头清掉后，被它压成Queued的队首恢复行驶
func (e *Engine) promoteFrontAfterLaggy(q *queue.Queue, limit clock.Speed, now clock.Time) {
	front, ok := q.Front()
	if !ok || front.State != queue.Queued {
		return
	}
	pos := q.Positions(now)[0]
	speed := clock.MinSpeed(limit, front.MaxSpeed)
	front.State = queue.Crossing
	front.T0, front.D0 = now, pos
	front.D1 = q.Length
	front.T1 = now.Add(speed.TravelTime(q.Length - pos))
	e.syncPromoted(front, now)
}

// syncPromoted 把队列平滑修复提升的成员同步回车辆状态机并调度其唤醒。
// 末段车道上目的地在中途的车辆把区间截到目的里程
func (e *Engine) syncPromoted(promoted *queue.Member, now clock.Time) {
	if promoted == nil {
		return
	}
	v := e.Vehicles[promoted.Vehicle]
	if v == nil {
		return
	}
	if v.State != entity.StateQueued && v.State != entity.StateCrossingLane {
		return
	}
	if p := e.vehiclePaths[v.ID]; p != nil && !v.OnTurn && p.lastLane() && p.DestDist < promoted.D1 {
		if promoted.D0 < p.DestDist {
			speed := clock.MinSpeed(e.Map.Lane(v.Lane).SpeedLimit(), v.MaxSpeed)
			promoted.D1 = p.DestDist
			promoted.T1 = promoted.T0.Add(speed.TravelTime(promoted.D1 - promoted.D0))
		}
	}
	v.State = entity.StateCrossingLane
	v.Interval = entity.CrossingInterval{T0: promoted.T0, T1: promoted.T1, D0: promoted.D0, D1: promoted.D1}
	e.scheduleVehicleUpdate(v, promoted.T1)
}

// addLaneWaiter 登记一辆等待lane腾出容量的车，FIFO唤醒
func (e *Engine) addLaneWaiter(lane entity.LaneID, vid entity.VehicleID) {
	for _, w := range e.laneWaiters[lane] {
		if w == vid {
			return
		}
	}
	e.laneWaiters[lane] = append(e.laneWaiters[lane], vid)
}

// onLaneCapacityFreed 车道腾出了空间：先按FIFO唤醒等待进入的车辆，
// 再让以该车道为目标的路口重评估被拒的转弯请求
func (e *Engine) onLaneCapacityFreed(lane entity.LaneID, now clock.Time) {
	if waiters := e.laneWaiters[lane]; len(waiters) > 0 {
		e.laneWaiters[lane] = nil
		for _, vid := range waiters {
			if v := e.Vehicles[vid]; v != nil {
				e.scheduleVehicleUpdate(v, now)
			}
		}
	}
	for _, icID := range e.laneFeeders[lane] {
		e.reevaluateIntersection(e.Intersections[icID], now)
	}
}

// reevaluateIntersection 重评估路口的被拒请求，放行的车辆开始转弯、
// 行人开始过街
func (e *Engine) reevaluateIntersection(ic *intersection.Controller, now clock.Time) {
	granted := ic.Reevaluate(now, func(t entity.TurnID, vid entity.VehicleID) bool {
		var length clock.Distance
		if v := e.Vehicles[vid]; v != nil {
			length = v.Length
		}
		return e.LaneQueues[e.Map.Turn(t).TargetLane()].HasRoom(length) &&
			e.TurnQueues[t].HasRoom(length)
	})
	for _, g := range granted {
		if g.Ped != entity.NoPedestrian {
			if ped := e.Pedestrians[g.Ped]; ped != nil {
				e.startCrosswalk(ped, g.Turn, now)
			}
			continue
		}
		if v := e.Vehicles[g.Vehicle]; v != nil && v.State == entity.StateWaitingToAdvance {
			e.beginTurn(v, g.Turn, now)
		}
	}
}

// arrive 末段车道走完，按路径的收尾动作分派
func (e *Engine) arrive(v *entity.Vehicle, now clock.Time) {
	p := e.vehiclePaths[v.ID]
	switch p.Arrival {
	case arriveBorder:
		e.vanishAtBorder(v, now)
	case arriveDismount:
		e.beginStationaryManeuver(v, dismountDuration, now)
	case arriveStop:
		e.busArriveAtStop(v, p, now)
	case arrivePark:
		e.arriveForParking(v, now)
	}
}

// vanishAtBorder 车辆驶出地图边界：离开队列并结束当前段
func (e *Engine) vanishAtBorder(v *entity.Vehicle, now clock.Time) {
	laneID := v.Lane
	q := e.LaneQueues[laneID]
	_, promoted := q.Remove(v.ID, now, e.Map.Lane(laneID).SpeedLimit())
	e.syncPromoted(promoted, now)
	if v.HasLaggyTail {
		e.clearLaggyTail(v, now)
	}
	v.State = entity.StateVanishing
	delete(e.vehiclePaths, v.ID)
	e.onLaneCapacityFreed(laneID, now)
	if trip := e.Trips[v.Trip]; trip != nil && trip.Status == entity.TripActive {
		e.advanceLeg(trip, now)
	}
}

// beginStationaryManeuver 车辆原地占道若干时长（入库、下车），
// 到期后由StateParking分支收尾
func (e *Engine) beginStationaryManeuver(v *entity.Vehicle, d clock.Duration, now clock.Time) {
	q := e.LaneQueues[v.Lane]
	pos := q.Length
	positions := q.Positions(now)
	for i, mm := range q.Members() {
		if mm.Vehicle == v.ID {
			pos = positions[i]
			break
		}
	}
	if m := q.Find(v.ID); m != nil {
		m.State = queue.Crossing
		m.T0, m.T1 = now, now
		m.D0, m.D1 = pos, pos
	}
	v.State = entity.StateParking
	v.Interval = entity.CrossingInterval{T0: now, T1: now.Add(d), D0: pos, D1: pos}
	e.scheduleVehicleUpdate(v, v.Interval.T1)
}

// progressParking 入库/下车动作到期后的收尾
func (e *Engine) progressParking(v *entity.Vehicle, now clock.Time) {
	if now.Before(v.Interval.T1) {
		return
	}
	p := e.vehiclePaths[v.ID]
	if p == nil {
		return
	}
	if p.Arrival == arriveDismount {
		e.finishDismount(v, now)
		return
	}
	e.finishParkingManeuver(v, now)
}
