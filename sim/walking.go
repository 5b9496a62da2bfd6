package sim

import (
	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/sim/command"
)

// 步行组件：行人在人行道上不排队，位置由步行元组线性插值；
// 人行横道要经过路口控制器放行（总会放行，但受信号步行相位
// 与已放行机动车转弯的冲突约束）。

// pedestrianWalkSpeed 行人步速
var pedestrianWalkSpeed = clock.SpeedFromMetersPerSecond(1.4)

func (e *Engine) schedulePedestrianUpdate(ped *entity.Pedestrian, when clock.Time) {
	if _, err := e.Scheduler.Schedule(command.Command{
		Kind: command.UpdatePedestrian, Pedestrian: ped.ID, Epoch: ped.Epoch,
	}, when); err != nil {
		e.Alert.Raise("schedule update for %s: %v", ped.ID, err)
	}
}

// startWalkLeg 开始一个步行段：生成行人，解析人行道路径，走第一跳
func (e *Engine) startWalkLeg(trip *entity.Trip, leg entity.TripLeg, now clock.Time) {
	path, err := e.resolvePath(mapmodel.PathRequest{
		StartLane: leg.OriginLane, StartDist: leg.OriginDist,
		EndLane: leg.DestLane, EndDist: leg.DestDist,
		Mode: entity.LegWalk,
	})
	if err != nil {
		e.cancelTrip(trip, now)
		return
	}
	ped := &entity.Pedestrian{
		ID:    e.allocPedestrianID(),
		Owner: trip.Person,
		Trip:  trip.ID,
	}
	e.Pedestrians[ped.ID] = ped
	e.pedPaths[ped.ID] = &pedPath{
		Lanes: path.Lanes, Turns: path.Turns,
		StartDist: leg.OriginDist, DestDist: leg.DestDist,
	}
	e.tripPeds[trip.ID] = ped.ID
	e.startWalkSegment(ped, leg.OriginDist, now)
}

// startWalkSegment 行人从fromDist出发沿当前人行道走到本跳终点
// （末跳是目的里程，中途跳走到道末去过街）
func (e *Engine) startWalkSegment(ped *entity.Pedestrian, fromDist clock.Distance, now clock.Time) {
	pp := e.pedPaths[ped.ID]
	laneID, ok := pp.currentLane()
	if !ok {
		e.Alert.Raise("%s has no current lane", ped.ID)
		return
	}
	end := e.Map.Lane(laneID).Length()
	if pp.lastLane() {
		end = pp.DestDist
	}
	ped.Lane = laneID
	ped.OnTurn = false
	ped.StartTime = now
	ped.StartDist = fromDist
	ped.EndDist = end
	ped.Speed = pedestrianWalkSpeed
	span := end - fromDist
	if span < 0 {
		span = -span
	}
	e.schedulePedestrianUpdate(ped, now.Add(pedestrianWalkSpeed.TravelTime(span)))
}

// handleUpdatePedestrian 行人走完了当前跳：过街、继续下一跳或结束本段
func (e *Engine) handleUpdatePedestrian(cmd command.Command, now clock.Time) {
	ped := e.Pedestrians[cmd.Pedestrian]
	if ped == nil || cmd.Epoch != ped.Epoch {
		return
	}
	if ped.WaitingForBus {
		return
	}
	pp := e.pedPaths[ped.ID]
	if pp == nil {
		return
	}

	if ped.OnTurn {
		// 过街完毕：释放人行横道并推进到下一条人行道
		turnDef := e.Map.Turn(ped.Turn)
		ic := e.Intersections[turnDef.Intersection()]
		ic.CompleteCrosswalk(ped.Turn)
		pp.advance()
		ped.OnTurn = false
		e.startWalkSegment(ped, 0, now)
		e.reevaluateIntersection(ic, now)
		return
	}

	if pp.lastLane() {
		e.finishWalkLeg(ped, now)
		return
	}

	turnID, ok := pp.currentTurn()
	if !ok {
		// 无人行横道衔接的相邻人行道，直接续走
		pp.advance()
		e.startWalkSegment(ped, 0, now)
		return
	}
	ic := e.Intersections[e.Map.Turn(turnID).Intersection()]
	if ic.RequestCrosswalk(turnID, ped.ID, now) {
		e.startCrosswalk(ped, turnID, now)
	}
	// 被拒则挂起：相位切换或冲突转弯完成时经重评估唤醒
}

// startCrosswalk 行人获准过街，按横道长度与步速走完
func (e *Engine) startCrosswalk(ped *entity.Pedestrian, turnID entity.TurnID, now clock.Time) {
	turnLen := e.Map.Turn(turnID).Length()
	ped.OnTurn = true
	ped.Turn = turnID
	ped.StartTime = now
	ped.StartDist = 0
	ped.EndDist = turnLen
	ped.Speed = pedestrianWalkSpeed
	e.schedulePedestrianUpdate(ped, now.Add(pedestrianWalkSpeed.TravelTime(turnLen)))
}

// finishWalkLeg 步行段抵达终点。下一段是乘公交时行人原地留在站台
// 候车；其他情况下行人退出场景（上车或到达），再推进出行
func (e *Engine) finishWalkLeg(ped *entity.Pedestrian, now clock.Time) {
	trip := e.Trips[ped.Trip]
	if trip == nil || trip.Status != entity.TripActive {
		e.dropPedestrian(ped)
		return
	}
	if trip.LegIndex+1 < len(trip.Legs) && trip.Legs[trip.LegIndex+1].Kind == entity.LegRideTransit {
		e.advanceLeg(trip, now)
		return
	}
	e.dropPedestrian(ped)
	e.advanceLeg(trip, now)
}

// dropPedestrian 把行人从arena与索引中移除并作废其待决命令
func (e *Engine) dropPedestrian(ped *entity.Pedestrian) {
	ped.Epoch++
	delete(e.Pedestrians, ped.ID)
	delete(e.pedPaths, ped.ID)
	if cur, ok := e.tripPeds[ped.Trip]; ok && cur == ped.ID {
		delete(e.tripPeds, ped.Trip)
	}
}
