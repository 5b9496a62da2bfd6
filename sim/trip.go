package sim

import (
	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/scenario"
	"github.com/opencitylab/streetsim/sim/command"
	"github.com/opencitylab/streetsim/sim/simerr"
)

// 出行管理器：持有每个人的出行序列，在段结束时推进到下一段，
// 在模式切换处完成驾驶/步行/公交/停车之间的交接，并记录统计。

// Load 从场景装载人员与出行，为每人的首次出行调度StartTrip命令；
// 同时生成线路公交车、预排信号灯相位切换与统计打点
func (e *Engine) Load() error {
	now := e.Now()
	for _, pr := range e.Scenario.Persons() {
		person := &entity.Person{ID: pr.ID}
		e.People[pr.ID] = person
		for _, tr := range pr.Trips {
			e.nextTripID++
			trip := &entity.Trip{
				ID:        e.nextTripID,
				Person:    pr.ID,
				Status:    entity.TripScheduled,
				Departure: tr.Departure,
			}
			e.Trips[trip.ID] = trip
			person.Trips = append(person.Trips, trip.ID)
			e.pendingRecords[trip.ID] = tr
		}
		if len(person.Trips) > 0 {
			first := e.Trips[person.Trips[0]]
			when := first.Departure
			if when.Before(now) {
				// 过期的出发时刻就地发车，从不丢弃
				when = now
			}
			if _, err := e.Scheduler.Schedule(command.Command{Kind: command.StartTrip, Trip: first.ID}, when); err != nil {
				return err
			}
		}
	}

	e.spawnBuses(now)

	// 定时信号灯的相位切换命令始终预排在当前相位结束时刻
	for _, id := range e.Map.Intersections() {
		ic := e.Intersections[id]
		if e.Map.Intersection(id).Policy() == mapmodel.FixedTimerPolicy && len(ic.Stages()) > 0 {
			e.scheduleIntersectionUpdate(id, ic.StageEnd())
		}
	}

	if _, err := e.Scheduler.Schedule(command.Command{Kind: command.AnalyticsCheckpoint}, now.Add(checkpointInterval)); err != nil {
		return err
	}
	return nil
}

func (e *Engine) handleStartTrip(cmd command.Command, now clock.Time) {
	trip := e.Trips[cmd.Trip]
	if trip == nil || trip.Status != entity.TripScheduled {
		return
	}
	rec := e.pendingRecords[trip.ID]
	delete(e.pendingRecords, trip.ID)
	person := e.People[trip.Person]

	legs, err := e.buildLegs(person, rec)
	if err != nil {
		trip.Status = entity.TripActive
		e.cancelTrip(trip, now)
		return
	}
	trip.Legs = legs
	trip.Status = entity.TripActive
	trip.StartTime = now
	trip.LegIndex = 0
	trip.LegStart = now
	trip.LegDurations = make([]clock.Duration, len(legs))
	e.beginLeg(trip, now)
}

// beginLeg 把当前段派给对应组件
func (e *Engine) beginLeg(trip *entity.Trip, now clock.Time) {
	leg := trip.Legs[trip.LegIndex]
	switch leg.Kind {
	case entity.LegWalk:
		e.startWalkLeg(trip, leg, now)
	case entity.LegDrive, entity.LegBike:
		e.startDriveLeg(trip, leg, now)
	case entity.LegRideTransit:
		e.startTransitLeg(trip, leg, now)
	}
}

// advanceLeg 段在其终止事件处结束：记录段时长、推进下标，
// 开始下一段或完成整个出行
func (e *Engine) advanceLeg(trip *entity.Trip, now clock.Time) {
	trip.LegDurations[trip.LegIndex] = now.Sub(trip.LegStart)
	trip.LegIndex++
	if trip.LegIndex >= len(trip.Legs) {
		e.finishTrip(trip, now)
		return
	}
	trip.LegStart = now
	e.beginLeg(trip, now)
}

func (e *Engine) finishTrip(trip *entity.Trip, now clock.Time) {
	trip.Status = entity.TripFinished
	trip.FinishTime = now
	e.Analytics.RecordFinished(FinishedTrip{
		Trip:       trip.ID,
		Person:     trip.Person,
		Mode:       trip.Mode(),
		Departure:  trip.Departure,
		StartTime:  trip.StartTime,
		FinishTime: trip.FinishTime,
	})
	log.Debugf("%s finished at %s", trip.ID, now)
	e.startNextTrip(trip.Person, now)
}

// cancelTrip 路线无法解析或途中失效的出行被放弃：清理在途的代理，
// 以空模式记入完成表，人继续其后续日程
func (e *Engine) cancelTrip(trip *entity.Trip, now clock.Time) {
	if trip.Status == entity.TripCancelled {
		return
	}
	e.teardownTripAgents(trip, now)
	trip.Status = entity.TripCancelled
	trip.FinishTime = now
	e.Analytics.RecordCancelled(FinishedTrip{
		Trip:       trip.ID,
		Person:     trip.Person,
		Mode:       "",
		Departure:  trip.Departure,
		StartTime:  trip.StartTime,
		FinishTime: now,
	})
	e.Analytics.RecordProblem(now, "cancel", trip.ID.String()+" path invalid")
	e.Alert.Raise("%s cancelled: path invalid", trip.ID)
	e.startNextTrip(trip.Person, now)
}

// teardownTripAgents 把取消出行残留在世界里的行人/车辆摘干净
func (e *Engine) teardownTripAgents(trip *entity.Trip, now clock.Time) {
	if pedID, ok := e.tripPeds[trip.ID]; ok {
		if ped := e.Pedestrians[pedID]; ped != nil {
			if ped.WaitingForBus {
				e.removeFromWaitlist(ped)
			}
			if ped.OnTurn {
				// 行人死在人行横道上也要交还放行，不能让冲突转弯饿死
				ic := e.Intersections[e.Map.Turn(ped.Turn).Intersection()]
				ic.CompleteCrosswalk(ped.Turn)
				e.reevaluateIntersection(ic, now)
			}
			e.dropPedestrian(ped)
		}
	}
	if trip.LegIndex < len(trip.Legs) {
		leg := trip.Legs[trip.LegIndex]
		if leg.Kind == entity.LegDrive || leg.Kind == entity.LegBike {
			if v := e.Vehicles[leg.Vehicle]; v != nil && v.Trip == trip.ID && e.vehiclePaths[v.ID] != nil {
				e.removeVehicleFromWorld(v, now)
			}
		}
	}
}

// insertLegAfterCurrent 在当前段之后插入一段（实际车位与目的地不同时
// 补的步行段），同步扩展段时长表
func (e *Engine) insertLegAfterCurrent(trip *entity.Trip, leg entity.TripLeg) {
	i := trip.LegIndex + 1
	trip.Legs = append(trip.Legs, entity.TripLeg{})
	copy(trip.Legs[i+1:], trip.Legs[i:])
	trip.Legs[i] = leg
	trip.LegDurations = append(trip.LegDurations, 0)
	copy(trip.LegDurations[i+1:], trip.LegDurations[i:])
	trip.LegDurations[i] = 0
}

func (e *Engine) removeFromWaitlist(ped *entity.Pedestrian) {
	wl := e.RouteWaitlist[ped.WaitRoute]
	if wl == nil {
		return
	}
	out := wl[ped.WaitStop][:0]
	for _, id := range wl[ped.WaitStop] {
		if id != ped.ID {
			out = append(out, id)
		}
	}
	wl[ped.WaitStop] = out
}

func (e *Engine) startNextTrip(personID entity.PersonID, now clock.Time) {
	person := e.People[personID]
	if person == nil {
		return
	}
	person.NextTrip++
	if person.NextTrip >= len(person.Trips) {
		return
	}
	next := e.Trips[person.Trips[person.NextTrip]]
	when := next.Departure
	if when.Before(now) {
		when = now
	}
	if _, err := e.Scheduler.Schedule(command.Command{Kind: command.StartTrip, Trip: next.ID}, when); err != nil {
		e.Alert.Raise("schedule %s: %v", next.ID, err)
	}
}

// buildLegs 把场景出行记录展开为段序列。步行记录是单段；驾驶/骑行
// 记录在车辆不在起点时先加一段走到车位的步行段；公交记录展开为
// 走到上车站、乘车、从下车站走到目的地三段
func (e *Engine) buildLegs(person *entity.Person, rec scenario.TripRecord) ([]entity.TripLeg, error) {
	switch rec.Mode {
	case entity.LegWalk:
		return []entity.TripLeg{{
			Kind: entity.LegWalk, OriginLane: rec.OriginLane, OriginDist: rec.OriginDist,
			DestLane: rec.DestLane, DestDist: rec.DestDist,
		}}, nil

	case entity.LegDrive, entity.LegBike:
		vehicle := e.vehicleFor(person, rec.VehicleKind)
		var legs []entity.TripLeg
		spotLane, spotDist := rec.OriginLane, rec.OriginDist
		if spot, ok := e.Spots[vehicle.Spot]; ok && spot != nil {
			spotLane, spotDist = spot.Lane, spot.Dist
		}
		if spotLane != rec.OriginLane || spotDist != rec.OriginDist {
			legs = append(legs, entity.TripLeg{
				Kind: entity.LegWalk, OriginLane: rec.OriginLane, OriginDist: rec.OriginDist,
				DestLane: spotLane, DestDist: spotDist,
			})
		}
		legs = append(legs, entity.TripLeg{
			Kind: rec.Mode, Vehicle: vehicle.ID,
			OriginLane: spotLane, OriginDist: spotDist,
			DestLane: rec.DestLane, DestDist: rec.DestDist,
		})
		return legs, nil

	case entity.LegRideTransit:
		board, ok := e.stopDef(rec.Route, rec.BoardStop)
		if !ok {
			return nil, simerr.PathInvalid("unknown board stop")
		}
		alight, ok := e.stopDef(rec.Route, rec.AlightStop)
		if !ok {
			return nil, simerr.PathInvalid("unknown alight stop")
		}
		var legs []entity.TripLeg
		if rec.OriginLane != board.Sidewalk || rec.OriginDist != board.SidewalkDist {
			legs = append(legs, entity.TripLeg{
				Kind: entity.LegWalk, OriginLane: rec.OriginLane, OriginDist: rec.OriginDist,
				DestLane: board.Sidewalk, DestDist: board.SidewalkDist,
			})
		}
		legs = append(legs, entity.TripLeg{
			Kind:  entity.LegRideTransit,
			Route: rec.Route, BoardStop: rec.BoardStop, AlightStop: rec.AlightStop,
			OriginLane: board.Sidewalk, OriginDist: board.SidewalkDist,
			DestLane: alight.Sidewalk, DestDist: alight.SidewalkDist,
		})
		if rec.DestLane != alight.Sidewalk || rec.DestDist != alight.SidewalkDist {
			legs = append(legs, entity.TripLeg{
				Kind: entity.LegWalk, OriginLane: alight.Sidewalk, OriginDist: alight.SidewalkDist,
				DestLane: rec.DestLane, DestDist: rec.DestDist,
			})
		}
		return legs, nil
	}
	return nil, simerr.PathInvalid("unknown leg mode")
}
