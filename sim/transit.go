package sim

import (
	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/sim/command"
	"github.com/opencitylab/streetsim/sim/queue"
)

// 公交组件：公交车沿闭合站点序列循环行驶，在站台停靠固定时长；
// 停靠期满先下客再上客，然后经驾驶组件驶向下一站。候车行人成为
// 车辆携带的乘客，到其声明的下车站重新以行人出现。

// busOperator 公交车的Owner哨兵，线路车辆不属于任何场景人员
const busOperator = entity.PersonID(-1)

// spawnBuses 装载时为每条线路生成一辆公交车，停在首站并开始首次停靠
func (e *Engine) spawnBuses(now clock.Time) {
	for _, route := range e.Map.Routes() {
		if len(route.Stops) < 2 {
			continue
		}
		first := route.Stops[0]
		v := &entity.Vehicle{
			ID:          e.allocVehicleID(),
			Kind:        entity.Bus,
			Owner:       busOperator,
			Length:      defaultVehicleLength(entity.Bus),
			MaxSpeed:    defaultMaxSpeed(entity.Bus),
			State:       entity.StateIdling,
			Lane:        first.Lane,
			Spot:        entity.NoSpot,
			PendingSpot: entity.NoSpot,
		}
		q := e.LaneQueues[first.Lane]
		m := queue.Member{
			Vehicle: v.ID, Length: v.Length, MaxSpeed: v.MaxSpeed,
			State: queue.Crossing,
			T0:    now, T1: now, D0: first.Dist, D1: first.Dist,
		}
		if err := q.InsertAtPosition(m, now); err != nil {
			e.Alert.Raise("bus for %v cannot spawn at %s: %v", route.ID, first.Lane, err)
			continue
		}
		e.Vehicles[v.ID] = v
		e.buses[v.ID] = &busRuntime{Vehicle: v.ID, Route: route.ID, StopIdx: 0}
		v.Interval = entity.CrossingInterval{T0: now, T1: now.Add(busDwellDuration), D0: first.Dist, D1: first.Dist}
		e.scheduleBusDwell(v, first.ID, v.Interval.T1)
	}
}

func (e *Engine) scheduleBusDwell(v *entity.Vehicle, stop entity.StopID, when clock.Time) {
	if _, err := e.Scheduler.Schedule(command.Command{
		Kind: command.BusDwellExpires, Vehicle: v.ID, Stop: stop, Epoch: v.Epoch,
	}, when); err != nil {
		e.Alert.Raise("schedule dwell for %s: %v", v.ID, err)
	}
}

// startTransitLeg 行人在上车站台登记候车。出行直接以公交开始时，
// 行人就地在站台生成
func (e *Engine) startTransitLeg(trip *entity.Trip, leg entity.TripLeg, now clock.Time) {
	pedID, ok := e.tripPeds[trip.ID]
	var ped *entity.Pedestrian
	if ok {
		ped = e.Pedestrians[pedID]
	}
	if ped == nil {
		stop, found := e.stopDef(leg.Route, leg.BoardStop)
		if !found {
			e.cancelTrip(trip, now)
			return
		}
		ped = &entity.Pedestrian{
			ID:    e.allocPedestrianID(),
			Owner: trip.Person,
			Trip:  trip.ID,
			Lane:  stop.Sidewalk,
		}
		ped.StartDist = stop.SidewalkDist
		ped.EndDist = stop.SidewalkDist
		e.Pedestrians[ped.ID] = ped
		e.tripPeds[trip.ID] = ped.ID
	}
	ped.WaitingForBus = true
	ped.WaitRoute = leg.Route
	ped.WaitStop = leg.BoardStop
	ped.Speed = 0

	wl := e.RouteWaitlist[leg.Route]
	if wl == nil {
		wl = make(map[entity.StopID][]entity.PedestrianID)
		e.RouteWaitlist[leg.Route] = wl
	}
	wl[leg.BoardStop] = append(wl[leg.BoardStop], ped.ID)
}

// busArriveAtStop 公交车驶抵站台：原地停靠并安排停靠期满事件
func (e *Engine) busArriveAtStop(v *entity.Vehicle, p *vehiclePath, now clock.Time) {
	q := e.LaneQueues[v.Lane]
	pos := p.DestDist
	if m := q.Find(v.ID); m != nil {
		m.State = queue.Crossing
		m.T0, m.T1 = now, now
		m.D0, m.D1 = pos, pos
	}
	v.State = entity.StateIdling
	v.Interval = entity.CrossingInterval{T0: now, T1: now.Add(busDwellDuration), D0: pos, D1: pos}
	e.scheduleBusDwell(v, p.Stop, v.Interval.T1)
}

// handleBusDwellExpires 停靠期满：先下客、再上客，然后发车去下一站
func (e *Engine) handleBusDwellExpires(cmd command.Command, now clock.Time) {
	v := e.Vehicles[cmd.Vehicle]
	if v == nil || cmd.Epoch != v.Epoch || v.State != entity.StateIdling {
		return
	}
	rt := e.buses[v.ID]
	if rt == nil {
		return
	}
	route, ok := e.routes[rt.Route]
	if !ok || len(route.Stops) == 0 {
		return
	}
	stop := route.Stops[rt.StopIdx%len(route.Stops)]

	e.alightPassengers(v, stop, now)
	e.boardWaiting(v, rt.Route, stop)

	e.dispatchBusToNextStop(v, rt, route, now)
}

// alightPassengers 下客：声明在本站下车的乘客重新成为行人并推进其出行
func (e *Engine) alightPassengers(v *entity.Vehicle, stop mapmodel.StopDef, now clock.Time) {
	kept := v.Passengers[:0]
	for _, pid := range v.Passengers {
		person := e.People[pid]
		if person == nil || person.NextTrip >= len(person.Trips) {
			continue
		}
		trip := e.Trips[person.Trips[person.NextTrip]]
		if trip == nil || trip.Status != entity.TripActive {
			continue
		}
		leg := trip.Legs[trip.LegIndex]
		if leg.Kind == entity.LegRideTransit && leg.AlightStop == stop.ID {
			e.advanceLeg(trip, now)
			continue
		}
		kept = append(kept, pid)
	}
	v.Passengers = kept
}

// boardWaiting 上客：本线路在本站的候车行人按到达顺序上车，
// 行人实体退出人行道，其人随公交车移动
func (e *Engine) boardWaiting(v *entity.Vehicle, route entity.RouteID, stop mapmodel.StopDef) {
	wl := e.RouteWaitlist[route]
	if wl == nil {
		return
	}
	for _, pedID := range wl[stop.ID] {
		ped := e.Pedestrians[pedID]
		if ped == nil || !ped.WaitingForBus {
			continue
		}
		v.Passengers = append(v.Passengers, ped.Owner)
		e.dropPedestrian(ped)
	}
	wl[stop.ID] = nil
}

// dispatchBusToNextStop 经驾驶组件把公交车发往线路的下一站
func (e *Engine) dispatchBusToNextStop(v *entity.Vehicle, rt *busRuntime, route mapmodel.RouteDef, now clock.Time) {
	cur := route.Stops[rt.StopIdx%len(route.Stops)]
	nextIdx := (rt.StopIdx + 1) % len(route.Stops)
	next := route.Stops[nextIdx]

	path, err := e.resolvePath(mapmodel.PathRequest{
		StartLane: cur.Lane, StartDist: cur.Dist,
		EndLane: next.Lane, EndDist: next.Dist,
		Mode: entity.LegDrive,
	})
	if err == nil {
		err = e.validateVehiclePath(v, path)
	}
	if err != nil {
		// 下一站暂时不可达：原地再停一轮后重试
		e.Analytics.RecordProblem(now, "transit", v.ID.String()+" cannot reach next stop")
		v.Interval = entity.CrossingInterval{T0: now, T1: now.Add(busDwellDuration), D0: v.Interval.D0, D1: v.Interval.D1}
		e.scheduleBusDwell(v, cur.ID, v.Interval.T1)
		return
	}
	rt.StopIdx = nextIdx
	e.vehiclePaths[v.ID] = &vehiclePath{
		Lanes: path.Lanes, Turns: path.Turns,
		DestDist: next.Dist, Arrival: arriveStop, Stop: next.ID,
	}
	e.startCrossingCurrentLane(v, v.Interval.D0, now)
}
