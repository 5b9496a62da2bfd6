package sim

import (
	"github.com/samber/lo"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/sim/command"
)

// 停车组件：持有车位占用表，回答"目的地附近最近的空位"查询，
// 接受预订并在出库时释放。

const (
	// parkingSearchStep 扩环搜索的初始半径与每次扩张步长
	parkingSearchStep = 200 * clock.Meter
	// parkingSearchMaxRadius 搜索放弃的半径上限
	parkingSearchMaxRadius = 2 * clock.Kilometer
)

// vehicleFor 返回person名下指定种类的车辆，首次使用时生成并就地停好
func (e *Engine) vehicleFor(person *entity.Person, kind entity.VehicleKind) *entity.Vehicle {
	for _, vid := range person.OwnedVehicles {
		if v := e.Vehicles[vid]; v != nil && v.Kind == kind {
			return v
		}
	}
	return e.spawnOwnedVehicle(person, kind)
}

// spawnOwnedVehicle 为person生成一辆新车。车辆最初不占车位
// （由出行记录的起点决定它从哪里出库）
func (e *Engine) spawnOwnedVehicle(person *entity.Person, kind entity.VehicleKind) *entity.Vehicle {
	v := &entity.Vehicle{
		ID:          e.allocVehicleID(),
		Kind:        kind,
		Owner:       person.ID,
		Length:      defaultVehicleLength(kind),
		MaxSpeed:    defaultMaxSpeed(kind),
		State:       entity.StateParking,
		Spot:        entity.NoSpot,
		PendingSpot: entity.NoSpot,
	}
	e.Vehicles[v.ID] = v
	person.OwnedVehicles = append(person.OwnedVehicles, v.ID)
	return v
}

func defaultVehicleLength(kind entity.VehicleKind) clock.Distance {
	switch kind {
	case entity.Bike:
		return 2 * clock.Meter
	case entity.Bus:
		return 12 * clock.Meter
	default:
		return 5 * clock.Meter
	}
}

func defaultMaxSpeed(kind entity.VehicleKind) clock.Speed {
	switch kind {
	case entity.Bike:
		return clock.SpeedFromMetersPerSecond(5)
	case entity.Bus:
		return clock.SpeedFromMetersPerSecond(15)
	default:
		return clock.SpeedFromMetersPerSecond(20)
	}
}

// findParkingSpot 无限模式下在(lane,dist)处合成一个永远空闲的车位
// （黑洞车道先重定向到可达车道）；有限模式下做扩环搜索：半径逐步扩大，
// 每一环内按地图给出的距离序扫描车道上的空位，找到即返回
func (e *Engine) findParkingSpot(lane entity.LaneID, dist clock.Distance) (*entity.ParkingSpot, bool) {
	if e.Options.InfiniteParking {
		lane, dist = e.blackholeRedirect(lane, dist)
		e.nextSpotID++
		spot := &entity.ParkingSpot{
			ID: e.nextSpotID, Lane: lane, Dist: dist,
			Occupant: entity.NoVehicle, Reserved: entity.NoVehicle,
		}
		e.Spots[spot.ID] = spot
		e.SpotsByLane[lane] = append(e.SpotsByLane[lane], spot.ID)
		return spot, true
	}

	lane, dist = e.blackholeRedirect(lane, dist)
	seen := make(map[entity.LaneID]bool)
	for radius := parkingSearchStep; radius <= parkingSearchMaxRadius; radius += parkingSearchStep {
		for _, cand := range e.Map.NearbyLanes(lane, radius) {
			if seen[cand] {
				continue
			}
			seen[cand] = true
			free := lo.Filter(e.SpotsByLane[cand], func(id entity.ParkingSpotID, _ int) bool {
				s := e.Spots[id]
				return s != nil && s.Free()
			})
			if len(free) > 0 {
				return e.Spots[free[0]], true
			}
		}
	}
	return nil, false
}

// reserveSpot 到达前先把spot记在vehicle名下，避免并发搜索重复预订
func (e *Engine) reserveSpot(spot *entity.ParkingSpot, vehicle entity.VehicleID) {
	spot.Reserved = vehicle
}

// occupySpot 到达后正式落位
func (e *Engine) occupySpot(spot *entity.ParkingSpot, vehicle entity.VehicleID) {
	spot.Reserved = entity.NoVehicle
	spot.Occupant = vehicle
}

// releaseSpot 出库的车辆交还车位
func (e *Engine) releaseSpot(spotID entity.ParkingSpotID) {
	spot := e.Spots[spotID]
	if spot == nil {
		return
	}
	spot.Occupant = entity.NoVehicle
}

// blackholeRedirect 查询黑洞重定向表，必要时换成可达的替代车道
func (e *Engine) blackholeRedirect(lane entity.LaneID, dist clock.Distance) (entity.LaneID, clock.Distance) {
	if target, d, ok := e.Map.BlackholeRedirect(lane); ok {
		return target, d
	}
	return lane, dist
}

// arriveForParking 驾驶段走到目的里程附近，开始找位入库。
// 有预订的先验证预订仍有效；位子在别的车道时延长路径继续开过去
func (e *Engine) arriveForParking(v *entity.Vehicle, now clock.Time) {
	trip := e.Trips[v.Trip]
	if v.PendingSpot != entity.NoSpot {
		spot := e.Spots[v.PendingSpot]
		if spot != nil && spot.Lane == v.Lane && (spot.Reserved == v.ID || spot.Free()) {
			e.reserveSpot(spot, v.ID)
			e.beginStationaryManeuver(v, parkDuration, now)
			return
		}
		// 预订在途中被抢或位置不对，重新搜索
		v.PendingSpot = entity.NoSpot
	}

	q := e.LaneQueues[v.Lane]
	pos := q.Length
	if q.IsFront(v.ID) {
		pos = q.Positions(now)[0]
	}
	spot, ok := e.findParkingSpot(v.Lane, pos)
	if !ok {
		e.Analytics.RecordProblem(now, "parking", v.ID.String()+" found no spot near "+v.Lane.String())
		e.removeVehicleFromWorld(v, now)
		if trip != nil {
			e.cancelTrip(trip, now)
		}
		return
	}
	e.reserveSpot(spot, v.ID)
	v.PendingSpot = spot.ID
	if spot.Lane == v.Lane {
		e.beginStationaryManeuver(v, parkDuration, now)
		return
	}

	// 位子在别处：预订计时开始，路径延长到车位所在车道
	if _, err := e.Scheduler.Schedule(command.Command{
		Kind: command.SpotReservationExpires, Vehicle: v.ID, Epoch: v.Epoch,
	}, now.Add(spotReservationTTL)); err != nil {
		e.Alert.Raise("schedule reservation expiry for %s: %v", v.ID, err)
	}
	path, err := e.resolvePath(mapmodel.PathRequest{
		StartLane: v.Lane, StartDist: pos,
		EndLane: spot.Lane, EndDist: spot.Dist,
		Mode: entity.LegDrive,
	})
	if err == nil {
		err = e.validateVehiclePath(v, path)
	}
	if err != nil {
		spot.Reserved = entity.NoVehicle
		v.PendingSpot = entity.NoSpot
		e.removeVehicleFromWorld(v, now)
		if trip != nil {
			e.cancelTrip(trip, now)
		}
		return
	}
	e.vehiclePaths[v.ID] = &vehiclePath{
		Lanes: path.Lanes, Turns: path.Turns,
		DestDist: spot.Dist, Arrival: arrivePark,
	}
	e.startCrossingCurrentLane(v, pos, now)
}

// finishParkingManeuver 入库动作到期：落位、离开行车队列、推进出行
func (e *Engine) finishParkingManeuver(v *entity.Vehicle, now clock.Time) {
	spot := e.Spots[v.PendingSpot]
	if spot == nil || (spot.Occupant != entity.NoVehicle && spot.Occupant != v.ID) {
		// 入库过程中位子没了，原地重新搜索
		v.PendingSpot = entity.NoSpot
		e.arriveForParking(v, now)
		return
	}
	e.occupySpot(spot, v.ID)
	v.Spot = spot.ID
	v.PendingSpot = entity.NoSpot

	laneID := v.Lane
	q := e.LaneQueues[laneID]
	_, promoted := q.Remove(v.ID, now, e.Map.Lane(laneID).SpeedLimit())
	e.syncPromoted(promoted, now)
	delete(e.vehiclePaths, v.ID)
	e.onLaneCapacityFreed(laneID, now)

	trip := e.Trips[v.Trip]
	if trip == nil || trip.Status != entity.TripActive {
		return
	}
	// 车位不在目的地时补一段从车位走到目的地的步行段
	leg := trip.Legs[trip.LegIndex]
	if (leg.Kind == entity.LegDrive) && (spot.Lane != leg.DestLane || spot.Dist != leg.DestDist) {
		e.insertLegAfterCurrent(trip, entity.TripLeg{
			Kind: entity.LegWalk, OriginLane: spot.Lane, OriginDist: spot.Dist,
			DestLane: leg.DestLane, DestDist: leg.DestDist,
		})
	}
	e.advanceLeg(trip, now)
}

// finishDismount 自行车下车时长到期：车离开队列，行人段接管
func (e *Engine) finishDismount(v *entity.Vehicle, now clock.Time) {
	laneID := v.Lane
	q := e.LaneQueues[laneID]
	_, promoted := q.Remove(v.ID, now, e.Map.Lane(laneID).SpeedLimit())
	e.syncPromoted(promoted, now)
	delete(e.vehiclePaths, v.ID)
	e.onLaneCapacityFreed(laneID, now)

	if trip := e.Trips[v.Trip]; trip != nil && trip.Status == entity.TripActive {
		e.advanceLeg(trip, now)
	}
}

// handleSpotReservationExpires 预订到期：车还没落位就把位子让出来，
// 它到达时若位子已被抢会就地重新搜索
func (e *Engine) handleSpotReservationExpires(cmd command.Command, now clock.Time) {
	v := e.Vehicles[cmd.Vehicle]
	if v == nil || cmd.Epoch != v.Epoch {
		return
	}
	if v.PendingSpot == entity.NoSpot {
		return
	}
	spot := e.Spots[v.PendingSpot]
	if spot != nil && spot.Reserved == v.ID && spot.Occupant != v.ID {
		spot.Reserved = entity.NoVehicle
		e.Analytics.RecordProblem(now, "parking", v.ID.String()+" reservation on "+spot.ID.String()+" expired")
	}
}

// removeVehicleFromWorld 把车辆从一切队列与滞后簿记中摘除并作废其
// 待决命令，用于取消出行或地图编辑逐出
func (e *Engine) removeVehicleFromWorld(v *entity.Vehicle, now clock.Time) {
	if p := e.vehiclePaths[v.ID]; p != nil {
		// 撤回路口里挂着的请求，正在穿越的转弯交还放行
		if turnID, ok := p.currentTurn(); ok {
			e.Intersections[e.Map.Turn(turnID).Intersection()].Withdraw(v.ID)
		}
	}
	// 半途持有的uber-turn锁全部交还（按地图路口序，保证确定性）
	for _, icID := range e.Map.Intersections() {
		e.Intersections[icID].ReleaseLocks(v.ID)
	}
	if v.OnTurn {
		tq := e.TurnQueues[v.Turn]
		if tq != nil && tq.Find(v.ID) != nil {
			_, promoted := tq.Remove(v.ID, now, e.Map.Lane(e.Map.Turn(v.Turn).TargetLane()).SpeedLimit())
			e.syncPromoted(promoted, now)
		}
		ic := e.Intersections[e.Map.Turn(v.Turn).Intersection()]
		ic.Complete(v.Turn, v.ID, true)
		e.reevaluateIntersection(ic, now)
	} else if q := e.LaneQueues[v.Lane]; q != nil && q.Find(v.ID) != nil {
		_, promoted := q.Remove(v.ID, now, e.Map.Lane(v.Lane).SpeedLimit())
		e.syncPromoted(promoted, now)
		e.onLaneCapacityFreed(v.Lane, now)
	}
	if v.HasLaggyTail {
		e.clearLaggyTail(v, now)
	}
	if v.PendingSpot != entity.NoSpot {
		if spot := e.Spots[v.PendingSpot]; spot != nil && spot.Reserved == v.ID {
			spot.Reserved = entity.NoVehicle
		}
		v.PendingSpot = entity.NoSpot
	}
	delete(e.vehiclePaths, v.ID)
	v.Epoch++
	v.State = entity.StateVanishing
}
