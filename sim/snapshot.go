package sim

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/scenario"
	"github.com/opencitylab/streetsim/sim/intersection"
	"github.com/opencitylab/streetsim/sim/queue"
	"github.com/opencitylab/streetsim/sim/scheduler"
	"github.com/opencitylab/streetsim/sim/simerr"
)

// 快照：把引擎的全部可变状态序列化为自描述的版本化字节序列。
// 所有map先按id排序成切片再编码，保证同一状态编码出的字节逐位相同。

// snapshotSchemaVersion 快照结构版本，不兼容的版本在恢复时显式失败
const snapshotSchemaVersion = 1

type laneQueueState struct {
	Lane    entity.LaneID
	Members []queue.Member
	Laggy   *queue.LaggyHead
}

type turnQueueState struct {
	Turn    entity.TurnID
	Members []queue.Member
	Laggy   *queue.LaggyHead
}

type icState struct {
	ID    entity.IntersectionID
	State intersection.State
}

type vehiclePathState struct {
	Vehicle entity.VehicleID
	Path    vehiclePath
}

type pedPathState struct {
	Ped  entity.PedestrianID
	Path pedPath
}

type tripPedPair struct {
	Trip entity.TripID
	Ped  entity.PedestrianID
}

type laneWaiterState struct {
	Lane     entity.LaneID
	Vehicles []entity.VehicleID
}

type waitlistState struct {
	Route entity.RouteID
	Stop  entity.StopID
	Peds  []entity.PedestrianID
}

type pendingRecordState struct {
	Trip   entity.TripID
	Record scenario.TripRecord
}

type snapshotRecord struct {
	Version int

	Now         clock.Time
	NextOrdinal uint64
	Commands    []scheduler.Entry

	Vehicles    []entity.Vehicle
	Pedestrians []entity.Pedestrian
	People      []entity.Person
	Trips       []entity.Trip
	Spots       []entity.ParkingSpot

	LaneQueues    []laneQueueState
	TurnQueues    []turnQueueState
	Intersections []icState

	VehiclePaths []vehiclePathState
	PedPaths     []pedPathState
	TripPeds     []tripPedPair
	LaneWaiters  []laneWaiterState
	Waitlists    []waitlistState
	Buses        []busRuntime

	PendingRecords []pendingRecordState

	NextTripID    entity.TripID
	NextVehicleID entity.VehicleID
	NextPedID     entity.PedestrianID
	NextSpotID    entity.ParkingSpotID

	Analytics AnalyticsState
}

func sortedKeys[K ~int32, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Snapshot 把当前全部仿真状态编码为字节序列，恢复是其逆操作
func (e *Engine) Snapshot() ([]byte, error) {
	rec := snapshotRecord{
		Version:     snapshotSchemaVersion,
		Now:         e.Now(),
		NextOrdinal: e.Scheduler.NextOrdinal(),
		Commands:    e.Scheduler.Entries(),

		NextTripID:    e.nextTripID,
		NextVehicleID: e.nextVehicleID,
		NextPedID:     e.nextPedID,
		NextSpotID:    e.nextSpotID,

		Analytics: e.Analytics.Export(),
	}

	for _, id := range sortedKeys(e.Vehicles) {
		rec.Vehicles = append(rec.Vehicles, *e.Vehicles[id])
	}
	for _, id := range sortedKeys(e.Pedestrians) {
		rec.Pedestrians = append(rec.Pedestrians, *e.Pedestrians[id])
	}
	for _, id := range sortedKeys(e.People) {
		rec.People = append(rec.People, *e.People[id])
	}
	for _, id := range sortedKeys(e.Trips) {
		rec.Trips = append(rec.Trips, *e.Trips[id])
	}
	for _, id := range sortedKeys(e.Spots) {
		rec.Spots = append(rec.Spots, *e.Spots[id])
	}

	for _, id := range e.Map.Lanes() {
		q := e.LaneQueues[id]
		st := laneQueueState{Lane: id, Members: q.Members()}
		if laggy, ok := q.Laggy(); ok {
			st.Laggy = &laggy
		}
		if len(st.Members) > 0 || st.Laggy != nil {
			rec.LaneQueues = append(rec.LaneQueues, st)
		}
	}
	for _, id := range e.Map.Turns() {
		q := e.TurnQueues[id]
		st := turnQueueState{Turn: id, Members: q.Members()}
		if laggy, ok := q.Laggy(); ok {
			st.Laggy = &laggy
		}
		if len(st.Members) > 0 || st.Laggy != nil {
			rec.TurnQueues = append(rec.TurnQueues, st)
		}
	}
	for _, id := range e.Map.Intersections() {
		rec.Intersections = append(rec.Intersections, icState{ID: id, State: e.Intersections[id].Export()})
	}

	for _, id := range sortedKeys(e.vehiclePaths) {
		rec.VehiclePaths = append(rec.VehiclePaths, vehiclePathState{Vehicle: id, Path: *e.vehiclePaths[id]})
	}
	for _, id := range sortedKeys(e.pedPaths) {
		rec.PedPaths = append(rec.PedPaths, pedPathState{Ped: id, Path: *e.pedPaths[id]})
	}
	for _, id := range sortedKeys(e.tripPeds) {
		rec.TripPeds = append(rec.TripPeds, tripPedPair{Trip: id, Ped: e.tripPeds[id]})
	}
	for _, id := range sortedKeys(e.laneWaiters) {
		if len(e.laneWaiters[id]) > 0 {
			rec.LaneWaiters = append(rec.LaneWaiters, laneWaiterState{Lane: id, Vehicles: e.laneWaiters[id]})
		}
	}
	for _, route := range sortedKeys(e.RouteWaitlist) {
		wl := e.RouteWaitlist[route]
		for _, stop := range sortedKeys(wl) {
			if len(wl[stop]) > 0 {
				rec.Waitlists = append(rec.Waitlists, waitlistState{Route: route, Stop: stop, Peds: wl[stop]})
			}
		}
	}
	for _, id := range sortedKeys(e.buses) {
		rec.Buses = append(rec.Buses, *e.buses[id])
	}
	for _, id := range sortedKeys(e.pendingRecords) {
		rec.PendingRecords = append(rec.PendingRecords, pendingRecordState{Trip: id, Record: e.pendingRecords[id]})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore 从快照重建引擎状态。版本不符以SnapshotIncompatible显式失败
func (e *Engine) Restore(data []byte) error {
	var rec snapshotRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return simerr.SnapshotIncompatible(err.Error())
	}
	if rec.Version != snapshotSchemaVersion {
		return simerr.SnapshotIncompatible(
			fmt.Sprintf("snapshot schema v%d, engine expects v%d", rec.Version, snapshotSchemaVersion))
	}

	e.Scheduler.Restore(rec.Now, rec.NextOrdinal, rec.Commands)
	e.nextTripID = rec.NextTripID
	e.nextVehicleID = rec.NextVehicleID
	e.nextPedID = rec.NextPedID
	e.nextSpotID = rec.NextSpotID
	e.Analytics.Import(rec.Analytics)

	e.Vehicles = make(map[entity.VehicleID]*entity.Vehicle, len(rec.Vehicles))
	for i := range rec.Vehicles {
		v := rec.Vehicles[i]
		e.Vehicles[v.ID] = &v
	}
	e.Pedestrians = make(map[entity.PedestrianID]*entity.Pedestrian, len(rec.Pedestrians))
	for i := range rec.Pedestrians {
		p := rec.Pedestrians[i]
		e.Pedestrians[p.ID] = &p
	}
	e.People = make(map[entity.PersonID]*entity.Person, len(rec.People))
	for i := range rec.People {
		p := rec.People[i]
		e.People[p.ID] = &p
	}
	e.Trips = make(map[entity.TripID]*entity.Trip, len(rec.Trips))
	for i := range rec.Trips {
		t := rec.Trips[i]
		e.Trips[t.ID] = &t
	}
	e.Spots = make(map[entity.ParkingSpotID]*entity.ParkingSpot, len(rec.Spots))
	e.SpotsByLane = make(map[entity.LaneID][]entity.ParkingSpotID)
	for i := range rec.Spots {
		s := rec.Spots[i]
		e.Spots[s.ID] = &s
		e.SpotsByLane[s.Lane] = append(e.SpotsByLane[s.Lane], s.ID)
	}

	for _, id := range e.Map.Lanes() {
		e.LaneQueues[id].Restore(nil, nil)
	}
	for _, st := range rec.LaneQueues {
		e.LaneQueues[st.Lane].Restore(st.Members, st.Laggy)
	}
	for _, id := range e.Map.Turns() {
		e.TurnQueues[id].Restore(nil, nil)
	}
	for _, st := range rec.TurnQueues {
		e.TurnQueues[st.Turn].Restore(st.Members, st.Laggy)
	}
	for _, st := range rec.Intersections {
		e.Intersections[st.ID].Import(st.State)
	}

	e.vehiclePaths = make(map[entity.VehicleID]*vehiclePath, len(rec.VehiclePaths))
	for i := range rec.VehiclePaths {
		p := rec.VehiclePaths[i].Path
		e.vehiclePaths[rec.VehiclePaths[i].Vehicle] = &p
	}
	e.pedPaths = make(map[entity.PedestrianID]*pedPath, len(rec.PedPaths))
	for i := range rec.PedPaths {
		p := rec.PedPaths[i].Path
		e.pedPaths[rec.PedPaths[i].Ped] = &p
	}
	e.tripPeds = make(map[entity.TripID]entity.PedestrianID, len(rec.TripPeds))
	for _, pair := range rec.TripPeds {
		e.tripPeds[pair.Trip] = pair.Ped
	}
	e.laneWaiters = make(map[entity.LaneID][]entity.VehicleID)
	for _, st := range rec.LaneWaiters {
		e.laneWaiters[st.Lane] = st.Vehicles
	}
	e.RouteWaitlist = make(map[entity.RouteID]map[entity.StopID][]entity.PedestrianID)
	for _, st := range rec.Waitlists {
		wl := e.RouteWaitlist[st.Route]
		if wl == nil {
			wl = make(map[entity.StopID][]entity.PedestrianID)
			e.RouteWaitlist[st.Route] = wl
		}
		wl[st.Stop] = st.Peds
	}
	e.buses = make(map[entity.VehicleID]*busRuntime, len(rec.Buses))
	for i := range rec.Buses {
		b := rec.Buses[i]
		e.buses[b.Vehicle] = &b
	}
	e.pendingRecords = make(map[entity.TripID]scenario.TripRecord, len(rec.PendingRecords))
	for _, st := range rec.PendingRecords {
		e.pendingRecords[st.Trip] = st.Record
	}
	return nil
}
