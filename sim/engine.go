// 仿真引擎包：持有全部可变实体arena，把调度器、队列、路口三个叶子包
// 接成一个派发循环，并以Engine方法的形式实现驾驶/步行/停车/公交/出行
// 各组件的状态机（为何合并在一个包里见DESIGN.md）。
package sim

import (
	"github.com/sirupsen/logrus"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/internal/alert"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/scenario"
	"github.com/opencitylab/streetsim/sim/intersection"
	"github.com/opencitylab/streetsim/sim/queue"
	"github.com/opencitylab/streetsim/sim/scheduler"
	"github.com/opencitylab/streetsim/utils/config"
	"github.com/opencitylab/streetsim/utils/randengine"
)

var log = logrus.WithField("module", "sim")

const (
	// laneGap 队列成员间的最小跟车间隙
	laneGap = 2 * clock.Meter
	// unparkDuration 出库动作占用车道的固定时长
	unparkDuration = 10 * clock.Second
	// parkDuration 入库动作占用车道的固定时长
	parkDuration = 10 * clock.Second
	// dismountDuration 自行车到达后的下车固定时长
	dismountDuration = 35 * clock.Second
	// busDwellDuration 公交车在站台的停靠时长
	busDwellDuration = 20 * clock.Second
	// spotReservationTTL 车位预订的有效期，超时未到即释放给他人
	spotReservationTTL = 5 * clock.Minute
	// checkpointInterval 吞吐量打点间隔
	checkpointInterval = 1 * clock.Hour
)

// busRuntime 一条线路上一辆公交车的运行状态
type busRuntime struct {
	Vehicle entity.VehicleID
	Route   entity.RouteID
	StopIdx int // 当前（或正在驶向的）站在线路站表中的下标
}

// Engine 仿真上下文：每个字段只在单条命令派发期间被触碰，
// 任何组件都不在两次派发之间保留活引用
type Engine struct {
	Map      mapmodel.Map
	Scenario scenario.Scenario
	Options  config.RuntimeConfig

	Scheduler *scheduler.Scheduler
	RNG       *randengine.Engine
	Alert     *alert.Dispatcher

	Vehicles    map[entity.VehicleID]*entity.Vehicle
	Pedestrians map[entity.PedestrianID]*entity.Pedestrian
	People      map[entity.PersonID]*entity.Person
	Trips       map[entity.TripID]*entity.Trip
	Spots       map[entity.ParkingSpotID]*entity.ParkingSpot

	LaneQueues    map[entity.LaneID]*queue.Queue
	TurnQueues    map[entity.TurnID]*queue.Queue
	Intersections map[entity.IntersectionID]*intersection.Controller

	// SpotsByLane 每条车道可达的车位，扩环搜索的索引
	SpotsByLane map[entity.LaneID][]entity.ParkingSpotID

	// RouteWaitlist 每条线路每个站台的候车行人，按到达顺序
	RouteWaitlist map[entity.RouteID]map[entity.StopID][]entity.PedestrianID

	Analytics *Analytics

	vehiclePaths map[entity.VehicleID]*vehiclePath
	pedPaths     map[entity.PedestrianID]*pedPath
	tripPeds     map[entity.TripID]entity.PedestrianID

	// laneWaiters 等待车道腾出容量再进入的车辆（出库受阻、转弯末端受阻），FIFO
	laneWaiters map[entity.LaneID][]entity.VehicleID
	// laneFeeders 以某车道为目标的转弯所在的路口，容量释放时要唤醒它们
	laneFeeders map[entity.LaneID][]entity.IntersectionID

	buses  map[entity.VehicleID]*busRuntime
	routes map[entity.RouteID]mapmodel.RouteDef

	uberGroupOf map[entity.TurnID][]entity.TurnID

	pendingRecords map[entity.TripID]scenario.TripRecord

	nextTripID    entity.TripID
	nextVehicleID entity.VehicleID
	nextPedID     entity.PedestrianID
	nextSpotID    entity.ParkingSpotID
}

// New 在只读Map/Scenario与配置之上构造Engine。此时还没有装载出行，
// 需再调用Load（control.Load封装了这两步）
func New(m mapmodel.Map, sc scenario.Scenario, opts config.RuntimeConfig) *Engine {
	e := &Engine{
		Map:      m,
		Scenario: sc,
		Options:  opts,

		Scheduler: scheduler.New(),
		RNG:       randengine.New(uint64(opts.RandomSeed)),
		Alert:     alert.New(alert.ParseHandler(opts.AlertHandler)),

		Vehicles:    make(map[entity.VehicleID]*entity.Vehicle),
		Pedestrians: make(map[entity.PedestrianID]*entity.Pedestrian),
		People:      make(map[entity.PersonID]*entity.Person),
		Trips:       make(map[entity.TripID]*entity.Trip),
		Spots:       make(map[entity.ParkingSpotID]*entity.ParkingSpot),

		LaneQueues:    make(map[entity.LaneID]*queue.Queue),
		TurnQueues:    make(map[entity.TurnID]*queue.Queue),
		Intersections: make(map[entity.IntersectionID]*intersection.Controller),

		SpotsByLane:   make(map[entity.LaneID][]entity.ParkingSpotID),
		RouteWaitlist: make(map[entity.RouteID]map[entity.StopID][]entity.PedestrianID),

		vehiclePaths: make(map[entity.VehicleID]*vehiclePath),
		pedPaths:     make(map[entity.PedestrianID]*pedPath),
		tripPeds:     make(map[entity.TripID]entity.PedestrianID),

		laneWaiters: make(map[entity.LaneID][]entity.VehicleID),
		laneFeeders: make(map[entity.LaneID][]entity.IntersectionID),

		buses:  make(map[entity.VehicleID]*busRuntime),
		routes: make(map[entity.RouteID]mapmodel.RouteDef),

		uberGroupOf: make(map[entity.TurnID][]entity.TurnID),

		pendingRecords: make(map[entity.TripID]scenario.TripRecord),
	}
	e.Analytics = newAnalytics()

	icfg := intersection.Config{
		DisableTurnConflicts: opts.DisableTurnConflicts,
		DisableBlockTheBox:   opts.DisableBlockTheBox,
		GridlockThreshold:    clock.Duration(opts.GridlockDetectionSecs) * clock.Second,
	}
	for _, id := range m.Intersections() {
		def := m.Intersection(id)
		ic := intersection.New(id, def, m, icfg)
		icID := id
		ic.GridlockFired = func(t entity.TurnID, v entity.VehicleID) {
			e.Analytics.RecordProblem(e.Now(), "gridlock",
				icID.String()+" force-admitted "+t.String()+" for "+v.String())
		}
		e.Intersections[id] = ic
	}
	for _, id := range m.Lanes() {
		lane := m.Lane(id)
		e.LaneQueues[id] = queue.New(lane.Length(), laneGap)
	}
	for _, id := range m.Turns() {
		turn := m.Turn(id)
		e.TurnQueues[id] = queue.New(turn.Length(), laneGap)
		e.laneFeeders[turn.TargetLane()] = append(e.laneFeeders[turn.TargetLane()], turn.Intersection())
	}
	for _, group := range m.UberTurnGroups() {
		for _, t := range group {
			e.uberGroupOf[t] = group
		}
	}
	for _, def := range m.ParkingSpots() {
		e.nextSpotID++
		spot := &entity.ParkingSpot{
			ID: e.nextSpotID, Lane: def.Lane, Dist: def.Dist,
			Occupant: entity.NoVehicle, Reserved: entity.NoVehicle,
		}
		e.Spots[spot.ID] = spot
		e.SpotsByLane[def.Lane] = append(e.SpotsByLane[def.Lane], spot.ID)
	}
	for _, route := range m.Routes() {
		e.routes[route.ID] = route
	}
	return e
}

func (e *Engine) allocVehicleID() entity.VehicleID {
	e.nextVehicleID++
	return e.nextVehicleID
}

func (e *Engine) allocPedestrianID() entity.PedestrianID {
	e.nextPedID++
	return e.nextPedID
}

// Now 引擎当前的虚拟时间
func (e *Engine) Now() clock.Time { return e.Scheduler.Now() }

// stopDef 解析线路route上id为stop的站台定义
func (e *Engine) stopDef(route entity.RouteID, stop entity.StopID) (mapmodel.StopDef, bool) {
	r, ok := e.routes[route]
	if !ok {
		return mapmodel.StopDef{}, false
	}
	for _, s := range r.Stops {
		if s.ID == stop {
			return s, true
		}
	}
	return mapmodel.StopDef{}, false
}
