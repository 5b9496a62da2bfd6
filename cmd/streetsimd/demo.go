package main

import (
	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/mapmodel/memmap"
	"github.com/opencitylab/streetsim/scenario"
)

// demoWorld 内置演示世界：一条东西主路穿过一个信号灯路口接一条南北
// 支路，沿途人行道、路侧车位与一条两站公交线，几个通勤者往返其间
func demoWorld() (mapmodel.Map, scenario.Scenario) {
	m := memmap.New()
	v50 := clock.SpeedFromMetersPerSecond(13.9)
	walk := clock.SpeedFromMetersPerSecond(1.6)

	const (
		mainWest  = entity.LaneID(1)
		mainEast  = entity.LaneID(2)
		sideSouth = entity.LaneID(3)
		sideWest1 = entity.LaneID(4) // 主路西段人行道
		sideWest2 = entity.LaneID(5) // 主路东段人行道
		sideSide  = entity.LaneID(6) // 支路人行道

		signal = entity.IntersectionID(1)

		tStraight = entity.TurnID(1) // 主路直行
		tRight    = entity.TurnID(2) // 主路右转进支路
		walkCross = entity.TurnID(3) // 跨支路口的人行横道
		walkSide  = entity.TurnID(4) // 转进支路人行道
	)

	m.AddLane(mainWest, mapmodel.Driving, 400*clock.Meter, v50, signal)
	m.AddLane(mainEast, mapmodel.Driving, 400*clock.Meter, v50, -1)
	m.AddLane(sideSouth, mapmodel.Driving, 300*clock.Meter, v50, -1)
	m.AddLane(sideWest1, mapmodel.Sidewalk, 400*clock.Meter, walk, signal)
	m.AddLane(sideWest2, mapmodel.Sidewalk, 400*clock.Meter, walk, -1)
	m.AddLane(sideSide, mapmodel.Sidewalk, 300*clock.Meter, walk, -1)

	m.AddTurn(tStraight, mainWest, mainEast, signal, 15*clock.Meter)
	m.AddTurn(tRight, mainWest, sideSouth, signal, 12*clock.Meter)
	m.AddTurn(walkCross, sideWest1, sideWest2, signal, 8*clock.Meter, tRight)
	m.AddTurn(walkSide, sideWest1, sideSide, signal, 8*clock.Meter, tStraight)

	m.AddSignal(signal, []mapmodel.Stage{
		{Duration: 30 * clock.Second, Protected: []entity.TurnID{tStraight, tRight, walkCross}},
		{Duration: 15 * clock.Second, Protected: []entity.TurnID{walkSide}},
	})

	m.AddSpot(mainEast, 350*clock.Meter)
	m.AddSpot(mainEast, 342*clock.Meter)
	m.AddSpot(sideSouth, 250*clock.Meter)

	m.AddRoute(entity.RouteID(1),
		mapmodel.StopDef{ID: 1, Lane: mainWest, Dist: 200 * clock.Meter, Sidewalk: sideWest1, SidewalkDist: 200 * clock.Meter},
		mapmodel.StopDef{ID: 2, Lane: mainEast, Dist: 200 * clock.Meter, Sidewalk: sideWest2, SidewalkDist: 200 * clock.Meter},
	)

	sc := scenario.Static{
		{ID: 1, Trips: []scenario.TripRecord{{
			Mode:       entity.LegDrive,
			OriginLane: mainWest, OriginDist: 20 * clock.Meter,
			DestLane: mainEast, DestDist: 350 * clock.Meter,
			Departure:   clock.Time(10 * int64(clock.Second)),
			VehicleKind: entity.Car,
		}}},
		{ID: 2, Trips: []scenario.TripRecord{{
			Mode:       entity.LegWalk,
			OriginLane: sideWest1, OriginDist: 50 * clock.Meter,
			DestLane: sideSide, DestDist: 120 * clock.Meter,
			Departure: clock.Time(5 * int64(clock.Second)),
		}}},
		{ID: 3, Trips: []scenario.TripRecord{{
			Mode:       entity.LegRideTransit,
			OriginLane: sideWest1, OriginDist: 100 * clock.Meter,
			DestLane: sideWest2, DestDist: 300 * clock.Meter,
			Departure: clock.Time(0),
			Route:     entity.RouteID(1), BoardStop: 1, AlightStop: 2,
		}}},
	}
	return m, sc
}
