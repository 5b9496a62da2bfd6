package sim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/control"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/mapmodel/memmap"
	"github.com/opencitylab/streetsim/scenario"
	"github.com/opencitylab/streetsim/sim"
	"github.com/opencitylab/streetsim/utils/config"
)

func secs(s int64) clock.Time { return clock.Time(s * int64(clock.Second)) }

// 两条100m车道经一个停车让行路口相连，L2终止于地图边界
func straightWorld() *memmap.Map {
	m := memmap.New()
	v10 := clock.SpeedFromMetersPerSecond(10)
	m.AddLane(1, mapmodel.Driving, 100*clock.Meter, v10, 1)
	m.AddLane(2, mapmodel.Driving, 100*clock.Meter, v10, -1)
	m.AddTurn(1, 1, 2, 1, 10*clock.Meter)
	m.AddStopSign(1, nil)
	return m
}

func driveTrip(dep clock.Time, destDist clock.Distance) scenario.Static {
	return scenario.Static{{ID: 1, Trips: []scenario.TripRecord{{
		Mode:       entity.LegDrive,
		OriginLane: 1, OriginDist: 0,
		DestLane: 2, DestDist: destDist,
		Departure:   dep,
		VehicleKind: entity.Car,
	}}}}
}

func testOptions() config.RuntimeConfig {
	cfg := config.Default()
	cfg.AlertHandler = "print"
	return cfg
}

// 单车直行驶出边界：出库10s + L1行驶10s + 转弯1s + L2行驶10s = 31s
func TestSingleVehicleDrivesToBorder(t *testing.T) {
	s, err := control.Load(straightWorld(), driveTrip(0, 100*clock.Meter), testOptions())
	require.NoError(t, err)

	s.StepUntil(secs(3600))

	finished := s.FinishedTrips()
	require.Len(t, finished, 1)
	require.NotNil(t, finished[0].Mode)
	assert.Equal(t, "Drive", *finished[0].Mode)
	assert.Equal(t, secs(31), finished[0].FinishTime)
	assert.Equal(t, 31*clock.Second, finished[0].Duration)
}

// 慢车（自行车5m/s）在前，快车3s后出发：快车到达自己的t1后被压成
// Queued，前车开始转弯时被唤醒提升，不会从中间超越
func TestFollowerQueuesBehindSlowLeader(t *testing.T) {
	m := straightWorld()
	sc := scenario.Static{
		{ID: 1, Trips: []scenario.TripRecord{{
			Mode:       entity.LegBike,
			OriginLane: 1, OriginDist: 0,
			DestLane: 2, DestDist: 100 * clock.Meter,
			Departure:   0,
			VehicleKind: entity.Bike,
		}}},
		{ID: 2, Trips: []scenario.TripRecord{{
			Mode:       entity.LegDrive,
			OriginLane: 1, OriginDist: 0,
			DestLane: 2, DestDist: 100 * clock.Meter,
			Departure:   secs(3),
			VehicleKind: entity.Car,
		}}},
	}
	s, err := control.Load(m, sc, testOptions())
	require.NoError(t, err)

	s.StepUntil(secs(3600))

	finished := s.FinishedTrips()
	require.Len(t, finished, 2)
	byMode := map[string]control.TripResult{}
	for _, f := range finished {
		require.NotNil(t, f.Mode)
		byMode[*f.Mode] = f
	}
	// 自行车：出库10 + L1 20 + 转弯2 + L2 20 + 下车35 = 87s
	assert.Equal(t, secs(87), byMode["Bike"].FinishTime)
	// 汽车无阻时31+3=34s就该到；实际一路压在自行车之后：等自行车的车尾
	// 清出10m转弯后才获放行，在L2上又被自行车压着，而自行车在L2末端原地
	// 下车占道到87s；自行车离开后汽车被提升，以10m/s走完剩余4m，87.4s到达
	car := byMode["Drive"]
	assert.Greater(t, int64(car.FinishTime), int64(byMode["Bike"].FinishTime))
	assert.Equal(t, secs(87).Add(400*clock.Millisecond), car.FinishTime)
}

// 双相位信号灯：车在另一相位期间到达路口被拒，相位回归的瞬间放行，
// 没有额外延迟
func TestSignalGatesTurnUntilStageReturns(t *testing.T) {
	m := memmap.New()
	v10 := clock.SpeedFromMetersPerSecond(10)
	m.AddLane(1, mapmodel.Driving, 100*clock.Meter, v10, 1)
	m.AddLane(2, mapmodel.Driving, 100*clock.Meter, v10, -1)
	m.AddTurn(1, 1, 2, 1, 10*clock.Meter)
	m.AddSignal(1, []mapmodel.Stage{
		{Duration: 30 * clock.Second, Protected: []entity.TurnID{1}},
		{Duration: 30 * clock.Second},
	})
	// 出发25s：出库10s+行驶10s，t=45s正值相位B，等到t=60s相位A回归
	s, err := control.Load(m, driveTrip(secs(25), 100*clock.Meter), testOptions())
	require.NoError(t, err)

	s.StepUntil(secs(3600))

	finished := s.FinishedTrips()
	require.Len(t, finished, 1)
	// 60s放行 + 转弯1s + L2行驶10s
	assert.Equal(t, secs(71), finished[0].FinishTime)
}

// 停车稀缺：两辆车同一目的地、目的车道只有一个车位。后到的车
// 扩环搜索到邻路车位，开过去入位，再步行回目的地
func TestParkingScarcityRedirectsSecondCar(t *testing.T) {
	m := memmap.New()
	v10 := clock.SpeedFromMetersPerSecond(10)
	m.AddLane(1, mapmodel.Driving, 100*clock.Meter, v10, 1)
	m.AddLane(2, mapmodel.Driving, 100*clock.Meter, v10, 2)
	m.AddLane(3, mapmodel.Driving, 100*clock.Meter, v10, 3)
	m.AddTurn(1, 1, 2, 1, 10*clock.Meter)
	m.AddTurn(2, 2, 3, 2, 10*clock.Meter)
	m.AddTurn(3, 3, 2, 3, 10*clock.Meter) // 步行返程用的联络
	m.AddStopSign(1, nil)
	m.AddStopSign(2, nil)
	m.AddStopSign(3, nil)
	m.AddSpot(2, 80*clock.Meter)
	m.AddSpot(3, 50*clock.Meter)

	sc := scenario.Static{
		{ID: 1, Trips: []scenario.TripRecord{{
			Mode:       entity.LegDrive,
			OriginLane: 1, OriginDist: 0,
			DestLane: 2, DestDist: 80 * clock.Meter,
			Departure:   0,
			VehicleKind: entity.Car,
		}}},
		{ID: 2, Trips: []scenario.TripRecord{{
			Mode:       entity.LegDrive,
			OriginLane: 1, OriginDist: 0,
			DestLane: 2, DestDist: 80 * clock.Meter,
			Departure:   secs(5),
			VehicleKind: entity.Car,
		}}},
	}
	s, err := control.Load(m, sc, testOptions())
	require.NoError(t, err)

	s.StepUntil(secs(3600))

	finished := s.FinishedTrips()
	require.Len(t, finished, 2)
	for _, f := range finished {
		assert.NotNil(t, f.Mode, "no trip should be cancelled")
	}

	eng := s.Engine()
	occupied := 0
	for _, spot := range eng.Spots {
		if spot.Occupant != entity.NoVehicle {
			occupied++
		}
	}
	assert.Equal(t, 2, occupied, "both cars end up parked, one per spot")
}

// 车位不在目的地时补入的步行段：各段时长之和等于全程时长
func TestLegDurationsSumToTripDuration(t *testing.T) {
	m := straightWorld()
	m.AddSpot(2, 60*clock.Meter)
	s, err := control.Load(m, driveTrip(0, 80*clock.Meter), testOptions())
	require.NoError(t, err)

	s.StepUntil(secs(3600))

	eng := s.Engine()
	require.Len(t, s.FinishedTrips(), 1)
	for _, trip := range eng.Trips {
		require.Equal(t, entity.TripFinished, trip.Status)
		assert.Len(t, trip.Legs, 2, "drive leg plus the appended walk-from-spot leg")
		var sum clock.Duration
		for _, d := range trip.LegDurations {
			sum += d
		}
		assert.Equal(t, trip.FinishTime.Sub(trip.StartTime), sum)
	}
}

// 公交生命周期：乘客在首站候车，停靠期满上车，到下车站重新出现并完成出行
func TestTransitRideLifecycle(t *testing.T) {
	m := memmap.New()
	v10 := clock.SpeedFromMetersPerSecond(10)
	walk := clock.SpeedFromMetersPerSecond(1.4)
	m.AddLane(1, mapmodel.Driving, 100*clock.Meter, v10, 1)
	m.AddLane(2, mapmodel.Driving, 100*clock.Meter, v10, -1)
	m.AddLane(3, mapmodel.Sidewalk, 100*clock.Meter, walk, 1)
	m.AddLane(4, mapmodel.Sidewalk, 100*clock.Meter, walk, -1)
	m.AddTurn(1, 1, 2, 1, 15*clock.Meter)
	m.AddStopSign(1, nil)
	m.AddRoute(1,
		mapmodel.StopDef{ID: 1, Lane: 1, Dist: 50 * clock.Meter, Sidewalk: 3, SidewalkDist: 50 * clock.Meter},
		mapmodel.StopDef{ID: 2, Lane: 2, Dist: 50 * clock.Meter, Sidewalk: 4, SidewalkDist: 50 * clock.Meter},
	)
	sc := scenario.Static{{ID: 1, Trips: []scenario.TripRecord{{
		Mode:       entity.LegRideTransit,
		OriginLane: 3, OriginDist: 50 * clock.Meter,
		DestLane: 4, DestDist: 50 * clock.Meter,
		Departure: 0,
		Route:     1, BoardStop: 1, AlightStop: 2,
	}}}}
	s, err := control.Load(m, sc, testOptions())
	require.NoError(t, err)

	s.StepUntil(secs(3600))

	finished := s.FinishedTrips()
	require.Len(t, finished, 1)
	require.NotNil(t, finished[0].Mode)
	assert.Equal(t, "RideTransit", *finished[0].Mode)
	// 首站停靠20s + L1剩余50m行驶5s + 转弯1.5s + 公交车尾清弯 + L2行驶5s + 末站停靠20s
	assert.Equal(t, secs(51).Add(500*clock.Millisecond), finished[0].FinishTime)
}

// 同一输入两次运行，finished_trips完全一致
func TestDeterministicReruns(t *testing.T) {
	run := func() []control.TripResult {
		m := straightWorld()
		m.AddSpot(2, 60*clock.Meter)
		sc := scenario.Static{
			{ID: 1, Trips: []scenario.TripRecord{{
				Mode:       entity.LegDrive,
				OriginLane: 1, OriginDist: 0,
				DestLane: 2, DestDist: 80 * clock.Meter,
				Departure:   0,
				VehicleKind: entity.Car,
			}}},
			{ID: 2, Trips: []scenario.TripRecord{{
				Mode:       entity.LegWalk,
				OriginLane: 1, OriginDist: 10 * clock.Meter,
				DestLane: 1, DestDist: 90 * clock.Meter,
				Departure:   secs(2),
			}}},
		}
		s, err := control.Load(m, sc, testOptions())
		require.NoError(t, err)
		s.StepUntil(secs(1800))
		return s.FinishedTrips()
	}
	assert.Equal(t, run(), run())
}

// 过期的出发时刻不丢弃：装载后就地发车
func TestLateDepartureStillStarts(t *testing.T) {
	s, err := control.Load(straightWorld(), driveTrip(secs(-100), 100*clock.Meter), testOptions())
	require.NoError(t, err)
	s.StepUntil(secs(3600))
	require.Len(t, s.FinishedTrips(), 1)
	assert.NotNil(t, s.FinishedTrips()[0].Mode)
}

// 暂停期地图编辑：剩余路径触及被改车道的在途出行被取消并记为null模式
func TestMapEditCancelsAffectedTrip(t *testing.T) {
	s, err := control.Load(straightWorld(), driveTrip(0, 100*clock.Meter), testOptions())
	require.NoError(t, err)

	s.StepUntil(secs(15)) // 出库完成，正在L1上行驶
	s.ApplyMapEdit(sim.MapEdit{Lanes: []entity.LaneID{2}})

	s.StepUntil(secs(3600))
	finished := s.FinishedTrips()
	require.Len(t, finished, 1)
	assert.Nil(t, finished[0].Mode, "cancelled trips report a null mode")
}
