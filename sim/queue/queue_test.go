package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/sim/queue"
)

// 100m车道、限速10m/s、单车从0出发：t=5s时位置应为50m。
func TestSingleVehicleCrossingInterpolation(t *testing.T) {
	q := queue.New(100*clock.Meter, 2*clock.Meter)
	v10 := clock.SpeedFromMetersPerSecond(10)
	err := q.PushBack(queue.Member{
		Vehicle: 1, Length: 4 * clock.Meter, MaxSpeed: v10,
		State: queue.Crossing,
		T0:    clock.Time(0), T1: clock.Time(0).Add(v10.TravelTime(100 * clock.Meter)),
		D0: 0, D1: 100 * clock.Meter,
	})
	assert.NoError(t, err)

	positions := q.Positions(clock.Time(5 * int64(clock.Second)))
	assert.InDelta(t, 50.0, positions[0].Meters(), 0.001)
}

// 前车慢(5m/s)后车快(10m/s)，后车晚3s出发：后车被钳在前车后面，
// 不会从中间超越。
func TestFollowerClampedBehindLeader(t *testing.T) {
	q := queue.New(100*clock.Meter, 2*clock.Meter)
	v5 := clock.SpeedFromMetersPerSecond(5)
	v10 := clock.SpeedFromMetersPerSecond(10)

	assert.NoError(t, q.PushBack(queue.Member{
		Vehicle: 1, Length: 4 * clock.Meter, MaxSpeed: v5,
		State: queue.Crossing,
		T0:    clock.Time(0), T1: clock.Time(0).Add(v5.TravelTime(100 * clock.Meter)),
		D0: 0, D1: 100 * clock.Meter,
	}))
	assert.NoError(t, q.PushBack(queue.Member{
		Vehicle: 2, Length: 4 * clock.Meter, MaxSpeed: v10,
		State: queue.Crossing,
		T0:    clock.Time(3 * int64(clock.Second)),
		T1:    clock.Time(3 * int64(clock.Second)).Add(v10.TravelTime(100 * clock.Meter)),
		D0:    0, D1: 100 * clock.Meter,
	}))

	t10 := clock.Time(10 * int64(clock.Second))
	positions := q.Positions(t10)
	leaderPos := positions[0]
	followerPos := positions[1]
	assert.LessOrEqual(t, int64(followerPos), int64(leaderPos-4*clock.Meter-2*clock.Meter))
}

func TestCapacityRejectsOversizedVehicle(t *testing.T) {
	q := queue.New(10*clock.Meter, 2*clock.Meter)
	assert.NoError(t, q.PushBack(queue.Member{Vehicle: 1, Length: 6 * clock.Meter, State: queue.Queued}))
	err := q.PushBack(queue.Member{Vehicle: 2, Length: 3 * clock.Meter, State: queue.Queued})
	assert.Error(t, err)
}

// 队首离开后，直接排队的后车被提升为Crossing，位置保持连续。
func TestSmoothnessFixupPromotesQueuedFollower(t *testing.T) {
	q := queue.New(100*clock.Meter, 2*clock.Meter)
	v10 := clock.SpeedFromMetersPerSecond(10)
	assert.NoError(t, q.PushBack(queue.Member{
		Vehicle: 1, Length: 4 * clock.Meter, MaxSpeed: v10, State: queue.Queued,
	}))
	assert.NoError(t, q.PushBack(queue.Member{
		Vehicle: entity.VehicleID(2), Length: 4 * clock.Meter, MaxSpeed: v10, State: queue.Queued,
	}))

	removed, ok := q.PopFrontAndFixup(clock.Time(20*int64(clock.Second)), v10)
	assert.True(t, ok)
	assert.Equal(t, entity.VehicleID(1), removed.Vehicle)

	front, ok := q.Front()
	assert.True(t, ok)
	assert.Equal(t, queue.Crossing, front.State)
}

// 中段摘除（泊车入位）同样提升紧随的排队后车。
func TestRemoveMidQueuePromotesFollower(t *testing.T) {
	q := queue.New(100*clock.Meter, 2*clock.Meter)
	v10 := clock.SpeedFromMetersPerSecond(10)
	for i := 1; i <= 3; i++ {
		assert.NoError(t, q.PushBack(queue.Member{
			Vehicle: entity.VehicleID(i), Length: 4 * clock.Meter, MaxSpeed: v10, State: queue.Queued,
		}))
	}
	removed, promoted := q.Remove(entity.VehicleID(2), clock.Time(0), v10)
	assert.NotNil(t, removed)
	assert.NotNil(t, promoted)
	assert.Equal(t, entity.VehicleID(3), promoted.Vehicle)
	assert.Equal(t, queue.Crossing, promoted.State)
	assert.Equal(t, 2, q.Len())
}

// 泊车起步的车辆按当前位置序插入队列中段。
func TestInsertAtPositionKeepsOrder(t *testing.T) {
	q := queue.New(100*clock.Meter, 2*clock.Meter)
	v10 := clock.SpeedFromMetersPerSecond(10)
	assert.NoError(t, q.PushBack(queue.Member{
		Vehicle: 1, Length: 4 * clock.Meter, MaxSpeed: v10,
		State: queue.Crossing,
		T0:    clock.Time(0), T1: clock.Time(0), D0: 80 * clock.Meter, D1: 80 * clock.Meter,
	}))
	assert.NoError(t, q.PushBack(queue.Member{
		Vehicle: 2, Length: 4 * clock.Meter, MaxSpeed: v10,
		State: queue.Crossing,
		T0:    clock.Time(0), T1: clock.Time(0), D0: 20 * clock.Meter, D1: 20 * clock.Meter,
	}))
	assert.NoError(t, q.InsertAtPosition(queue.Member{
		Vehicle: 3, Length: 4 * clock.Meter, MaxSpeed: v10,
		State: queue.Crossing,
		T0:    clock.Time(0), T1: clock.Time(0), D0: 50 * clock.Meter, D1: 50 * clock.Meter,
	}, clock.Time(0)))

	members := q.Members()
	assert.Equal(t, entity.VehicleID(1), members[0].Vehicle)
	assert.Equal(t, entity.VehicleID(3), members[1].Vehicle)
	assert.Equal(t, entity.VehicleID(2), members[2].Vehicle)
}

// 滞后车头占住的空间计入容量，清除后归还。
func TestLaggyHeadReservesSpace(t *testing.T) {
	q := queue.New(20*clock.Meter, 2*clock.Meter)
	q.SetLaggyHead(entity.VehicleID(7), 12*clock.Meter)
	assert.False(t, q.HasRoom(5*clock.Meter))
	q.ClearLaggyHead()
	assert.True(t, q.HasRoom(5*clock.Meter))
}

// 队首被滞后车头的占位从上方钳制。
func TestLaggyHeadBoundsFrontPosition(t *testing.T) {
	q := queue.New(100*clock.Meter, 2*clock.Meter)
	v10 := clock.SpeedFromMetersPerSecond(10)
	q.SetLaggyHead(entity.VehicleID(9), 10*clock.Meter)
	assert.NoError(t, q.PushBack(queue.Member{
		Vehicle: 1, Length: 4 * clock.Meter, MaxSpeed: v10,
		State: queue.Crossing,
		T0:    clock.Time(0), T1: clock.Time(0).Add(v10.TravelTime(100 * clock.Meter)),
		D0: 0, D1: 100 * clock.Meter,
	}))
	positions := q.Positions(clock.Time(60 * int64(clock.Second)))
	assert.Equal(t, 100*clock.Meter-10*clock.Meter-2*clock.Meter, positions[0])
}
