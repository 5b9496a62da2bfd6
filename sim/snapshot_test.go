package sim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/control"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/scenario"
)

// snapshot→restore→snapshot 逐字节一致
func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := straightWorld()
	m.AddSpot(2, 60*clock.Meter)
	s, err := control.Load(m, driveTrip(0, 80*clock.Meter), testOptions())
	require.NoError(t, err)

	s.StepUntil(secs(15)) // 车辆在途，队列与待决命令都非空

	snap1, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.Restore(snap1))
	snap2, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snap1, snap2)
}

// 恢复后的续跑与不中断的一口气跑产出相同的finished_trips
func TestRestoreContinuesIdentically(t *testing.T) {
	build := func() (*control.Sim, error) {
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
		return control.Load(m, sc, testOptions())
	}

	full, err := build()
	require.NoError(t, err)
	full.StepUntil(secs(1800))

	split, err := build()
	require.NoError(t, err)
	split.StepUntil(secs(15))
	snap, err := split.Snapshot()
	require.NoError(t, err)
	require.NoError(t, split.Restore(snap))
	split.StepUntil(secs(1800))

	assert.Equal(t, full.FinishedTrips(), split.FinishedTrips())
}

// 无法解码的快照数据显式拒绝
func TestSnapshotUndecodableDataRejected(t *testing.T) {
	s, err := control.Load(straightWorld(), driveTrip(0, 100*clock.Meter), testOptions())
	require.NoError(t, err)
	err = s.Restore([]byte("not a snapshot"))
	assert.Error(t, err)
}
