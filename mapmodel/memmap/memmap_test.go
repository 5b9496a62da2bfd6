package memmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/mapmodel/memmap"
)

func grid() *memmap.Map {
	m := memmap.New()
	v := clock.SpeedFromMetersPerSecond(10)
	m.AddLane(1, mapmodel.Driving, 100*clock.Meter, v, 1)
	m.AddLane(2, mapmodel.Driving, 100*clock.Meter, v, 2)
	m.AddLane(3, mapmodel.Driving, 100*clock.Meter, v, -1)
	m.AddLane(4, mapmodel.Sidewalk, 100*clock.Meter, v, -1)
	m.AddTurn(1, 1, 2, 1, 10*clock.Meter)
	m.AddTurn(2, 2, 3, 2, 10*clock.Meter)
	m.AddStopSign(1, nil)
	m.AddStopSign(2, nil)
	return m
}

func TestFindPathAlternatesLanesAndTurns(t *testing.T) {
	m := grid()
	path, err := m.FindPath(mapmodel.PathRequest{
		StartLane: 1, EndLane: 3, Mode: entity.LegDrive,
	})
	require.NoError(t, err)
	assert.Equal(t, []entity.LaneID{1, 2, 3}, path.Lanes)
	assert.Equal(t, []entity.TurnID{1, 2}, path.Turns)
}

func TestFindPathRefusesWrongModeLane(t *testing.T) {
	m := grid()
	// 即便有转弯连到人行道，行车模式也不可进入
	m.AddTurn(3, 1, 4, 1, 10*clock.Meter)
	_, err := m.FindPath(mapmodel.PathRequest{
		StartLane: 1, EndLane: 4, Mode: entity.LegDrive,
	})
	assert.Error(t, err)
}

func TestNearbyLanesOrderedByDistance(t *testing.T) {
	m := grid()
	lanes := m.NearbyLanes(1, 300*clock.Meter)
	assert.Equal(t, []entity.LaneID{1, 2, 3}, lanes)
	assert.Equal(t, []entity.LaneID{1, 2}, m.NearbyLanes(1, 150*clock.Meter))
}

func TestConflictsAreSymmetric(t *testing.T) {
	m := memmap.New()
	v := clock.SpeedFromMetersPerSecond(10)
	m.AddLane(1, mapmodel.Driving, 100*clock.Meter, v, 1)
	m.AddLane(2, mapmodel.Driving, 100*clock.Meter, v, -1)
	m.AddTurn(1, 1, 2, 1, 10*clock.Meter)
	m.AddTurn(2, 2, 1, 1, 10*clock.Meter, entity.TurnID(1))
	assert.True(t, m.Turn(1).ConflictsWith(2))
	assert.True(t, m.Turn(2).ConflictsWith(1))
}
