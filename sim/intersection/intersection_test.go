package intersection_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/sim/intersection"
)

type fakeTurn struct {
	id        entity.TurnID
	conflicts map[entity.TurnID]bool
}

func (t fakeTurn) ID() entity.TurnID                   { return t.id }
func (t fakeTurn) SourceLane() entity.LaneID           { return 0 }
func (t fakeTurn) TargetLane() entity.LaneID           { return 0 }
func (t fakeTurn) Intersection() entity.IntersectionID { return 0 }
func (t fakeTurn) Length() clock.Distance              { return 10 * clock.Meter }
func (t fakeTurn) ConflictsWith(other entity.TurnID) bool {
	return t.conflicts[other]
}

type fakeMap struct {
	turns map[entity.TurnID]mapmodel.Turn
}

func (m fakeMap) Lane(entity.LaneID) mapmodel.Lane                         { return nil }
func (m fakeMap) Turn(id entity.TurnID) mapmodel.Turn                      { return m.turns[id] }
func (m fakeMap) Intersection(entity.IntersectionID) mapmodel.Intersection { return nil }
func (m fakeMap) Lanes() []entity.LaneID                                   { return nil }
func (m fakeMap) Turns() []entity.TurnID                                   { return nil }
func (m fakeMap) Intersections() []entity.IntersectionID                   { return nil }
func (m fakeMap) EquivalentTurns(t entity.TurnID) []entity.TurnID          { return []entity.TurnID{t} }
func (m fakeMap) UberTurnGroups() [][]entity.TurnID                        { return nil }
func (m fakeMap) BlackholeRedirect(entity.LaneID) (entity.LaneID, clock.Distance, bool) {
	return 0, 0, false
}
func (m fakeMap) ParkingSpots() []mapmodel.SpotDef { return nil }
func (m fakeMap) NearbyLanes(from entity.LaneID, _ clock.Distance) []entity.LaneID {
	return []entity.LaneID{from}
}
func (m fakeMap) Routes() []mapmodel.RouteDef                          { return nil }
func (m fakeMap) FindPath(mapmodel.PathRequest) (mapmodel.Path, error) { return mapmodel.Path{}, nil }

type fakeStopSign struct{ rank map[entity.TurnID]int }

func (f fakeStopSign) ID() entity.IntersectionID           { return 1 }
func (f fakeStopSign) Policy() mapmodel.IntersectionPolicy { return mapmodel.StopSignPolicy }
func (f fakeStopSign) IncomingRoadRank(t entity.TurnID) int {
	return f.rank[t]
}
func (f fakeStopSign) Stages() []mapmodel.Stage { return nil }

// 四路停车让行，两个冲突请求同时到达：恰好放行一个，另一个推迟到
// 已放行转弯完成之后，放行集合里不得有重叠。
func TestStopSignConflictingRequestsDeferOne(t *testing.T) {
	tA, tB := entity.TurnID(1), entity.TurnID(2)
	m := fakeMap{turns: map[entity.TurnID]mapmodel.Turn{
		tA: fakeTurn{id: tA, conflicts: map[entity.TurnID]bool{tB: true}},
		tB: fakeTurn{id: tB, conflicts: map[entity.TurnID]bool{tA: true}},
	}}
	def := fakeStopSign{rank: map[entity.TurnID]int{tA: 0, tB: 0}}
	c := intersection.New(1, def, m, intersection.Config{})

	now := clock.Time(10 * int64(clock.Second))
	grantedA := c.Request(tA, entity.VehicleID(1), now, true)
	grantedB := c.Request(tB, entity.VehicleID(2), now, true)

	assert.True(t, grantedA != grantedB, "exactly one of the conflicting requests should be granted")

	c.Complete(tA, entity.VehicleID(1), true)
	c.Complete(tB, entity.VehicleID(2), true)
	granted := c.Reevaluate(now, func(entity.TurnID, entity.VehicleID) bool { return true })
	assert.Len(t, granted, 1, "the deferred request should be granted once the conflict clears")
}

func TestStopSignLowPriorityPaysStopDelay(t *testing.T) {
	tA := entity.TurnID(1)
	m := fakeMap{turns: map[entity.TurnID]mapmodel.Turn{
		tA: fakeTurn{id: tA, conflicts: map[entity.TurnID]bool{}},
	}}
	def := fakeStopSign{rank: map[entity.TurnID]int{tA: 1}}
	c := intersection.New(1, def, m, intersection.Config{})

	now := clock.Time(0)
	assert.False(t, c.Request(tA, entity.VehicleID(1), now, true))

	later := now.Add(intersection.DefaultStopDelay)
	granted := c.Reevaluate(later, func(entity.TurnID, entity.VehicleID) bool { return true })
	assert.Len(t, granted, 1)
}

type fakeSignal struct{ stages []mapmodel.Stage }

func (f fakeSignal) ID() entity.IntersectionID           { return 2 }
func (f fakeSignal) Policy() mapmodel.IntersectionPolicy { return mapmodel.FixedTimerPolicy }
func (f fakeSignal) IncomingRoadRank(entity.TurnID) int  { return 0 }
func (f fakeSignal) Stages() []mapmodel.Stage            { return f.stages }

// 双相位定时信号灯，各30s。相位B期间(t=45)的南北向请求被拒，
// 相位A回来(t=60)后被放行。
func TestFixedTimerSignalRefusesOffStageRequest(t *testing.T) {
	ns, ew := entity.TurnID(1), entity.TurnID(2)
	m := fakeMap{turns: map[entity.TurnID]mapmodel.Turn{
		ns: fakeTurn{id: ns, conflicts: map[entity.TurnID]bool{ew: true}},
		ew: fakeTurn{id: ew, conflicts: map[entity.TurnID]bool{ns: true}},
	}}
	def := fakeSignal{stages: []mapmodel.Stage{
		{Duration: 30 * clock.Second, Protected: []entity.TurnID{ns}},
		{Duration: 30 * clock.Second, Protected: []entity.TurnID{ew}},
	}}
	c := intersection.New(2, def, m, intersection.Config{})
	c.AdvanceStage(clock.Time(30 * int64(clock.Second))) // 进入相位B

	granted := c.Request(ns, entity.VehicleID(1), clock.Time(45*int64(clock.Second)), true)
	assert.False(t, granted)

	c.AdvanceStage(clock.Time(60 * int64(clock.Second))) // 相位A回归
	regranted := c.Reevaluate(clock.Time(60*int64(clock.Second)), func(entity.TurnID, entity.VehicleID) bool { return true })
	assert.Len(t, regranted, 1)
	assert.Equal(t, ns, regranted[0].Turn)
}

// set_signal缓冲的新相位表在相位边界生效，不截断当前相位。
func TestSetStagesAppliesAtStageBoundary(t *testing.T) {
	ns := entity.TurnID(1)
	m := fakeMap{turns: map[entity.TurnID]mapmodel.Turn{
		ns: fakeTurn{id: ns, conflicts: map[entity.TurnID]bool{}},
	}}
	def := fakeSignal{stages: []mapmodel.Stage{
		{Duration: 30 * clock.Second, Protected: []entity.TurnID{ns}},
	}}
	c := intersection.New(2, def, m, intersection.Config{})

	newStages := []mapmodel.Stage{
		{Duration: 10 * clock.Second, Protected: []entity.TurnID{ns}},
		{Duration: 20 * clock.Second},
	}
	c.SetStages(newStages)
	assert.Len(t, c.Stages(), 1, "override must not apply mid-stage")

	end := c.AdvanceStage(clock.Time(30 * int64(clock.Second)))
	assert.Len(t, c.Stages(), 2)
	assert.Equal(t, clock.Time(30*int64(clock.Second)).Add(10*clock.Second), end)
}

// uber-turn锁：上游放行后，下游路口上与被锁转弯冲突的请求被拒，
// 持锁车辆退出序列后放行。
func TestUberLockRefusesConflictingDownstreamTurn(t *testing.T) {
	locked, conflicting := entity.TurnID(1), entity.TurnID(2)
	m := fakeMap{turns: map[entity.TurnID]mapmodel.Turn{
		locked:      fakeTurn{id: locked, conflicts: map[entity.TurnID]bool{conflicting: true}},
		conflicting: fakeTurn{id: conflicting, conflicts: map[entity.TurnID]bool{locked: true}},
	}}
	def := fakeStopSign{rank: map[entity.TurnID]int{}}
	c := intersection.New(1, def, m, intersection.Config{})

	holder, other := entity.VehicleID(1), entity.VehicleID(2)
	c.LockTurn(locked, holder)

	now := clock.Time(0)
	assert.False(t, c.Request(conflicting, other, now, true))
	// 持锁车辆自己不受影响
	assert.True(t, c.Request(locked, holder, now, true))

	c.Complete(locked, holder, true)
	granted := c.Reevaluate(now, func(entity.TurnID, entity.VehicleID) bool { return true })
	assert.Len(t, granted, 1)
	assert.Equal(t, other, granted[0].Vehicle)
}

// 行人过街请求与已放行的冲突机动车转弯互斥。
func TestCrosswalkDeferredBehindConflictingTurn(t *testing.T) {
	turn, walk := entity.TurnID(1), entity.TurnID(9)
	m := fakeMap{turns: map[entity.TurnID]mapmodel.Turn{
		turn: fakeTurn{id: turn, conflicts: map[entity.TurnID]bool{walk: true}},
		walk: fakeTurn{id: walk, conflicts: map[entity.TurnID]bool{turn: true}},
	}}
	def := fakeStopSign{rank: map[entity.TurnID]int{}}
	c := intersection.New(1, def, m, intersection.Config{})

	now := clock.Time(0)
	assert.True(t, c.Request(turn, entity.VehicleID(1), now, true))
	assert.False(t, c.RequestCrosswalk(walk, entity.PedestrianID(1), now))

	c.Complete(turn, entity.VehicleID(1), true)
	granted := c.Reevaluate(now, func(entity.TurnID, entity.VehicleID) bool { return true })
	assert.Len(t, granted, 1)
	assert.Equal(t, entity.PedestrianID(1), granted[0].Ped)
}
