package sim

import (
	"sort"
	"time"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/sim/command"
	"github.com/opencitylab/streetsim/sim/scheduler"
)

// 派发循环：弹出一条命令、派给组件、同步改状态、回到循环。
// 这是仿真里唯一的"推进"定义。

// StepUntil 确定性推进到目标虚拟时刻：弹出并派发所有不晚于target的命令
func (e *Engine) StepUntil(target clock.Time) {
	for {
		when, err := e.Scheduler.PeekTime()
		if err == scheduler.Empty {
			return
		}
		if when.After(target) {
			return
		}
		cmd, now, err := e.Scheduler.PopNext()
		if err != nil {
			return
		}
		e.dispatch(cmd, now)
	}
}

// StepWallClock 最多推进budget的墙钟毫秒数（UI平滑用），到target为止。
// 墙钟只决定何时歇手，对派发顺序没有任何影响，确定性不受外部节流干扰
func (e *Engine) StepWallClock(target clock.Time, budget time.Duration) {
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		when, err := e.Scheduler.PeekTime()
		if err == scheduler.Empty || when.After(target) {
			return
		}
		cmd, now, err := e.Scheduler.PopNext()
		if err != nil {
			return
		}
		e.dispatch(cmd, now)
	}
}

func (e *Engine) dispatch(cmd command.Command, now clock.Time) {
	switch cmd.Kind {
	case command.StartTrip:
		e.handleStartTrip(cmd, now)
	case command.UpdateVehicle:
		e.handleUpdateVehicle(cmd, now)
	case command.UpdatePedestrian:
		e.handleUpdatePedestrian(cmd, now)
	case command.UpdateIntersection:
		e.handleUpdateIntersection(cmd, now)
	case command.BusDwellExpires:
		e.handleBusDwellExpires(cmd, now)
	case command.SpotReservationExpires:
		e.handleSpotReservationExpires(cmd, now)
	case command.AnalyticsCheckpoint:
		e.handleAnalyticsCheckpoint(cmd, now)
	}
}

// handleUpdateIntersection 相位切换到点则推进相位并预排下一次切换，
// 随后总是重评估被拒的请求（容量释放、等待期满也走这条命令）
func (e *Engine) handleUpdateIntersection(cmd command.Command, now clock.Time) {
	ic := e.Intersections[cmd.Intersection]
	if ic == nil {
		return
	}
	if e.Map.Intersection(cmd.Intersection).Policy() == mapmodel.FixedTimerPolicy &&
		len(ic.Stages()) > 0 && !now.Before(ic.StageEnd()) {
		next := ic.AdvanceStage(now)
		e.scheduleIntersectionUpdate(cmd.Intersection, next)
	}
	e.reevaluateIntersection(ic, now)
}

func (e *Engine) handleAnalyticsCheckpoint(_ command.Command, now clock.Time) {
	e.Analytics.Checkpoint(now)
	if _, err := e.Scheduler.Schedule(command.Command{Kind: command.AnalyticsCheckpoint}, now.Add(checkpointInterval)); err != nil {
		e.Alert.Raise("schedule checkpoint: %v", err)
	}
}

// MapEdit 一次暂停期间的地图编辑所触及的实体集合
type MapEdit struct {
	Lanes         []entity.LaneID
	Turns         []entity.TurnID
	Intersections []entity.IntersectionID
}

// ApplyMapEdit 仅在仿真暂停时调用：逐出行重校验，剩余路径触及被改
// 车道/转弯/路口的在途出行经PathInvalid同一条取消路径放弃。
// 信号相位数的变更走set_signal，不需要取消出行
func (e *Engine) ApplyMapEdit(edit MapEdit) {
	now := e.Now()
	lanes := make(map[entity.LaneID]bool, len(edit.Lanes))
	for _, l := range edit.Lanes {
		lanes[l] = true
	}
	turns := make(map[entity.TurnID]bool, len(edit.Turns))
	for _, t := range edit.Turns {
		turns[t] = true
	}
	// 被改路口的全部转弯一并视作触及
	for _, id := range edit.Intersections {
		for _, t := range e.Map.Turns() {
			if e.Map.Turn(t).Intersection() == id {
				turns[t] = true
			}
		}
	}

	// 按出行id序扫描，保证取消顺序确定
	ids := make([]entity.TripID, 0, len(e.Trips))
	for id := range e.Trips {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		trip := e.Trips[id]
		if trip.Status != entity.TripActive {
			continue
		}
		if e.tripTouches(trip, lanes, turns) {
			e.cancelTrip(trip, now)
		}
	}
}

func (e *Engine) tripTouches(trip *entity.Trip, lanes map[entity.LaneID]bool, turns map[entity.TurnID]bool) bool {
	if trip.LegIndex >= len(trip.Legs) {
		return false
	}
	leg := trip.Legs[trip.LegIndex]
	switch leg.Kind {
	case entity.LegDrive, entity.LegBike:
		if p := e.vehiclePaths[leg.Vehicle]; p != nil {
			return p.remainingTouches(lanes, turns)
		}
	case entity.LegWalk:
		if pedID, ok := e.tripPeds[trip.ID]; ok {
			if p := e.pedPaths[pedID]; p != nil {
				return p.remainingTouches(lanes, turns)
			}
		}
	}
	// 候车/在车上的公交段不占路径，站点失效由发车时的寻路失败兜住
	return false
}
