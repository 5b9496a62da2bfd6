// 控制/查询面：CLI、HTTP服务或UI可见的仿真外观。
// 包装引擎提供load/step_until/current_time/snapshot/finished_trips
// 以及信号灯读写与暂停期地图编辑的入口。
package control

import (
	"time"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/scenario"
	"github.com/opencitylab/streetsim/sim"
	"github.com/opencitylab/streetsim/sim/simerr"
	"github.com/opencitylab/streetsim/utils/config"
)

// TripResult finished_trips返回的一行：被取消的出行Mode为nil、时长无定义
type TripResult struct {
	Trip       entity.TripID
	Mode       *string
	FinishTime clock.Time
	Duration   clock.Duration
}

// Sim 一次已装载的仿真
type Sim struct {
	eng  *sim.Engine
	m    mapmodel.Map
	sc   scenario.Scenario
	opts config.RuntimeConfig
}

// Load 重置仿真状态：在地图与场景上构建引擎并调度全部StartTrip命令
func Load(m mapmodel.Map, sc scenario.Scenario, opts config.RuntimeConfig) (*Sim, error) {
	eng := sim.New(m, sc, opts)
	if err := eng.Load(); err != nil {
		return nil, err
	}
	return &Sim{eng: eng, m: m, sc: sc, opts: opts}, nil
}

// Engine 暴露底层引擎（测试与诊断用）
func (s *Sim) Engine() *sim.Engine { return s.eng }

// StepUntil 确定性推进到目标虚拟时刻
func (s *Sim) StepUntil(t clock.Time) {
	s.eng.StepUntil(t)
}

// StepWallClock 在墙钟预算内向target推进（UI平滑），不影响确定性
func (s *Sim) StepWallClock(t clock.Time, budget time.Duration) {
	s.eng.StepWallClock(t, budget)
}

// CurrentTime 当前虚拟时间
func (s *Sim) CurrentTime() clock.Time { return s.eng.Now() }

// Snapshot 全量状态序列化，Restore是逆操作
func (s *Sim) Snapshot() ([]byte, error) { return s.eng.Snapshot() }

// Restore 在同一地图/场景/配置上从快照恢复
func (s *Sim) Restore(data []byte) error {
	eng := sim.New(s.m, s.sc, s.opts)
	if err := eng.Restore(data); err != nil {
		return err
	}
	s.eng = eng
	return nil
}

// FinishedTrips 迄今完成的出行（含取消的，Mode为nil）
func (s *Sim) FinishedTrips() []TripResult {
	finished := s.eng.Analytics.FinishedTrips()
	out := make([]TripResult, 0, len(finished))
	for _, f := range finished {
		r := TripResult{Trip: f.Trip, FinishTime: f.FinishTime}
		if !f.Cancelled() {
			mode := f.Mode
			r.Mode = &mode
			r.Duration = f.TravelTime()
		}
		out = append(out, r)
	}
	return out
}

// GetSignal 读取定时信号灯当前生效的相位表
func (s *Sim) GetSignal(id entity.IntersectionID) ([]mapmodel.Stage, error) {
	ic, ok := s.eng.Intersections[id]
	if !ok {
		return nil, simerr.PathInvalid("unknown intersection " + id.String())
	}
	if s.m.Intersection(id).Policy() != mapmodel.FixedTimerPolicy {
		return nil, simerr.PathInvalid(id.String() + " has no fixed-timer signal")
	}
	return ic.Stages(), nil
}

// SetSignal 覆盖定时信号灯的相位表，新表在下一个相位边界生效
func (s *Sim) SetSignal(id entity.IntersectionID, stages []mapmodel.Stage) error {
	ic, ok := s.eng.Intersections[id]
	if !ok {
		return simerr.PathInvalid("unknown intersection " + id.String())
	}
	if s.m.Intersection(id).Policy() != mapmodel.FixedTimerPolicy {
		return simerr.PathInvalid(id.String() + " has no fixed-timer signal")
	}
	ic.SetStages(stages)
	return nil
}

// ApplyMapEdit 仿真暂停时应用地图编辑：逐在途出行重校验剩余路径，
// 触及被改实体的出行被取消，其余不受影响
func (s *Sim) ApplyMapEdit(edit sim.MapEdit) {
	s.eng.ApplyMapEdit(edit)
}
