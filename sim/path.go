package sim

import (
	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
	"github.com/opencitylab/streetsim/sim/simerr"
)

// arrivalKind 驾驶路径走完后的收尾动作
type arrivalKind int

const (
	arrivePark     arrivalKind = iota // 找车位并入库
	arriveBorder                      // 驶出地图边界，车辆消失
	arriveStop                        // 公交车进站停靠
	arriveDismount                    // 自行车到达，下车变回行人
)

// vehiclePath 一次驾驶/骑行段已解析的路线：车道与转弯交替排列，
// Idx指向车辆当前（或即将）占据的车道。字段导出以便进入快照
type vehiclePath struct {
	Lanes []entity.LaneID
	Turns []entity.TurnID
	Idx   int

	DestDist clock.Distance // 末段车道上的目标里程
	Arrival  arrivalKind
	Stop     entity.StopID // Arrival==arriveStop时有效
}

func (p *vehiclePath) currentLane() (entity.LaneID, bool) {
	if p.Idx >= len(p.Lanes) {
		return 0, false
	}
	return p.Lanes[p.Idx], true
}

func (p *vehiclePath) currentTurn() (entity.TurnID, bool) {
	if p.Idx >= len(p.Turns) {
		return 0, false
	}
	return p.Turns[p.Idx], true
}

func (p *vehiclePath) lastLane() bool {
	return p.Idx == len(p.Lanes)-1
}

func (p *vehiclePath) advance() {
	p.Idx++
}

// remainingTouches 判断路径尚未走过的部分是否触及给定的车道/转弯集合，
// 地图编辑后的逐出行重校验使用
func (p *vehiclePath) remainingTouches(lanes map[entity.LaneID]bool, turns map[entity.TurnID]bool) bool {
	for i := p.Idx; i < len(p.Lanes); i++ {
		if lanes[p.Lanes[i]] {
			return true
		}
	}
	for i := p.Idx; i < len(p.Turns); i++ {
		if turns[p.Turns[i]] {
			return true
		}
	}
	return false
}

// pedPath 步行段的等价物：一次步行可能跨越多条人行道与人行横道，
// 每一跳是一个步行元组，走到段末后推进到下一条
type pedPath struct {
	Lanes []entity.LaneID
	Turns []entity.TurnID
	Idx   int

	StartDist clock.Distance // 首段车道上的起点里程
	DestDist  clock.Distance // 末段车道上的终点里程
}

func (p *pedPath) currentLane() (entity.LaneID, bool) {
	if p.Idx >= len(p.Lanes) {
		return 0, false
	}
	return p.Lanes[p.Idx], true
}

func (p *pedPath) currentTurn() (entity.TurnID, bool) {
	if p.Idx >= len(p.Turns) {
		return 0, false
	}
	return p.Turns[p.Idx], true
}

func (p *pedPath) lastLane() bool {
	return p.Idx == len(p.Lanes)-1
}

func (p *pedPath) advance() {
	p.Idx++
}

func (p *pedPath) remainingTouches(lanes map[entity.LaneID]bool, turns map[entity.TurnID]bool) bool {
	for i := p.Idx; i < len(p.Lanes); i++ {
		if lanes[p.Lanes[i]] {
			return true
		}
	}
	for i := p.Idx; i < len(p.Turns); i++ {
		if turns[p.Turns[i]] {
			return true
		}
	}
	return false
}

// resolvePath 向地图请求路线，并把不可达统一转换为PathInvalid——
// 出行段无法开始或继续时上报的统一失败
func (e *Engine) resolvePath(req mapmodel.PathRequest) (mapmodel.Path, error) {
	path, err := e.Map.FindPath(req)
	if err != nil {
		return mapmodel.Path{}, simerr.PathInvalid(err.Error())
	}
	if len(path.Lanes) == 0 {
		return mapmodel.Path{}, simerr.PathInvalid("empty path")
	}
	return path, nil
}

// validateVehiclePath 在路径校验阶段拒绝对路径上任何一段都过长的车辆，
// 运行时的滞后车头簿记只建模每段一个车头，容不下横跨三段的长车
func (e *Engine) validateVehiclePath(v *entity.Vehicle, path mapmodel.Path) error {
	for _, laneID := range path.Lanes {
		if v.Length+laneGap > e.Map.Lane(laneID).Length() {
			return simerr.PathInvalid("vehicle too long for " + laneID.String())
		}
	}
	for _, turnID := range path.Turns {
		if v.Length+laneGap > e.Map.Turn(turnID).Length() {
			return simerr.PathInvalid("vehicle too long for " + turnID.String())
		}
	}
	return nil
}
