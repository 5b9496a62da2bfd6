// 内存地图：mapmodel接口的静态实现，由宿主以构建器调用逐条喂入
// 车道/转弯/路口/线路。寻路用按模式过滤的BFS。外部地图构建管线
// （OSM解析、几何）产出的就是这样一份静态视图；测试与演示世界
// 也用它搭建。
package memmap

import (
	"fmt"
	"sort"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/mapmodel"
)

// Lane 静态车道记录
type Lane struct {
	IDv      entity.LaneID
	Lengthv  clock.Distance
	Kindv    mapmodel.LaneKind
	Limit    clock.Speed
	Outgoing []entity.TurnID
	EndsAt   entity.IntersectionID // -1表示边界/建筑
}

func (l *Lane) ID() entity.LaneID                   { return l.IDv }
func (l *Lane) Length() clock.Distance              { return l.Lengthv }
func (l *Lane) Kind() mapmodel.LaneKind             { return l.Kindv }
func (l *Lane) SpeedLimit() clock.Speed             { return l.Limit }
func (l *Lane) OutgoingTurns() []entity.TurnID      { return l.Outgoing }
func (l *Lane) Intersection() entity.IntersectionID { return l.EndsAt }

// Turn 静态转弯记录
type Turn struct {
	IDv       entity.TurnID
	Src, Dst  entity.LaneID
	At        entity.IntersectionID
	Lengthv   clock.Distance
	Conflicts map[entity.TurnID]bool
}

func (t *Turn) ID() entity.TurnID                   { return t.IDv }
func (t *Turn) SourceLane() entity.LaneID           { return t.Src }
func (t *Turn) TargetLane() entity.LaneID           { return t.Dst }
func (t *Turn) Intersection() entity.IntersectionID { return t.At }
func (t *Turn) Length() clock.Distance              { return t.Lengthv }
func (t *Turn) ConflictsWith(other entity.TurnID) bool {
	return t.Conflicts[other]
}

// Intersection 静态路口记录
type Intersection struct {
	IDv    entity.IntersectionID
	Pol    mapmodel.IntersectionPolicy
	Ranks  map[entity.TurnID]int
	Phases []mapmodel.Stage
}

func (i *Intersection) ID() entity.IntersectionID            { return i.IDv }
func (i *Intersection) Policy() mapmodel.IntersectionPolicy  { return i.Pol }
func (i *Intersection) IncomingRoadRank(t entity.TurnID) int { return i.Ranks[t] }
func (i *Intersection) Stages() []mapmodel.Stage             { return i.Phases }

// Map 静态内存地图
type Map struct {
	lanes         map[entity.LaneID]*Lane
	turns         map[entity.TurnID]*Turn
	intersections map[entity.IntersectionID]*Intersection

	laneOrder []entity.LaneID
	turnOrder []entity.TurnID
	icOrder   []entity.IntersectionID

	equivalents map[entity.TurnID][]entity.TurnID
	uberGroups  [][]entity.TurnID
	blackholes  map[entity.LaneID]struct {
		lane entity.LaneID
		dist clock.Distance
	}
	spots  []mapmodel.SpotDef
	routes []mapmodel.RouteDef
}

func New() *Map {
	return &Map{
		lanes:         make(map[entity.LaneID]*Lane),
		turns:         make(map[entity.TurnID]*Turn),
		intersections: make(map[entity.IntersectionID]*Intersection),
		equivalents:   make(map[entity.TurnID][]entity.TurnID),
		blackholes: make(map[entity.LaneID]struct {
			lane entity.LaneID
			dist clock.Distance
		}),
	}
}

// AddLane 登记一条车道；endsAt为-1表示车道终止于边界/建筑
func (m *Map) AddLane(id entity.LaneID, kind mapmodel.LaneKind, length clock.Distance, limit clock.Speed, endsAt entity.IntersectionID) {
	m.lanes[id] = &Lane{IDv: id, Kindv: kind, Lengthv: length, Limit: limit, EndsAt: endsAt}
	m.laneOrder = append(m.laneOrder, id)
}

// AddTurn 登记一个转弯并挂到源车道的出弯表上
func (m *Map) AddTurn(id entity.TurnID, src, dst entity.LaneID, at entity.IntersectionID, length clock.Distance, conflicts ...entity.TurnID) {
	t := &Turn{IDv: id, Src: src, Dst: dst, At: at, Lengthv: length, Conflicts: make(map[entity.TurnID]bool)}
	for _, c := range conflicts {
		t.Conflicts[c] = true
		if other, ok := m.turns[c]; ok {
			other.Conflicts[id] = true
		}
	}
	m.turns[id] = t
	m.turnOrder = append(m.turnOrder, id)
	if lane, ok := m.lanes[src]; ok {
		lane.Outgoing = append(lane.Outgoing, id)
	}
}

// AddStopSign 登记一个停车让行路口，ranks给出每个转弯来路的优先级
func (m *Map) AddStopSign(id entity.IntersectionID, ranks map[entity.TurnID]int) {
	if ranks == nil {
		ranks = make(map[entity.TurnID]int)
	}
	m.intersections[id] = &Intersection{IDv: id, Pol: mapmodel.StopSignPolicy, Ranks: ranks}
	m.icOrder = append(m.icOrder, id)
}

// AddSignal 登记一个定时信号灯路口
func (m *Map) AddSignal(id entity.IntersectionID, stages []mapmodel.Stage) {
	m.intersections[id] = &Intersection{IDv: id, Pol: mapmodel.FixedTimerPolicy, Phases: stages, Ranks: make(map[entity.TurnID]int)}
	m.icOrder = append(m.icOrder, id)
}

// SetEquivalent 声明一组换道等价的转弯
func (m *Map) SetEquivalent(group ...entity.TurnID) {
	for _, t := range group {
		m.equivalents[t] = group
	}
}

// AddUberGroup 声明一个uber-turn序列
func (m *Map) AddUberGroup(group ...entity.TurnID) {
	m.uberGroups = append(m.uberGroups, group)
}

// AddBlackhole 声明lane为黑洞并给出重定向目标
func (m *Map) AddBlackhole(lane, target entity.LaneID, dist clock.Distance) {
	m.blackholes[lane] = struct {
		lane entity.LaneID
		dist clock.Distance
	}{target, dist}
}

// AddSpot 登记一个停车位
func (m *Map) AddSpot(lane entity.LaneID, dist clock.Distance) {
	m.spots = append(m.spots, mapmodel.SpotDef{Lane: lane, Dist: dist})
}

// AddRoute 登记一条公交线路
func (m *Map) AddRoute(id entity.RouteID, stops ...mapmodel.StopDef) {
	m.routes = append(m.routes, mapmodel.RouteDef{ID: id, Stops: stops})
}

func (m *Map) Lane(id entity.LaneID) mapmodel.Lane { return m.lanes[id] }
func (m *Map) Turn(id entity.TurnID) mapmodel.Turn { return m.turns[id] }
func (m *Map) Intersection(id entity.IntersectionID) mapmodel.Intersection {
	return m.intersections[id]
}

func (m *Map) Lanes() []entity.LaneID                 { return m.laneOrder }
func (m *Map) Turns() []entity.TurnID                 { return m.turnOrder }
func (m *Map) Intersections() []entity.IntersectionID { return m.icOrder }

func (m *Map) EquivalentTurns(t entity.TurnID) []entity.TurnID {
	if group, ok := m.equivalents[t]; ok {
		return group
	}
	return []entity.TurnID{t}
}

func (m *Map) UberTurnGroups() [][]entity.TurnID { return m.uberGroups }

func (m *Map) BlackholeRedirect(lane entity.LaneID) (entity.LaneID, clock.Distance, bool) {
	if r, ok := m.blackholes[lane]; ok {
		return r.lane, r.dist, true
	}
	return 0, 0, false
}

func (m *Map) ParkingSpots() []mapmodel.SpotDef { return m.spots }
func (m *Map) Routes() []mapmodel.RouteDef      { return m.routes }

// NearbyLanes 从from出发按沿路距离做BFS，返回radius内的车道，
// 近的在前，同距离按id序
func (m *Map) NearbyLanes(from entity.LaneID, radius clock.Distance) []entity.LaneID {
	type cand struct {
		lane entity.LaneID
		dist clock.Distance
	}
	dist := map[entity.LaneID]clock.Distance{from: 0}
	frontier := []entity.LaneID{from}
	for len(frontier) > 0 {
		var next []entity.LaneID
		for _, cur := range frontier {
			lane := m.lanes[cur]
			if lane == nil {
				continue
			}
			for _, tid := range lane.Outgoing {
				t := m.turns[tid]
				d := dist[cur] + lane.Lengthv + t.Lengthv
				if d > radius {
					continue
				}
				if old, seen := dist[t.Dst]; !seen || d < old {
					dist[t.Dst] = d
					next = append(next, t.Dst)
				}
			}
		}
		frontier = next
	}
	out := make([]cand, 0, len(dist))
	for lane, d := range dist {
		out = append(out, cand{lane, d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].lane < out[j].lane
	})
	lanes := make([]entity.LaneID, len(out))
	for i, c := range out {
		lanes[i] = c.lane
	}
	return lanes
}

func laneAllowed(kind mapmodel.LaneKind, mode entity.LegKind) bool {
	switch mode {
	case entity.LegWalk:
		// 人行道网络与道路并行，路侧位置（车位、站台）也可步行抵达
		return true
	case entity.LegBike:
		return kind == mapmodel.Driving || kind == mapmodel.BikeLane
	default:
		return kind == mapmodel.Driving || kind == mapmodel.BusLane
	}
}

// FindPath 按模式过滤的BFS寻路，返回车道与转弯交替的路径
func (m *Map) FindPath(req mapmodel.PathRequest) (mapmodel.Path, error) {
	start := m.lanes[req.StartLane]
	end := m.lanes[req.EndLane]
	if start == nil || end == nil {
		return mapmodel.Path{}, fmt.Errorf("unreachable: unknown lane")
	}
	if req.StartLane == req.EndLane {
		return mapmodel.Path{Lanes: []entity.LaneID{req.StartLane}}, nil
	}
	prev := make(map[entity.LaneID]entity.TurnID)
	visited := map[entity.LaneID]bool{req.StartLane: true}
	frontier := []entity.LaneID{req.StartLane}
	for len(frontier) > 0 && !visited[req.EndLane] {
		var next []entity.LaneID
		for _, cur := range frontier {
			for _, tid := range m.lanes[cur].Outgoing {
				t := m.turns[tid]
				dst := m.lanes[t.Dst]
				if dst == nil || visited[t.Dst] || !laneAllowed(dst.Kindv, req.Mode) {
					continue
				}
				visited[t.Dst] = true
				prev[t.Dst] = tid
				next = append(next, t.Dst)
			}
		}
		frontier = next
	}
	if !visited[req.EndLane] {
		return mapmodel.Path{}, fmt.Errorf("unreachable: no path %v -> %v", req.StartLane, req.EndLane)
	}
	var lanes []entity.LaneID
	var turns []entity.TurnID
	for cur := req.EndLane; ; {
		lanes = append([]entity.LaneID{cur}, lanes...)
		if cur == req.StartLane {
			break
		}
		tid := prev[cur]
		turns = append([]entity.TurnID{tid}, turns...)
		cur = m.turns[tid].Src
	}
	return mapmodel.Path{Lanes: lanes, Turns: turns}, nil
}
