// 只读地图接口：仿真核心消费的车道/转弯/路口/公交线路/寻路视图。
// 地图本身如何构建（OSM解析、几何、收缩层级）不在本模块内，这里只声明
// 核心可以查询什么。
package mapmodel

import (
	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
)

// LaneKind 车道类型
type LaneKind int

const (
	Driving LaneKind = iota
	BikeLane
	BusLane
	Sidewalk
	Parking
)

// Lane 车道的静态几何与拓扑
type Lane interface {
	ID() entity.LaneID
	Length() clock.Distance
	Kind() LaneKind
	SpeedLimit() clock.Speed
	// OutgoingTurns 按稳定的插入顺序列出离开本车道的转弯
	OutgoingTurns() []entity.TurnID
	// Intersection 本车道汇入的路口，-1表示车道终止于地图边界或建筑
	Intersection() entity.IntersectionID
}

// Turn 路口处一个转弯动作的静态几何
type Turn interface {
	ID() entity.TurnID
	SourceLane() entity.LaneID
	TargetLane() entity.LaneID
	Intersection() entity.IntersectionID
	Length() clock.Distance
	// ConflictsWith 判断本转弯与other是否几何冲突
	ConflictsWith(other entity.TurnID) bool
}

// IntersectionPolicy 路口的准入策略
type IntersectionPolicy int

const (
	StopSignPolicy IntersectionPolicy = iota
	FixedTimerPolicy
)

// Stage 定时信号灯的一个相位，带时长与受保护/许可的转弯集合
type Stage struct {
	Duration  clock.Duration
	Protected []entity.TurnID
	Permitted []entity.TurnID
}

// Intersection 路口的静态拓扑与宿主可读写的信号配置。
// 准入状态本身（已放行集合、当前相位）由sim/intersection持有，不在这里。
type Intersection interface {
	ID() entity.IntersectionID
	Policy() IntersectionPolicy

	// IncomingRoadRank 停车让行路口中某转弯来路的优先级，
	// 0为最高优先级（免停车等待）
	IncomingRoadRank(t entity.TurnID) int

	// Stages 定时信号灯的循环相位表
	Stages() []Stage
}

// SpotDef 地图提供的一个静态停车位（车道+里程）
type SpotDef struct {
	Lane entity.LaneID
	Dist clock.Distance
}

// StopDef 公交站：Lane/Dist是公交车停靠的行车道位置，
// Sidewalk/SidewalkDist是乘客候车的人行道位置
type StopDef struct {
	ID           entity.StopID
	Lane         entity.LaneID
	Dist         clock.Distance
	Sidewalk     entity.LaneID
	SidewalkDist clock.Distance
}

// RouteDef 一条公交线路：闭合的站点序列，末站之后回到首站
type RouteDef struct {
	ID    entity.RouteID
	Stops []StopDef
}

// Map 仿真核心消费的完整只读地图视图
type Map interface {
	Lane(id entity.LaneID) Lane
	Turn(id entity.TurnID) Turn
	Intersection(id entity.IntersectionID) Intersection

	// Lanes/Turns/Intersections 按稳定id的插入顺序遍历全部实体
	Lanes() []entity.LaneID
	Turns() []entity.TurnID
	Intersections() []entity.IntersectionID

	// EquivalentTurns 与t等价的换道转弯（同一动作、相邻目标车道），
	// 含t自身；离开车道时驾驶组件在其中挑选目标队列占用最少的一个
	EquivalentTurns(t entity.TurnID) []entity.TurnID

	// UberTurnGroups 预先识别好的uber-turn序列，每个内层切片是穿过
	// 短路段路口簇的有序转弯id；分组由地图构建方提供，核心只消费
	UberTurnGroups() [][]entity.TurnID

	// BlackholeRedirect 把已知无法从强连通行车域到达的车道映射到
	// 附近可达车道；lane不是黑洞时ok为false
	BlackholeRedirect(lane entity.LaneID) (target entity.LaneID, dist clock.Distance, ok bool)

	// ParkingSpots 全部静态停车位，按稳定顺序
	ParkingSpots() []SpotDef

	// NearbyLanes 以from为中心、radius为半径范围内的车道，
	// 按距离从近到远排序，含from自身；停车组件的扩环搜索使用
	NearbyLanes(from entity.LaneID, radius clock.Distance) []entity.LaneID

	// Routes 全部公交线路，按稳定顺序
	Routes() []RouteDef

	Pathfinder
}

// PathRequest 一次寻路查询
type PathRequest struct {
	StartLane entity.LaneID
	StartDist clock.Distance
	EndLane   entity.LaneID
	EndDist   clock.Distance
	Mode      entity.LegKind
}

// Path 从起点到终点交替排列的车道与转弯序列，
// Turns[i]连接Lanes[i]与Lanes[i+1]
type Path struct {
	Lanes []entity.LaneID
	Turns []entity.TurnID
}

// Pathfinder 将PathRequest解析为Path，不可达时返回错误
type Pathfinder interface {
	FindPath(req PathRequest) (Path, error)
}
