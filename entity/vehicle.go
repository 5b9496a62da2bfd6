package entity

import "github.com/opencitylab/streetsim/clock"

// VehicleKind 车辆种类的标签变体（汽车/自行车/公交车），
// 统一操作按变体分派，不使用类型层级
type VehicleKind int

const (
	Car VehicleKind = iota
	Bike
	Bus
)

func (k VehicleKind) String() string {
	switch k {
	case Car:
		return "car"
	case Bike:
		return "bike"
	case Bus:
		return "bus"
	default:
		return "unknown"
	}
}

// DrivingState 车辆状态机
type DrivingState int

const (
	StateUnparking DrivingState = iota
	StateCrossingLane
	StateQueued
	StateWaitingToAdvance
	StateCrossingTurn
	StateParking
	StateIdling
	StateVanishing
)

func (s DrivingState) String() string {
	switch s {
	case StateUnparking:
		return "Unparking"
	case StateCrossingLane:
		return "Crossing(lane)"
	case StateQueued:
		return "Queued"
	case StateWaitingToAdvance:
		return "WaitingToAdvance"
	case StateCrossingTurn:
		return "Crossing(turn)"
	case StateParking:
		return "Parking"
	case StateIdling:
		return "Idling"
	case StateVanishing:
		return "Vanishing"
	default:
		return "?"
	}
}

// CrossingInterval 车辆穿越一段traversable时占据的(t0,t1,d0,d1)元组，
// 精确位置按需从中惰性推导
type CrossingInterval struct {
	T0, T1 clock.Time
	D0, D1 clock.Distance
}

// Vehicle 汽车/自行车/公交车的arena实体
type Vehicle struct {
	ID       VehicleID
	Kind     VehicleKind
	Length   clock.Distance
	MaxSpeed clock.Speed

	Owner PersonID // 驾驶人；公交车为线路运营方哨兵
	Trip  TripID

	State DrivingState

	Lane     LaneID // 当前所在车道（在转弯上时仍为刚离开的来源车道）
	Turn     TurnID // 当前转弯，仅StateCrossingTurn时有效
	OnTurn   bool
	Interval CrossingInterval

	// 滞后车尾：车体已离开上一段traversable但车尾仍突出其中，
	// 直到LaggyUntil清除前该段的有效容量被压缩
	HasLaggyTail bool
	LaggyOnTurn  bool
	LaggyLane    LaneID
	LaggyTurn    TurnID
	LaggyUntil   clock.Time

	// PendingSpot 已预订、正在驶向的停车位
	PendingSpot ParkingSpotID

	Epoch uint64 // 该车待决命令被作废时递增

	Passengers []PersonID // 公交车承载的乘客

	Spot ParkingSpotID
}

// Pedestrian 人行道上行人的arena实体
type Pedestrian struct {
	ID    PedestrianID
	Owner PersonID
	Trip  TripID

	Lane   LaneID
	OnTurn bool   // 正在过人行横道
	Turn   TurnID // OnTurn时有效

	// 步行元组：位置由(StartTime, StartDist, EndDist, Speed)线性插值得出
	StartTime clock.Time
	StartDist clock.Distance
	EndDist   clock.Distance
	Speed     clock.Speed

	WaitingForBus bool
	WaitRoute     RouteID
	WaitStop      StopID

	Epoch uint64
}

// PositionNow 返回行人t时刻沿Lane的精确位置，向EndDist方向线性推进
func (p *Pedestrian) PositionNow(t clock.Time) clock.Distance {
	if p.Speed <= 0 {
		return p.StartDist
	}
	elapsed := t.Sub(p.StartTime)
	if elapsed <= 0 {
		return p.StartDist
	}
	travelled := clock.Distance(int64(p.Speed) * int64(elapsed) / int64(clock.Second))
	if p.EndDist >= p.StartDist {
		d := p.StartDist + travelled
		if d > p.EndDist {
			return p.EndDist
		}
		return d
	}
	d := p.StartDist - travelled
	if d < p.EndDist {
		return p.EndDist
	}
	return d
}
