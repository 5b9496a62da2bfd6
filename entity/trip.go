package entity

import "github.com/opencitylab/streetsim/clock"

// LegKind 出行段类型的标签变体
type LegKind int

const (
	LegWalk LegKind = iota
	LegDrive
	LegBike
	LegRideTransit
)

func (k LegKind) String() string {
	switch k {
	case LegWalk:
		return "Walk"
	case LegDrive:
		return "Drive"
	case LegBike:
		return "Bike"
	case LegRideTransit:
		return "RideTransit"
	default:
		return "?"
	}
}

// TripLeg 出行的一个分段，按顺序消费
type TripLeg struct {
	Kind LegKind

	Vehicle VehicleID // Drive/Bike时有效

	Route      RouteID // RideTransit时有效
	BoardStop  StopID
	AlightStop StopID

	// 起终点为已解析的车道+里程位置；步行段指人行道位置，
	// 驾驶/骑行段指行车道位置
	OriginLane LaneID
	OriginDist clock.Distance
	DestLane   LaneID
	DestDist   clock.Distance
}

// TripStatus 出行的生命周期状态
type TripStatus int

const (
	TripScheduled TripStatus = iota
	TripActive
	TripFinished
	TripCancelled
)

// Trip 一次出行的arena实体
type Trip struct {
	ID     TripID
	Person PersonID

	Legs       []TripLeg
	LegIndex   int
	Status     TripStatus
	Departure  clock.Time
	StartTime  clock.Time // 实际发车时刻，可能晚于Departure
	FinishTime clock.Time

	// LegStart 每段开始时打点，用于核对各段时长之和等于全程时长
	LegStart     clock.Time
	LegDurations []clock.Duration
}

// Mode 返回出行的整体方式标签，取自第一个非步行段（全为步行段时取首段）；
// 被取消的出行返回空串（即null）
func (t *Trip) Mode() string {
	if t.Status == TripCancelled || len(t.Legs) == 0 {
		return ""
	}
	for _, leg := range t.Legs {
		if leg.Kind != LegWalk {
			return leg.Kind.String()
		}
	}
	return t.Legs[0].Kind.String()
}

// Duration 全程时长FinishTime-Departure，被取消时无定义（返回0）
func (t *Trip) Duration() clock.Duration {
	if t.Status == TripCancelled {
		return 0
	}
	return t.FinishTime.Sub(t.Departure)
}

// Person 场景参与者的arena实体
type Person struct {
	ID PersonID

	Trips    []TripID
	NextTrip int // Trips中下一个待启动出行的下标

	OwnedVehicles []VehicleID // 0..N辆汽车，0..1辆自行车
}
