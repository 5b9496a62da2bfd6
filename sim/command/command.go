// 调度器的命令分类。每条命令携带一个epoch令牌：派发时与所属实体当前
// epoch不符的命令是陈旧命令，直接跳过不执行。
package command

import "github.com/opencitylab/streetsim/entity"

// Kind 七种命令类型的判别值
type Kind int

const (
	StartTrip Kind = iota
	UpdateVehicle
	UpdatePedestrian
	UpdateIntersection
	BusDwellExpires
	SpotReservationExpires
	AnalyticsCheckpoint
)

func (k Kind) String() string {
	switch k {
	case StartTrip:
		return "StartTrip"
	case UpdateVehicle:
		return "UpdateVehicle"
	case UpdatePedestrian:
		return "UpdatePedestrian"
	case UpdateIntersection:
		return "UpdateIntersection"
	case BusDwellExpires:
		return "BusDwellExpires"
	case SpotReservationExpires:
		return "SpotReservationExpires"
	case AnalyticsCheckpoint:
		return "AnalyticsCheckpoint"
	default:
		return "?"
	}
}

// Command 一条已调度的未来事件。按Kind恰有一个id字段有意义
type Command struct {
	Kind Kind

	Trip         entity.TripID
	Vehicle      entity.VehicleID
	Pedestrian   entity.PedestrianID
	Intersection entity.IntersectionID
	Stop         entity.StopID

	// Epoch 派发时必须与所属实体当前epoch一致，否则命令被丢弃
	Epoch uint64
}
