package entity

import "github.com/opencitylab/streetsim/clock"

// ParkingSpot 停车位，位置静态、占用状态可变
// 一个车位至多被一辆车占用，一辆车至多占用一个车位
type ParkingSpot struct {
	ID   ParkingSpotID
	Lane LaneID
	Dist clock.Distance

	Occupant VehicleID // 空闲时为NoVehicle

	// Reserved 不为NoVehicle时表示某车已预订但尚未到达
	Reserved VehicleID
}

func (s *ParkingSpot) Free() bool {
	return s.Occupant == NoVehicle && s.Reserved == NoVehicle
}
