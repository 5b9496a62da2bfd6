// 仿真实体包：所有实体以整数索引的arena方式组织，
// Person、Trip、Vehicle、Pedestrian、ParkingSpot之间的交叉引用一律是
// 带类型的整数id，在使用处经管理器解析，从不保存活指针，避免组件间的
// 循环所有权。
package entity

import "fmt"

type PersonID int32
type TripID int32
type VehicleID int32
type PedestrianID int32
type ParkingSpotID int32
type LaneID int32
type TurnID int32
type IntersectionID int32
type RouteID int32
type StopID int32

func (id PersonID) String() string       { return fmt.Sprintf("Person#%d", int32(id)) }
func (id TripID) String() string         { return fmt.Sprintf("Trip#%d", int32(id)) }
func (id VehicleID) String() string      { return fmt.Sprintf("Vehicle#%d", int32(id)) }
func (id PedestrianID) String() string   { return fmt.Sprintf("Pedestrian#%d", int32(id)) }
func (id ParkingSpotID) String() string  { return fmt.Sprintf("ParkingSpot#%d", int32(id)) }
func (id LaneID) String() string         { return fmt.Sprintf("Lane#%d", int32(id)) }
func (id TurnID) String() string         { return fmt.Sprintf("Turn#%d", int32(id)) }
func (id IntersectionID) String() string { return fmt.Sprintf("Intersection#%d", int32(id)) }

// -1 表示"无实体"的哨兵值
const (
	NoVehicle    VehicleID     = -1
	NoPedestrian PedestrianID  = -1
	NoSpot       ParkingSpotID = -1
	NoLane       LaneID        = -1
	NoTurn       TurnID        = -1
)
