// 只读出行需求接口："谁在什么时候去哪"的场景数据由外部合成，
// 这里只声明核心读取的形状。
package scenario

import (
	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
)

// TripRecord 场景为一个人编排的一次出行
type TripRecord struct {
	Mode        entity.LegKind
	OriginLane  entity.LaneID
	OriginDist  clock.Distance
	DestLane    entity.LaneID
	DestDist    clock.Distance
	Departure   clock.Time
	VehicleKind entity.VehicleKind

	// 公交出行的线路与上下车站
	Route      entity.RouteID
	BoardStop  entity.StopID
	AlightStop entity.StopID
}

// PersonRecord 一个场景参与者及其按时间排序的出行
type PersonRecord struct {
	ID    entity.PersonID
	Trips []TripRecord
}

// Scenario 核心消费的完整只读需求视图
type Scenario interface {
	Persons() []PersonRecord
}

// Static 切片即场景：外部需求合成器产出的记录可以原样喂给引擎，
// 演示与测试世界也用它
type Static []PersonRecord

func (s Static) Persons() []PersonRecord { return s }
