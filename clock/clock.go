// 虚拟时间与距离的领域类型，被所有仿真组件共享。
// 两者都是定点整数：时间以毫秒计，距离以毫米计，排序与运算全程不经过
// 浮点比较，保证逐比特可复现。
package clock

import "fmt"

// Time 虚拟时刻，自场景开始以来的毫秒数
// 在一次运行中单调不减，绝不以浮点数形式比较
type Time int64

// Duration 两个Time之差，单位毫秒
type Duration int64

const (
	Millisecond Duration = 1
	Second               = 1000 * Millisecond
	Minute               = 60 * Second
	Hour                 = 60 * Minute
)

// Add 返回t加上d之后的时刻，d可以为负
func (t Time) Add(d Duration) Time {
	return t + Time(d)
}

// Sub 返回t与u之间的时长（t - u）
func (t Time) Sub(u Time) Duration {
	return Duration(t - u)
}

// Before 判断t是否严格早于u
func (t Time) Before(u Time) bool { return t < u }

// After 判断t是否严格晚于u
func (t Time) After(u Time) bool { return t > u }

func (t Time) String() string {
	h, m, s, ms := t.HourMinuteSecond()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// HourMinuteSecond 将t（对24h取模）分解为时分秒毫秒，用于日志输出
func (t Time) HourMinuteSecond() (hour, minute, second, millis int) {
	total := int64(t)
	if total < 0 {
		total = 0
	}
	total %= int64(24 * Hour)
	hour = int(total / int64(Hour))
	total %= int64(Hour)
	minute = int(total / int64(Minute))
	total %= int64(Minute)
	second = int(total / int64(Second))
	millis = int(total % int64(Second))
	return
}

func (d Duration) Seconds() float64 {
	return float64(d) / float64(Second)
}

// Distance 沿车道/转弯中心线的定点长度，单位毫米
type Distance int64

const (
	Millimeter Distance = 1
	Meter               = 1000 * Millimeter
	Kilometer           = 1000 * Meter
)

func (d Distance) Meters() float64 {
	return float64(d) / float64(Meter)
}

// Speed 速度，单位毫米每秒，保证Distance/Duration的运算全程停留在定点整数域
type Speed int64

// SpeedFromMetersPerSecond 从m/s的浮点值构造Speed
// 这是浮点域进入定点域的唯一一处显式转换边界——地图和车辆数据（限速、
// 最高速度）天然以m/s书写，但转换完成后Speed不再参与任何浮点比较或运算
func SpeedFromMetersPerSecond(mps float64) Speed {
	return Speed(mps * float64(Meter))
}

// TravelTime 返回以速度v通过dist所需的自由流时间，即dist/v，
// 向上取整到毫秒，使事件不会被提前一瞬调度
func (v Speed) TravelTime(dist Distance) Duration {
	if v <= 0 || dist <= 0 {
		return Duration(0)
	}
	num := int64(dist) * int64(Second)
	den := int64(v)
	q := num / den
	if num%den != 0 {
		q++
	}
	return Duration(q)
}

// MinSpeed 返回两个速度中较慢的一个，驾驶与步行组件取
// min(车道限速, 车辆最高速度)时使用
func MinSpeed(a, b Speed) Speed {
	if a < b {
		return a
	}
	return b
}

// PositionAt 在(t0,d0)与(t1,d1)之间对t做线性插值，结果截断在[d0,d1]内
// 队列的精确位置重建与行人的元组插值都使用它
func PositionAt(t0, t1 Time, d0, d1 Distance, t Time) Distance {
	if t1 <= t0 {
		return d1
	}
	if t.Before(t0) {
		return d0
	}
	if t.After(t1) {
		return d1
	}
	elapsed := int64(t.Sub(t0))
	span := int64(t1.Sub(t0))
	delta := int64(d1 - d0)
	return d0 + Distance(delta*elapsed/span)
}
