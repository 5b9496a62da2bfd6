package clock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencitylab/streetsim/clock"
)

func TestTravelTimeRoundsUp(t *testing.T) {
	v := clock.SpeedFromMetersPerSecond(10)
	assert.Equal(t, 10*clock.Second, v.TravelTime(100*clock.Meter))
	// 1mm @ 10m/s 不足1ms，向上取整，事件绝不提前
	assert.Equal(t, clock.Duration(1), v.TravelTime(1*clock.Millimeter))
	assert.Equal(t, clock.Duration(0), v.TravelTime(0))
	assert.Equal(t, clock.Duration(0), clock.Speed(0).TravelTime(100*clock.Meter))
}

func TestPositionAtInterpolatesAndClamps(t *testing.T) {
	t0, t1 := clock.Time(0), clock.Time(10*int64(clock.Second))
	d0, d1 := clock.Distance(0), 100*clock.Meter
	assert.Equal(t, 50*clock.Meter, clock.PositionAt(t0, t1, d0, d1, clock.Time(5*int64(clock.Second))))
	assert.Equal(t, d0, clock.PositionAt(t0, t1, d0, d1, clock.Time(-1)))
	assert.Equal(t, d1, clock.PositionAt(t0, t1, d0, d1, clock.Time(11*int64(clock.Second))))
	// 退化区间（t1<=t0）直接取终点
	assert.Equal(t, d1, clock.PositionAt(t1, t0, d0, d1, t0))
}

func TestTimeFormatting(t *testing.T) {
	at := clock.Time(int64(1*clock.Hour + 2*clock.Minute + 3*clock.Second + 45))
	assert.Equal(t, "01:02:03.045", at.String())
}

func TestMinSpeed(t *testing.T) {
	a := clock.SpeedFromMetersPerSecond(5)
	b := clock.SpeedFromMetersPerSecond(10)
	assert.Equal(t, a, clock.MinSpeed(a, b))
	assert.Equal(t, a, clock.MinSpeed(b, a))
}
