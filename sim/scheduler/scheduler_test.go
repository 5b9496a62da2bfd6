package scheduler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
	"github.com/opencitylab/streetsim/sim/command"
	"github.com/opencitylab/streetsim/sim/scheduler"
	"github.com/opencitylab/streetsim/sim/simerr"
)

func TestPopOrdersByTimeThenOrdinal(t *testing.T) {
	s := scheduler.New()

	_, err := s.Schedule(command.Command{Kind: command.StartTrip, Trip: 1}, clock.Time(10))
	assert.NoError(t, err)
	_, err = s.Schedule(command.Command{Kind: command.StartTrip, Trip: 2}, clock.Time(5))
	assert.NoError(t, err)
	_, err = s.Schedule(command.Command{Kind: command.StartTrip, Trip: 3}, clock.Time(5))
	assert.NoError(t, err)

	cmd, when, err := s.PopNext()
	assert.NoError(t, err)
	assert.Equal(t, clock.Time(5), when)
	assert.Equal(t, entity.TripID(2), cmd.Trip)

	cmd, when, err = s.PopNext()
	assert.NoError(t, err)
	assert.Equal(t, clock.Time(5), when)
	assert.Equal(t, entity.TripID(3), cmd.Trip)

	cmd, when, err = s.PopNext()
	assert.NoError(t, err)
	assert.Equal(t, clock.Time(10), when)
	assert.Equal(t, entity.TripID(1), cmd.Trip)
}

func TestPastEventRejected(t *testing.T) {
	s := scheduler.New()
	_, err := s.Schedule(command.Command{Kind: command.StartTrip}, clock.Time(10))
	assert.NoError(t, err)
	_, _, err = s.PopNext()
	assert.NoError(t, err)

	_, err = s.Schedule(command.Command{Kind: command.StartTrip}, clock.Time(5))
	assert.True(t, simerr.IsKind(err, simerr.KindPastEvent))
}

func TestCancelIsSkippedOnPop(t *testing.T) {
	s := scheduler.New()
	h1, _ := s.Schedule(command.Command{Kind: command.StartTrip, Trip: 1}, clock.Time(1))
	_, _ = s.Schedule(command.Command{Kind: command.StartTrip, Trip: 2}, clock.Time(2))
	s.Cancel(h1)

	cmd, when, err := s.PopNext()
	assert.NoError(t, err)
	assert.Equal(t, clock.Time(2), when)
	assert.Equal(t, entity.TripID(2), cmd.Trip)

	_, _, err = s.PopNext()
	assert.Equal(t, scheduler.Empty, err)
}

func TestPeekTimeDoesNotAdvance(t *testing.T) {
	s := scheduler.New()
	_, _ = s.Schedule(command.Command{Kind: command.StartTrip}, clock.Time(7))
	when, err := s.PeekTime()
	assert.NoError(t, err)
	assert.Equal(t, clock.Time(7), when)
	assert.Equal(t, clock.Time(0), s.Now())
}
