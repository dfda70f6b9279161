package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueDispatch(t *testing.T) {
	t.Run("Posted items run on the next dispatch", func(t *testing.T) {
		assert := require.New(t)

		clock := &ManualClock{}
		q := NewQueue(clock)

		var ran []int
		q.Post(func() { ran = append(ran, 1) })
		q.Post(func() { ran = append(ran, 2) })

		assert.Equal(2, q.Dispatch())
		assert.Equal([]int{1, 2}, ran)
	})

	t.Run("Deferred items wait for the clock", func(t *testing.T) {
		assert := require.New(t)

		clock := &ManualClock{}
		q := NewQueue(clock)

		var ran bool
		q.PostIn(time.Second, func() { ran = true })

		assert.Equal(0, q.Dispatch())
		assert.False(ran)

		clock.Advance(999 * time.Millisecond)
		assert.Equal(0, q.Dispatch())

		clock.Advance(time.Millisecond)
		assert.Equal(1, q.Dispatch())
		assert.True(ran)
	})

	t.Run("Items posted while dispatching run on the next cycle", func(t *testing.T) {
		assert := require.New(t)

		clock := &ManualClock{}
		q := NewQueue(clock)

		var ran bool
		q.Post(func() {
			q.Post(func() { ran = true })
		})

		assert.Equal(1, q.Dispatch())
		assert.False(ran)
		assert.Equal(1, q.Dispatch())
		assert.True(ran)
	})

	t.Run("Due items run in due-time order", func(t *testing.T) {
		assert := require.New(t)

		clock := &ManualClock{}
		q := NewQueue(clock)

		var ran []int
		q.PostIn(2*time.Second, func() { ran = append(ran, 2) })
		q.PostIn(time.Second, func() { ran = append(ran, 1) })
		q.PostIn(3*time.Second, func() { ran = append(ran, 3) })

		clock.Advance(3 * time.Second)
		assert.Equal(3, q.Dispatch())
		assert.Equal([]int{1, 2, 3}, ran)
	})
}

func TestTimer(t *testing.T) {
	t.Run("Start and expiry", func(t *testing.T) {
		assert := require.New(t)

		clock := &ManualClock{}
		q := NewQueue(clock)

		var fired int
		timer := q.NewTimer(func() { fired++ })
		timer.Start(time.Second)

		left, armed := timer.TimeLeft()
		assert.True(armed)
		assert.Equal(time.Second, left)

		clock.Advance(time.Second)
		q.Dispatch()
		assert.Equal(1, fired)

		_, armed = timer.TimeLeft()
		assert.False(armed)
	})

	t.Run("Stop disarms a pending expiry", func(t *testing.T) {
		assert := require.New(t)

		clock := &ManualClock{}
		q := NewQueue(clock)

		var fired int
		timer := q.NewTimer(func() { fired++ })
		timer.Start(time.Second)
		timer.Stop()

		clock.Advance(2 * time.Second)
		q.Dispatch()
		assert.Equal(0, fired)
	})

	t.Run("Restart replaces the previous deadline", func(t *testing.T) {
		assert := require.New(t)

		clock := &ManualClock{}
		q := NewQueue(clock)

		var fired int
		timer := q.NewTimer(func() { fired++ })
		timer.Start(time.Second)
		timer.Start(5 * time.Second)

		clock.Advance(time.Second)
		q.Dispatch()
		assert.Equal(0, fired)

		clock.Advance(4 * time.Second)
		q.Dispatch()
		assert.Equal(1, fired)
	})

	t.Run("Periodic re-arm from the expiry handler", func(t *testing.T) {
		assert := require.New(t)

		clock := &ManualClock{}
		q := NewQueue(clock)

		var fired int
		var timer *Timer
		timer = q.NewTimer(func() {
			fired++
			timer.Start(time.Second)
		})
		timer.Start(time.Second)

		for i := 0; i < 5; i++ {
			clock.Advance(time.Second)
			for q.Dispatch() > 0 {
			}
		}
		assert.Equal(5, fired)
	})
}
