package service

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestFailureLimiter(t *testing.T) {
	t.Run("allows up to the budget", func(t *testing.T) {
		l := NewFailureLimiter(clock.NewMock(), 3)

		assert.True(t, l.RecordFailure("10.0.0.1"))
		assert.True(t, l.RecordFailure("10.0.0.1"))
		assert.True(t, l.RecordFailure("10.0.0.1"))
		assert.False(t, l.RecordFailure("10.0.0.1"))
	})

	t.Run("budget is per ip", func(t *testing.T) {
		l := NewFailureLimiter(clock.NewMock(), 1)

		assert.True(t, l.RecordFailure("10.0.0.1"))
		assert.False(t, l.RecordFailure("10.0.0.1"))
		assert.True(t, l.RecordFailure("10.0.0.2"))
	})

	t.Run("window resets after a minute", func(t *testing.T) {
		clk := clock.NewMock()
		l := NewFailureLimiter(clk, 1)

		assert.True(t, l.RecordFailure("10.0.0.1"))
		assert.False(t, l.RecordFailure("10.0.0.1"))

		clk.Add(61 * time.Second)
		assert.True(t, l.RecordFailure("10.0.0.1"))
	})

	t.Run("stale windows are cleaned up", func(t *testing.T) {
		clk := clock.NewMock()
		l := NewFailureLimiter(clk, 5)
		l.RecordFailure("10.0.0.1")

		clk.Add(6 * time.Minute)
		l.RecordFailure("10.0.0.2")

		assert.Equal(t, 1, l.Len())
	})
}
