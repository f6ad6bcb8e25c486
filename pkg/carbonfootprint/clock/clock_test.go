package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClockAfterAdvances(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	fired := <-c.After(90 * time.Second)

	assert.Equal(t, start.Add(90*time.Second), fired)
	assert.Equal(t, 90*time.Second, c.Since(start))
}

func TestMockClockSetAndStep(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	c.Set(time.Unix(100, 0))
	c.Step(time.Second)

	assert.Equal(t, time.Unix(101, 0), c.Now())
}
