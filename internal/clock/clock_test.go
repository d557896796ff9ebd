package clock

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemClockUsesLocation(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	now := NewSystem(jakarta).Now()
	assert.Equal(t, jakarta, now.Location())
	assert.WithinDuration(t, time.Now(), now, time.Second)
	assert.Zero(t, now.Nanosecond()%int(time.Microsecond))
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())
	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), c.Now())
	c.Set(start)
	assert.Equal(t, start, c.Now())
}
