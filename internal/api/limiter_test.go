package api

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollLimiterPrunesIdleBuckets(t *testing.T) {
	now := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	p := newPollLimiter(1, 1)
	for i := 0; i < 50; i++ {
		assert.True(t, p.allow(fmt.Sprintf("stranger-%d", i), now))
	}
	assert.Equal(t, 50, p.size())

	// A device that keeps polling survives the sweep.
	later := now.Add(bucketIdle / 2)
	assert.True(t, p.allow("steady", later))

	p.allow("steady", now.Add(bucketIdle+time.Second))
	assert.Equal(t, 1, p.size())
}

func TestPollLimiterKeepsStateBetweenSweeps(t *testing.T) {
	now := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	p := newPollLimiter(1, 1)
	assert.True(t, p.allow("dev", now))
	assert.False(t, p.allow("dev", now), "bucket is empty")
	assert.True(t, p.allow("dev", now.Add(time.Second)))
}

func TestDeviceTrackerStartup(t *testing.T) {
	d := newDeviceTracker()
	assert.False(t, d.takeStartup("dev"))
	d.started("dev")
	assert.True(t, d.takeStartup("dev"))
	assert.False(t, d.takeStartup("dev"), "consumed by the first job poll")
}
