package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanbrain/internal/geo"
	"scanbrain/internal/model"
)

var levelStart = geo.Coord{Lat: -33.86, Lon: 151.21}

func levelStop(id string, northM float64) model.Pokestop {
	return model.Pokestop{ID: id, Lat: levelStart.Lat + northM/111_111, Lon: levelStart.Lon, Enabled: true}
}

func newLeveling(t *testing.T, f *fixture) *Leveling {
	t.Helper()
	start := levelStart
	return NewLeveling(model.InstanceConfig{
		Name:        "level",
		Kind:        model.KindLeveling,
		Start:       &start,
		LevelTarget: 31,
		DeployEgg:   true,
	}, f.deps())
}

func TestLevelingPicksNearestUnspun(t *testing.T) {
	f := newFixture(t)
	f.cool.location = &levelStart
	l := newLeveling(t, f)
	ctx := context.Background()
	l.GotForts("ash", []model.Pokestop{
		levelStop("too-close", 20),
		levelStop("near", 100),
		levelStop("far", 300),
		levelStop("outside", 5000),
	})

	req := model.TaskRequest{UUID: "dev", Username: "ash"}
	task := l.GetTask(ctx, req)
	require.NotNil(t, task)
	assert.Equal(t, model.ActionSpinPokestop, task.Action)
	assert.True(t, task.DeployEgg)
	assert.Equal(t, levelStop("near", 100).Coord(), task.Coord())

	task = l.GetTask(ctx, req)
	require.NotNil(t, task)
	assert.Equal(t, levelStop("far", 300).Coord(), task.Coord())

	// Only the stop closer than the minimum separation is left.
	task = l.GetTask(ctx, req)
	require.NotNil(t, task)
	assert.Equal(t, levelStart, task.Coord())
}

func TestLevelingSkipsRecentlyVisited(t *testing.T) {
	f := newFixture(t)
	f.cool.location = &levelStart
	l := newLeveling(t, f)
	ctx := context.Background()
	l.GotForts("ash", []model.Pokestop{levelStop("a", 100)})
	req := model.TaskRequest{UUID: "dev", Username: "ash"}
	require.Equal(t, levelStop("a", 100).Coord(), l.GetTask(ctx, req).Coord())

	// Seen again right away: still in the last five visits.
	l.GotForts("ash", []model.Pokestop{levelStop("a", 100)})
	assert.Equal(t, levelStart, l.GetTask(ctx, req).Coord())
}

func TestLevelingRequiresAccountAndStart(t *testing.T) {
	f := newFixture(t)
	l := newLeveling(t, f)
	assert.Nil(t, l.GetTask(context.Background(), model.TaskRequest{UUID: "dev"}))

	bare := NewLeveling(model.InstanceConfig{Name: "bare", Kind: model.KindLeveling}, f.deps())
	assert.Nil(t, bare.GetTask(context.Background(), model.TaskRequest{UUID: "dev", Username: "ash"}))
	assert.Equal(t, "No start coordinate configured", bare.GetStatus(context.Background()))
}

func TestLevelingStatus(t *testing.T) {
	f := newFixture(t)
	l := newLeveling(t, f)
	ctx := context.Background()
	assert.Equal(t, "No active accounts", l.GetStatus(ctx))

	l.GotPlayer("ash", 30, 2_490_000)
	f.clock.Set(epoch.Add(1000 * time.Second))
	l.GotPlayer("ash", 30, 2_491_000)
	assert.Equal(t, "ash: Lvl 30 (99.6%) ETA 02:30", l.GetStatus(ctx))

	f.clock.Set(epoch.Add(3 * time.Hour))
	assert.Equal(t, "No active accounts", l.GetStatus(ctx))
}

func TestLevelingStatusSingleSample(t *testing.T) {
	f := newFixture(t)
	l := newLeveling(t, f)
	l.GotPlayer("misty", 10, 45_000)
	assert.Equal(t, "misty: Lvl 10 (1.8%) ETA --:--", l.GetStatus(context.Background()))
}

func TestXPForLevel(t *testing.T) {
	assert.Equal(t, int64(0), xpForLevel(1))
	assert.Equal(t, int64(1000), xpForLevel(2))
	assert.Equal(t, int64(20_000_000), xpForLevel(40))
	assert.Equal(t, int64(176_000_000), xpForLevel(50))
	assert.Equal(t, int64(176_000_000), xpForLevel(80))
}
