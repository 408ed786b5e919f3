package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanbrain/internal/clock"
	"scanbrain/internal/geo"
	"scanbrain/internal/model"
	"scanbrain/internal/store"
)

func TestDurationTable(t *testing.T) {
	cases := []struct {
		meters float64
		want   time.Duration
	}{
		{0, 0},
		{500, time.Minute},
		{1000, time.Minute},
		{4000, 2 * time.Minute},
		{26000, 14 * time.Minute},
		{90000, 35 * time.Minute},
		{5_000_000, 120 * time.Minute},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Duration(c.meters), "distance %v", c.meters)
	}
}

func TestComputeCooldownWithoutHistory(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	tr := New(store.NewMemory(), clk, nil)
	delay, ts, err := tr.ComputeCooldown(context.Background(), nil, "dev", geo.Coord{Lat: 1, Lon: 1})
	require.NoError(t, err)
	assert.Zero(t, delay)
	assert.Equal(t, int64(1000), ts)
}

func TestComputeCooldownSubtractsElapsed(t *testing.T) {
	clk := clock.Fake(time.Unix(10_000, 0))
	mem := store.NewMemory()
	mem.UpsertAccounts(model.Account{Username: "u"})
	tr := New(mem, clk, nil)
	ctx := context.Background()

	acct := &model.Account{Username: "u"}
	origin := geo.Coord{Lat: 40, Lon: -74}
	require.NoError(t, tr.RecordEncounter(ctx, acct, "dev", origin, clk.Now().Unix()))

	// About 2.2 km away: two minute cooldown.
	dest := geo.Coord{Lat: 40.02, Lon: -74}
	clk.Advance(30 * time.Second)
	delay, ts, err := tr.ComputeCooldown(ctx, acct, "dev", dest)
	require.NoError(t, err)
	assert.InDelta(t, 90, delay, 0.001)
	assert.Equal(t, clk.Now().Unix()+90, ts)

	stored, err := mem.GetAccount(ctx, "u")
	require.NoError(t, err)
	loc, ok := stored.LastEncounter()
	require.True(t, ok)
	assert.Equal(t, origin, loc)
}

func TestLastKnownLocationFallsBackToDevice(t *testing.T) {
	tr := New(store.NewMemory(), clock.Fake(time.Unix(0, 0)), nil)
	ctx := context.Background()
	_, ok := tr.LastKnownLocation(ctx, nil, "dev")
	assert.False(t, ok)

	require.NoError(t, tr.RecordEncounter(ctx, nil, "dev", geo.Coord{Lat: 3, Lon: 4}, 5))
	loc, ok := tr.LastKnownLocation(ctx, &model.Account{Username: "fresh"}, "dev")
	assert.True(t, ok)
	assert.Equal(t, geo.Coord{Lat: 3, Lon: 4}, loc)
}

func TestIncrementSpinCountUnknownAccountIsNotAnError(t *testing.T) {
	tr := New(store.NewMemory(), nil, nil)
	assert.NoError(t, tr.IncrementSpinCount(context.Background(), "ghost"))
}
