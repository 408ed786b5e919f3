package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanbrain/internal/geo"
)

func openSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "brain.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *SQLite, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := s.db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, migrate(context.Background(), s.db))
}

func TestSQLitePokestops(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	seed(t, s,
		`INSERT INTO pokestop (id, lat, lon, enabled, quest_type) VALUES ('a', 1, 1, TRUE, 3)`,
		`INSERT INTO pokestop (id, lat, lon, enabled) VALUES ('b', 1.5, 1.5, FALSE)`,
		`INSERT INTO pokestop (id, lat, lon, enabled) VALUES ('c', 5, 5, TRUE)`,
	)

	got, err := s.PokestopsInBounds(ctx, geo.BBox{MinLat: 0, MinLon: 0, MaxLat: 2, MaxLon: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	require.NotNil(t, got[0].QuestType)
	assert.Equal(t, 3, *got[0].QuestType)

	require.NoError(t, s.ClearQuests(ctx, []string{"a", "missing"}))
	got, err = s.PokestopsByIDs(ctx, []string{"a", "c", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, p := range got {
		assert.Nil(t, p.QuestType)
	}
}

func TestSQLiteGymsAndCells(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	c := geo.Coord{Lat: 40.7, Lon: -74.0}
	cell := geo.CellID(c, geo.BootstrapLevel)
	center := geo.CellCenter(cell)
	_, err := s.db.Exec(`INSERT INTO gym (id, lat, lon, cell_id, raid_battle_timestamp) VALUES (?, ?, ?, ?, ?)`,
		"g1", c.Lat, c.Lon, int64(cell), 1234)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO s2cell (id, center_lat, center_lon, level) VALUES (?, ?, ?, ?)`,
		int64(cell), center.Lat, center.Lon, geo.BootstrapLevel)
	require.NoError(t, err)

	gyms, err := s.GymsByCellIDs(ctx, []uint64{cell})
	require.NoError(t, err)
	require.Len(t, gyms, 1)
	assert.Equal(t, cell, gyms[0].CellID)
	require.NotNil(t, gyms[0].RaidBattleTimestamp)
	assert.Equal(t, int64(1234), *gyms[0].RaidBattleTimestamp)
	assert.Nil(t, gyms[0].RaidEndTimestamp)

	gyms, err = s.GymsByIDs(ctx, []string{"g1"})
	require.NoError(t, err)
	assert.Len(t, gyms, 1)

	cells, err := s.CellIDsInBounds(ctx, geo.BBox{MinLat: 40, MinLon: -75, MaxLat: 41, MaxLon: -73})
	require.NoError(t, err)
	assert.Equal(t, []uint64{cell}, cells)
}

func TestSQLiteSpawnpointsAndPokemon(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	seed(t, s,
		`INSERT INTO spawnpoint (id, lat, lon) VALUES (7, 1, 1)`,
		`INSERT INTO spawnpoint (id, lat, lon, despawn_sec) VALUES (8, 1.1, 1.1, 1800)`,
		`INSERT INTO pokemon (id, pokemon_id, lat, lon, spawn_id, is_lure_encounter, first_seen_timestamp, atk_iv)
            VALUES ('m1', 25, 1, 1, 7, TRUE, 100, 15)`,
	)

	points, err := s.SpawnpointsInBounds(ctx, geo.BBox{MinLat: 0, MinLon: 0, MaxLat: 2, MaxLon: 2})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Nil(t, points[0].DespawnSec)
	require.NotNil(t, points[1].DespawnSec)
	assert.Equal(t, 1800, *points[1].DespawnSec)

	mons, err := s.PokemonByIDs(ctx, []string{"m1"})
	require.NoError(t, err)
	require.Len(t, mons, 1)
	assert.Equal(t, 25, mons[0].PokemonID)
	assert.True(t, mons[0].IsLureEncounter)
	require.NotNil(t, mons[0].SpawnID)
	assert.Equal(t, uint64(7), *mons[0].SpawnID)
	assert.Nil(t, mons[0].PokestopID)
	assert.Nil(t, mons[0].DefIV)
}

func TestSQLiteAccountLifecycle(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	seed(t, s,
		`INSERT INTO account (username, level) VALUES ('low', 5)`,
		`INSERT INTO account (username, level) VALUES ('mid', 20)`,
		`INSERT INTO account (username, level, failed) VALUES ('bad', 20, 'banned')`,
	)

	a, err := s.NextAccount(ctx, 10, 30)
	require.NoError(t, err)
	assert.Equal(t, "mid", a.Username)

	_, err = s.NextAccount(ctx, 10, 30)
	assert.ErrorIs(t, err, ErrNoAccount, "handed-out account is held off")

	require.NoError(t, s.UpdateAccountEncounter(ctx, "mid", geo.Coord{Lat: 1, Lon: 2}, 42))
	require.NoError(t, s.IncrementAccountSpins(ctx, "mid"))
	got, err := s.GetAccount(ctx, "mid")
	require.NoError(t, err)
	loc, ok := got.LastEncounter()
	assert.True(t, ok)
	assert.Equal(t, geo.Coord{Lat: 1, Lon: 2}, loc)
	assert.Equal(t, 1, got.Spins)

	_, err = s.GetAccount(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.IncrementAccountSpins(ctx, "nobody"), ErrNotFound)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?,?,?", placeholders(3))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, []any{"a", "b"}, anyArgs([]string{"a", "b"}))
}
