package store

import (
	"context"
	"errors"

	"scanbrain/internal/geo"
	"scanbrain/internal/model"
)

// MaxIDsPerQuery bounds every id-list lookup; longer lists are split.
const MaxIDsPerQuery = 10000

// Store is the persistence interface consumed by the controllers.
type Store interface {
	// Pokestops
	PokestopsInBounds(ctx context.Context, b geo.BBox) ([]model.Pokestop, error)
	PokestopsByIDs(ctx context.Context, ids []string) ([]model.Pokestop, error)
	ClearQuests(ctx context.Context, ids []string) error

	// Gyms
	GymsByCellIDs(ctx context.Context, cellIDs []uint64) ([]model.Gym, error)
	GymsByIDs(ctx context.Context, ids []string) ([]model.Gym, error)

	// Coverage
	CellIDsInBounds(ctx context.Context, b geo.BBox) ([]uint64, error)
	SpawnpointsInBounds(ctx context.Context, b geo.BBox) ([]model.Spawnpoint, error)

	// Pokemon
	PokemonByIDs(ctx context.Context, ids []string) ([]model.Pokemon, error)

	// Accounts
	GetAccount(ctx context.Context, username string) (model.Account, error)
	NextAccount(ctx context.Context, minLevel, maxLevel int) (model.Account, error)
	UpdateAccountEncounter(ctx context.Context, username string, at geo.Coord, ts int64) error
	IncrementAccountSpins(ctx context.Context, username string) error
}

var (
	ErrNotFound  = errors.New("not found")
	ErrNoAccount = errors.New("no eligible account")
)

// chunk splits ids into slices of at most size.
func chunk[T any](ids []T, size int) [][]T {
	if size <= 0 {
		size = MaxIDsPerQuery
	}
	var out [][]T
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
