package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"scanbrain/internal/geo"
	"scanbrain/internal/model"
)

// accountHoldOff keeps an account handed out by NextAccount from being
// handed out again right away.
const accountHoldOff = time.Hour

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu          sync.Mutex
	pokestops   map[string]model.Pokestop
	gyms        map[string]model.Gym
	cells       map[uint64]struct{}
	spawnpoints map[uint64]model.Spawnpoint
	pokemon     map[string]model.Pokemon
	accounts    map[string]model.Account
	handedOut   map[string]time.Time
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		pokestops:   map[string]model.Pokestop{},
		gyms:        map[string]model.Gym{},
		cells:       map[uint64]struct{}{},
		spawnpoints: map[uint64]model.Spawnpoint{},
		pokemon:     map[string]model.Pokemon{},
		accounts:    map[string]model.Account{},
		handedOut:   map[string]time.Time{},
		now:         time.Now,
	}
}

var _ Store = (*Memory)(nil)

// SetNow replaces the time source used for account hand-out bookkeeping.
func (m *Memory) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// UpsertPokestops stores stops, replacing any with the same id.
func (m *Memory) UpsertPokestops(stops ...model.Pokestop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stops {
		m.pokestops[s.ID] = s
	}
}

// UpsertGyms stores gyms, replacing any with the same id.
func (m *Memory) UpsertGyms(gyms ...model.Gym) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range gyms {
		if g.CellID == 0 {
			g.CellID = geo.CellID(g.Coord(), geo.BootstrapLevel)
		}
		m.gyms[g.ID] = g
	}
}

// UpsertCells marks S2 cells as seen.
func (m *Memory) UpsertCells(ids ...uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.cells[id] = struct{}{}
	}
}

// UpsertSpawnpoints stores spawnpoints.
func (m *Memory) UpsertSpawnpoints(points ...model.Spawnpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.spawnpoints[p.ID] = p
	}
}

// UpsertPokemon stores sightings.
func (m *Memory) UpsertPokemon(mons ...model.Pokemon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range mons {
		m.pokemon[p.ID] = p
	}
}

// UpsertAccounts stores accounts.
func (m *Memory) UpsertAccounts(accounts ...model.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range accounts {
		m.accounts[a.Username] = a
	}
}

func (m *Memory) PokestopsInBounds(ctx context.Context, b geo.BBox) ([]model.Pokestop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Pokestop{}
	for _, s := range m.pokestops {
		if s.Enabled && b.Contains(s.Coord()) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PokestopsByIDs(ctx context.Context, ids []string) ([]model.Pokestop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Pokestop, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.pokestops[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ClearQuests(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		s, ok := m.pokestops[id]
		if !ok {
			continue
		}
		s.QuestType = nil
		s.AlternativeQuestType = nil
		m.pokestops[id] = s
	}
	return nil
}

func (m *Memory) GymsByCellIDs(ctx context.Context, cellIDs []uint64) ([]model.Gym, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[uint64]struct{}, len(cellIDs))
	for _, id := range cellIDs {
		want[id] = struct{}{}
	}
	out := []model.Gym{}
	for _, g := range m.gyms {
		if _, ok := want[g.CellID]; ok {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GymsByIDs(ctx context.Context, ids []string) ([]model.Gym, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Gym, 0, len(ids))
	for _, id := range ids {
		if g, ok := m.gyms[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *Memory) CellIDsInBounds(ctx context.Context, b geo.BBox) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []uint64{}
	for id := range m.cells {
		if b.Contains(geo.CellCenter(id)) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *Memory) SpawnpointsInBounds(ctx context.Context, b geo.BBox) ([]model.Spawnpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Spawnpoint{}
	for _, p := range m.spawnpoints {
		if b.Contains(p.Coord()) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PokemonByIDs(ctx context.Context, ids []string) ([]model.Pokemon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Pokemon, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.pokemon[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) GetAccount(ctx context.Context, username string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[username]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) NextAccount(ctx context.Context, minLevel, maxLevel int) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var candidates []model.Account
	for _, a := range m.accounts {
		if a.Failed != "" || a.Level < minLevel || (maxLevel > 0 && a.Level > maxLevel) {
			continue
		}
		if at, ok := m.handedOut[a.Username]; ok && now.Sub(at) < accountHoldOff {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return model.Account{}, ErrNoAccount
	}
	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := lastUsed(candidates[i]), lastUsed(candidates[j])
		if ti != tj {
			return ti < tj
		}
		return candidates[i].Username < candidates[j].Username
	})
	picked := candidates[0]
	m.handedOut[picked.Username] = now
	return picked, nil
}

func lastUsed(a model.Account) int64 {
	if a.LastEncounterTime == nil {
		return 0
	}
	return *a.LastEncounterTime
}

func (m *Memory) UpdateAccountEncounter(ctx context.Context, username string, at geo.Coord, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[username]
	if !ok {
		return ErrNotFound
	}
	lat, lon := at.Lat, at.Lon
	a.LastEncounterLat = &lat
	a.LastEncounterLon = &lon
	a.LastEncounterTime = &ts
	m.accounts[username] = a
	return nil
}

func (m *Memory) IncrementAccountSpins(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[username]
	if !ok {
		return ErrNotFound
	}
	a.Spins++
	m.accounts[username] = a
	return nil
}
