package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"scanbrain/internal/geo"
	"scanbrain/internal/model"
)

//go:embed schema/*.sql
var schemaFS embed.FS

type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent so Migrate is safe to run on each start.
func (p *Postgres) Migrate(ctx context.Context) error { return migrate(ctx, p.db) }

func migrate(ctx context.Context, db *sql.DB) error {
	names, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := schemaFS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

const pokestopColumns = `id, lat, lon, COALESCE(name, ''), enabled, quest_type, alternative_quest_type, lure_expire_timestamp, updated`

func scanPokestops(rows *sql.Rows) ([]model.Pokestop, error) {
	defer rows.Close()
	var out []model.Pokestop
	for rows.Next() {
		var s model.Pokestop
		var quest, alt sql.NullInt32
		var lure sql.NullInt64
		if err := rows.Scan(&s.ID, &s.Lat, &s.Lon, &s.Name, &s.Enabled, &quest, &alt, &lure, &s.Updated); err != nil {
			return nil, err
		}
		s.QuestType = intPtr(quest)
		s.AlternativeQuestType = intPtr(alt)
		s.LureExpireTimestamp = int64Ptr(lure)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) PokestopsInBounds(ctx context.Context, b geo.BBox) ([]model.Pokestop, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+pokestopColumns+` FROM pokestop
        WHERE enabled AND lat BETWEEN $1 AND $2 AND lon BETWEEN $3 AND $4 ORDER BY id`,
		b.MinLat, b.MaxLat, b.MinLon, b.MaxLon)
	if err != nil {
		return nil, err
	}
	return scanPokestops(rows)
}

func (p *Postgres) PokestopsByIDs(ctx context.Context, ids []string) ([]model.Pokestop, error) {
	var out []model.Pokestop
	for _, part := range chunk(ids, MaxIDsPerQuery) {
		rows, err := p.db.QueryContext(ctx, `SELECT `+pokestopColumns+` FROM pokestop WHERE id = ANY($1)`, part)
		if err != nil {
			return nil, err
		}
		stops, err := scanPokestops(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, stops...)
	}
	return out, nil
}

func (p *Postgres) ClearQuests(ctx context.Context, ids []string) error {
	for _, part := range chunk(ids, MaxIDsPerQuery) {
		if _, err := p.db.ExecContext(ctx, `UPDATE pokestop SET quest_type = NULL, alternative_quest_type = NULL WHERE id = ANY($1)`, part); err != nil {
			return err
		}
	}
	return nil
}

const gymColumns = `id, lat, lon, cell_id, raid_end_timestamp, raid_battle_timestamp, raid_spawn_timestamp, raid_pokemon_id, updated`

func scanGyms(rows *sql.Rows) ([]model.Gym, error) {
	defer rows.Close()
	var out []model.Gym
	for rows.Next() {
		var g model.Gym
		var cell int64
		var end, battle, spawn sql.NullInt64
		var boss sql.NullInt32
		if err := rows.Scan(&g.ID, &g.Lat, &g.Lon, &cell, &end, &battle, &spawn, &boss, &g.Updated); err != nil {
			return nil, err
		}
		g.CellID = uint64(cell)
		g.RaidEndTimestamp = int64Ptr(end)
		g.RaidBattleTimestamp = int64Ptr(battle)
		g.RaidSpawnTimestamp = int64Ptr(spawn)
		g.RaidPokemonID = intPtr(boss)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *Postgres) GymsByCellIDs(ctx context.Context, cellIDs []uint64) ([]model.Gym, error) {
	var out []model.Gym
	for _, part := range chunk(signed(cellIDs), MaxIDsPerQuery) {
		rows, err := p.db.QueryContext(ctx, `SELECT `+gymColumns+` FROM gym WHERE cell_id = ANY($1) ORDER BY id`, part)
		if err != nil {
			return nil, err
		}
		gyms, err := scanGyms(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, gyms...)
	}
	return out, nil
}

func (p *Postgres) GymsByIDs(ctx context.Context, ids []string) ([]model.Gym, error) {
	var out []model.Gym
	for _, part := range chunk(ids, MaxIDsPerQuery) {
		rows, err := p.db.QueryContext(ctx, `SELECT `+gymColumns+` FROM gym WHERE id = ANY($1)`, part)
		if err != nil {
			return nil, err
		}
		gyms, err := scanGyms(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, gyms...)
	}
	return out, nil
}

func (p *Postgres) CellIDsInBounds(ctx context.Context, b geo.BBox) ([]uint64, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id FROM s2cell
        WHERE center_lat BETWEEN $1 AND $2 AND center_lon BETWEEN $3 AND $4`,
		b.MinLat, b.MaxLat, b.MinLon, b.MaxLon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, uint64(id))
	}
	return out, rows.Err()
}

func (p *Postgres) SpawnpointsInBounds(ctx context.Context, b geo.BBox) ([]model.Spawnpoint, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, lat, lon, despawn_sec, updated FROM spawnpoint
        WHERE lat BETWEEN $1 AND $2 AND lon BETWEEN $3 AND $4 ORDER BY id`,
		b.MinLat, b.MaxLat, b.MinLon, b.MaxLon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Spawnpoint
	for rows.Next() {
		var s model.Spawnpoint
		var id int64
		var despawn sql.NullInt32
		if err := rows.Scan(&id, &s.Lat, &s.Lon, &despawn, &s.Updated); err != nil {
			return nil, err
		}
		s.ID = uint64(id)
		s.DespawnSec = intPtr(despawn)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) PokemonByIDs(ctx context.Context, ids []string) ([]model.Pokemon, error) {
	var out []model.Pokemon
	for _, part := range chunk(ids, MaxIDsPerQuery) {
		rows, err := p.db.QueryContext(ctx, `SELECT id, pokemon_id, lat, lon, spawn_id, pokestop_id, is_lure_encounter,
            first_seen_timestamp, atk_iv, def_iv, sta_iv, updated FROM pokemon WHERE id = ANY($1)`, part)
		if err != nil {
			return nil, err
		}
		mons, err := scanPokemon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mons...)
	}
	return out, nil
}

func scanPokemon(rows *sql.Rows) ([]model.Pokemon, error) {
	defer rows.Close()
	var out []model.Pokemon
	for rows.Next() {
		var m model.Pokemon
		var spawn sql.NullInt64
		var stop sql.NullString
		var atk, def, sta sql.NullInt32
		if err := rows.Scan(&m.ID, &m.PokemonID, &m.Lat, &m.Lon, &spawn, &stop, &m.IsLureEncounter,
			&m.FirstSeenTimestamp, &atk, &def, &sta, &m.Updated); err != nil {
			return nil, err
		}
		if spawn.Valid {
			id := uint64(spawn.Int64)
			m.SpawnID = &id
		}
		if stop.Valid {
			s := stop.String
			m.PokestopID = &s
		}
		m.AtkIV, m.DefIV, m.StaIV = intPtr(atk), intPtr(def), intPtr(sta)
		out = append(out, m)
	}
	return out, rows.Err()
}

const accountColumns = `username, level, xp, last_encounter_lat, last_encounter_lon, last_encounter_time, spins, COALESCE(failed, '')`

func scanAccount(row *sql.Row) (model.Account, error) {
	var a model.Account
	var lat, lon sql.NullFloat64
	var ts sql.NullInt64
	err := row.Scan(&a.Username, &a.Level, &a.XP, &lat, &lon, &ts, &a.Spins, &a.Failed)
	if err != nil {
		return model.Account{}, err
	}
	if lat.Valid && lon.Valid {
		a.LastEncounterLat = &lat.Float64
		a.LastEncounterLon = &lon.Float64
	}
	a.LastEncounterTime = int64Ptr(ts)
	return a, nil
}

func (p *Postgres) GetAccount(ctx context.Context, username string) (model.Account, error) {
	a, err := scanAccount(p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM account WHERE username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	return a, err
}

// NextAccount claims the least recently used healthy account in the level
// range. A claimed account is not handed out again for an hour.
func (p *Postgres) NextAccount(ctx context.Context, minLevel, maxLevel int) (model.Account, error) {
	now := time.Now().Unix()
	a, err := scanAccount(p.db.QueryRowContext(ctx, `UPDATE account SET last_used = $3
        WHERE username = (
            SELECT username FROM account
            WHERE COALESCE(failed, '') = '' AND level >= $1 AND ($2 = 0 OR level <= $2)
              AND (last_used IS NULL OR last_used < $3 - $4)
            ORDER BY COALESCE(last_encounter_time, 0), username
            LIMIT 1 FOR UPDATE SKIP LOCKED)
        RETURNING `+accountColumns, minLevel, maxLevel, now, int64(accountHoldOff/time.Second)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNoAccount
	}
	return a, err
}

func (p *Postgres) UpdateAccountEncounter(ctx context.Context, username string, at geo.Coord, ts int64) error {
	res, err := p.db.ExecContext(ctx, `UPDATE account SET last_encounter_lat = $2, last_encounter_lon = $3, last_encounter_time = $4
        WHERE username = $1`, username, at.Lat, at.Lon, ts)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (p *Postgres) IncrementAccountSpins(ctx context.Context, username string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE account SET spins = spins + 1 WHERE username = $1`, username)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// Helpers
func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func intPtr(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int32)
	return &i
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

// signed reinterprets S2 cell ids for BIGINT columns.
func signed(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
