package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"scanbrain/internal/geo"
	"scanbrain/internal/model"
)

// maxSQLiteVars stays below SQLite's bound-parameter limit.
const maxSQLiteVars = 10000

// SQLite is a single-file store for deployments without PostgreSQL. It
// shares the embedded schema with Postgres.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the database at path and applies
// the schema.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers, which also makes NextAccount's
	// claim atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	s := &SQLite{db: db}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// placeholders renders "?,?,?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anyArgs[T any](vals []T) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func (s *SQLite) PokestopsInBounds(ctx context.Context, b geo.BBox) ([]model.Pokestop, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pokestopColumns+` FROM pokestop
        WHERE enabled AND lat BETWEEN ? AND ? AND lon BETWEEN ? AND ? ORDER BY id`,
		b.MinLat, b.MaxLat, b.MinLon, b.MaxLon)
	if err != nil {
		return nil, err
	}
	return scanPokestops(rows)
}

func (s *SQLite) PokestopsByIDs(ctx context.Context, ids []string) ([]model.Pokestop, error) {
	var out []model.Pokestop
	for _, part := range chunk(ids, maxSQLiteVars) {
		rows, err := s.db.QueryContext(ctx, `SELECT `+pokestopColumns+` FROM pokestop WHERE id IN (`+placeholders(len(part))+`)`, anyArgs(part)...)
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

func (s *SQLite) ClearQuests(ctx context.Context, ids []string) error {
	for _, part := range chunk(ids, maxSQLiteVars) {
		if _, err := s.db.ExecContext(ctx, `UPDATE pokestop SET quest_type = NULL, alternative_quest_type = NULL
            WHERE id IN (`+placeholders(len(part))+`)`, anyArgs(part)...); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) GymsByCellIDs(ctx context.Context, cellIDs []uint64) ([]model.Gym, error) {
	var out []model.Gym
	for _, part := range chunk(signed(cellIDs), maxSQLiteVars) {
		rows, err := s.db.QueryContext(ctx, `SELECT `+gymColumns+` FROM gym WHERE cell_id IN (`+placeholders(len(part))+`) ORDER BY id`, anyArgs(part)...)
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

func (s *SQLite) GymsByIDs(ctx context.Context, ids []string) ([]model.Gym, error) {
	var out []model.Gym
	for _, part := range chunk(ids, maxSQLiteVars) {
		rows, err := s.db.QueryContext(ctx, `SELECT `+gymColumns+` FROM gym WHERE id IN (`+placeholders(len(part))+`)`, anyArgs(part)...)
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

func (s *SQLite) CellIDsInBounds(ctx context.Context, b geo.BBox) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM s2cell
        WHERE center_lat BETWEEN ? AND ? AND center_lon BETWEEN ? AND ?`,
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

func (s *SQLite) SpawnpointsInBounds(ctx context.Context, b geo.BBox) ([]model.Spawnpoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, lat, lon, despawn_sec, updated FROM spawnpoint
        WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ? ORDER BY id`,
		b.MinLat, b.MaxLat, b.MinLon, b.MaxLon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Spawnpoint
	for rows.Next() {
		var p model.Spawnpoint
		var id int64
		var despawn sql.NullInt32
		if err := rows.Scan(&id, &p.Lat, &p.Lon, &despawn, &p.Updated); err != nil {
			return nil, err
		}
		p.ID = uint64(id)
		p.DespawnSec = intPtr(despawn)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) PokemonByIDs(ctx context.Context, ids []string) ([]model.Pokemon, error) {
	var out []model.Pokemon
	for _, part := range chunk(ids, maxSQLiteVars) {
		rows, err := s.db.QueryContext(ctx, `SELECT id, pokemon_id, lat, lon, spawn_id, pokestop_id, is_lure_encounter,
            first_seen_timestamp, atk_iv, def_iv, sta_iv, updated FROM pokemon WHERE id IN (`+placeholders(len(part))+`)`, anyArgs(part)...)
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

func (s *SQLite) GetAccount(ctx context.Context, username string) (model.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM account WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	return a, err
}

// NextAccount claims the least recently used healthy account in the level
// range, with the same hold-off as Postgres.
func (s *SQLite) NextAccount(ctx context.Context, minLevel, maxLevel int) (model.Account, error) {
	now := time.Now().Unix()
	a, err := scanAccount(s.db.QueryRowContext(ctx, `UPDATE account SET last_used = ?3
        WHERE username = (
            SELECT username FROM account
            WHERE COALESCE(failed, '') = '' AND level >= ?1 AND (?2 = 0 OR level <= ?2)
              AND (last_used IS NULL OR last_used < ?3 - ?4)
            ORDER BY COALESCE(last_encounter_time, 0), username
            LIMIT 1)
        RETURNING `+accountColumns, minLevel, maxLevel, now, int64(accountHoldOff/time.Second)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNoAccount
	}
	return a, err
}

func (s *SQLite) UpdateAccountEncounter(ctx context.Context, username string, at geo.Coord, ts int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE account SET last_encounter_lat = ?, last_encounter_lon = ?, last_encounter_time = ?
        WHERE username = ?`, at.Lat, at.Lon, ts, username)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *SQLite) IncrementAccountSpins(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE account SET spins = spins + 1 WHERE username = ?`, username)
	if err != nil {
		return err
	}
	return mustAffect(res)
}
