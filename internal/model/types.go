package model

import (
	"fmt"
	"strings"

	"scanbrain/internal/geo"
)

// InstanceKind tags a controller variant.
type InstanceKind string

const (
	KindCirclePokemon InstanceKind = "circle_pokemon"
	KindCircleRaid    InstanceKind = "circle_raid"
	KindSmartRaid     InstanceKind = "smart_raid"
	KindAutoQuest     InstanceKind = "auto_quest"
	KindPokemonIV     InstanceKind = "pokemon_iv"
	KindBootstrap     InstanceKind = "bootstrap"
	KindFindTTH       InstanceKind = "find_tth"
	KindLeveling      InstanceKind = "leveling"
)

// Kinds lists every supported kind.
var Kinds = []InstanceKind{
	KindCirclePokemon, KindCircleRaid, KindSmartRaid, KindAutoQuest,
	KindPokemonIV, KindBootstrap, KindFindTTH, KindLeveling,
}

// ParseKind validates a configured kind string.
func ParseKind(s string) (InstanceKind, error) {
	k := InstanceKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown instance kind %q", s)
}

// RouteMode selects the Circle family advancement policy.
type RouteMode string

const (
	RouteLeapfrog RouteMode = "leapfrog"
	RouteSplit    RouteMode = "split"
	RouteSmart    RouteMode = "smart"
)

// QuestMode selects which quest slot an AutoQuest instance collects.
type QuestMode string

const (
	QuestNormal      QuestMode = "normal"
	QuestAlternative QuestMode = "alternative"
	QuestBoth        QuestMode = "both"
)

// Action is the kind of work a task asks the device to do.
type Action string

const (
	ActionScanPokemon   Action = "scan_pokemon"
	ActionScanRaid      Action = "scan_raid"
	ActionScanQuest     Action = "scan_quest"
	ActionScanIV        Action = "scan_iv"
	ActionSpinPokestop  Action = "spin_pokestop"
	ActionSwitchAccount Action = "switch_account"
)

// Pokestop is a work item for quest and leveling instances.
type Pokestop struct {
	ID                   string  `json:"id"`
	Lat                  float64 `json:"lat"`
	Lon                  float64 `json:"lon"`
	Name                 string  `json:"name,omitempty"`
	Enabled              bool    `json:"enabled"`
	QuestType            *int    `json:"quest_type,omitempty"`
	AlternativeQuestType *int    `json:"alternative_quest_type,omitempty"`
	LureExpireTimestamp  *int64  `json:"lure_expire_timestamp,omitempty"`
	Updated              int64   `json:"updated"`
}

// Coord returns the stop location.
func (p Pokestop) Coord() geo.Coord { return geo.Coord{Lat: p.Lat, Lon: p.Lon} }

// HasQuest reports whether the quest slot for mode is already known.
func (p Pokestop) HasQuest(mode QuestMode) bool {
	if mode == QuestAlternative {
		return p.AlternativeQuestType != nil
	}
	return p.QuestType != nil
}

// Gym is a work item for raid instances.
type Gym struct {
	ID                  string  `json:"id"`
	Lat                 float64 `json:"lat"`
	Lon                 float64 `json:"lon"`
	CellID              uint64  `json:"cell_id"`
	RaidEndTimestamp    *int64  `json:"raid_end_timestamp,omitempty"`
	RaidBattleTimestamp *int64  `json:"raid_battle_timestamp,omitempty"`
	RaidSpawnTimestamp  *int64  `json:"raid_spawn_timestamp,omitempty"`
	RaidPokemonID       *int    `json:"raid_pokemon_id,omitempty"`
	Updated             int64   `json:"updated"`
}

// Coord returns the gym location.
func (g Gym) Coord() geo.Coord { return geo.Coord{Lat: g.Lat, Lon: g.Lon} }

// Spawnpoint is a work item for TTH finding.
type Spawnpoint struct {
	ID         uint64  `json:"id"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	DespawnSec *int    `json:"despawn_sec,omitempty"`
	Updated    int64   `json:"updated"`
}

// Coord returns the spawnpoint location.
func (s Spawnpoint) Coord() geo.Coord { return geo.Coord{Lat: s.Lat, Lon: s.Lon} }

// Pokemon is a sighting whose IVs may still be unknown.
type Pokemon struct {
	ID                 string  `json:"id"`
	PokemonID          int     `json:"pokemon_id"`
	Lat                float64 `json:"lat"`
	Lon                float64 `json:"lon"`
	SpawnID            *uint64 `json:"spawn_id,omitempty"`
	PokestopID         *string `json:"pokestop_id,omitempty"`
	IsLureEncounter    bool    `json:"is_lure_encounter"`
	FirstSeenTimestamp int64   `json:"first_seen_timestamp"`
	AtkIV              *int    `json:"atk_iv,omitempty"`
	DefIV              *int    `json:"def_iv,omitempty"`
	StaIV              *int    `json:"sta_iv,omitempty"`
	Updated            int64   `json:"updated"`
}

// Coord returns the sighting location.
func (p Pokemon) Coord() geo.Coord { return geo.Coord{Lat: p.Lat, Lon: p.Lon} }

// HasIV reports whether the encounter produced IVs.
func (p Pokemon) HasIV() bool { return p.AtkIV != nil && p.DefIV != nil && p.StaIV != nil }

// Account is a game account a device plays on.
type Account struct {
	Username          string   `json:"username"`
	Level             int      `json:"level"`
	XP                int64    `json:"xp"`
	LastEncounterLat  *float64 `json:"last_encounter_lat,omitempty"`
	LastEncounterLon  *float64 `json:"last_encounter_lon,omitempty"`
	LastEncounterTime *int64   `json:"last_encounter_time,omitempty"`
	Spins             int      `json:"spins"`
	Failed            string   `json:"failed,omitempty"`
}

// LastEncounter returns the last recorded encounter location, if any.
func (a Account) LastEncounter() (geo.Coord, bool) {
	if a.LastEncounterLat == nil || a.LastEncounterLon == nil {
		return geo.Coord{}, false
	}
	return geo.Coord{Lat: *a.LastEncounterLat, Lon: *a.LastEncounterLon}, true
}

// TaskRequest is one device poll. IsStartup marks the first job poll after
// the device announced itself with init.
type TaskRequest struct {
	UUID      string   `json:"uuid"`
	Username  string   `json:"username,omitempty"`
	Account   *Account `json:"account,omitempty"`
	IsStartup bool     `json:"is_startup,omitempty"`
}

// AccountName returns the username carried by the request, if any.
func (r TaskRequest) AccountName() string {
	if r.Username != "" {
		return r.Username
	}
	if r.Account != nil {
		return r.Account.Username
	}
	return ""
}

// Task is the tagged union returned to devices. The header fields are always
// set; the remaining fields depend on Action.
type Task struct {
	Area     string  `json:"area"`
	Action   Action  `json:"action"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	MinLevel int     `json:"min_level"`
	MaxLevel int     `json:"max_level"`

	Delay         float64   `json:"delay,omitempty"`
	QuestType     QuestMode `json:"quest_type,omitempty"`
	DeployEgg     bool      `json:"deploy_egg,omitempty"`
	EncounterID   string    `json:"id,omitempty"`
	LureEncounter bool      `json:"lure_encounter,omitempty"`
	IsSpawnpoint  bool      `json:"is_spawnpoint,omitempty"`
	Username      string    `json:"username,omitempty"`
}

// Coord returns the task target.
func (t Task) Coord() geo.Coord { return geo.Coord{Lat: t.Lat, Lon: t.Lon} }
