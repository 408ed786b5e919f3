package model

import "scanbrain/internal/geo"

// InstanceConfig is the immutable configuration of one controller.
type InstanceConfig struct {
	Name     string       `yaml:"name" json:"name"`
	Kind     InstanceKind `yaml:"kind" json:"kind"`
	MinLevel int          `yaml:"min_level" json:"minLevel"`
	MaxLevel int          `yaml:"max_level" json:"maxLevel"`
	Group    string       `yaml:"group,omitempty" json:"group,omitempty"`
	Event    bool         `yaml:"event,omitempty" json:"event,omitempty"`

	// Points is the ordered circle route for circle and smart raid kinds.
	Points []geo.Coord `yaml:"points,omitempty" json:"points,omitempty"`
	// Area is the geofence for area based kinds.
	Area []geo.Polygon `yaml:"area,omitempty" json:"area,omitempty"`

	RouteMode      RouteMode  `yaml:"route_mode,omitempty" json:"routeMode,omitempty"`
	RadiusM        float64    `yaml:"radius_m,omitempty" json:"radiusM,omitempty"`
	QuestMode      QuestMode  `yaml:"quest_mode,omitempty" json:"questMode,omitempty"`
	SpinLimit      int        `yaml:"spin_limit,omitempty" json:"spinLimit,omitempty"`
	LogoutDelay    float64    `yaml:"logout_delay,omitempty" json:"logoutDelay,omitempty"`
	RequireAccount bool       `yaml:"require_account,omitempty" json:"requireAccount,omitempty"`
	Bootstrap      bool       `yaml:"bootstrap,omitempty" json:"bootstrap,omitempty"`
	IVList         []int      `yaml:"iv_list,omitempty" json:"ivList,omitempty"`
	IVQueueLimit   int        `yaml:"iv_queue_limit,omitempty" json:"ivQueueLimit,omitempty"`
	LevelTarget    int        `yaml:"level_target,omitempty" json:"levelTarget,omitempty"`
	Start          *geo.Coord `yaml:"start,omitempty" json:"start,omitempty"`
	DeployEgg      bool       `yaml:"deploy_egg,omitempty" json:"deployEgg,omitempty"`
	NextInstance   string     `yaml:"next_instance,omitempty" json:"nextInstance,omitempty"`
	Timezone       string     `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}
