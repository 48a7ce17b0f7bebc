package data

import (
	"fmt"
	"math/rand"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Range is an inclusive [min, max] interval rolled uniformly.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Roll draws a value in [Min, Max).
func (r Range) Roll(rng *rand.Rand) float64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// Profile is the AI tuning for one NPC type loaded from YAML.
type Profile struct {
	Name               string  `yaml:"name"`
	Kind               string  `yaml:"kind"` // "zombie" or "human"
	AggroRadius        Range   `yaml:"aggro_radius"`
	AttackRadius       Range   `yaml:"attack_radius"`
	ShootRadius        Range   `yaml:"shoot_radius"`
	MoveSpeed          Range   `yaml:"move_speed"`
	MaxVerticalAggro   float64 `yaml:"max_vertical_aggro"`
	EnragedAggroRadius float64 `yaml:"enraged_aggro_radius"`
	EnragedShootRadius float64 `yaml:"enraged_shoot_radius"`
	AlertRadius        float64 `yaml:"alert_radius"`
	AlertedAggroRadius Range   `yaml:"alerted_aggro_radius"`
	AlertedShootRadius Range   `yaml:"alerted_shoot_radius"`
}

// Personal is one NPC's rolled tuning.
type Personal struct {
	AggroRadius  float64
	AttackRadius float64
	ShootRadius  float64
	MoveSpeed    float64
	MaxVertical  float64
}

// Roll draws personal values for a freshly spawned NPC.
func (p *Profile) Roll(rng *rand.Rand) Personal {
	return Personal{
		AggroRadius:  p.AggroRadius.Roll(rng),
		AttackRadius: p.AttackRadius.Roll(rng),
		ShootRadius:  p.ShootRadius.Roll(rng),
		MoveSpeed:    p.MoveSpeed.Roll(rng),
		MaxVertical:  p.MaxVerticalAggro,
	}
}

// SpawnEntry defines a standalone spawn, used when no host feed is attached.
type SpawnEntry struct {
	Profile string  `yaml:"profile"`
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	Z       float64 `yaml:"z"`
	Count   int     `yaml:"count"`
	Spread  float64 `yaml:"spread"` // X/Z jitter around the point
}

type profileListFile struct {
	Profiles []Profile `yaml:"profiles"`
}

type spawnListFile struct {
	Spawns []SpawnEntry `yaml:"spawns"`
}

// ProfileTable holds all AI profiles indexed by name.
type ProfileTable struct {
	profiles map[string]*Profile
}

// LoadProfileTable loads AI profiles from a YAML file.
func LoadProfileTable(path string) (*ProfileTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var f profileListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	t := &ProfileTable{profiles: make(map[string]*Profile, len(f.Profiles))}
	for i := range f.Profiles {
		p := &f.Profiles[i]
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Name, err)
		}
		t.profiles[p.Name] = p
	}
	return t, nil
}

func (p *Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("missing name")
	}
	if p.Kind != "zombie" && p.Kind != "human" {
		return fmt.Errorf("unknown kind %q", p.Kind)
	}
	for name, r := range map[string]Range{
		"aggro_radius":  p.AggroRadius,
		"attack_radius": p.AttackRadius,
		"shoot_radius":  p.ShootRadius,
		"move_speed":    p.MoveSpeed,
	} {
		if r.Min < 0 || r.Max < r.Min {
			return fmt.Errorf("%s: bad range [%v, %v]", name, r.Min, r.Max)
		}
	}
	return nil
}

// Get returns a profile by name, or nil if not found.
func (t *ProfileTable) Get(name string) *Profile {
	return t.profiles[name]
}

// Names lists profile names, sorted.
func (t *ProfileTable) Names() []string {
	out := make([]string, 0, len(t.profiles))
	for n := range t.profiles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of loaded profiles.
func (t *ProfileTable) Count() int {
	return len(t.profiles)
}

// LoadSpawnList loads spawn entries from a YAML file.
func LoadSpawnList(path string) ([]SpawnEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spawn_list: %w", err)
	}
	var f spawnListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse spawn_list: %w", err)
	}
	return f.Spawns, nil
}
