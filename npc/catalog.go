// Package npc holds the static character catalogue, command validation and
// the spawn manifest consumed by game clients.
package npc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/neuralmesh/mesh/core"
)

// Archetype classifies a character's role in the colony.
type Archetype string

const (
	ArchetypeLeader   Archetype = "leader"
	ArchetypeSaboteur Archetype = "saboteur"
	ArchetypeWorker   Archetype = "worker"
	ArchetypeMedic    Archetype = "medic"
	ArchetypeEngineer Archetype = "engineer"
	ArchetypeScout    Archetype = "scout"
)

// Valid reports whether a is a known archetype.
func (a Archetype) Valid() bool {
	switch a {
	case ArchetypeLeader, ArchetypeSaboteur, ArchetypeWorker,
		ArchetypeMedic, ArchetypeEngineer, ArchetypeScout:
		return true
	}
	return false
}

// Vector3 is a world-space position.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation in degrees.
type Rotation struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// SpawnTransform places a character in the world.
type SpawnTransform struct {
	Location Vector3  `json:"location"`
	Rotation Rotation `json:"rotation"`
	Scale    float64  `json:"scale"`
}

// VisualHints point game clients at the assets for a character.
type VisualHints struct {
	MeshPreset         string `json:"meshPreset"`
	MaterialOverride   string `json:"materialOverride,omitempty"`
	AnimBlueprintClass string `json:"animBlueprintClass"`
	BehaviorTreeAsset  string `json:"behaviorTreeAsset"`
	IdleVFX            string `json:"idleVFX,omitempty"`
}

// PsychState is the character's psychological profile; every value is in
// [0,1].
type PsychState struct {
	WisdomScore          float64 `json:"wisdomScore"`
	TraumaScore          float64 `json:"traumaScore"`
	RebellionProbability float64 `json:"rebellionProbability"`
	ConfidenceInDirector float64 `json:"confidenceInDirector"`
	WorkEfficiency       float64 `json:"workEfficiency"`
	Morale               float64 `json:"morale"`
}

// Character is one catalogue entry.
type Character struct {
	ID          string         `json:"npcId"`
	Name        string         `json:"name"`
	Archetype   Archetype      `json:"archetype"`
	Description string         `json:"description"`
	Spawn       SpawnTransform `json:"spawnTransform"`
	Visual      VisualHints    `json:"visualHints"`
	Psych       PsychState     `json:"psychState"`
}

// Catalog is the character registry. Read-mostly; Register takes the write
// lock.
type Catalog struct {
	mu         sync.RWMutex
	characters map[string]Character
}

// NewCatalog returns a catalogue seeded with the default colony roster.
func NewCatalog() *Catalog {
	c := &Catalog{characters: make(map[string]Character)}
	for _, character := range defaultRoster() {
		c.characters[character.ID] = character
	}
	return c
}

// Lookup returns a character by id.
func (c *Catalog) Lookup(id string) (Character, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	character, ok := c.characters[id]
	if !ok {
		return Character{}, fmt.Errorf("%w: npc %q", core.ErrSubjectNotFound, id)
	}
	return character, nil
}

// All returns every character, ordered by id.
func (c *Catalog) All() []Character {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Character, 0, len(c.characters))
	for _, character := range c.characters {
		out = append(out, character)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Register adds or replaces a character.
func (c *Catalog) Register(character Character) error {
	if character.ID == "" {
		return fmt.Errorf("%w: npcId is required", core.ErrInvalidInput)
	}
	if !character.Archetype.Valid() {
		return fmt.Errorf("%w: unknown archetype %q", core.ErrInvalidInput, character.Archetype)
	}
	if character.Spawn.Scale <= 0 {
		return fmt.Errorf("%w: spawn scale must be positive", core.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.characters[character.ID] = character
	return nil
}

func defaultRoster() []Character {
	return []Character{
		{
			ID: "npc-vessa", Name: "Vessa Kyrn", Archetype: ArchetypeLeader,
			Description: "Colony overseer; keeps the crews moving and the Director informed.",
			Spawn:       SpawnTransform{Location: Vector3{X: 120, Y: -40, Z: 0}, Rotation: Rotation{Yaw: 90}, Scale: 1.0},
			Visual: VisualHints{
				MeshPreset:         "SK_Colonist_Leader",
				AnimBlueprintClass: "ABP_Colonist",
				BehaviorTreeAsset:  "BT_Leader",
				IdleVFX:            "NS_CommandAura",
			},
			Psych: PsychState{WisdomScore: 0.82, TraumaScore: 0.25, RebellionProbability: 0.12,
				ConfidenceInDirector: 0.7, WorkEfficiency: 0.85, Morale: 0.74},
		},
		{
			ID: "npc-dren", Name: "Dren Okafor", Archetype: ArchetypeSaboteur,
			Description: "Former demolitions tech with a grudge and access to the supply lines.",
			Spawn:       SpawnTransform{Location: Vector3{X: -310, Y: 95, Z: 0}, Rotation: Rotation{Yaw: 270}, Scale: 1.0},
			Visual: VisualHints{
				MeshPreset:         "SK_Colonist_Standard",
				MaterialOverride:   "MI_WornFatigues",
				AnimBlueprintClass: "ABP_Colonist",
				BehaviorTreeAsset:  "BT_Saboteur",
			},
			Psych: PsychState{WisdomScore: 0.55, TraumaScore: 0.68, RebellionProbability: 0.61,
				ConfidenceInDirector: 0.22, WorkEfficiency: 0.6, Morale: 0.3},
		},
		{
			ID: "npc-mara", Name: "Mara Solis", Archetype: ArchetypeMedic,
			Description: "Field medic who has patched up everyone in the colony at least once.",
			Spawn:       SpawnTransform{Location: Vector3{X: 40, Y: 210, Z: 0}, Scale: 1.0},
			Visual: VisualHints{
				MeshPreset:         "SK_Colonist_Medic",
				AnimBlueprintClass: "ABP_Colonist",
				BehaviorTreeAsset:  "BT_Medic",
				IdleVFX:            "NS_MedScanner",
			},
			Psych: PsychState{WisdomScore: 0.75, TraumaScore: 0.45, RebellionProbability: 0.2,
				ConfidenceInDirector: 0.55, WorkEfficiency: 0.8, Morale: 0.62},
		},
		{
			ID: "npc-joral", Name: "Joral Venn", Archetype: ArchetypeEngineer,
			Description: "Keeps the reactor humming; talks to machines more than people.",
			Spawn:       SpawnTransform{Location: Vector3{X: -150, Y: -220, Z: 0}, Rotation: Rotation{Yaw: 45}, Scale: 1.0},
			Visual: VisualHints{
				MeshPreset:         "SK_Colonist_Engineer",
				AnimBlueprintClass: "ABP_Colonist",
				BehaviorTreeAsset:  "BT_Engineer",
			},
			Psych: PsychState{WisdomScore: 0.68, TraumaScore: 0.35, RebellionProbability: 0.28,
				ConfidenceInDirector: 0.48, WorkEfficiency: 0.9, Morale: 0.58},
		},
		{
			ID: "npc-sila", Name: "Sila Reyes", Archetype: ArchetypeScout,
			Description: "Perimeter scout; first to see what the infestation does to the treeline.",
			Spawn:       SpawnTransform{Location: Vector3{X: 480, Y: 130, Z: 15}, Rotation: Rotation{Yaw: 180}, Scale: 1.0},
			Visual: VisualHints{
				MeshPreset:         "SK_Colonist_Scout",
				AnimBlueprintClass: "ABP_Colonist",
				BehaviorTreeAsset:  "BT_Scout",
			},
			Psych: PsychState{WisdomScore: 0.6, TraumaScore: 0.52, RebellionProbability: 0.33,
				ConfidenceInDirector: 0.4, WorkEfficiency: 0.75, Morale: 0.5},
		},
		{
			ID: "npc-tov", Name: "Tov Brandt", Archetype: ArchetypeWorker,
			Description: "Hauler on the ore line; does the work and keeps his head down.",
			Spawn:       SpawnTransform{Location: Vector3{X: 20, Y: -110, Z: 0}, Scale: 1.0},
			Visual: VisualHints{
				MeshPreset:         "SK_Colonist_Standard",
				AnimBlueprintClass: "ABP_Colonist",
				BehaviorTreeAsset:  "BT_Worker",
			},
			Psych: PsychState{WisdomScore: 0.42, TraumaScore: 0.3, RebellionProbability: 0.18,
				ConfidenceInDirector: 0.6, WorkEfficiency: 0.7, Morale: 0.65},
		},
	}
}
