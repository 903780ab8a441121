package npc

import (
	"time"
)

// ManifestVersion identifies the spawn manifest schema.
const ManifestVersion = "1.2.0"

// SpawnManifest is the full roster export consumed by game clients at
// level load.
type SpawnManifest struct {
	Version     string      `json:"version"`
	GeneratedAt string      `json:"generatedAt"`
	NPCCount    int         `json:"npcCount"`
	NPCs        []Character `json:"npcs"`
}

// BuildManifest snapshots the catalogue into a manifest.
func BuildManifest(catalog *Catalog) SpawnManifest {
	characters := catalog.All()
	return SpawnManifest{
		Version:     ManifestVersion,
		GeneratedAt: time.Now().Format(time.RFC3339),
		NPCCount:    len(characters),
		NPCs:        characters,
	}
}
