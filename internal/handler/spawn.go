package handler

import (
	"fmt"

	"github.com/destromod/crowdnav/internal/data"
	"github.com/destromod/crowdnav/internal/vmath"
	"go.uber.org/zap"
)

// SpawnFromList creates the NPCs of a standalone spawn list. Ids are
// "<profile>-<n>", numbered per profile across entries. NPCs naming an
// unknown profile are counted in failed.
func SpawnFromList(deps *Deps, entries []data.SpawnEntry) (spawned, failed int) {
	seq := make(map[string]int)
	for _, e := range entries {
		count := e.Count
		if count <= 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			seq[e.Profile]++
			id := fmt.Sprintf("%s-%d", e.Profile, seq[e.Profile])
			pos := vmath.Vec3{e.X + jitter(deps, e.Spread), e.Y, e.Z + jitter(deps, e.Spread)}
			if _, err := SpawnNpc(deps, id, e.Profile, pos); err != nil {
				deps.Log.Warn("spawn list entry rejected", zap.String("npc", id), zap.Error(err))
				failed++
				continue
			}
			spawned++
		}
	}
	return spawned, failed
}

func jitter(deps *Deps, spread float64) float64 {
	if spread <= 0 {
		return 0
	}
	return (deps.Rng.Float64()*2 - 1) * spread
}
