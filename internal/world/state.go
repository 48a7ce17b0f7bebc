package world

import (
	"sync"
	"time"

	"github.com/destromod/crowdnav/internal/crowd"
	"github.com/destromod/crowdnav/internal/vmath"
)

// PlayerInfo is the host's latest report about one player.
// Accessed only from the game loop goroutine.
type PlayerInfo struct {
	ID       string
	Position vmath.Vec3
	Alive    bool
	ReadyAt  time.Time // when the player finished loading in; zero means long ago
}

// InGrace reports whether the player joined less than grace ago.
func (p *PlayerInfo) InGrace(now time.Time, grace time.Duration) bool {
	return !p.ReadyAt.IsZero() && now.Sub(p.ReadyAt) < grace
}

// State tracks every NPC and player the host feed reported.
// The maps are guarded so crowd workers can resolve NPC ids; everything
// else runs on the game loop.
type State struct {
	mu      sync.RWMutex
	npcs    map[string]*NpcInfo
	npcList []*NpcInfo // spawn order, for deterministic AI iteration
	players map[string]*PlayerInfo
	aoi     *AOIGrid

	aoiBuf []string
}

var _ crowd.Directory = (*State)(nil)

func NewState() *State {
	return &State{
		npcs:    make(map[string]*NpcInfo),
		players: make(map[string]*PlayerInfo),
		aoi:     NewAOIGrid(),
	}
}

// --- NPC methods ---

// AddNpc registers an NPC. An existing NPC with the same id is replaced.
func (s *State) AddNpc(npc *NpcInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.npcs[npc.CharacterID]; ok {
		s.removeNpcLocked(npc.CharacterID)
	}
	s.npcs[npc.CharacterID] = npc
	s.npcList = append(s.npcList, npc)
}

// RemoveNpc forgets an NPC and returns it, or nil if unknown.
func (s *State) RemoveNpc(id string) *NpcInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeNpcLocked(id)
}

func (s *State) removeNpcLocked(id string) *NpcInfo {
	npc, ok := s.npcs[id]
	if !ok {
		return nil
	}
	delete(s.npcs, id)
	for i, n := range s.npcList {
		if n == npc {
			s.npcList = append(s.npcList[:i], s.npcList[i+1:]...)
			break
		}
	}
	return npc
}

// GetNpc returns an NPC by id, or nil.
func (s *State) GetNpc(id string) *NpcInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.npcs[id]
}

// Npc implements crowd.Directory.
func (s *State) Npc(id string) (crowd.NPC, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	npc, ok := s.npcs[id]
	if !ok {
		return nil, false
	}
	return npc, true
}

// Npcs returns a snapshot of all NPCs in spawn order.
func (s *State) Npcs() []*NpcInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*NpcInfo(nil), s.npcList...)
}

func (s *State) NpcCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.npcs)
}

// NearbyNpcs returns live NPCs of kind within radius of p, excluding exclude.
func (s *State) NearbyNpcs(p vmath.Vec3, radius float64, kind AIKind, exclude string) []*NpcInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*NpcInfo
	for _, n := range s.npcList {
		if n.CharacterID == exclude || n.Kind != kind || !n.Alive() {
			continue
		}
		if vmath.Distance(p, n.Position()) <= radius {
			out = append(out, n)
		}
	}
	return out
}

// --- Player methods ---

// UpsertPlayer records a player report, adding the player on first sight.
func (s *State) UpsertPlayer(id string, pos vmath.Vec3, alive bool, readyAt time.Time) *PlayerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		p = &PlayerInfo{ID: id, Position: pos, Alive: alive, ReadyAt: readyAt}
		s.players[id] = p
		s.aoi.Add(id, pos)
		return p
	}
	s.aoi.Move(id, p.Position, pos)
	p.Position = pos
	p.Alive = alive
	if !readyAt.IsZero() {
		p.ReadyAt = readyAt
	}
	return p
}

// RemovePlayer forgets a player and returns it, or nil if unknown.
func (s *State) RemovePlayer(id string) *PlayerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return nil
	}
	s.aoi.Remove(id, p.Position)
	delete(s.players, id)
	return p
}

func (s *State) GetPlayer(id string) *PlayerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players[id]
}

func (s *State) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// NearbyPlayers returns players within radius (3D distance) of p, nearest
// first. Dead players are included; callers filter.
func (s *State) NearbyPlayers(p vmath.Vec3, radius float64) []*PlayerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aoiBuf = s.aoi.NearbyInto(p, radius, s.aoiBuf)
	out := make([]*PlayerInfo, 0, len(s.aoiBuf))
	for _, id := range s.aoiBuf {
		pl := s.players[id]
		if pl == nil {
			continue
		}
		if vmath.Distance(p, pl.Position) <= radius {
			out = append(out, pl)
		}
	}
	sortByDistance(out, p)
	return out
}

func sortByDistance(ps []*PlayerInfo, from vmath.Vec3) {
	// insertion sort: candidate lists are short
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0; j-- {
			dj := vmath.Distance(from, ps[j].Position)
			dk := vmath.Distance(from, ps[j-1].Position)
			if dj < dk || (dj == dk && ps[j].ID < ps[j-1].ID) {
				ps[j], ps[j-1] = ps[j-1], ps[j]
				continue
			}
			break
		}
	}
}
