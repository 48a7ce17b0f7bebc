package system

import (
	"context"
	"time"

	coresys "github.com/destromod/crowdnav/internal/core/system"
	"github.com/destromod/crowdnav/internal/crowd"
)

// CrowdTickSystem advances admitted agents once per tick after the AI has
// issued its targets. Phase 3 (PostUpdate).
type CrowdTickSystem struct {
	driver  *crowd.Driver
	emitted int
}

func NewCrowdTickSystem(driver *crowd.Driver) *CrowdTickSystem {
	return &CrowdTickSystem{driver: driver}
}

func (s *CrowdTickSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *CrowdTickSystem) Update(_ time.Duration) {
	s.emitted += s.driver.Tick(context.Background())
}

// Emitted returns the total movement events produced so far.
func (s *CrowdTickSystem) Emitted() int { return s.emitted }
