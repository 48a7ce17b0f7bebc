package crowd

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/destromod/crowdnav/internal/config"
	"github.com/destromod/crowdnav/internal/core/event"
	"github.com/destromod/crowdnav/internal/nav"
	"github.com/destromod/crowdnav/internal/vmath"
	"go.uber.org/zap"
)

type fakeAgent struct {
	pos, vel vmath.Vec3
	atTarget bool
}

// fakeEngine is an in-process Engine that counts calls per method.
type fakeEngine struct {
	mu        sync.Mutex
	ready     bool
	calls     map[string]int
	agents    map[string]*fakeAgent
	navPoint  func(vmath.Vec3) (vmath.Vec3, bool)
	addErr    error
	addHook   func(id string) // runs before add returns, lock not held
	queryErr  error
	posErr    error           // next position read fails once
	velHook   func(id string) // runs inside a velocity read, lock not held
	ghosts    bool            // removed agents keep answering queries
	lastAdd   map[string]vmath.Vec3
	lastBrake float64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		ready:    true,
		calls:    make(map[string]int),
		agents:   make(map[string]*fakeAgent),
		lastAdd:  make(map[string]vmath.Vec3),
		navPoint: func(p vmath.Vec3) (vmath.Vec3, bool) { return p, true },
	}
}

func (f *fakeEngine) count(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeEngine) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeEngine) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeEngine) HasAgent(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.agents[id]
	return ok
}

func (f *fakeEngine) setMotion(id string, pos, vel vmath.Vec3, at bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.agents[id]; ok {
		a.pos, a.vel, a.atTarget = pos, vel, at
	}
}

func (f *fakeEngine) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeEngine) ClosestNavPoint(_ context.Context, p vmath.Vec3) (vmath.Vec3, bool) {
	f.count("closest")
	f.mu.Lock()
	fn := f.navPoint
	f.mu.Unlock()
	return fn(p)
}

func (f *fakeEngine) AddAgent(_ context.Context, id string, pos vmath.Vec3) error {
	f.count("add")
	f.mu.Lock()
	hook := f.addHook
	err := f.addErr
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[id] = &fakeAgent{pos: pos}
	f.lastAdd[id] = pos
	return nil
}

func (f *fakeEngine) RemoveAgent(_ context.Context, id string) error {
	f.count("remove")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.agents[id]; !ok {
		return fmt.Errorf("removeAggroedNPC: %w", nav.ErrRejected)
	}
	if !f.ghosts {
		delete(f.agents, id)
	}
	return nil
}

func (f *fakeEngine) SetTarget(_ context.Context, id string, target vmath.Vec3) error {
	if !target.Finite() {
		return nav.ErrInvalidInput
	}
	f.count("setTarget")
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return nav.ErrRejected
	}
	a.atTarget = false
	return nil
}

func (f *fakeEngine) Stop(_ context.Context, id string) error {
	f.count("stop")
	return nil
}

func (f *fakeEngine) ForceStop(_ context.Context, id string, brake float64) error {
	f.count("forceStop")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBrake = brake
	if a, ok := f.agents[id]; ok {
		a.vel = vmath.Vec3{}
	}
	return nil
}

func (f *fakeEngine) AtTarget(_ context.Context, id string) (bool, error) {
	f.count("atTarget")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return false, f.queryErr
	}
	a, ok := f.agents[id]
	if !ok {
		return false, nav.ErrRejected
	}
	return a.atTarget, nil
}

func (f *fakeEngine) AgentPosition(_ context.Context, id string) (vmath.Vec3, error) {
	f.count("position")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return vmath.Vec3{}, f.queryErr
	}
	if err := f.posErr; err != nil {
		f.posErr = nil
		return vmath.Vec3{}, err
	}
	a, ok := f.agents[id]
	if !ok {
		return vmath.Vec3{}, nav.ErrRejected
	}
	return a.pos, nil
}

func (f *fakeEngine) AgentVelocity(_ context.Context, id string) (vmath.Vec3, error) {
	f.count("velocity")
	f.mu.Lock()
	if f.queryErr != nil {
		f.mu.Unlock()
		return vmath.Vec3{}, f.queryErr
	}
	a, ok := f.agents[id]
	var vel vmath.Vec3
	if ok {
		vel = a.vel
	}
	hook := f.velHook
	f.mu.Unlock()
	if !ok {
		return vmath.Vec3{}, nav.ErrRejected
	}
	if hook != nil {
		hook(id)
	}
	return vel, nil
}

type fakeNPC struct {
	mu          sync.Mutex
	id          string
	pos         vmath.Vec3
	alive       bool
	aggroed     bool
	orientation float64
	speed       float64
	aggroedHook func() // runs once, after the flag is read
}

func newFakeNPC(id string, pos vmath.Vec3) *fakeNPC {
	return &fakeNPC{id: id, pos: pos, alive: true}
}

func (n *fakeNPC) ID() string { return n.id }

func (n *fakeNPC) Position() vmath.Vec3 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pos
}

func (n *fakeNPC) SetPosition(p vmath.Vec3) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pos = p
}

func (n *fakeNPC) Alive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.alive
}

func (n *fakeNPC) kill() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alive = false
}

func (n *fakeNPC) Aggroed() bool {
	n.mu.Lock()
	v, hook := n.aggroed, n.aggroedHook
	n.aggroedHook = nil
	n.mu.Unlock()
	if hook != nil {
		hook()
	}
	return v
}

func (n *fakeNPC) onAggroed(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.aggroedHook = fn
}

func (n *fakeNPC) SetAggroed(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.aggroed = v
}

func (n *fakeNPC) Orientation() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.orientation
}

func (n *fakeNPC) LastSentSpeed() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.speed
}

func (n *fakeNPC) SetMotion(orientation, speed float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orientation, n.speed = orientation, speed
}

type fakeDir struct {
	mu   sync.Mutex
	npcs map[string]*fakeNPC
}

func newFakeDir() *fakeDir { return &fakeDir{npcs: make(map[string]*fakeNPC)} }

func (d *fakeDir) add(n *fakeNPC) *fakeNPC {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.npcs[n.id] = n
	return n
}

func (d *fakeDir) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.npcs, id)
}

func (d *fakeDir) Npc(id string) (NPC, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.npcs[id]
	if !ok {
		return nil, false
	}
	return n, true
}

type recordingEmitter struct {
	events []MovementEvent
}

func (r *recordingEmitter) EmitMovement(ev MovementEvent) { r.events = append(r.events, ev) }

func (r *recordingEmitter) count(id string) int {
	n := 0
	for _, ev := range r.events {
		if ev.NpcID == id {
			n++
		}
	}
	return n
}

type recordingReach struct {
	reached []string
}

func (r *recordingReach) TargetReached(npc NPC) { r.reached = append(r.reached, npc.ID()) }

type fixture struct {
	eng   *fakeEngine
	dir   *fakeDir
	bus   *event.Bus
	mgr   *Manager
	drv   *Driver
	out   *recordingEmitter
	reach *recordingReach
}

func testCrowdConfig(maxAgents int) config.CrowdConfig {
	return config.CrowdConfig{
		MaxAgents:       maxAgents,
		CleanupInterval: time.Minute,
		BrakeForce:      10,
		SpeedThreshold:  0.1,
		CycleTimeout:    time.Second,
		MaxParallel:     4,
	}
}

func newFixture(t *testing.T, maxAgents int) *fixture {
	t.Helper()
	f := &fixture{
		eng:   newFakeEngine(),
		dir:   newFakeDir(),
		bus:   event.NewBus(),
		out:   &recordingEmitter{},
		reach: &recordingReach{},
	}
	cfg := testCrowdConfig(maxAgents)
	f.mgr = NewManager(cfg, f.eng, f.dir, f.bus, zap.NewNop())
	f.drv = NewDriver(cfg, f.mgr, f.out, f.reach, zap.NewNop())
	return f
}

func (f *fixture) spawn(id string, pos vmath.Vec3) *fakeNPC {
	return f.dir.add(newFakeNPC(id, pos))
}
