// Package navtest serves an in-memory stand-in for the navigation engine
// over httptest. It records every call so tests can assert on traffic.
package navtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/destromod/crowdnav/internal/vmath"
)

// Agent is the engine-side view of one crowd agent.
type Agent struct {
	Position   vmath.Vec3
	Velocity   vmath.Vec3
	Target     vmath.Vec3
	HasTarget  bool
	AtTarget   bool
	Stopped    bool
	BrakeForce float64
}

type Engine struct {
	srv *httptest.Server

	mu        sync.Mutex
	calls     map[string]int
	bodies    map[string][]byte
	agents    map[string]*Agent
	failures  map[string]int
	delays    map[string]time.Duration
	rejectAdd bool
	los       bool
	path      []vmath.Vec3
	navPoint  func(vmath.Vec3) (vmath.Vec3, bool)
}

// New starts the fake engine. Callers must Close it.
func New() *Engine {
	e := &Engine{
		calls:    make(map[string]int),
		bodies:   make(map[string][]byte),
		agents:   make(map[string]*Agent),
		failures: make(map[string]int),
		delays:   make(map[string]time.Duration),
		los:      true,
		navPoint: func(p vmath.Vec3) (vmath.Vec3, bool) { return p, true },
	}
	e.srv = httptest.NewServer(http.HandlerFunc(e.serve))
	return e
}

func (e *Engine) URL() string { return e.srv.URL }
func (e *Engine) Close()      { e.srv.Close() }

// Calls returns how many requests hit path (e.g. "/addAggroedNPC").
func (e *Engine) Calls(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[path]
}

// TotalCalls counts every request except health probes.
func (e *Engine) TotalCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for p, c := range e.calls {
		if p != "/health" {
			n += c
		}
	}
	return n
}

// LastBody returns the raw JSON of the most recent request to path.
func (e *Engine) LastBody(path string) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.bodies[path]...)
}

func (e *Engine) Agent(id string) (Agent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

func (e *Engine) AgentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.agents)
}

// SetAgentMotion overrides what the engine reports for an existing agent.
func (e *Engine) SetAgentMotion(id string, pos, vel vmath.Vec3, atTarget bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[id]
	if !ok {
		return
	}
	a.Position = pos
	a.Velocity = vel
	a.AtTarget = atTarget
}

// Fail makes path answer with the given HTTP status; 0 clears it.
func (e *Engine) Fail(path string, status int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if status == 0 {
		delete(e.failures, path)
		return
	}
	e.failures[path] = status
}

// Delay holds responses on path for d (or until the client gives up).
func (e *Engine) Delay(path string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delays[path] = d
}

func (e *Engine) RejectAdd(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejectAdd = v
}

func (e *Engine) SetLineOfSight(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.los = v
}

func (e *Engine) SetPath(p []vmath.Vec3) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.path = p
}

// SetNavPoint replaces the nearest-navigable-point projection.
func (e *Engine) SetNavPoint(fn func(vmath.Vec3) (vmath.Vec3, bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.navPoint = fn
}

type request struct {
	NpcID      string      `json:"npcId"`
	X          float64     `json:"x"`
	Y          float64     `json:"y"`
	Z          float64     `json:"z"`
	Start      vmath.Vec3  `json:"start"`
	End        vmath.Vec3  `json:"end"`
	Target     *vmath.Vec3 `json:"target"`
	BrakeForce float64     `json:"brakeForce"`
}

func (e *Engine) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	e.mu.Lock()
	e.calls[r.URL.Path]++
	e.bodies[r.URL.Path] = body
	status := e.failures[r.URL.Path]
	delay := e.delays[r.URL.Path]
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		http.Error(w, "injected failure", status)
		return
	}

	var req request
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	e.mu.Lock()
	resp := e.handle(r.URL.Path, req)
	e.mu.Unlock()

	if resp == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handle runs with e.mu held.
func (e *Engine) handle(path string, req request) map[string]any {
	switch path {
	case "/health":
		return map[string]any{"status": "ok"}
	case "/hasLineOfSight":
		return map[string]any{"success": true, "hasLineOfSight": e.los}
	case "/getClosestNavPoint":
		p, ok := e.navPoint(vmath.Vec3{req.X, req.Y, req.Z})
		if !ok {
			return map[string]any{"success": false}
		}
		return map[string]any{"success": true, "point": map[string]float64{"x": p[0], "y": p[1], "z": p[2]}}
	case "/addAggroedNPC":
		if e.rejectAdd {
			return map[string]any{"success": false}
		}
		e.agents[req.NpcID] = &Agent{Position: vmath.Vec3{req.X, req.Y, req.Z}}
		return map[string]any{"success": true}
	case "/removeAggroedNPC":
		_, ok := e.agents[req.NpcID]
		delete(e.agents, req.NpcID)
		return map[string]any{"success": ok}
	case "/setNPCTarget":
		a, ok := e.agents[req.NpcID]
		if !ok || req.Target == nil {
			return map[string]any{"success": false}
		}
		a.Target = *req.Target
		a.HasTarget = true
		a.AtTarget = false
		a.Stopped = false
		return map[string]any{"success": true}
	case "/stopNPC":
		if a, ok := e.agents[req.NpcID]; ok {
			a.Stopped = true
			a.Velocity = vmath.Vec3{}
		}
		return map[string]any{}
	case "/forceStopNPC":
		if a, ok := e.agents[req.NpcID]; ok {
			a.Stopped = true
			a.BrakeForce = req.BrakeForce
			a.Velocity = vmath.Vec3{}
		}
		return map[string]any{}
	case "/isAgentAtTarget":
		a, ok := e.agents[req.NpcID]
		if !ok {
			return map[string]any{"success": false}
		}
		return map[string]any{"success": true, "atTarget": a.AtTarget}
	case "/getAgentPosition":
		a, ok := e.agents[req.NpcID]
		if !ok {
			return map[string]any{"success": false}
		}
		return map[string]any{"success": true, "position": a.Position}
	case "/getAgentVelocity":
		a, ok := e.agents[req.NpcID]
		if !ok {
			return map[string]any{"success": false}
		}
		return map[string]any{"success": true, "velocity": a.Velocity}
	case "/testNavMesh":
		if len(e.path) == 0 {
			return map[string]any{"success": false, "path": []vmath.Vec3{}}
		}
		return map[string]any{"success": true, "path": e.path}
	}
	return nil
}
