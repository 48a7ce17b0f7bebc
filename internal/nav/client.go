// Package nav talks to the external navigation engine: a loopback HTTP
// service wrapping a navigation mesh and its crowd simulation. Every call is
// a JSON POST with its own deadline; nothing is cached locally.
package nav

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/destromod/crowdnav/internal/config"
	"github.com/destromod/crowdnav/internal/vmath"
	"go.uber.org/zap"
)

var (
	// ErrInvalidInput marks a request rejected locally; it never reached the engine.
	ErrInvalidInput = errors.New("nav: invalid input")
	// ErrRejected means the engine answered but reported success=false.
	ErrRejected = errors.New("nav: rejected by engine")
	// ErrNotReady is returned until a health probe has succeeded.
	ErrNotReady = errors.New("nav: engine not ready")
)

const maxResponseBytes = 1 << 20

// MaxTransportFailures consecutive requests that never got an HTTP answer
// clear the ready flag until the next successful health probe.
const MaxTransportFailures = 8

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	log     *zap.Logger
	ready   atomic.Bool
	failed  atomic.Int32 // consecutive transport failures
}

func NewClient(cfg config.NavigationConfig, log *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.ServiceURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout: timeout,
		log:     log.With(zap.String("component", "nav")),
	}
}

// Ready reports whether the engine has answered a health probe.
func (c *Client) Ready() bool { return c.ready.Load() }

// Health probes POST /health and updates the ready flag.
func (c *Client) Health(ctx context.Context) error {
	if err := c.post(ctx, "/health", nil, nil); err != nil {
		c.ready.Store(false)
		return fmt.Errorf("health: %w", err)
	}
	c.failed.Store(0)
	c.ready.Store(true)
	return nil
}

// WaitHealthy retries Health until it succeeds, attempts run out or ctx ends.
func (c *Client) WaitHealthy(ctx context.Context, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = c.Health(ctx); lastErr == nil {
			return nil
		}
		c.log.Warn("navigation engine not responding",
			zap.Int("attempt", i+1),
			zap.Int("of", attempts),
			zap.Error(lastErr),
		)
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

type pointBody struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type segmentBody struct {
	Start vmath.Vec3 `json:"start"`
	End   vmath.Vec3 `json:"end"`
}

type agentBody struct {
	NpcID string `json:"npcId"`
}

type addAgentBody struct {
	NpcID string  `json:"npcId"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

type targetBody struct {
	NpcID  string     `json:"npcId"`
	Target vmath.Vec3 `json:"target"`
}

type forceStopBody struct {
	NpcID      string  `json:"npcId"`
	BrakeForce float64 `json:"brakeForce"`
}

type statusResponse struct {
	Success *bool `json:"success"`
}

type losResponse struct {
	Success        bool `json:"success"`
	HasLineOfSight bool `json:"hasLineOfSight"`
}

type closestResponse struct {
	Success bool       `json:"success"`
	Point   *pointBody `json:"point"`
}

type atTargetResponse struct {
	Success  bool `json:"success"`
	AtTarget bool `json:"atTarget"`
}

type positionResponse struct {
	Success  bool        `json:"success"`
	Position *vmath.Vec3 `json:"position"`
}

type velocityResponse struct {
	Success  bool        `json:"success"`
	Velocity *vmath.Vec3 `json:"velocity"`
}

type pathResponse struct {
	Success bool         `json:"success"`
	Path    []vmath.Vec3 `json:"path"`
}

// HasLineOfSight fails open: any local or remote failure reports visible so
// AI decisions never stall on the engine.
func (c *Client) HasLineOfSight(ctx context.Context, from, to vmath.Vec3) bool {
	if !from.Finite() || !to.Finite() {
		c.log.Debug("line of sight: non-finite input", zap.Any("from", from), zap.Any("to", to))
		return true
	}
	if !c.Ready() {
		return true
	}
	var resp losResponse
	if err := c.post(ctx, "/hasLineOfSight", segmentBody{Start: from, End: to}, &resp); err != nil {
		c.log.Debug("line of sight check failed", zap.Error(err))
		return true
	}
	if !resp.Success {
		return true
	}
	return resp.HasLineOfSight
}

// ClosestNavPoint returns the nearest navigable point, or false when none is
// within the engine's search extents or the call failed.
func (c *Client) ClosestNavPoint(ctx context.Context, p vmath.Vec3) (vmath.Vec3, bool) {
	if !p.Finite() {
		c.log.Debug("closest nav point: non-finite input", zap.Any("pos", p))
		return vmath.Vec3{}, false
	}
	if !c.Ready() {
		return vmath.Vec3{}, false
	}
	var resp closestResponse
	if err := c.post(ctx, "/getClosestNavPoint", pointBody{X: p[0], Y: p[1], Z: p[2]}, &resp); err != nil {
		c.log.Debug("closest nav point failed", zap.Error(err))
		return vmath.Vec3{}, false
	}
	if !resp.Success || resp.Point == nil {
		return vmath.Vec3{}, false
	}
	pt := vmath.Vec3{resp.Point.X, resp.Point.Y, resp.Point.Z}
	if !pt.Finite() {
		return vmath.Vec3{}, false
	}
	return pt, true
}

// FindPath asks for a waypoint path from a to b. An empty result means no
// path exists or the query failed.
func (c *Client) FindPath(ctx context.Context, a, b vmath.Vec3) []vmath.Vec3 {
	if !a.Finite() || !b.Finite() || !c.Ready() {
		return nil
	}
	var resp pathResponse
	if err := c.post(ctx, "/testNavMesh", segmentBody{Start: a, End: b}, &resp); err != nil {
		c.log.Debug("path query failed", zap.Error(err))
		return nil
	}
	if !resp.Success {
		return nil
	}
	return resp.Path
}

func (c *Client) AddAgent(ctx context.Context, id string, pos vmath.Vec3) error {
	if id == "" || !pos.Finite() {
		return fmt.Errorf("add agent %q: %w", id, ErrInvalidInput)
	}
	return c.agentCall(ctx, "/addAggroedNPC", addAgentBody{NpcID: id, X: pos[0], Y: pos[1], Z: pos[2]}, true)
}

func (c *Client) RemoveAgent(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("remove agent: %w", ErrInvalidInput)
	}
	return c.agentCall(ctx, "/removeAggroedNPC", agentBody{NpcID: id}, true)
}

// SetTarget rejects non-finite targets before any request is built.
func (c *Client) SetTarget(ctx context.Context, id string, target vmath.Vec3) error {
	if id == "" || !target.Finite() {
		return fmt.Errorf("set target %q %v: %w", id, target, ErrInvalidInput)
	}
	return c.agentCall(ctx, "/setNPCTarget", targetBody{NpcID: id, Target: target}, true)
}

func (c *Client) Stop(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("stop: %w", ErrInvalidInput)
	}
	return c.agentCall(ctx, "/stopNPC", agentBody{NpcID: id}, false)
}

func (c *Client) ForceStop(ctx context.Context, id string, brakeForce float64) error {
	if id == "" || brakeForce <= 0 {
		return fmt.Errorf("force stop %q: %w", id, ErrInvalidInput)
	}
	return c.agentCall(ctx, "/forceStopNPC", forceStopBody{NpcID: id, BrakeForce: brakeForce}, false)
}

func (c *Client) AtTarget(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("at target: %w", ErrInvalidInput)
	}
	if !c.Ready() {
		return false, ErrNotReady
	}
	var resp atTargetResponse
	if err := c.post(ctx, "/isAgentAtTarget", agentBody{NpcID: id}, &resp); err != nil {
		return false, fmt.Errorf("at target %s: %w", id, err)
	}
	if !resp.Success {
		return false, fmt.Errorf("at target %s: %w", id, ErrRejected)
	}
	return resp.AtTarget, nil
}

func (c *Client) AgentPosition(ctx context.Context, id string) (vmath.Vec3, error) {
	if id == "" {
		return vmath.Vec3{}, fmt.Errorf("agent position: %w", ErrInvalidInput)
	}
	if !c.Ready() {
		return vmath.Vec3{}, ErrNotReady
	}
	var resp positionResponse
	if err := c.post(ctx, "/getAgentPosition", agentBody{NpcID: id}, &resp); err != nil {
		return vmath.Vec3{}, fmt.Errorf("agent position %s: %w", id, err)
	}
	if !resp.Success || resp.Position == nil || !resp.Position.Finite() {
		return vmath.Vec3{}, fmt.Errorf("agent position %s: %w", id, ErrRejected)
	}
	return *resp.Position, nil
}

func (c *Client) AgentVelocity(ctx context.Context, id string) (vmath.Vec3, error) {
	if id == "" {
		return vmath.Vec3{}, fmt.Errorf("agent velocity: %w", ErrInvalidInput)
	}
	if !c.Ready() {
		return vmath.Vec3{}, ErrNotReady
	}
	var resp velocityResponse
	if err := c.post(ctx, "/getAgentVelocity", agentBody{NpcID: id}, &resp); err != nil {
		return vmath.Vec3{}, fmt.Errorf("agent velocity %s: %w", id, err)
	}
	if !resp.Success || resp.Velocity == nil || !resp.Velocity.Finite() {
		return vmath.Vec3{}, fmt.Errorf("agent velocity %s: %w", id, ErrRejected)
	}
	return *resp.Velocity, nil
}

// agentCall posts a command whose reply is only a success flag. Stop style
// endpoints answer {} so an absent flag counts as success unless strict.
func (c *Client) agentCall(ctx context.Context, path string, body any, strict bool) error {
	if !c.Ready() {
		return ErrNotReady
	}
	var resp statusResponse
	if err := c.post(ctx, path, body, &resp); err != nil {
		return fmt.Errorf("%s: %w", strings.TrimPrefix(path, "/"), err)
	}
	if resp.Success == nil {
		if strict {
			return fmt.Errorf("%s: %w", strings.TrimPrefix(path, "/"), ErrRejected)
		}
		return nil
	}
	if !*resp.Success {
		return fmt.Errorf("%s: %w", strings.TrimPrefix(path, "/"), ErrRejected)
	}
	return nil
}

func (c *Client) transportFailed(path string, err error) {
	if c.failed.Add(1) < MaxTransportFailures {
		return
	}
	if c.ready.CompareAndSwap(true, false) {
		c.log.Warn("navigation engine unreachable, marking not ready",
			zap.String("path", path),
			zap.Int("failures", MaxTransportFailures),
			zap.Error(err))
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader = http.NoBody
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.transportFailed(path, err)
		return err
	}
	c.failed.Store(0)
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
