package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for AI decisions.
// Single-goroutine access only (game loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
// A missing directory is not an error; every call then uses the Go fallback.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	for _, sub := range []string{"core", "ai"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source, replacing any globals it defines.
func (e *Engine) LoadString(src string) error {
	if err := e.vm.DoString(src); err != nil {
		return fmt.Errorf("load lua chunk: %w", err)
	}
	return nil
}

// HasFunc reports whether a global Lua function is defined.
func (e *Engine) HasFunc(name string) bool {
	_, ok := e.vm.GetGlobal(name).(*lua.LFunction)
	return ok
}

// DecideContext holds pre-packed data for one NPC's state decision.
// Distances are zero when HasTarget is false.
type DecideContext struct {
	Kind         string // "zombie" or "human"
	State        string // current AI state name
	HasTarget    bool
	Distance     float64 // 3D distance to the closest eligible player
	Vertical     float64 // absolute Y difference to that player
	AggroRadius  float64
	AttackRadius float64
	ShootRadius  float64
	MaxVertical  float64
	Enraged      bool
}

// DecideState calls Lua decide_state(ctx) and returns the new AI state name.
// Falls back to FallbackState when the function is missing, errors, or
// returns something other than a string.
func (e *Engine) DecideState(ctx DecideContext) string {
	fn := e.vm.GetGlobal("decide_state")
	if fn == lua.LNil {
		return FallbackState(ctx)
	}

	t := e.vm.NewTable()
	t.RawSetString("kind", lua.LString(ctx.Kind))
	t.RawSetString("state", lua.LString(ctx.State))
	t.RawSetString("has_target", lua.LBool(ctx.HasTarget))
	t.RawSetString("distance", lua.LNumber(ctx.Distance))
	t.RawSetString("vertical", lua.LNumber(ctx.Vertical))
	t.RawSetString("aggro_radius", lua.LNumber(ctx.AggroRadius))
	t.RawSetString("attack_radius", lua.LNumber(ctx.AttackRadius))
	t.RawSetString("shoot_radius", lua.LNumber(ctx.ShootRadius))
	t.RawSetString("max_vertical", lua.LNumber(ctx.MaxVertical))
	t.RawSetString("enraged", lua.LBool(ctx.Enraged))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua decide_state error", zap.Error(err))
		return FallbackState(ctx)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	s, ok := result.(lua.LString)
	if !ok {
		e.log.Error("lua decide_state returned non-string", zap.String("type", result.Type().String()))
		return FallbackState(ctx)
	}
	return string(s)
}

// FallbackState is the built-in decision used when no script is loaded.
func FallbackState(ctx DecideContext) string {
	if !ctx.HasTarget || ctx.Vertical > ctx.MaxVertical {
		return "IDLE"
	}
	switch ctx.Kind {
	case "human":
		if ctx.Distance <= ctx.ShootRadius {
			return "SHOOTING"
		}
	default:
		if ctx.Distance <= ctx.AttackRadius {
			return "ATTACKING"
		}
	}
	if ctx.Distance <= ctx.AggroRadius {
		return "CHASING"
	}
	return "IDLE"
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
