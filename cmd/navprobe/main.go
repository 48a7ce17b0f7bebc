// navprobe runs one-off queries against a navigation engine and prints the
// answer as YAML.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/destromod/crowdnav/internal/config"
	"github.com/destromod/crowdnav/internal/nav"
	"github.com/destromod/crowdnav/internal/vmath"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const usage = `Usage: navprobe <service-url> <command> [args]

Commands:
  health
  nearest <x> <y> <z>
  los     <x1> <y1> <z1> <x2> <y2> <z2>
  path    <x1> <y1> <z1> <x2> <y2> <z2>`

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	out, err := probe(os.Args[1], os.Args[2], os.Args[3:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

func toPoint(v vmath.Vec3) point { return point{v[0], v[1], v[2]} }

func probe(url, cmd string, args []string) (map[string]any, error) {
	cfg := config.Defaults().Navigation
	cfg.ServiceURL = url
	cfg.RequestTimeout = 5 * time.Second
	c := nav.NewClient(cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Health(ctx); err != nil {
		if cmd == "health" {
			return map[string]any{"ready": false, "error": err.Error()}, nil
		}
		return nil, err
	}

	switch cmd {
	case "health":
		return map[string]any{"ready": true}, nil
	case "nearest":
		p, err := parseVecs(args, 1)
		if err != nil {
			return nil, err
		}
		pt, ok := c.ClosestNavPoint(ctx, p[0])
		if !ok {
			return map[string]any{"found": false}, nil
		}
		return map[string]any{"found": true, "point": toPoint(pt)}, nil
	case "los":
		p, err := parseVecs(args, 2)
		if err != nil {
			return nil, err
		}
		return map[string]any{"visible": c.HasLineOfSight(ctx, p[0], p[1])}, nil
	case "path":
		p, err := parseVecs(args, 2)
		if err != nil {
			return nil, err
		}
		path := c.FindPath(ctx, p[0], p[1])
		pts := make([]point, len(path))
		for i, v := range path {
			pts[i] = toPoint(v)
		}
		return map[string]any{"waypoints": len(pts), "path": pts}, nil
	}
	return nil, fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
}

func parseVecs(args []string, n int) ([]vmath.Vec3, error) {
	if len(args) != n*3 {
		return nil, fmt.Errorf("want %d coordinates, got %d", n*3, len(args))
	}
	out := make([]vmath.Vec3, n)
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %d: %w", i+1, err)
		}
		out[i/3][i%3] = f
	}
	return out, nil
}
