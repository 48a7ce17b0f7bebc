package main

import (
	"testing"

	"github.com/destromod/crowdnav/internal/nav/navtest"
	"github.com/destromod/crowdnav/internal/vmath"
)

func TestParseVecs(t *testing.T) {
	got, err := parseVecs([]string{"1", "2", "3", "-4", "5.5", "6"}, 2)
	if err != nil {
		t.Fatalf("parseVecs: %v", err)
	}
	if got[0] != (vmath.Vec3{1, 2, 3}) || got[1] != (vmath.Vec3{-4, 5.5, 6}) {
		t.Fatalf("got=%v", got)
	}
	if _, err := parseVecs([]string{"1", "2"}, 1); err == nil {
		t.Fatalf("expected arity error")
	}
	if _, err := parseVecs([]string{"1", "x", "3"}, 1); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestProbeCommands(t *testing.T) {
	eng := navtest.New()
	defer eng.Close()
	eng.SetPath([]vmath.Vec3{{0, 0, 0}, {5, 0, 5}})
	eng.SetLineOfSight(false)

	out, err := probe(eng.URL(), "health", nil)
	if err != nil || out["ready"] != true {
		t.Fatalf("health=%v err=%v", out, err)
	}
	out, err = probe(eng.URL(), "los", []string{"0", "0", "0", "1", "0", "1"})
	if err != nil || out["visible"] != false {
		t.Fatalf("los=%v err=%v", out, err)
	}
	out, err = probe(eng.URL(), "path", []string{"0", "0", "0", "5", "0", "5"})
	if err != nil || out["waypoints"] != 2 {
		t.Fatalf("path=%v err=%v", out, err)
	}
	out, err = probe(eng.URL(), "nearest", []string{"1", "2", "3"})
	if err != nil || out["point"] != (point{1, 2, 3}) {
		t.Fatalf("nearest=%v err=%v", out, err)
	}
	if _, err := probe(eng.URL(), "teleport", nil); err == nil {
		t.Fatalf("expected unknown command error")
	}
}
