package system

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
	sleep time.Duration
}

func (r *recorder) Phase() Phase { return r.phase }

func (r *recorder) Update(time.Duration) {
	time.Sleep(r.sleep)
	*r.log = append(*r.log, r.name)
}

func TestRunnerPhaseOrder(t *testing.T) {
	var got []string
	r := NewRunner(zap.NewNop(), 0)
	r.Register(&recorder{name: "out", phase: PhaseOutput, log: &got})
	r.Register(&recorder{name: "ai", phase: PhaseUpdate, log: &got})
	r.Register(&recorder{name: "crowd", phase: PhasePostUpdate, log: &got})
	r.Register(&recorder{name: "sweep", phase: PhasePostUpdate, log: &got})
	r.Register(&recorder{name: "in", phase: PhaseInput, log: &got})

	r.Tick(50 * time.Millisecond)
	want := []string{"in", "ai", "crowd", "sweep", "out"}
	if len(got) != len(want) {
		t.Fatalf("ran %v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ran %v want=%v", got, want)
		}
	}
}

func TestRunnerTickPhase(t *testing.T) {
	var got []string
	r := NewRunner(zap.NewNop(), 0)
	r.Register(&recorder{name: "ai", phase: PhaseUpdate, log: &got})
	r.Register(&recorder{name: "in", phase: PhaseInput, log: &got})
	r.TickPhase(PhaseInput, 0)
	if len(got) != 1 || got[0] != "in" {
		t.Fatalf("ran %v want=[in]", got)
	}
}

func TestRunnerLogsSlowSystem(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	var got []string
	r := NewRunner(zap.New(core), time.Millisecond)
	r.Register(&recorder{name: "slow", phase: PhaseUpdate, log: &got, sleep: 10 * time.Millisecond})
	r.Register(&recorder{name: "fast", phase: PhaseOutput, log: &got})
	r.Tick(0)

	entries := logs.FilterMessage("slow system").All()
	if len(entries) != 1 {
		t.Fatalf("slow system logs=%d want=1", len(entries))
	}
	if p := entries[0].ContextMap()["phase"]; p != "update" {
		t.Fatalf("phase field=%v want=update", p)
	}
}
