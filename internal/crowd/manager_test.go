package crowd

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/destromod/crowdnav/internal/core/event"
	"github.com/destromod/crowdnav/internal/nav"
	"github.com/destromod/crowdnav/internal/vmath"
)

func TestAdmitSnapsToNavigablePoint(t *testing.T) {
	f := newFixture(t, 4)
	f.eng.navPoint = func(p vmath.Vec3) (vmath.Vec3, bool) { return vmath.Vec3{p[0], 0, p[2]}, true }
	npc := f.spawn("z1", vmath.Vec3{3, 7, 4})

	if !f.mgr.Admit(context.Background(), npc) {
		t.Fatalf("Admit returned false")
	}
	want := vmath.Vec3{3, 0, 4}
	if got := npc.Position(); got != want {
		t.Fatalf("npc position=%v want=%v", got, want)
	}
	if got := f.eng.lastAdd["z1"]; got != want {
		t.Fatalf("engine add position=%v want=%v", got, want)
	}
	if !npc.Aggroed() {
		t.Fatalf("aggro flag not set")
	}
	if st := f.mgr.Stats(); st.ActiveCount != 1 || st.Admissions != 1 || st.Free != 3 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestAdmitTwiceKeepsAdmittedAt(t *testing.T) {
	f := newFixture(t, 4)
	npc := f.spawn("z1", vmath.Vec3{})
	f.mgr.Admit(context.Background(), npc)
	before, _ := f.mgr.Pool().Record("z1")

	if f.mgr.Admit(context.Background(), npc) {
		t.Fatalf("second Admit returned true")
	}
	after, _ := f.mgr.Pool().Record("z1")
	if !after.AdmittedAt.Equal(before.AdmittedAt) {
		t.Fatalf("admitted_at changed: %v -> %v", before.AdmittedAt, after.AdmittedAt)
	}
	if n := f.eng.Calls("add"); n != 1 {
		t.Fatalf("add calls=%d want=1", n)
	}
}

func TestAdmitFullPoolMakesNoRemoteCalls(t *testing.T) {
	f := newFixture(t, 2)
	f.mgr.Admit(context.Background(), f.spawn("a", vmath.Vec3{}))
	f.mgr.Admit(context.Background(), f.spawn("b", vmath.Vec3{}))
	before := f.eng.Total()

	if f.mgr.Admit(context.Background(), f.spawn("c", vmath.Vec3{})) {
		t.Fatalf("admit beyond capacity succeeded")
	}
	if n := f.eng.Total(); n != before {
		t.Fatalf("remote calls for rejected npc=%d want=0", n-before)
	}
	if st := f.mgr.Stats(); st.Rejections != 1 {
		t.Fatalf("rejections=%d want=1", st.Rejections)
	}
}

func TestAdmitRollsBackOnEngineRejection(t *testing.T) {
	f := newFixture(t, 4)
	f.eng.addErr = fmt.Errorf("addAggroedNPC: %w", nav.ErrRejected)
	npc := f.spawn("z1", vmath.Vec3{})

	if f.mgr.Admit(context.Background(), npc) {
		t.Fatalf("Admit returned true on rejection")
	}
	if f.mgr.Pool().Len() != 0 {
		t.Fatalf("pool len=%d want=0 after rollback", f.mgr.Pool().Len())
	}
	if npc.Aggroed() {
		t.Fatalf("aggro flag set after failed admission")
	}
	if n := f.eng.Calls("remove"); n != 0 {
		t.Fatalf("remove calls=%d want=0 for explicit rejection", n)
	}
}

func TestAdmitCleansUpAfterTransportFailure(t *testing.T) {
	f := newFixture(t, 4)
	f.eng.addErr = context.DeadlineExceeded
	npc := f.spawn("z1", vmath.Vec3{})

	if f.mgr.Admit(context.Background(), npc) {
		t.Fatalf("Admit returned true on timeout")
	}
	if f.mgr.Pool().Len() != 0 {
		t.Fatalf("local slot leaked")
	}
	if n := f.eng.Calls("remove"); n != 1 {
		t.Fatalf("remove calls=%d want=1", n)
	}
}

func TestAdmitWithoutNavigablePoint(t *testing.T) {
	f := newFixture(t, 4)
	f.eng.navPoint = func(vmath.Vec3) (vmath.Vec3, bool) { return vmath.Vec3{}, false }
	npc := f.spawn("z1", vmath.Vec3{1, 1, 1})

	if f.mgr.Admit(context.Background(), npc) {
		t.Fatalf("Admit returned true without a navigable point")
	}
	if f.mgr.Pool().Len() != 0 || f.eng.Calls("add") != 0 {
		t.Fatalf("len=%d add=%d want=0,0", f.mgr.Pool().Len(), f.eng.Calls("add"))
	}
	if npc.Position() != (vmath.Vec3{1, 1, 1}) {
		t.Fatalf("position changed without a navigable point")
	}
}

func TestAdmitNotReadyIsNoop(t *testing.T) {
	f := newFixture(t, 4)
	f.eng.ready = false
	if f.mgr.Admit(context.Background(), f.spawn("z1", vmath.Vec3{})) {
		t.Fatalf("Admit succeeded while engine not ready")
	}
	if f.eng.Total() != 0 {
		t.Fatalf("remote calls while not ready")
	}
}

func TestEvictIdempotent(t *testing.T) {
	f := newFixture(t, 4)
	npc := f.spawn("z1", vmath.Vec3{})
	f.mgr.Admit(context.Background(), npc)

	if !f.mgr.Evict(context.Background(), npc, ReasonDeaggro) {
		t.Fatalf("first evict reported nothing to do")
	}
	if f.mgr.Evict(context.Background(), npc, ReasonDeaggro) {
		t.Fatalf("second evict reported work")
	}
	if n := f.eng.Calls("remove"); n != 1 {
		t.Fatalf("remove calls=%d want=1", n)
	}
	if st := f.mgr.Stats(); st.ActiveCount != 0 || st.Evictions != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if npc.Aggroed() {
		t.Fatalf("aggro flag still set")
	}
}

func TestEvictUnmanagedIsNoop(t *testing.T) {
	f := newFixture(t, 4)
	npc := f.spawn("z1", vmath.Vec3{})
	if f.mgr.Evict(context.Background(), npc, ReasonDeaggro) {
		t.Fatalf("evict of unmanaged npc reported work")
	}
	if f.eng.Total() != 0 {
		t.Fatalf("remote calls for unmanaged npc")
	}
}

func TestEvictReleasesEvenWhenRemoteFails(t *testing.T) {
	f := newFixture(t, 4)
	npc := f.spawn("z1", vmath.Vec3{})
	f.mgr.Admit(context.Background(), npc)
	// engine forgot the agent; remove will be rejected
	f.eng.mu.Lock()
	delete(f.eng.agents, "z1")
	f.eng.mu.Unlock()

	f.mgr.Evict(context.Background(), npc, ReasonDeaggro)
	if f.mgr.Pool().Contains("z1") {
		t.Fatalf("local slot kept after failed remote remove")
	}
}

func TestCapacityNeverExceededUnderRandomLifecycle(t *testing.T) {
	const capacity = 5
	f := newFixture(t, capacity)
	npcs := make([]*fakeNPC, 20)
	for i := range npcs {
		npcs[i] = f.spawn(fmt.Sprintf("n%d", i), vmath.Vec3{float64(i), 0, 0})
	}
	rng := rand.New(rand.NewSource(7))
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		seed := rng.Int63()
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 300; i++ {
				npc := npcs[r.Intn(len(npcs))]
				if r.Intn(2) == 0 {
					f.mgr.Admit(context.Background(), npc)
				} else {
					f.mgr.Evict(context.Background(), npc, ReasonDeaggro)
				}
				if n := f.mgr.Pool().Len(); n > capacity {
					t.Errorf("pool len=%d exceeds capacity", n)
					return
				}
			}
		}()
	}
	wg.Wait()

	// local and remote views agree once everything settles
	for _, npc := range npcs {
		local := f.mgr.Pool().Active(npc.ID())
		remote := f.eng.HasAgent(npc.ID())
		if local != remote || local != npc.Aggroed() {
			t.Fatalf("%s local=%v remote=%v aggroed=%v", npc.ID(), local, remote, npc.Aggroed())
		}
	}
}

func TestAdmitEvictSameNpcSerialized(t *testing.T) {
	f := newFixture(t, 4)
	npc := f.spawn("z1", vmath.Vec3{})

	inAdd := make(chan struct{})
	release := make(chan struct{})
	f.eng.addHook = func(string) {
		close(inAdd)
		<-release
	}

	admitted := make(chan bool)
	go func() { admitted <- f.mgr.Admit(context.Background(), npc) }()
	<-inAdd

	evicted := make(chan bool)
	go func() { evicted <- f.mgr.Evict(context.Background(), npc, ReasonDeaggro) }()

	select {
	case <-evicted:
		t.Fatalf("evict completed while admit was in flight")
	default:
	}
	f.eng.mu.Lock()
	f.eng.addHook = nil
	f.eng.mu.Unlock()
	close(release)

	if !<-admitted {
		t.Fatalf("admit failed")
	}
	if !<-evicted {
		t.Fatalf("evict after admit found nothing")
	}
	if f.mgr.Pool().Contains("z1") || f.eng.HasAgent("z1") {
		t.Fatalf("half state: local=%v remote=%v", f.mgr.Pool().Contains("z1"), f.eng.HasAgent("z1"))
	}
}

func TestSetTargetRejectsNonFinite(t *testing.T) {
	f := newFixture(t, 4)
	npc := f.spawn("z1", vmath.Vec3{})
	f.mgr.Admit(context.Background(), npc)

	for _, target := range []vmath.Vec3{{math.NaN(), 0, 0}, {0, math.Inf(1), 0}} {
		if f.mgr.SetTarget(context.Background(), "z1", target) {
			t.Fatalf("SetTarget(%v) returned true", target)
		}
	}
	if n := f.eng.Calls("setTarget"); n != 0 {
		t.Fatalf("setTarget calls=%d want=0", n)
	}
	if f.mgr.Stats().PathsCalculated != 0 {
		t.Fatalf("paths counted for rejected targets")
	}
}

func TestSetTargetRequiresActiveAgent(t *testing.T) {
	f := newFixture(t, 4)
	if f.mgr.SetTarget(context.Background(), "ghost", vmath.Vec3{1, 0, 1}) {
		t.Fatalf("SetTarget on unmanaged npc returned true")
	}
	if f.eng.Calls("setTarget") != 0 {
		t.Fatalf("remote call for unmanaged npc")
	}
}

func TestSweepEvictsStaleRecords(t *testing.T) {
	f := newFixture(t, 8)
	ctx := context.Background()
	keep := f.spawn("keep", vmath.Vec3{})
	dead := f.spawn("dead", vmath.Vec3{})
	gone := f.spawn("gone", vmath.Vec3{})
	calm := f.spawn("calm", vmath.Vec3{})
	for _, n := range []*fakeNPC{keep, dead, gone, calm} {
		f.mgr.Admit(ctx, n)
	}
	dead.kill()
	f.dir.remove("gone")
	calm.SetAggroed(false)

	if n := f.mgr.Sweep(ctx); n != 3 {
		t.Fatalf("sweep evicted %d want=3", n)
	}
	if !f.mgr.Pool().Active("keep") || f.mgr.Pool().Len() != 1 {
		t.Fatalf("sweep removed the wrong records: %v", f.mgr.Pool().IDs())
	}
	if st := f.mgr.Stats(); st.CleanupSweeps != 1 {
		t.Fatalf("cleanup sweeps=%d want=1", st.CleanupSweeps)
	}
}

func TestSweepSparesAdmissionFinishedMidScan(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	npc := f.spawn("z1", vmath.Vec3{})

	inAdd := make(chan struct{})
	release := make(chan struct{})
	f.eng.addHook = func(string) {
		close(inAdd)
		<-release
	}
	admitted := make(chan bool, 1)
	go func() { admitted <- f.mgr.Admit(ctx, npc) }()
	<-inAdd

	// The sweep reads aggroed=false while the add is pending; the
	// admission then completes before the record is looked at again.
	npc.onAggroed(func() {
		close(release)
		if !<-admitted {
			t.Errorf("admit failed")
		}
	})
	if n := f.mgr.Sweep(ctx); n != 0 {
		t.Fatalf("sweep evicted %d want=0", n)
	}
	if !f.mgr.Pool().Active("z1") || !npc.Aggroed() {
		t.Fatalf("active=%v aggroed=%v want both", f.mgr.Pool().Active("z1"), npc.Aggroed())
	}
	if !f.eng.HasAgent("z1") || f.eng.Calls("remove") != 0 {
		t.Fatalf("engine agent=%v removes=%d", f.eng.HasAgent("z1"), f.eng.Calls("remove"))
	}
}

func TestLifecycleEventsOnBus(t *testing.T) {
	f := newFixture(t, 4)
	var seen []string
	event.Subscribe(f.bus, func(e event.AgentAdmitted) { seen = append(seen, "admit:"+e.NpcID) })
	event.Subscribe(f.bus, func(e event.AgentEvicted) { seen = append(seen, "evict:"+e.NpcID+":"+e.Reason) })

	npc := f.spawn("z1", vmath.Vec3{})
	f.mgr.Admit(context.Background(), npc)
	f.mgr.Evict(context.Background(), npc, ReasonDead)
	f.bus.SwapBuffers()
	f.bus.DispatchAll()

	if len(seen) != 2 || seen[0] != "admit:z1" || seen[1] != "evict:z1:dead" {
		t.Fatalf("events=%v", seen)
	}
}

func TestAsyncLifecycleKeepsSubmissionOrder(t *testing.T) {
	f := newFixture(t, 4)
	npc := f.spawn("z1", vmath.Vec3{})

	var results []bool
	f.mgr.AdmitAsync(npc, func(ok bool) { results = append(results, ok) })
	f.mgr.SetTargetAsync("z1", vmath.Vec3{5, 0, 5})
	f.mgr.EvictAsync(npc, ReasonDeaggro)
	f.mgr.Flush()

	if len(results) != 1 || !results[0] {
		t.Fatalf("admit results=%v", results)
	}
	if f.eng.Calls("setTarget") != 1 {
		t.Fatalf("setTarget calls=%d want=1", f.eng.Calls("setTarget"))
	}
	if f.mgr.Pool().Contains("z1") || f.eng.HasAgent("z1") {
		t.Fatalf("evict did not run after admit")
	}
}

func TestShutdownEvictsEverything(t *testing.T) {
	f := newFixture(t, 4)
	for i := 0; i < 3; i++ {
		f.mgr.Admit(context.Background(), f.spawn(fmt.Sprintf("n%d", i), vmath.Vec3{}))
	}
	if n := f.mgr.Shutdown(context.Background()); n != 3 {
		t.Fatalf("shutdown evicted %d want=3", n)
	}
	if f.eng.Calls("remove") != 3 || f.mgr.Pool().Len() != 0 {
		t.Fatalf("remove=%d len=%d", f.eng.Calls("remove"), f.mgr.Pool().Len())
	}
	if f.mgr.AdmitAsync(f.spawn("late", vmath.Vec3{}), nil) {
		t.Fatalf("async admission accepted after shutdown")
	}
}
