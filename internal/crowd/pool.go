package crowd

import (
	"sort"
	"sync"
	"time"
)

// Record is a copy of one agent's bookkeeping. The pool never hands out
// pointers to its internal records.
type Record struct {
	NpcID        string
	AdmittedAt   time.Time
	LastUsedAt   time.Time
	ForceStopped bool
	Active       bool   // false while admission is still talking to the engine
	TargetGen    uint64 // bumped by every new target
	seq          uint64
}

// Pool is the bounded agent registry. It holds ids only, never NPC objects.
// The mutex is held for bookkeeping and never across a remote call.
type Pool struct {
	mu       sync.Mutex
	capacity int
	records  map[string]*Record
	seq      uint64
	now      func() time.Time
}

func NewPool(capacity int) *Pool {
	return &Pool{
		capacity: capacity,
		records:  make(map[string]*Record, capacity),
		now:      time.Now,
	}
}

// TryReserve is the capacity gate: it adds a pending record only if the id
// is absent and the pool has room. Pending records count toward capacity.
func (p *Pool) TryReserve(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.records[id]; ok {
		return false
	}
	if len(p.records) >= p.capacity {
		return false
	}
	p.seq++
	now := p.now()
	p.records[id] = &Record{NpcID: id, AdmittedAt: now, LastUsedAt: now, seq: p.seq}
	return true
}

// Activate completes a reservation once the engine accepted the agent.
func (p *Pool) Activate(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[id]
	if !ok {
		return false
	}
	r.Active = true
	r.LastUsedAt = p.now()
	return true
}

// Release removes id. Removing an absent id is a no-op returning false.
func (p *Pool) Release(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.records[id]; !ok {
		return false
	}
	delete(p.records, id)
	return true
}

// Contains reports pending and active records alike.
func (p *Pool) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.records[id]
	return ok
}

func (p *Pool) Active(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[id]
	return ok && r.Active
}

func (p *Pool) Touch(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.records[id]; ok {
		r.LastUsedAt = p.now()
	}
}

// Retarget clears force_stopped and starts a new target generation.
func (p *Pool) Retarget(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[id]
	if !ok || !r.Active {
		return false
	}
	r.ForceStopped = false
	r.TargetGen++
	r.LastUsedAt = p.now()
	return true
}

// MarkForceStopped sets force_stopped unless a newer target arrived after
// gen was observed.
func (p *Pool) MarkForceStopped(id string, gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[id]
	if !ok || !r.Active || r.TargetGen != gen {
		return false
	}
	r.ForceStopped = true
	r.LastUsedAt = p.now()
	return true
}

func (p *Pool) ForceStopped(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[id]
	return ok && r.ForceStopped
}

func (p *Pool) Record(id string) (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Snapshot returns the active records in admission order.
func (p *Pool) Snapshot() []Record {
	p.mu.Lock()
	out := make([]Record, 0, len(p.records))
	for _, r := range p.records {
		if r.Active {
			out = append(out, *r)
		}
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// IDs lists every record, pending included, in admission order.
func (p *Pool) IDs() []string {
	p.mu.Lock()
	recs := make([]*Record, 0, len(p.records))
	for _, r := range p.records {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.NpcID
	}
	p.mu.Unlock()
	return ids
}

// Len counts pending and active records.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func (p *Pool) ActiveLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.records {
		if r.Active {
			n++
		}
	}
	return n
}

func (p *Pool) Capacity() int { return p.capacity }

func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity - len(p.records)
}
