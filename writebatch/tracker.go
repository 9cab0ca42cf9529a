package writebatch

import (
	"sort"
	"sync"
)

// Tracker is an embeddable DirtyTracker. Embed it by value and pass
// pointers of the embedding type to the manager:
//
//	type Player struct {
//		writebatch.Tracker
//		ID    int64
//		Score int
//	}
//
//	p.Score += 10
//	p.MarkField("score")
//	m.RegisterDirty(ctx, p)
//
// Tracker is safe for concurrent use; it must not be copied after first use.
type Tracker struct {
	mu     sync.Mutex
	dirty  bool
	fields map[string]struct{}
}

// MarkDirty flags the entity as modified without naming fields.
func (t *Tracker) MarkDirty() {
	t.mu.Lock()
	t.dirty = true
	t.mu.Unlock()
}

// MarkField flags the entity as modified and records the changed fields.
func (t *Tracker) MarkField(names ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty = true
	if t.fields == nil {
		t.fields = make(map[string]struct{}, len(names))
	}
	for _, n := range names {
		t.fields[n] = struct{}{}
	}
}

// DirtyFields returns the sorted names passed to MarkField since the last
// CleanDirty.
func (t *Tracker) DirtyFields() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(t.fields))
	for n := range t.fields {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsDirty implements DirtyTracker.
func (t *Tracker) IsDirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty
}

// CleanDirty implements DirtyTracker.
func (t *Tracker) CleanDirty() {
	t.mu.Lock()
	t.dirty = false
	t.fields = nil
	t.mu.Unlock()
}
