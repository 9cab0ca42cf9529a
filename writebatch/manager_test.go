package writebatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mevdschee/tqorm/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type testEntity struct {
	Tracker
	ID int
}

func newDirty(id int) *testEntity {
	e := &testEntity{ID: id}
	e.MarkDirty()
	return e
}

// recorder is an update sink that records every batch it receives.
type recorder struct {
	mu       sync.Mutex
	batches  [][]*testEntity
	fail     error
	inFlight atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (r *recorder) sink(ctx context.Context, batch []*testEntity) error {
	if r.inFlight.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.inFlight.Add(-1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]*testEntity(nil), batch...))
	return r.fail
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) batch(i int) []*testEntity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[i]
}

func testConfig(t *testing.T, batchSize, intervalMs int) Config {
	return Config{
		Name:            t.Name(),
		BatchSize:       batchSize,
		FlushIntervalMs: intervalMs,
		ShutdownGraceMs: 1000,
	}
}

func newManager(t *testing.T, r *recorder, config Config) *Manager[*testEntity] {
	t.Helper()
	m, err := New(r.sink, config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

func TestNew_Validation(t *testing.T) {
	r := &recorder{}
	tests := []struct {
		name   string
		sink   UpdateFunc[*testEntity]
		config Config
		want   error
	}{
		{"nil sink", nil, DefaultConfig(), ErrNilSink},
		{"zero batch size", r.sink, Config{BatchSize: 0, FlushIntervalMs: 100}, ErrInvalidConfig},
		{"zero interval", r.sink, Config{BatchSize: 1, FlushIntervalMs: 0}, ErrInvalidConfig},
		{"negative grace", r.sink, Config{BatchSize: 1, FlushIntervalMs: 1, ShutdownGraceMs: -1}, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.sink, tt.config)
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
			if m != nil {
				t.Errorf("New() returned a manager on error")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	m := newManager(t, &recorder{}, Config{BatchSize: 2, FlushIntervalMs: 100000})

	if m.Name() == "" {
		t.Error("Name() is empty, want generated name")
	}
	if got := m.Config().ShutdownGraceMs; got != 5000 {
		t.Errorf("ShutdownGraceMs = %d, want 5000", got)
	}
	if got := m.State(); got != Running {
		t.Errorf("State() = %v, want %v", got, Running)
	}

	d := DefaultConfig()
	if d.BatchSize != 3 || d.FlushIntervalMs != 5000 {
		t.Errorf("DefaultConfig() = %+v, want batch 3 and interval 5000", d)
	}
}

func TestRegisterDirty_CleanEntityIsNoop(t *testing.T) {
	r := &recorder{}
	m := newManager(t, r, testConfig(t, 1, 100000))

	if err := m.RegisterDirty(context.Background(), &testEntity{ID: 1}); err != nil {
		t.Fatalf("RegisterDirty() error = %v", err)
	}
	if got := m.DirtyCount(); got != 0 {
		t.Errorf("DirtyCount() = %d, want 0", got)
	}
	if got := r.calls(); got != 0 {
		t.Errorf("sink calls = %d, want 0", got)
	}
}

func TestRegisterDirty_DuplicateIsNoop(t *testing.T) {
	r := &recorder{}
	m := newManager(t, r, testConfig(t, 3, 100000))
	ctx := context.Background()
	e := newDirty(1)

	for i := 0; i < 5; i++ {
		if err := m.RegisterDirty(ctx, e); err != nil {
			t.Fatalf("RegisterDirty() error = %v", err)
		}
	}
	if got := m.DirtyCount(); got != 1 {
		t.Errorf("DirtyCount() = %d, want 1", got)
	}
	if got := r.calls(); got != 0 {
		t.Errorf("sink calls = %d, want 0", got)
	}
}

func TestRegisterDirty_BatchSizeTriggersFlush(t *testing.T) {
	r := &recorder{}
	m := newManager(t, r, testConfig(t, 2, 100000))
	ctx := context.Background()
	e1, e2 := newDirty(1), newDirty(2)

	if err := m.RegisterDirty(ctx, e1); err != nil {
		t.Fatalf("RegisterDirty(e1) error = %v", err)
	}
	if got := r.calls(); got != 0 {
		t.Fatalf("sink calls after first registration = %d, want 0", got)
	}

	if err := m.RegisterDirty(ctx, e2); err != nil {
		t.Fatalf("RegisterDirty(e2) error = %v", err)
	}
	// the flush ran on this goroutine, so the result is visible immediately
	if got := r.calls(); got != 1 {
		t.Fatalf("sink calls = %d, want 1", got)
	}
	if got := len(r.batch(0)); got != 2 {
		t.Errorf("batch size = %d, want 2", got)
	}
	if e1.IsDirty() || e2.IsDirty() {
		t.Error("entities still dirty after successful flush")
	}
	if got := m.DirtyCount(); got != 0 {
		t.Errorf("DirtyCount() = %d, want 0", got)
	}

	got := testutil.ToFloat64(metrics.FlushTotal.WithLabelValues(m.Name(), triggerSize, "success"))
	if got != 1 {
		t.Errorf("tqorm_flush_total{trigger=size,result=success} = %v, want 1", got)
	}
}

func TestScheduledFlush(t *testing.T) {
	r := &recorder{}
	m := newManager(t, r, testConfig(t, 10, 50))
	ctx := context.Background()

	entities := []*testEntity{newDirty(1), newDirty(2), newDirty(3)}
	for _, e := range entities {
		if err := m.RegisterDirty(ctx, e); err != nil {
			t.Fatalf("RegisterDirty() error = %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := r.calls(); got != 1 {
		t.Fatalf("sink calls = %d, want 1", got)
	}
	if got := len(r.batch(0)); got != 3 {
		t.Errorf("batch size = %d, want 3", got)
	}
	for _, e := range entities {
		if e.IsDirty() {
			t.Errorf("entity %d still dirty after scheduled flush", e.ID)
		}
	}
}

func TestFlush_FailureKeepsEntitiesDirty(t *testing.T) {
	cause := errors.New("store unavailable")
	r := &recorder{fail: cause}
	m := newManager(t, r, testConfig(t, 1, 100000))
	e := newDirty(1)

	err := m.RegisterDirty(context.Background(), e)
	if err == nil {
		t.Fatal("RegisterDirty() error = nil, want flush error")
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false for %v", err)
	}
	var flushErr *FlushError
	if !errors.As(err, &flushErr) {
		t.Fatalf("error %T is not a *FlushError", err)
	}
	if flushErr.Batch != 1 {
		t.Errorf("FlushError.Batch = %d, want 1", flushErr.Batch)
	}
	if !e.IsDirty() {
		t.Error("entity cleaned after failed flush")
	}
	if got := m.DirtyCount(); got != 0 {
		t.Errorf("DirtyCount() = %d, want 0 (failed batches are not re-queued)", got)
	}

	// the entity can be registered again and retried
	r.mu.Lock()
	r.fail = nil
	r.mu.Unlock()
	if err := m.RegisterDirty(context.Background(), e); err != nil {
		t.Fatalf("retry RegisterDirty() error = %v", err)
	}
	if e.IsDirty() {
		t.Error("entity still dirty after successful retry")
	}
}

func TestFlush_SinkPanic(t *testing.T) {
	m := newManager(t, &recorder{}, testConfig(t, 10, 100000))
	panicky, err := New(func(ctx context.Context, batch []*testEntity) error {
		panic("boom")
	}, testConfig(t, 10, 100000))
	if err != nil {
		t.Fatal(err)
	}
	defer panicky.Shutdown(context.Background())

	e := newDirty(1)
	panicky.RegisterDirty(context.Background(), e)
	err = panicky.Flush(context.Background())
	if !errors.Is(err, ErrSinkPanic) {
		t.Errorf("Flush() error = %v, want ErrSinkPanic", err)
	}
	if !e.IsDirty() {
		t.Error("entity cleaned after sink panic")
	}

	// other managers are unaffected
	if err := m.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}

func TestFlush_EmptyIsNoop(t *testing.T) {
	r := &recorder{}
	m := newManager(t, r, testConfig(t, 3, 100000))

	if err := m.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := r.calls(); got != 0 {
		t.Errorf("sink calls = %d, want 0", got)
	}
}

func TestFlush_PreservesInsertionOrder(t *testing.T) {
	r := &recorder{}
	m := newManager(t, r, testConfig(t, 100, 100000))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.RegisterDirty(ctx, newDirty(i))
	}
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	for i, e := range r.batch(0) {
		if e.ID != i {
			t.Errorf("batch[%d].ID = %d, want %d", i, e.ID, i)
		}
	}
}

func TestFlush_RegistrationDuringFlushLandsInNextBatch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var sizes []int

	m, err := New(func(ctx context.Context, batch []*testEntity) error {
		mu.Lock()
		sizes = append(sizes, len(batch))
		first := len(sizes) == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return nil
	}, testConfig(t, 100, 100000))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Shutdown(context.Background())
	ctx := context.Background()

	m.RegisterDirty(ctx, newDirty(1))
	m.RegisterDirty(ctx, newDirty(2))

	errc := make(chan error, 1)
	go func() { errc <- m.Flush(ctx) }()
	<-started

	late := newDirty(3)
	m.RegisterDirty(ctx, late)
	if got := m.DirtyCount(); got != 1 {
		t.Errorf("DirtyCount() during flush = %d, want 1", got)
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if !late.IsDirty() {
		t.Error("late entity was cleaned by a batch it was not part of")
	}

	if err := m.Flush(ctx); err != nil {
		t.Fatalf("second Flush() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 2 || sizes[0] != 2 || sizes[1] != 1 {
		t.Errorf("batch sizes = %v, want [2 1]", sizes)
	}
}

func TestConcurrentRegistration(t *testing.T) {
	r := &recorder{delay: time.Millisecond}
	m := newManager(t, r, testConfig(t, 7, 10))
	ctx := context.Background()

	const workers, perWorker = 20, 25
	all := make([]*testEntity, 0, workers*perWorker)
	for i := 0; i < workers*perWorker; i++ {
		all = append(all, newDirty(i))
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for _, e := range all[w*perWorker : (w+1)*perWorker] {
				if err := m.RegisterDirty(ctx, e); err != nil {
					t.Errorf("RegisterDirty() error = %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if r.overlap.Load() {
		t.Error("sink was invoked concurrently")
	}

	seen := make(map[int]int)
	r.mu.Lock()
	for _, b := range r.batches {
		for _, e := range b {
			seen[e.ID]++
		}
	}
	r.mu.Unlock()
	for _, e := range all {
		if seen[e.ID] != 1 {
			t.Errorf("entity %d flushed %d times, want 1", e.ID, seen[e.ID])
		}
		if e.IsDirty() {
			t.Errorf("entity %d still dirty", e.ID)
		}
	}
}

func TestShutdown(t *testing.T) {
	r := &recorder{}
	m := newManager(t, r, testConfig(t, 10, 100000))
	ctx := context.Background()

	e := newDirty(1)
	m.RegisterDirty(ctx, e)

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := m.State(); got != Stopped {
		t.Errorf("State() = %v, want %v", got, Stopped)
	}
	if e.IsDirty() {
		t.Error("pending entity not flushed on shutdown")
	}
	if got := r.calls(); got != 1 {
		t.Errorf("sink calls = %d, want 1", got)
	}

	// second shutdown only flushes
	late := newDirty(2)
	m.RegisterDirty(ctx, late)
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
	if late.IsDirty() {
		t.Error("second Shutdown() did not flush")
	}
	if got := m.State(); got != Stopped {
		t.Errorf("State() = %v, want %v", got, Stopped)
	}
}

func TestShutdown_StopsScheduler(t *testing.T) {
	r := &recorder{}
	m := newManager(t, r, testConfig(t, 10, 20))
	ctx := context.Background()

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	m.RegisterDirty(ctx, newDirty(1))
	time.Sleep(100 * time.Millisecond)

	if got := r.calls(); got != 0 {
		t.Errorf("sink calls after shutdown = %d, want 0", got)
	}
	if got := m.DirtyCount(); got != 1 {
		t.Errorf("DirtyCount() = %d, want 1", got)
	}
}

func TestShutdown_ReturnsFinalFlushError(t *testing.T) {
	cause := errors.New("disk full")
	r := &recorder{fail: cause}
	m := newManager(t, r, testConfig(t, 10, 100000))

	m.RegisterDirty(context.Background(), newDirty(1))
	err := m.Shutdown(context.Background())
	if !errors.Is(err, cause) {
		t.Errorf("Shutdown() error = %v, want %v", err, cause)
	}
	if got := m.State(); got != Stopped {
		t.Errorf("State() = %v, want %v", got, Stopped)
	}
}

func TestScheduledFlush_FailureIsCounted(t *testing.T) {
	r := &recorder{fail: errors.New("nope")}
	m := newManager(t, r, testConfig(t, 10, 10))

	m.RegisterDirty(context.Background(), newDirty(1))

	counter := metrics.FlushTotal.WithLabelValues(m.Name(), triggerTimer, "error")
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(counter) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := testutil.ToFloat64(counter); got != 1 {
		t.Fatalf("scheduled failures = %v, want 1", got)
	}
	if got := m.State(); got != Running {
		t.Errorf("State() = %v, want %v (scheduler keeps running)", got, Running)
	}

	// the next tick still runs and persists new work
	r.mu.Lock()
	r.fail = nil
	r.mu.Unlock()
	e := newDirty(2)
	m.RegisterDirty(context.Background(), e)

	success := metrics.FlushTotal.WithLabelValues(m.Name(), triggerTimer, "success")
	deadline = time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(success) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := testutil.ToFloat64(success); got != 1 {
		t.Fatalf("scheduled successes = %v, want 1", got)
	}
	if e.IsDirty() {
		t.Error("entity registered after a failed tick is still dirty")
	}
	if got := m.DirtyCount(); got != 0 {
		t.Errorf("DirtyCount() = %d, want 0", got)
	}
}

func TestShutdown_ForgetsMetricSeries(t *testing.T) {
	ctx := context.Background()
	before := testutil.CollectAndCount(metrics.PendingEntities)
	beforeFlushes := testutil.CollectAndCount(metrics.FlushTotal)

	r := &recorder{}
	m, err := New(r.sink, Config{BatchSize: 1, FlushIntervalMs: 100000})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.RegisterDirty(ctx, newDirty(1))
	if got := testutil.CollectAndCount(metrics.PendingEntities); got != before+1 {
		t.Fatalf("pending series = %d, want %d", got, before+1)
	}

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := testutil.CollectAndCount(metrics.PendingEntities); got != before {
		t.Errorf("pending series after Shutdown = %d, want %d", got, before)
	}
	if got := testutil.CollectAndCount(metrics.FlushTotal); got != beforeFlushes {
		t.Errorf("flush series after Shutdown = %d, want %d", got, beforeFlushes)
	}

	// use after shutdown does not bring the series back
	m.RegisterDirty(ctx, newDirty(2))
	m.Shutdown(ctx)
	if got := testutil.CollectAndCount(metrics.PendingEntities); got != before {
		t.Errorf("pending series after late use = %d, want %d", got, before)
	}
}

func TestPendingGaugeMatchesDirtyCount(t *testing.T) {
	r := &recorder{}
	m := newManager(t, r, testConfig(t, 3, 100000))
	ctx := context.Background()
	gauge := metrics.PendingEntities.WithLabelValues(m.Name())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				m.RegisterDirty(ctx, newDirty(g*1000+i))
			}
		}(g)
	}
	wg.Wait()

	if got, want := testutil.ToFloat64(gauge), float64(m.DirtyCount()); got != want {
		t.Errorf("pending gauge = %v, want %v", got, want)
	}
	m.Flush(ctx)
	if got := testutil.ToFloat64(gauge); got != 0 {
		t.Errorf("pending gauge after Flush = %v, want 0", got)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Created:   "created",
		Running:   "running",
		Stopping:  "stopping",
		Stopped:   "stopped",
		State(42): "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestFlushError_Message(t *testing.T) {
	err := &FlushError{Manager: "players", Batch: 4, Err: fmt.Errorf("timeout")}
	want := "writebatch players: flush of 4 entities failed: timeout"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
