package pool

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/mevdschee/tqorm/config"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryDSN(name string) string {
	return "file:" + name + "?mode=memory&cache=shared"
}

func testDatabase(t *testing.T, replicas int) config.Database {
	d := config.DefaultDatabase()
	d.DSN = memoryDSN(t.Name() + "_primary")
	for i := 0; i < replicas; i++ {
		d.Replicas = append(d.Replicas, memoryDSN(t.Name()+"_replica"+string(rune('a'+i))))
	}
	d.ConnectionTimeoutMs = 2000
	return d
}

func openTestPool(t *testing.T, cfg config.Database) *Pool {
	t.Helper()
	p, err := Open(context.Background(), t.Name(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestOpen(t *testing.T) {
	p := openTestPool(t, testDatabase(t, 2))

	assert.Equal(t, t.Name(), p.Name())
	assert.Equal(t, config.DriverSQLite, p.Driver())
	assert.Equal(t, []string{"replica1", "replica2"}, p.ReplicaNames())
	assert.Equal(t, 2, p.HealthyCount())

	var one int
	require.NoError(t, p.Primary().QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}

func TestOpen_Invalid(t *testing.T) {
	cfg := testDatabase(t, 0)
	cfg.DSN = ""
	_, err := Open(context.Background(), "bad", cfg)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))

	cfg = testDatabase(t, 0)
	cfg.ConnectionTestQuery = "SELECT * FROM no_such_table"
	_, err = Open(context.Background(), "bad", cfg)
	assert.Error(t, err)
}

func TestOpen_DefaultName(t *testing.T) {
	cfg := testDatabase(t, 0)
	p, err := Open(context.Background(), "", cfg)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, cfg.PoolName, p.Name())
}

func TestReplicaRoundRobin(t *testing.T) {
	p := openTestPool(t, testDatabase(t, 3))

	_, first := p.Replica()
	_, second := p.Replica()
	_, third := p.Replica()
	_, fourth := p.Replica() // Should wrap back to first

	assert.Equal(t, "replica1", first)
	assert.Equal(t, "replica2", second)
	assert.Equal(t, "replica3", third)
	assert.Equal(t, first, fourth)
}

func TestReplicaWithUnhealthy(t *testing.T) {
	p := openTestPool(t, testDatabase(t, 2))

	p.MarkUnhealthy("replica1")
	assert.False(t, p.IsHealthy("replica1"))
	assert.Equal(t, 1, p.HealthyCount())

	for i := 0; i < 5; i++ {
		_, name := p.Replica()
		assert.Equal(t, "replica2", name)
	}

	p.MarkUnhealthy("replica2")
	db, name := p.Replica()
	assert.Equal(t, "primary", name)
	assert.Same(t, p.Primary(), db)

	// unknown names are ignored
	p.MarkHealthy("replica9")
	assert.False(t, p.IsHealthy("replica9"))
}

func TestReplicaWithoutReplicas(t *testing.T) {
	p := openTestPool(t, testDatabase(t, 0))

	db, name := p.Replica()
	assert.Equal(t, "primary", name)
	assert.Same(t, p.Primary(), db)
}

func TestCheckReplicas(t *testing.T) {
	p := openTestPool(t, testDatabase(t, 2))

	p.MarkUnhealthy("replica1")
	p.MarkUnhealthy("replica2")
	p.CheckReplicas(context.Background())
	assert.Equal(t, 2, p.HealthyCount())
}

func TestStartHealthChecks(t *testing.T) {
	p := openTestPool(t, testDatabase(t, 1))
	p.MarkUnhealthy("replica1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.StartHealthChecks(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return p.IsHealthy("replica1") }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartHealthChecks did not return after cancel")
	}
}

func TestAcquire(t *testing.T) {
	p := openTestPool(t, testDatabase(t, 0))
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats().InUse)

	_, err = c.ExecContext(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	require.NoError(t, c.Release())
	require.NoError(t, c.Release())
	assert.Equal(t, 0, p.Stats().InUse)
	assert.Equal(t, int64(0), p.Leaks())
}

func TestAcquire_LeakDetection(t *testing.T) {
	cfg := testDatabase(t, 0)
	cfg.LeakDetectionThresholdMs = 20
	p := openTestPool(t, cfg)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Release()

	assert.Eventually(t, func() bool { return p.Leaks() == 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, c.HeldFor(), 20*time.Millisecond)

	// released before the threshold: no leak reported
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c2.Close())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), p.Leaks())
}

func TestAcquire_Closed(t *testing.T) {
	p := openTestPool(t, testDatabase(t, 1))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, p.Closed())

	_, err := p.Acquire(context.Background())
	assert.True(t, errors.Is(err, ErrPoolClosed))
}

func TestInfo(t *testing.T) {
	p := openTestPool(t, testDatabase(t, 0))
	re := regexp.MustCompile(`^Pool\[` + regexp.QuoteMeta(p.Name()) + `\] - Active: 0, Idle: \d+, Total: \d+, Pending: 0$`)
	assert.Regexp(t, re, p.Info())
}
