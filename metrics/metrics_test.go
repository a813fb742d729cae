package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasic(t *testing.T) {
	b := &Basic{}
	boom := errors.New("boom")

	b.RecordWrite("people", 2*time.Millisecond, nil)
	b.RecordWrite("people", 4*time.Millisecond, boom)
	b.RecordEagerApply("email", 2, true, nil)
	b.RecordEagerApply("email", 1, false, boom)
	b.RecordEnqueue("queue/people/0@node-1", 3, nil)
	b.RecordEnqueue("queue/people/0@node-1", 1, boom)
	b.RecordPass("queue/people/0@node-1", 3, time.Millisecond, nil)
	b.RecordPass("queue/people/0@node-1", 3, time.Millisecond, boom)
	b.RecordUndo("email", 2)
	b.RecordChainGrow("city")
	b.RecordRecovery("people", 4, nil)
	b.RecordLookup("city", time.Millisecond, nil)

	s := b.GetStats()
	assert.Equal(t, int64(2), s.WriteCount)
	assert.Equal(t, int64(1), s.WriteErrors)
	assert.Equal(t, (3 * time.Millisecond).Nanoseconds(), s.WriteAvgNanos)
	assert.Equal(t, int64(2), s.EagerBatches)
	assert.Equal(t, int64(3), s.EagerUpdates)
	assert.Equal(t, int64(1), s.TentativeBatches)
	assert.Equal(t, int64(1), s.EagerErrors)
	assert.Equal(t, int64(3), s.EnqueuedRecords)
	assert.Equal(t, int64(1), s.EnqueueErrors)
	assert.Equal(t, int64(2), s.PassCount)
	assert.Equal(t, int64(3), s.PassRecords)
	assert.Equal(t, int64(1), s.PassErrors)
	assert.Equal(t, int64(2), s.UndoneUpdates)
	assert.Equal(t, int64(1), s.ChainGrowths)
	assert.Equal(t, int64(1), s.Recoveries)
	assert.Equal(t, int64(4), s.MigratedRecords)
	assert.Equal(t, int64(1), s.LookupCount)
}

func TestNoopSatisfiesCollector(t *testing.T) {
	var c Collector = Noop{}
	c.RecordWrite("people", time.Second, nil)
	c.RecordLookup("city", time.Second, nil)
}
