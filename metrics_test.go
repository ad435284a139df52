package vmgc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasicMetricsCollector(t *testing.T) {
	m := &BasicMetricsCollector{}

	m.RecordCollection(CollectionInfo{Cycle: 1, User: true, FullHeap: true, Pause: 3 * time.Millisecond, ReservedPagesBefore: 100, ReservedPagesAfter: 40})
	m.RecordCollection(CollectionInfo{Cycle: 2, Emergency: true, Pause: time.Millisecond, ReservedPagesBefore: 50, ReservedPagesAfter: 60})
	m.RecordAllocSlowPath(2*time.Millisecond, false)
	m.RecordAllocSlowPath(4*time.Millisecond, true)
	m.RecordOutOfMemory(1 << 20)

	st := m.GetStats()
	assert.Equal(t, int64(2), st.Collections)
	assert.Equal(t, int64(1), st.FullHeapCollections)
	assert.Equal(t, int64(1), st.UserCollections)
	assert.Equal(t, int64(1), st.EmergencyCollections)
	assert.Equal(t, (2 * time.Millisecond).Nanoseconds(), st.AvgPauseNanos)
	assert.Equal(t, (3 * time.Millisecond).Nanoseconds(), st.MaxPauseNanos)
	assert.Equal(t, int64(60), st.PagesFreed)
	assert.Equal(t, int64(2), st.SlowPaths)
	assert.Equal(t, (3 * time.Millisecond).Nanoseconds(), st.AvgSlowPathNanos)
	assert.Equal(t, int64(1), st.OutOfMemory)
}

func TestBasicMetricsCollector_Concurrent(t *testing.T) {
	m := &BasicMetricsCollector{}
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordCollection(CollectionInfo{Pause: time.Duration(i+1) * time.Microsecond})
		}()
	}
	wg.Wait()

	st := m.GetStats()
	assert.Equal(t, int64(16), st.Collections)
	assert.Equal(t, (16 * time.Microsecond).Nanoseconds(), st.MaxPauseNanos)
}

func TestNoopMetricsCollector(t *testing.T) {
	var m MetricsCollector = NoopMetricsCollector{}
	m.RecordCollection(CollectionInfo{})
	m.RecordAllocSlowPath(time.Second, true)
	m.RecordOutOfMemory(8)
}
