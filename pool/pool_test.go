package pool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rocinan/netmux/poller"
	"github.com/stretchr/testify/require"
)

type testJob struct {
	refs    int32
	resumed *int32
	wg      *sync.WaitGroup
}

func (j *testJob) Subtype() poller.ResumableKind { return poller.ScheduledActor }

func (j *testJob) Resume(_ *poller.EventLoop, _ int) poller.ResumeResult {
	atomic.AddInt32(j.resumed, 1)
	return poller.ResumeDone
}

func (j *testJob) Ref() { atomic.AddInt32(&j.refs, 1) }

func (j *testJob) Deref() {
	if atomic.AddInt32(&j.refs, -1) == 0 {
		j.wg.Done()
	}
}

func TestSchedulerRunsJobs(t *testing.T) {
	const jobs = 64
	s := NewScheduler(4, 128)
	s.Run()
	var resumed int32
	var wg sync.WaitGroup
	wg.Add(jobs)
	items := make([]*testJob, jobs)
	for i := range items {
		items[i] = &testJob{refs: 1, resumed: &resumed, wg: &wg}
		s.Enqueue(items[i])
	}
	wg.Wait()
	require.Equal(t, int32(jobs), atomic.LoadInt32(&resumed))
	for _, j := range items {
		require.Equal(t, int32(0), atomic.LoadInt32(&j.refs))
	}
	s.Stop()
}
