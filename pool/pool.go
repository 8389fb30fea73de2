// Package pool runs resumables that bypass the I/O loop on a fixed set of
// worker goroutines.
package pool

import (
	"github.com/rocinan/netmux/poller"
)

type Pool struct {
	WorkerPool chan chan poller.Resumable
	JobChannel chan poller.Resumable
	quit       chan bool
}

func NewPool(pool chan chan poller.Resumable) *Pool {
	return &Pool{
		WorkerPool: pool,
		JobChannel: make(chan poller.Resumable),
		quit:       make(chan bool),
	}
}

func (w *Pool) Start(s *Scheduler) {
	go func() {
		for {
			w.WorkerPool <- w.JobChannel
			select {
			case job := <-w.JobChannel:
				w.run(s, job)
			case <-w.quit:
				return
			}
		}
	}()
}

func (w *Pool) run(s *Scheduler, job poller.Resumable) {
	switch job.Resume(nil, s.MaxThroughput) {
	case poller.ResumeLater:
		s.Enqueue(job)
	case poller.ResumeDone:
		job.Deref()
	default:
		// awaiting: ownership moved elsewhere
	}
}

func (w *Pool) Stop() {
	w.quit <- true
}

// Scheduler fans resumables out to its workers. It satisfies
// poller.Scheduler, so a loop hands it every resumable that is not I/O
// bound.
type Scheduler struct {
	WorkerCap     int
	MaxThroughput int
	JobQueue      chan poller.Resumable
	WorkerPool    chan chan poller.Resumable
	workers       []*Pool
	quit          chan bool
}

func NewScheduler(maxWorkers, maxQueue int) *Scheduler {
	return &Scheduler{
		WorkerCap:     maxWorkers,
		MaxThroughput: 300,
		JobQueue:      make(chan poller.Resumable, maxQueue),
		WorkerPool:    make(chan chan poller.Resumable, maxWorkers),
		quit:          make(chan bool),
	}
}

func (s *Scheduler) Run() {
	for i := 0; i < s.WorkerCap; i++ {
		worker := NewPool(s.WorkerPool)
		worker.Start(s)
		s.workers = append(s.workers, worker)
	}
	go s.dispatch()
}

// Enqueue hands one resumable to the worker pool. Takes one reference.
func (s *Scheduler) Enqueue(r poller.Resumable) {
	s.JobQueue <- r
}

func (s *Scheduler) dispatch() {
	for {
		select {
		case job := <-s.JobQueue:
			jobChannel := <-s.WorkerPool
			jobChannel <- job
		case <-s.quit:
			return
		}
	}
}

func (s *Scheduler) Stop() {
	for _, w := range s.workers {
		w.Stop()
	}
	s.quit <- true
}
