// Package scheduler serializes work per conversation thread while letting
// unrelated threads run fully in parallel.
//
// A ThreadKey identifies one engine session ("engine:value"). Jobs enqueued
// against the same key run strictly FIFO, one at a time; jobs against
// different keys never block each other. Each key gets its own worker
// goroutine, spawned lazily on first enqueue and torn down once its queue
// drains — mirroring the teacher's lazily-spawned per-chat dispatch in
// bridge/queue, one level up the stack.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/takopi/takopi/bridge/event"
)

// ThreadKey is the scheduler's unit of serialization: "<engine>:<value>".
type ThreadKey string

// ThreadKeyFor derives the ThreadKey for a resume token.
func ThreadKeyFor(token event.ResumeToken) ThreadKey {
	return ThreadKey(token.String())
}

// ThreadJob is the unit of work enqueued to the scheduler.
type ThreadJob struct {
	ChatID      int64
	UserMsgID   int
	Text        string
	ResumeToken *event.ResumeToken
	Project     string
	ThreadID    *int // chat-side thread identity, used to key fresh (resume-less) jobs
	Mode        string
}

// RunJob executes one ThreadJob. The scheduler calls it with the key's
// worker as the only caller in flight for that key at any instant.
type RunJob func(ctx context.Context, job ThreadJob)

// ThreadScheduler dispatches ThreadJobs, one worker per ThreadKey, FIFO
// within a key, unbounded parallelism across keys.
type ThreadScheduler struct {
	runJob RunJob

	mu             sync.Mutex
	pendingByThread map[ThreadKey][]ThreadJob
	activeThreads   map[ThreadKey]bool
	busyUntil       map[ThreadKey]<-chan struct{}

	// softExpiry tracks last-enqueue time per key, bounded by capacity;
	// a key evicted here has gone cold enough that callers upstream (the
	// ingress adapter) should treat the next message on it as a fresh
	// session rather than assume the thread mapping is still warm.
	softExpiry *lru.Cache[ThreadKey, time.Time]
}

// New constructs a ThreadScheduler. capacity bounds the soft-expiry
// tracker; 0 disables it (every key is always considered warm).
func New(runJob RunJob, capacity int) (*ThreadScheduler, error) {
	s := &ThreadScheduler{
		runJob:          runJob,
		pendingByThread: make(map[ThreadKey][]ThreadJob),
		activeThreads:   make(map[ThreadKey]bool),
		busyUntil:       make(map[ThreadKey]<-chan struct{}),
	}
	if capacity > 0 {
		cache, err := lru.New[ThreadKey, time.Time](capacity)
		if err != nil {
			return nil, err
		}
		s.softExpiry = cache
	}
	return s, nil
}

// Warm reports whether key is still tracked by the soft-expiry cache (or
// always true when soft expiry is disabled).
func (s *ThreadScheduler) Warm(key ThreadKey) bool {
	if s.softExpiry == nil {
		return true
	}
	return s.softExpiry.Contains(key)
}

func (s *ThreadScheduler) touch(key ThreadKey) {
	if s.softExpiry != nil {
		s.softExpiry.Add(key, time.Now())
	}
}

func keyFor(job ThreadJob) ThreadKey {
	if job.ResumeToken != nil {
		return ThreadKeyFor(*job.ResumeToken)
	}
	// A fresh session has no established resume token yet, so key by the
	// chat-side thread identity rather than the message text: two messages
	// landing on the same brand-new thread before the first run's resume
	// token is persisted must still collide on one FIFO key and run in
	// order, not spawn independent parallel sessions.
	threadID := "none"
	if job.ThreadID != nil {
		threadID = fmt.Sprintf("%d", *job.ThreadID)
	}
	return ThreadKey(fmt.Sprintf("fresh:%s:%s", job.Project, threadID))
}

// Enqueue appends job to its ThreadKey's FIFO, spawning that key's worker
// if none is currently running.
func (s *ThreadScheduler) Enqueue(ctx context.Context, job ThreadJob) {
	key := keyFor(job)
	s.mu.Lock()
	s.pendingByThread[key] = append(s.pendingByThread[key], job)
	s.touch(key)
	spawn := !s.activeThreads[key]
	if spawn {
		s.activeThreads[key] = true
	}
	s.mu.Unlock()

	if spawn {
		go s.runWorker(ctx, key)
	}
}

// EnqueueResume enqueues job under token's ThreadKey, overwriting any
// ResumeToken already set on job.
func (s *ThreadScheduler) EnqueueResume(ctx context.Context, token event.ResumeToken, job ThreadJob) {
	job.ResumeToken = &token
	s.Enqueue(ctx, job)
}

// NoteThreadKnown records that a first-time session for token has been
// observed. The next job to run on this key waits for doneCh to close
// first, collapsing the window between session.started and the first idle
// point so a second fast message doesn't race the first run's setup.
func (s *ThreadScheduler) NoteThreadKnown(token event.ResumeToken, doneCh <-chan struct{}) {
	key := ThreadKeyFor(token)
	s.mu.Lock()
	s.busyUntil[key] = doneCh
	s.mu.Unlock()
}

func (s *ThreadScheduler) runWorker(ctx context.Context, key ThreadKey) {
	for {
		s.mu.Lock()
		if done, ok := s.busyUntil[key]; ok {
			delete(s.busyUntil, key)
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				s.mu.Lock()
				delete(s.activeThreads, key)
				s.mu.Unlock()
				return
			}
			s.mu.Lock()
		}

		jobs := s.pendingByThread[key]
		if len(jobs) == 0 {
			delete(s.activeThreads, key)
			delete(s.pendingByThread, key)
			s.mu.Unlock()
			return
		}
		job := jobs[0]
		if len(jobs) == 1 {
			delete(s.pendingByThread, key)
		} else {
			s.pendingByThread[key] = jobs[1:]
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
		}

		s.runJob(ctx, job)
	}
}
