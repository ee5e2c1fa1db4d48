package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/takopi/takopi/bridge/event"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestThreadKeyFor(t *testing.T) {
	token := event.ResumeToken{Engine: "codex", Value: "test-token"}
	if got, want := string(ThreadKeyFor(token)), "codex:test-token"; got != want {
		t.Errorf("ThreadKeyFor = %q, want %q", got, want)
	}
}

// TestEnqueueRunsJob verifies a single enqueued job reaches runJob with its
// fields intact.
func TestEnqueueRunsJob(t *testing.T) {
	token := event.ResumeToken{Engine: "codex", Value: "test-token"}
	done := make(chan ThreadJob, 1)
	s, err := New(func(ctx context.Context, job ThreadJob) {
		done <- job
	}, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	job := ThreadJob{ChatID: 123, UserMsgID: 456, Text: "test message", ResumeToken: &token}
	s.Enqueue(testCtx(t), job)

	select {
	case got := <-done:
		if got.Text != "test message" || got.ChatID != 123 {
			t.Errorf("run job = %+v, want text/chat to match", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job to run")
	}
}

// TestEnqueueResumeSetsToken verifies EnqueueResume stamps the token onto
// the job the worker receives, even if the caller left it unset.
func TestEnqueueResumeSetsToken(t *testing.T) {
	token := event.ResumeToken{Engine: "codex", Value: "test-token"}
	done := make(chan ThreadJob, 1)
	s, err := New(func(ctx context.Context, job ThreadJob) {
		done <- job
	}, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.EnqueueResume(testCtx(t), token, ThreadJob{ChatID: 123, UserMsgID: 456, Text: "resume message"})

	select {
	case got := <-done:
		if got.ResumeToken == nil || *got.ResumeToken != token {
			t.Errorf("run job resume token = %v, want %v", got.ResumeToken, token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job to run")
	}
}

// TestMultipleJobsSameThreadRunInOrder verifies strict FIFO within one key:
// job2 must not start until job1's runJob call returns.
func TestMultipleJobsSameThreadRunInOrder(t *testing.T) {
	token := event.ResumeToken{Engine: "codex", Value: "test-token"}
	release1 := make(chan struct{})
	order := make(chan string, 2)

	s, err := New(func(ctx context.Context, job ThreadJob) {
		if job.Text == "message 1" {
			<-release1
		}
		order <- job.Text
	}, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := testCtx(t)
	s.Enqueue(ctx, ThreadJob{ChatID: 123, UserMsgID: 456, Text: "message 1", ResumeToken: &token})
	// give the worker a moment to claim job1 and block on release1
	time.Sleep(20 * time.Millisecond)
	s.Enqueue(ctx, ThreadJob{ChatID: 123, UserMsgID: 457, Text: "message 2", ResumeToken: &token})

	close(release1)

	first := <-order
	second := <-order
	if first != "message 1" || second != "message 2" {
		t.Errorf("run order = [%s %s], want [message 1 message 2]", first, second)
	}
}

// TestDifferentThreadsRunConcurrently verifies keys don't block each other:
// a job stuck on one key must not delay a job on another key.
func TestDifferentThreadsRunConcurrently(t *testing.T) {
	tokenA := event.ResumeToken{Engine: "codex", Value: "a"}
	tokenB := event.ResumeToken{Engine: "codex", Value: "b"}
	blockA := make(chan struct{})
	ranB := make(chan struct{})

	s, err := New(func(ctx context.Context, job ThreadJob) {
		if job.Text == "a" {
			<-blockA
			return
		}
		close(ranB)
	}, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := testCtx(t)
	s.Enqueue(ctx, ThreadJob{Text: "a", ResumeToken: &tokenA})
	s.Enqueue(ctx, ThreadJob{Text: "b", ResumeToken: &tokenB})

	select {
	case <-ranB:
	case <-time.After(2 * time.Second):
		t.Fatal("job on independent thread never ran while the other was blocked")
	}
	close(blockA)
}

// TestNoteThreadKnownDelaysNextJob verifies a job enqueued after
// NoteThreadKnown waits for doneCh before running.
func TestNoteThreadKnownDelaysNextJob(t *testing.T) {
	token := event.ResumeToken{Engine: "codex", Value: "test-token"}
	ran := make(chan struct{})
	s, err := New(func(ctx context.Context, job ThreadJob) {
		close(ran)
	}, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	doneCh := make(chan struct{})
	s.NoteThreadKnown(token, doneCh)
	s.EnqueueResume(testCtx(t), token, ThreadJob{Text: "after known"})

	select {
	case <-ran:
		t.Fatal("job ran before doneCh closed")
	case <-time.After(100 * time.Millisecond):
	}

	close(doneCh)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran after doneCh closed")
	}
}

// TestCancelAbortsPendingJob verifies a cancelled context stops the worker
// from picking up a job still queued behind a running one, without
// interrupting the job already in flight.
func TestCancelAbortsPendingJob(t *testing.T) {
	token := event.ResumeToken{Engine: "codex", Value: "test-token"}
	started := make(chan string, 2)
	release := make(chan struct{})

	s, err := New(func(ctx context.Context, job ThreadJob) {
		started <- job.Text
		if job.Text == "first" {
			<-release
		}
	}, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Enqueue(ctx, ThreadJob{Text: "first", ResumeToken: &token})
	<-started // first has been claimed and is blocking on release

	s.Enqueue(ctx, ThreadJob{Text: "second", ResumeToken: &token})
	cancel()
	close(release)

	select {
	case text := <-started:
		t.Fatalf("second job ran after cancellation: %s", text)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWarmWithoutSoftExpiryAlwaysTrue(t *testing.T) {
	s, err := New(func(ctx context.Context, job ThreadJob) {}, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !s.Warm(ThreadKey("codex:anything")) {
		t.Error("Warm should default true when soft expiry is disabled")
	}
}

func TestWarmTracksSoftExpiryCapacity(t *testing.T) {
	s, err := New(func(ctx context.Context, job ThreadJob) {}, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tokenA := event.ResumeToken{Engine: "codex", Value: "a"}
	tokenB := event.ResumeToken{Engine: "codex", Value: "b"}

	s.Enqueue(testCtx(t), ThreadJob{Text: "a", ResumeToken: &tokenA})
	time.Sleep(20 * time.Millisecond)
	s.Enqueue(testCtx(t), ThreadJob{Text: "b", ResumeToken: &tokenB})
	time.Sleep(20 * time.Millisecond)

	if s.Warm(ThreadKeyFor(tokenA)) {
		t.Error("expected key a to have been evicted from a capacity-1 soft-expiry cache")
	}
	if !s.Warm(ThreadKeyFor(tokenB)) {
		t.Error("expected key b to still be warm")
	}
}
