package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/radvis/radvis-backend/internal/sse"
	"github.com/radvis/radvis-backend/internal/types"
)

func newTestDirectory(t *testing.T, runner Runner, opts ...DirectoryOption) (*Directory, *sse.Hub) {
	t.Helper()
	log := testLogger(t)
	hub := sse.NewHub(log)
	d := NewDirectory(log, hub, runner, opts...)
	t.Cleanup(d.Close)
	return d, hub
}

func idleRunner() Runner {
	return runnerFunc(func(ctx context.Context, job *Job) Result {
		return Succeeded(&types.Patient{}, &types.Xray{})
	})
}

func TestDirectory_MemoizesPerClient(t *testing.T) {
	d, _ := newTestDirectory(t, idleRunner())

	q1, p1 := d.Acquire("client-a")
	q2, p2 := d.Acquire("client-a")
	if q1 != q2 || p1 != p2 {
		t.Fatal("second Acquire for the same client returned a different pair")
	}

	q3, _ := d.Acquire("client-b")
	if q3 == q1 {
		t.Fatal("different clients share a queue")
	}
	if d.Size() != 2 {
		t.Fatalf("directory size = %d, want 2", d.Size())
	}
}

func TestDirectory_ConcurrentFirstAcquire(t *testing.T) {
	d, _ := newTestDirectory(t, idleRunner())

	const n = 16
	queues := make([]*Queue, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			queues[i], _ = d.Acquire("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if queues[i] != queues[0] {
			t.Fatal("concurrent first acquires resolved to more than one queue")
		}
	}
	if d.Size() != 1 {
		t.Fatalf("directory size = %d, want 1", d.Size())
	}
}

func TestDirectory_SweepEvictsIdlePair(t *testing.T) {
	d, _ := newTestDirectory(t, idleRunner(), WithIdleTTL(10*time.Millisecond))

	q1, _ := d.Acquire("client-a")
	time.Sleep(30 * time.Millisecond)
	d.sweep(time.Now())

	if d.Size() != 0 {
		t.Fatalf("idle pair survived the sweep; directory size = %d", d.Size())
	}

	q2, _ := d.Acquire("client-a")
	if q2 == q1 {
		t.Fatal("Acquire after eviction returned the evicted queue")
	}
}

func TestDirectory_SweepKeepsBusyPair(t *testing.T) {
	release := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, job *Job) Result {
		<-release
		return Succeeded(&types.Patient{}, &types.Xray{})
	})
	d, hub := newTestDirectory(t, runner, WithIdleTTL(time.Nanosecond))
	client := hub.Register()

	queue, _ := d.Acquire(client.ID)
	if err := queue.Enqueue(&Job{File: File{Name: "busy.png", Data: []byte{1}}, ClientID: client.ID, Total: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Wait for the worker to pick the job up, then sweep while it runs.
	deadline := time.After(2 * time.Second)
	for {
		_, pool := d.Acquire(client.ID)
		if pool.Running() > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker never started the job")
		case <-time.After(5 * time.Millisecond):
		}
	}

	d.sweep(time.Now())
	if d.Size() != 1 {
		t.Fatalf("busy pair was evicted; directory size = %d", d.Size())
	}

	close(release)
	collectEvents(t, client, 2)
}
