package task

import (
	"sync"
	"testing"
	"time"
)

func TestExecuteTaskSync_RunsFunction(t *testing.T) {
	rt := StartThreadPool(2)
	defer rt.StopThreadPool()

	var ran bool
	rt.ExecuteTaskSync(0, func(f *Fiber) {
		ran = true
	})
	if !ran {
		t.Fatal("task body did not run")
	}
}

func TestYield_InterleavesTasksOnSameWorker(t *testing.T) {
	rt := StartThreadPool(1)
	defer rt.StopThreadPool()

	var mu sync.Mutex
	var order []string

	counter := NewSyncCounter()
	rt.ExecuteTaskAsync(0, func(f *Fiber) {
		mu.Lock()
		order = append(order, "a:start")
		mu.Unlock()
		f.Yield()
		mu.Lock()
		order = append(order, "a:end")
		mu.Unlock()
	}, counter)

	rt.ExecuteTaskAsync(0, func(f *Fiber) {
		mu.Lock()
		order = append(order, "b:start")
		mu.Unlock()
	}, counter)

	counter.Join(nil)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 recorded steps, got %v", order)
	}
	if order[0] != "a:start" {
		t.Fatalf("expected a:start first, got %v", order)
	}
	if order[2] != "a:end" {
		t.Fatalf("expected a:end last (resumed after b ran), got %v", order)
	}
}

func TestSyncCounter_JoinBlocksUntilZero(t *testing.T) {
	c := NewSyncCounter()
	c.Add(1)

	done := make(chan struct{})
	go func() {
		c.Join(nil)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Join returned before counter reached zero")
	case <-time.After(20 * time.Millisecond):
	}

	c.Add(-1)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Join did not return after counter reached zero")
	}
}

func TestDispatchPrefetch_RunsEveryDispatchedBody(t *testing.T) {
	rt := StartThreadPool(4)
	defer rt.StopThreadPool()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		rt.DispatchPrefetch(func() {
			defer wg.Done()
		})
	}
	wg.Wait()
}

func TestStopThreadPool_JoinsCleanly(t *testing.T) {
	rt := StartThreadPool(3)
	rt.ExecuteTaskSync(0, func(f *Fiber) {})
	rt.StopThreadPool()
	rt.StopThreadPool() // idempotent
}
