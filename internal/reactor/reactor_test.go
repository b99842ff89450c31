package reactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestReactorRunsTasksInOrder(t *testing.T) {
	r := New(0)
	defer r.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(10)

	for i := 0; i < 10; i++ {
		i := i
		r.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("task %d ran out of order: got order %v", i, order)
		}
	}
}

func TestReactorID(t *testing.T) {
	r := New(3)
	defer r.Stop()
	if r.ID() != 3 {
		t.Fatalf("expected id 3, got %d", r.ID())
	}
}

func TestReactorStopDrainsPending(t *testing.T) {
	r := New(0)
	var ran int32
	for i := 0; i < 5; i++ {
		r.Post(func() { atomic.AddInt32(&ran, 1) })
	}
	r.Stop()
	if got := atomic.LoadInt32(&ran); got != 5 {
		t.Fatalf("expected all 5 posted tasks to run, got %d", got)
	}
}

func TestPoolRoundRobin(t *testing.T) {
	p := NewPool(3)
	defer p.Stop()

	ids := []int{p.Pick().ID(), p.Pick().ID(), p.Pick().ID(), p.Pick().ID()}
	want := []int{0, 1, 2, 0}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("pick %d: expected reactor %d, got %d", i, want[i], ids[i])
		}
	}
}

func TestPoolAll(t *testing.T) {
	p := NewPool(4)
	defer p.Stop()
	if len(p.All()) != 4 {
		t.Fatalf("expected 4 reactors, got %d", len(p.All()))
	}
}

func TestNewPoolZeroDefaultsToOne(t *testing.T) {
	p := NewPool(0)
	defer p.Stop()
	if len(p.All()) != 1 {
		t.Fatalf("expected 1 reactor, got %d", len(p.All()))
	}
}

func TestReactorPostAfterStopDoesNotPanic(t *testing.T) {
	r := New(0)
	done := make(chan struct{})
	r.Post(func() { close(done) })
	<-done
	r.Stop()
	r.Post(func() {})

	select {
	case <-time.After(10 * time.Millisecond):
	}
}
