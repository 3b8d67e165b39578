package pool

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolRunsEveryJob(t *testing.T) {
	t.Parallel()

	p := New(4, 16, testLogger())
	var ran atomic.Int64
	for i := 0; i < 100; i++ {
		if err := p.Submit(func() { ran.Add(1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	p.Shutdown()
	if got := ran.Load(); got != 100 {
		t.Fatalf("ran %d jobs, want 100", got)
	}
}

func TestPoolFIFOWithSingleWorker(t *testing.T) {
	t.Parallel()

	p := New(1, 64, testLogger())
	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		if err := p.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	p.Shutdown()

	for i, got := range order {
		if got != i {
			t.Fatalf("order[%d] = %d, jobs ran out of order", i, got)
		}
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	t.Parallel()

	p := New(1, 4, testLogger())
	p.Shutdown()
	if err := p.Submit(func() {}); !errors.Is(err, ErrShutdown) {
		t.Fatalf("err = %v, want ErrShutdown", err)
	}
}

func TestShutdownDrainsQueue(t *testing.T) {
	t.Parallel()

	p := New(1, 32, testLogger())
	var ran atomic.Int64
	block := make(chan struct{})

	// First job holds the worker so the rest sit in the queue.
	if err := p.Submit(func() { <-block; ran.Add(1) }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := p.Submit(func() { ran.Add(1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	close(block)
	p.Shutdown()
	if got := ran.Load(); got != 11 {
		t.Fatalf("ran %d jobs, want 11 (queue must drain on shutdown)", got)
	}
}

func TestSubmitBlocksWhenFull(t *testing.T) {
	t.Parallel()

	p := New(1, 1, testLogger())
	block := make(chan struct{})
	if err := p.Submit(func() { <-block }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Fill the one queue slot.
	if err := p.Submit(func() {}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	submitted := make(chan error, 1)
	go func() { submitted <- p.Submit(func() {}) }()

	select {
	case err := <-submitted:
		t.Fatalf("Submit returned %v while queue was full", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case err := <-submitted:
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit never unblocked after the queue drained")
	}
	p.Shutdown()
}
