package promise

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTaskQueue_FIFOOrder(t *testing.T) {
	q := NewTaskQueue()
	defer q.Close()

	const n = 1000 // spans multiple chunks

	var mu sync.Mutex
	order := make([]int, 0, n)
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		i := i
		if err := q.Schedule(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == n-1 {
				close(done)
			}
		}); err != nil {
			t.Fatalf(`unexpected schedule error: %v`, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal(`timed out waiting for tasks`)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != n {
		t.Fatalf(`ran %d tasks, expected %d`, len(order), n)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf(`task %d ran at position %d`, v, i)
		}
	}
}

func TestTaskQueue_CloseDrainsPendingTasks(t *testing.T) {
	q := NewTaskQueue()

	const n = 300
	var mu sync.Mutex
	var ran int
	for i := 0; i < n; i++ {
		if err := q.Schedule(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		}); err != nil {
			t.Fatalf(`unexpected schedule error: %v`, err)
		}
	}

	q.Close()

	mu.Lock()
	defer mu.Unlock()
	if ran != n {
		t.Fatalf(`close ran %d of %d pending tasks`, ran, n)
	}
}

func TestTaskQueue_ScheduleAfterClose(t *testing.T) {
	q := NewTaskQueue()
	q.Close()

	err := q.Schedule(func() { t.Error(`task ran after close`) })
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf(`expected ErrQueueClosed, got %v`, err)
	}
}

func TestTaskQueue_CloseIdempotent(t *testing.T) {
	q := NewTaskQueue()
	q.Close()
	q.Close()
}

func TestTaskQueue_ConcurrentSchedule(t *testing.T) {
	q := NewTaskQueue()

	const producers = 8
	const perProducer = 250

	var mu sync.Mutex
	var ran int

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				if err := q.Schedule(func() {
					mu.Lock()
					ran++
					mu.Unlock()
				}); err != nil {
					t.Errorf(`unexpected schedule error: %v`, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	q.Close()

	mu.Lock()
	defer mu.Unlock()
	if ran != producers*perProducer {
		t.Fatalf(`ran %d tasks, expected %d`, ran, producers*perProducer)
	}
}

// Tasks scheduled from inside a task (e.g. a reaction resolving another
// promise) still run, in order, after the current task.
func TestTaskQueue_ReentrantSchedule(t *testing.T) {
	q := NewTaskQueue()
	defer q.Close()

	done := make(chan []string, 1)
	var order []string

	if err := q.Schedule(func() {
		order = append(order, "outer")
		_ = q.Schedule(func() {
			order = append(order, "inner")
			done <- order
		})
	}); err != nil {
		t.Fatalf(`unexpected schedule error: %v`, err)
	}

	select {
	case got := <-done:
		if len(got) != 2 || got[0] != "outer" || got[1] != "inner" {
			t.Fatalf(`unexpected order: %v`, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal(`timed out waiting for reentrant task`)
	}
}
