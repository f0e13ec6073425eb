package promise

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned by [TaskQueue.Schedule] after the queue has
// been closed.
var ErrQueueClosed = errors.New("promise: task queue is closed")

// Scheduler is the deferred-execution facility used to dispatch reactions.
//
// Schedule enqueues fn to run after the current synchronous execution
// completes and after any already-queued callbacks. Implementations must
// preserve FIFO order between Schedule calls made from the same goroutine;
// this property is what guarantees reactions registered on the same promise
// begin in registration order.
//
// The built-in implementation is [TaskQueue]. Integrations that already own
// a serial execution context (an event loop, an actor mailbox, a test
// harness) can satisfy this interface instead and pass it via
// [WithScheduler].
type Scheduler interface {
	// Schedule enqueues fn for deferred execution. It must not run fn
	// inline. A non-nil error indicates fn was not and will never be
	// enqueued.
	Schedule(fn func()) error
}

// taskChunkSize is the number of tasks per node in the chunked queue.
// 128 tasks * 8 bytes/task + overhead = ~1KB per chunk.
const taskChunkSize = 128

// taskChunk is a fixed-size node in the chunked linked-list.
// It uses readPos/pos cursors for O(1) push/pop without shifting.
type taskChunk struct {
	tasks   [taskChunkSize]func()
	next    *taskChunk
	readPos int // first unread slot
	pos     int // first unused slot
}

// taskChunkPool prevents GC thrashing under high throughput.
var taskChunkPool = sync.Pool{
	New: func() any {
		return &taskChunk{}
	},
}

func newTaskChunk() *taskChunk {
	c := taskChunkPool.Get().(*taskChunk)
	// Reset fields for reuse as the chunk may have been returned with stale data
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnTaskChunk returns an exhausted chunk to the pool.
// Task slots are cleared to avoid retaining closure references.
func returnTaskChunk(c *taskChunk) {
	for i := 0; i < c.pos; i++ {
		c.tasks[i] = nil
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	taskChunkPool.Put(c)
}

// TaskQueue is the default [Scheduler]: a FIFO task queue drained by a
// single worker goroutine.
//
// Tasks execute strictly serially, in submission order. No two tasks ever
// run concurrently, which is what lets promise reactions mutate downstream
// promises without synchronization beyond each promise's own lock.
//
// The queue's storage is a chunked linked list of fixed-size arrays,
// recycled through a [sync.Pool]; pushes and pops are O(1) and steady-state
// operation does not allocate.
type TaskQueue struct {
	head   *taskChunk
	tail   *taskChunk
	wake   chan struct{}
	done   chan struct{}
	mu     sync.Mutex
	length int
	closed bool
}

var _ Scheduler = (*TaskQueue)(nil)

// NewTaskQueue creates a TaskQueue and starts its worker goroutine.
// Callers that create a queue directly (rather than letting [New] do it)
// are responsible for calling [TaskQueue.Close].
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Schedule enqueues fn for execution by the worker goroutine.
// It is safe for concurrent use. Returns [ErrQueueClosed] if Close has
// already been called.
func (q *TaskQueue) Schedule(fn func()) error {
	if fn == nil {
		return nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.push(fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close stops the queue. Tasks already enqueued are drained before the
// worker exits; Close blocks until the drain completes. Schedule calls made
// after Close return [ErrQueueClosed].
func (q *TaskQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
	return nil
}

// push appends a task. Caller must hold q.mu.
func (q *TaskQueue) push(task func()) {
	if q.tail == nil {
		q.tail = newTaskChunk()
		q.head = q.tail
	}

	if q.tail.pos == len(q.tail.tasks) {
		newTail := newTaskChunk()
		q.tail.next = newTail
		q.tail = newTail
	}

	q.tail.tasks[q.tail.pos] = task
	q.tail.pos++
	q.length++
}

// pop removes and returns the oldest task, or nil. Caller must hold q.mu.
func (q *TaskQueue) pop() func() {
	if q.head == nil || q.head.readPos == q.head.pos {
		return nil
	}

	task := q.head.tasks[q.head.readPos]
	q.head.tasks[q.head.readPos] = nil
	q.head.readPos++
	q.length--

	if q.head.readPos == q.head.pos {
		exhausted := q.head
		q.head = exhausted.next
		if q.head == nil {
			q.tail = nil
		}
		returnTaskChunk(exhausted)
	}

	return task
}

// run is the worker loop. It drains the queue to empty, then sleeps until
// woken. After Close it performs one final drain and exits.
func (q *TaskQueue) run() {
	defer close(q.done)

	for {
		for {
			q.mu.Lock()
			task := q.pop()
			q.mu.Unlock()
			if task == nil {
				break
			}
			task()
		}

		q.mu.Lock()
		closed := q.closed
		empty := q.length == 0
		q.mu.Unlock()

		if closed && empty {
			return
		}
		if !empty {
			continue
		}

		<-q.wake
	}
}
