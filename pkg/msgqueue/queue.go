// ABOUTME: Priority message queue with byte and time accounting
// ABOUTME: Blocking Get with timeout, abort and put-back semantics
package msgqueue

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrAborted is returned by Get, Put and WaitUntilEmpty after Abort.
	ErrAborted = errors.New("msgqueue: aborted")
	// ErrTimeout is returned by Get when no eligible item arrived in time.
	ErrTimeout = errors.New("msgqueue: timeout")
	// ErrNotInitialized is returned by Put before Init.
	ErrNotInitialized = errors.New("msgqueue: not initialized")
)

// Sized is implemented by items that count towards the data and time size.
type Sized interface {
	DataSize() int
	Duration() time.Duration
}

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithMaxDataSize sets the byte level at which IsFull reports true.
func WithMaxDataSize[T any](n int) Option[T] {
	return func(q *Queue[T]) { q.maxDataSize = n }
}

// WithMaxTimeSize sets the buffered duration at which IsFull reports true.
func WithMaxTimeSize[T any](d time.Duration) Option[T] {
	return func(q *Queue[T]) { q.maxTimeSize = d }
}

// WithDiscard registers a hook that receives every item removed by a flush.
func WithDiscard[T any](fn func(T)) Option[T] {
	return func(q *Queue[T]) { q.discard = fn }
}

// Queue is a thread-safe priority queue. Items are served highest priority
// first and FIFO within a priority.
type Queue[T any] struct {
	name string

	mu          sync.Mutex
	items       entryHeap[T]
	seq         int64
	backSeq     int64
	dataSize    int
	timeSize    time.Duration
	maxDataSize int
	maxTimeSize time.Duration
	aborted     bool
	inited      bool
	changed     chan struct{}
	discard     func(T)
}

type entry[T any] struct {
	item     T
	priority int
	seq      int64
	size     int
	duration time.Duration
}

// New creates a queue. The queue refuses Put until Init is called.
func New[T any](name string, opts ...Option[T]) *Queue[T] {
	q := &Queue[T]{
		name:    name,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue's name.
func (q *Queue[T]) Name() string {
	return q.name
}

// Init clears the queue and makes it accept traffic.
func (q *Queue[T]) Init() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked(nil)
	q.aborted = false
	q.inited = true
	q.broadcastLocked()
}

// Put enqueues item at priority.
func (q *Queue[T]) Put(item T, priority int) error {
	return q.put(item, priority, false)
}

// PutBack re-inserts item ahead of every queued item of the same priority.
// Items put back in sequence keep their relative order.
func (q *Queue[T]) PutBack(item T, priority int) error {
	return q.put(item, priority, true)
}

func (q *Queue[T]) put(item T, priority int, front bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.inited {
		return ErrNotInitialized
	}
	if q.aborted {
		return ErrAborted
	}

	e := &entry[T]{item: item, priority: priority}
	if front {
		// Put-backs sort before every regular item and after earlier put-backs.
		q.backSeq++
		e.seq = q.backSeq - 1<<62
	} else {
		q.seq++
		e.seq = q.seq
	}
	if s, ok := any(item).(Sized); ok {
		e.size = s.DataSize()
		e.duration = s.Duration()
		q.dataSize += e.size
		q.timeSize += e.duration
	}
	heap.Push(&q.items, e)
	q.broadcastLocked()
	return nil
}

// Get returns the next item whose priority is at least minPriority.
// A zero timeout polls once, a negative timeout waits until an item arrives or
// the queue is aborted.
func (q *Queue[T]) Get(timeout time.Duration, minPriority int) (T, int, error) {
	var zero T
	var timer *time.Timer
	var deadline <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		q.mu.Lock()
		if q.aborted {
			q.mu.Unlock()
			return zero, 0, ErrAborted
		}
		if len(q.items) > 0 && q.items[0].priority >= minPriority {
			e := heap.Pop(&q.items).(*entry[T])
			q.releaseLocked(e)
			if len(q.items) == 0 {
				q.broadcastLocked()
			}
			q.mu.Unlock()
			return e.item, e.priority, nil
		}
		wait := q.changed
		q.mu.Unlock()

		if timeout == 0 {
			return zero, 0, ErrTimeout
		}
		select {
		case <-wait:
		case <-deadline:
			return zero, 0, ErrTimeout
		}
	}
}

// Abort wakes every waiter with ErrAborted. It is idempotent.
func (q *Queue[T]) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.aborted {
		return
	}
	q.aborted = true
	q.broadcastLocked()
}

// Flush drops every queued item and clears the abort flag.
func (q *Queue[T]) Flush() {
	q.FlushFunc(nil)
}

// FlushFunc drops queued items matching fn, or all items when fn is nil, and
// clears the abort flag.
func (q *Queue[T]) FlushFunc(fn func(T) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked(fn)
	q.aborted = false
	q.broadcastLocked()
}

// Remove takes every queued item matching fn out of the queue and returns
// them in service order. Unlike FlushFunc it leaves the abort flag alone and
// does not call the discard hook.
func (q *Queue[T]) Remove(fn func(T) bool) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	var taken []*entry[T]
	kept := q.items[:0]
	for _, e := range q.items {
		if fn(e.item) {
			taken = append(taken, e)
			q.releaseLocked(e)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	heap.Init(&q.items)
	if len(taken) > 0 {
		q.broadcastLocked()
	}

	h := entryHeap[T](taken)
	sort.Sort(h)
	out := make([]T, len(taken))
	for i, e := range taken {
		out[i] = e.item
	}
	return out
}

// End flushes the queue and marks it uninitialized.
func (q *Queue[T]) End() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked(nil)
	q.inited = false
	q.aborted = false
	q.broadcastLocked()
}

func (q *Queue[T]) flushLocked(fn func(T) bool) {
	kept := q.items[:0]
	var dropped []*entry[T]
	for _, e := range q.items {
		if fn == nil || fn(e.item) {
			dropped = append(dropped, e)
			q.releaseLocked(e)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	heap.Init(&q.items)
	if q.discard != nil {
		for _, e := range dropped {
			q.discard(e.item)
		}
	}
}

func (q *Queue[T]) releaseLocked(e *entry[T]) {
	q.dataSize -= e.size
	q.timeSize -= e.duration
	if q.dataSize < 0 {
		q.dataSize = 0
	}
	if q.timeSize < 0 {
		q.timeSize = 0
	}
}

func (q *Queue[T]) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// WaitUntilEmpty blocks until the queue is empty, aborted or ctx is done.
func (q *Queue[T]) WaitUntilEmpty(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.aborted {
			q.mu.Unlock()
			return ErrAborted
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// IsFull reports whether either configured limit has been reached.
func (q *Queue[T]) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxDataSize > 0 && q.dataSize >= q.maxDataSize {
		return true
	}
	return q.maxTimeSize > 0 && q.timeSize >= q.maxTimeSize
}

// Level returns the fill level in percent of the fuller limit.
func (q *Queue[T]) Level() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	level := 0
	if q.maxDataSize > 0 {
		level = q.dataSize * 100 / q.maxDataSize
	}
	if q.maxTimeSize > 0 {
		if l := int(q.timeSize * 100 / q.maxTimeSize); l > level {
			level = l
		}
	}
	return min(level, 100)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether nothing is queued.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Count returns the number of queued items matching fn.
func (q *Queue[T]) Count(fn func(T) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.items {
		if fn(e.item) {
			n++
		}
	}
	return n
}

// DataSize returns the bytes accounted to queued items.
func (q *Queue[T]) DataSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dataSize
}

// TimeSize returns the duration accounted to queued items.
func (q *Queue[T]) TimeSize() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timeSize
}

// IsInited reports whether Init has been called since the last End.
func (q *Queue[T]) IsInited() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inited
}

// IsAborted reports whether the queue is aborted.
func (q *Queue[T]) IsAborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

// entryHeap orders by priority (higher first) then by sequence (lower first).
type entryHeap[T any] []*entry[T]

func (h entryHeap[T]) Len() int { return len(h) }

func (h entryHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap[T]) Push(x any) {
	*h = append(*h, x.(*entry[T]))
}

func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
