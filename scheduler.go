package codeindex

import (
	"container/heap"
	"context"
	"sort"
	"sync"
)

// Task is one unit of work run by a Scheduler.
type Task struct {
	ID string
	// Key serializes tasks: two tasks with the same key never run at the
	// same time. Jobs use their codebase id.
	Key      string
	Priority int
	Run      func(ctx context.Context)

	seq   uint64
	index int
}

// taskHeap orders tasks by priority descending, then enqueue order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler runs tasks from a priority queue with bounded concurrency and
// at most one running task per key.
type Scheduler struct {
	maxConcurrent int

	mu      sync.Mutex
	queue   taskHeap
	byID    map[string]*Task
	running map[string]*Task // key -> task
	seq     uint64
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler returns a stopped scheduler. Tasks may be submitted before
// Start; they run once it is called.
func NewScheduler(maxConcurrent int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		maxConcurrent: maxConcurrent,
		byID:          make(map[string]*Task),
		running:       make(map[string]*Task),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins dispatching queued tasks.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.started {
		return
	}
	s.started = true
	s.dispatchLocked()
}

// Submit enqueues t.
func (s *Scheduler) Submit(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	s.seq++
	t.seq = s.seq
	heap.Push(&s.queue, t)
	s.byID[t.ID] = t
	s.dispatchLocked()
	return nil
}

// Remove drops a queued task. It reports false when the task is unknown or
// already running.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok || t.index < 0 {
		return false
	}
	heap.Remove(&s.queue, t.index)
	delete(s.byID, id)
	return true
}

// Queued returns the ids of waiting tasks in run order.
func (s *Scheduler) Queued() []string {
	s.mu.Lock()
	sorted := make(taskHeap, len(s.queue))
	copy(sorted, s.queue)
	s.mu.Unlock()
	sort.Slice(sorted, func(i, j int) bool { return sorted.Less(i, j) })
	ids := make([]string, len(sorted))
	for i, t := range sorted {
		ids[i] = t.ID
	}
	return ids
}

// Closed reports whether Shutdown has been called.
func (s *Scheduler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shutdown stops accepting tasks, cancels the context passed to running
// tasks and waits for them to return or for ctx to end. Tasks that never
// started are returned to the caller.
func (s *Scheduler) Shutdown(ctx context.Context) ([]*Task, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil
	}
	s.closed = true
	var dropped []*Task
	for s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*Task)
		delete(s.byID, t.ID)
		dropped = append(dropped, t)
	}
	s.mu.Unlock()

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return dropped, nil
	case <-ctx.Done():
		return dropped, ctx.Err()
	}
}

// dispatchLocked starts the best runnable tasks. A task whose key is busy
// keeps its place while lower-priority tasks of other keys go ahead.
func (s *Scheduler) dispatchLocked() {
	if !s.started || s.closed {
		return
	}
	var skipped []*Task
	for len(s.running) < s.maxConcurrent && s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*Task)
		if _, busy := s.running[t.Key]; busy {
			skipped = append(skipped, t)
			continue
		}
		s.running[t.Key] = t
		s.wg.Add(1)
		go s.run(t)
	}
	for _, t := range skipped {
		heap.Push(&s.queue, t)
	}
}

func (s *Scheduler) run(t *Task) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, t.Key)
		delete(s.byID, t.ID)
		s.dispatchLocked()
		s.mu.Unlock()
	}()
	t.Run(s.ctx)
}
