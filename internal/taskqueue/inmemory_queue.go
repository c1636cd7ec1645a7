package taskqueue

import "container/list"

// Queue is the FIFO admission queue of a single flow. Pending tasks can be
// removed by key, which is what makes cancelling a Pending task atomic.
//
// Queue is not safe for concurrent use; the owning flow serializes access.
type Queue struct {
	items *list.List
	byKey map[string]*list.Element
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		items: list.New(),
		byKey: make(map[string]*list.Element),
	}
}

// Enqueue appends t. A task with the same key must not already be queued.
func (q *Queue) Enqueue(t *Task) {
	q.byKey[t.Key] = q.items.PushBack(t)
}

// Dequeue removes and returns the oldest task, or nil when empty.
func (q *Queue) Dequeue() *Task {
	front := q.items.Front()
	if front == nil {
		return nil
	}
	t := q.items.Remove(front).(*Task)
	delete(q.byKey, t.Key)
	return t
}

// Remove takes the task with the given key out of the queue.
func (q *Queue) Remove(key string) (*Task, bool) {
	el, ok := q.byKey[key]
	if !ok {
		return nil, false
	}
	delete(q.byKey, key)
	return q.items.Remove(el).(*Task), true
}

// Drain removes every queued task and returns them in FIFO order.
func (q *Queue) Drain() []*Task {
	out := make([]*Task, 0, q.items.Len())
	for t := q.Dequeue(); t != nil; t = q.Dequeue() {
		out = append(out, t)
	}
	return out
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	return q.items.Len()
}
