package nightshift

// taskQueue is the per-agent pending task list, ordered by priority with
// insertion-order tie-break. Not safe for concurrent use; the owning agent's
// lock guards it.
type taskQueue struct {
	items []*Task
}

// enqueue inserts before the first entry with strictly lower priority, so
// equal-priority tasks keep their arrival order.
func (q *taskQueue) enqueue(t *Task) {
	pos := len(q.items)
	for i, it := range q.items {
		if it.Priority < t.Priority {
			pos = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = t
}

// dequeueNext pops the highest-priority eligible task, lazily discarding
// entries that have exhausted their attempts. Returns nil when empty.
func (q *taskQueue) dequeueNext(retryMax int) *Task {
	for len(q.items) > 0 {
		head := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		if retryMax > 0 && head.Attempts >= retryMax {
			// Exhausted entries are dropped here rather than eagerly evicted.
			continue
		}
		return head
	}
	return nil
}

// requeueTail appends a failed task at the tail without re-sorting.
//
// A failed high-priority task is therefore overtaken by anything queued
// after it. Kept as-is: the behavior is documented, and correcting it
// silently would change retry fairness under load.
func (q *taskQueue) requeueTail(t *Task) {
	q.items = append(q.items, t)
}

func (q *taskQueue) len() int { return len(q.items) }
