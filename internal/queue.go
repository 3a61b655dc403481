package internal

// ApplierQueue holds appliers registered since the last frame.
// It is not synchronized; the ApplierRegistry guards it.
type ApplierQueue struct {
	appliers []*Applier
}

func NewApplierQueue() *ApplierQueue {
	return &ApplierQueue{
		appliers: make([]*Applier, 0),
	}
}

func (q *ApplierQueue) Enqueue(a *Applier) {
	q.appliers = append(q.appliers, a)
}

// Drain returns the queued appliers in registration order and empties the queue.
func (q *ApplierQueue) Drain() []*Applier {
	appliers := q.appliers
	q.appliers = make([]*Applier, 0, len(appliers))

	return appliers
}

func (q *ApplierQueue) Len() int {
	return len(q.appliers)
}
