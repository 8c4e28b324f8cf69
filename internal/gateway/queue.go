package gateway

// queue is a FIFO of pending envelopes. Callers hold the gateway mutex.
type queue[T any] struct {
	items []T
	head  int
}

func (q *queue[T]) push(v T) {
	q.items = append(q.items, v)
}

func (q *queue[T]) pop() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}

	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 32 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = zero
		}
		q.items = q.items[:n]
		q.head = 0
	}
	return v, true
}

func (q *queue[T]) len() int {
	return len(q.items) - q.head
}
