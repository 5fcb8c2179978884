package traversal

// queueEntry is a node of one instance waiting to be expanded or emitted.
type queueEntry struct {
	score    float64
	seq      uint64
	instance int
	node     uint32
}

// frontierQueue is a max-heap on score. Equal scores pop in insertion order.
type frontierQueue []queueEntry

func (q frontierQueue) Len() int { return len(q) }

func (q frontierQueue) Less(i, j int) bool { return before(q[i], q[j]) }

func before(a, b queueEntry) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.seq < b.seq
}

func (q frontierQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *frontierQueue) Push(x any) {
	*q = append(*q, x.(queueEntry))
}

func (q *frontierQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
