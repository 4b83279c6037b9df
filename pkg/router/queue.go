package router

import "container/heap"

// queueItem is one entry in a capability's priority queue.
type queueItem struct {
	taskID   string
	priority int
	seq      uint64
}

// priorityQueue orders by priority descending, then by arrival sequence
// ascending so equal-priority tasks are served first-in-first-out. It
// implements container/heap.Interface directly rather than wrapping a slice
// type, matching how the standard library's own heap examples are built.
type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority > pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*queueItem))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

var _ heap.Interface = (*priorityQueue)(nil)

func pushItem(pq *priorityQueue, item *queueItem) {
	heap.Push(pq, item)
}

func popItem(pq *priorityQueue) *queueItem {
	return heap.Pop(pq).(*queueItem)
}
