package schedule

import "container/heap"

// jobQueue is a min-heap ordered by next run, ties broken by registration order.
type jobQueue []*Job

var _ heap.Interface = (*jobQueue)(nil)

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if !q[i].nextRun.Equal(q[j].nextRun) {
		return q[i].nextRun.Before(q[j].nextRun)
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	j := x.(*Job)
	j.index = len(*q)
	*q = append(*q, j)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*q = old[:n-1]
	return j
}

func (q jobQueue) peek() *Job {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}
