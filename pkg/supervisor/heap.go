package supervisor

import (
	"container/heap"
	"time"
)

type timerEntry struct {
	runID    string
	graphID  string
	resumeAt time.Time
	index    int
}

// timerHeap orders suspended runs by resumeAt, then run id.
type timerHeap []*timerEntry

var _ heap.Interface = (*timerHeap)(nil)

func (h timerHeap) Len() int {
	return len(h)
}

func (h timerHeap) Less(i, j int) bool {
	if h[i].resumeAt.Equal(h[j].resumeAt) {
		return h[i].runID < h[j].runID
	}

	return h[i].resumeAt.Before(h[j].resumeAt)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	entry := x.(*timerEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]

	return entry
}

func (h timerHeap) peek() *timerEntry {
	if len(h) == 0 {
		return nil
	}

	return h[0]
}
