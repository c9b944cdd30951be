package supervisor

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerHeap_Order(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	h := &timerHeap{}
	heap.Push(h, &timerEntry{runID: "c", resumeAt: base.Add(time.Hour)})
	heap.Push(h, &timerEntry{runID: "b", resumeAt: base})
	heap.Push(h, &timerEntry{runID: "a", resumeAt: base})
	heap.Push(h, &timerEntry{runID: "d", resumeAt: base.Add(-time.Minute)})

	var order []string
	for h.Len() > 0 {
		order = append(order, heap.Pop(h).(*timerEntry).runID)
	}

	assert.Equal(t, []string{"d", "a", "b", "c"}, order)
}

func TestTimerHeap_RemoveAndFix(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	h := &timerHeap{}
	first := &timerEntry{runID: "first", resumeAt: base}
	second := &timerEntry{runID: "second", resumeAt: base.Add(time.Minute)}
	heap.Push(h, first)
	heap.Push(h, second)

	first.resumeAt = base.Add(time.Hour)
	heap.Fix(h, first.index)
	assert.Equal(t, "second", h.peek().runID)

	heap.Remove(h, second.index)
	assert.Equal(t, "first", h.peek().runID)
	assert.Equal(t, -1, second.index)
}
