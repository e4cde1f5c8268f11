package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/feral-file/ff-agent-market/internal/domain"
)

func pendingAt(block, logIndex uint64) Pending {
	return Pending{Event: &domain.LedgerEvent{BlockNumber: block, LogIndex: logIndex}}
}

func positions(ready []Pending) []string {
	out := make([]string, 0, len(ready))
	for _, p := range ready {
		out = append(out, p.Event.Position().String())
	}
	return out
}

func TestSequencer_ZeroDepthReleasesImmediately(t *testing.T) {
	s := NewSequencer(0)

	assert.Equal(t, []string{"5:1"}, positions(s.Push(pendingAt(5, 1))))
	assert.Equal(t, []string{"5:0"}, positions(s.Push(pendingAt(5, 0))))
	assert.Equal(t, 0, s.Len())
}

func TestSequencer_ReordersWithinDepth(t *testing.T) {
	s := NewSequencer(2)

	assert.Empty(t, s.Push(pendingAt(11, 0)))
	assert.Empty(t, s.Push(pendingAt(10, 1)))
	assert.Empty(t, s.Push(pendingAt(10, 0)))
	assert.Equal(t, 3, s.Len())

	// Block 12 moves the stream two blocks past block 10
	ready := s.Push(pendingAt(12, 0))
	assert.Equal(t, []string{"10:0", "10:1"}, positions(ready))
	assert.Equal(t, 2, s.Len())

	assert.Equal(t, []string{"11:0"}, positions(s.Push(pendingAt(13, 0))))
	assert.Equal(t, []string{"12:0", "13:0"}, positions(s.Flush()))
	assert.Equal(t, 0, s.Len())
}

func TestSequencer_LateEventBelowReleasedBlocks(t *testing.T) {
	s := NewSequencer(2)

	assert.Empty(t, s.Push(pendingAt(20, 0)))
	assert.Equal(t, []string{"20:0"}, positions(s.Push(pendingAt(22, 0))))

	// Already behind the window: released right away
	assert.Equal(t, []string{"19:3"}, positions(s.Push(pendingAt(19, 3))))
	assert.Equal(t, 1, s.Len())
}

func TestSequencer_SamePositionKeepsDeliveryOrder(t *testing.T) {
	s := NewSequencer(1)

	first := pendingAt(7, 2)
	second := pendingAt(7, 2)
	s.Push(first)
	s.Push(second)

	ready := s.Flush()
	assert.Len(t, ready, 2)
	assert.Same(t, first.Event, ready[0].Event)
	assert.Same(t, second.Event, ready[1].Event)
}

func TestSequencer_FlushEmpty(t *testing.T) {
	s := NewSequencer(3)
	assert.Empty(t, s.Flush())
}
