package indexer

import (
	"sort"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/domain"
)

// Pending is an event held by the reorder buffer together with the message that delivered it.
// Msg is nil when the event did not come from the stream.
type Pending struct {
	Event *domain.LedgerEvent
	Msg   adapter.Message
}

// Sequencer is a reorder buffer keyed on (block number, log index).
// An event is released once the stream has moved depth blocks past it, so events
// delivered out of order within that window are projected in canonical order.
// It is not safe for concurrent use.
type Sequencer struct {
	depth   uint64
	highest uint64
	pending []Pending
}

// NewSequencer creates a reorder buffer. A depth of zero releases every event immediately.
func NewSequencer(depth uint64) *Sequencer {
	return &Sequencer{depth: depth}
}

// Push adds an event and returns every event that is now ready, in canonical order
func (s *Sequencer) Push(p Pending) []Pending {
	position := p.Event.Position()
	// Insert after any event at the same position to keep delivery order stable
	i := sort.Search(len(s.pending), func(i int) bool {
		return position.Less(s.pending[i].Event.Position())
	})
	s.pending = append(s.pending, Pending{})
	copy(s.pending[i+1:], s.pending[i:])
	s.pending[i] = p

	if p.Event.BlockNumber > s.highest {
		s.highest = p.Event.BlockNumber
	}

	return s.release()
}

// Flush releases every buffered event in canonical order
func (s *Sequencer) Flush() []Pending {
	ready := s.pending
	s.pending = nil
	return ready
}

// Len returns the number of buffered events
func (s *Sequencer) Len() int {
	return len(s.pending)
}

func (s *Sequencer) release() []Pending {
	n := 0
	for n < len(s.pending) && s.pending[n].Event.BlockNumber+s.depth <= s.highest {
		n++
	}
	if n == 0 {
		return nil
	}

	ready := make([]Pending, n)
	copy(ready, s.pending[:n])
	s.pending = append(s.pending[:0], s.pending[n:]...)
	return ready
}
