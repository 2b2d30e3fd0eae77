package reassembly

import (
	"sort"

	"sitechat/internal/types"
)

// finishedWindow bounds how many finished message ids are remembered for dropping late chunks.
const finishedWindow = 64

// Sequencer restores per-message chunk order by Seq, starting at 0. Not safe for concurrent use.
type Sequencer struct {
	next     map[string]int
	pending  map[string][]types.Chunk
	finished map[string]struct{}
	order    []string
}

func NewSequencer() *Sequencer {
	s := &Sequencer{}
	s.Reset()
	return s
}

// Push accepts one chunk and returns the chunks now deliverable, in order.
func (s *Sequencer) Push(chunk types.Chunk) []types.Chunk {
	if chunk.Seq == nil {
		return []types.Chunk{chunk}
	}
	id := chunk.MessageID
	seq := *chunk.Seq
	if _, ok := s.finished[id]; ok {
		return nil
	}
	if seq < s.next[id] {
		// already delivered
		return nil
	}
	if seq > s.next[id] {
		s.pending[id] = insertBySeq(s.pending[id], chunk)
		return nil
	}

	ready := []types.Chunk{chunk}
	s.next[id] = seq + 1
	buf := s.pending[id]
	for len(buf) > 0 && *buf[0].Seq <= s.next[id] {
		if *buf[0].Seq == s.next[id] {
			ready = append(ready, buf[0])
			s.next[id]++
		}
		buf = buf[1:]
	}
	if len(buf) == 0 {
		delete(s.pending, id)
	} else {
		s.pending[id] = buf
	}
	for _, c := range ready {
		if c.Done {
			s.forget(id)
			break
		}
	}
	return ready
}

// Pending reports how many chunks are buffered waiting for a gap to fill.
func (s *Sequencer) Pending() int {
	n := 0
	for _, buf := range s.pending {
		n += len(buf)
	}
	return n
}

// Reset drops all ordering state, e.g. after a reconnect.
func (s *Sequencer) Reset() {
	s.next = make(map[string]int)
	s.pending = make(map[string][]types.Chunk)
	s.finished = make(map[string]struct{})
	s.order = nil
}

// Tracked reports how many messages hold ordering state.
func (s *Sequencer) Tracked() int {
	return len(s.next)
}

// only the last finishedWindow ids are remembered; older repeats are left to the session
func (s *Sequencer) forget(id string) {
	delete(s.pending, id)
	delete(s.next, id)
	s.finished[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > finishedWindow {
		delete(s.finished, s.order[0])
		s.order = s.order[1:]
	}
}

func insertBySeq(buf []types.Chunk, chunk types.Chunk) []types.Chunk {
	i := sort.Search(len(buf), func(i int) bool { return *buf[i].Seq >= *chunk.Seq })
	if i < len(buf) && *buf[i].Seq == *chunk.Seq {
		return buf
	}
	buf = append(buf, types.Chunk{})
	copy(buf[i+1:], buf[i:])
	buf[i] = chunk
	return buf
}
