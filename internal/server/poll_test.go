package server

import (
	"math/rand"
	"testing"

	"github.com/danmuck/rosterd/internal/protocol/session"
	"github.com/danmuck/rosterd/internal/testutil/testlog"
)

// checkIndexInvariant verifies that every registered connection sits at its
// stored poll index and that the two structures agree on membership.
func checkIndexInvariant(t *testing.T, s *Server) {
	t.Helper()
	if got, want := s.conns.Len(), s.polls.len()-firstClientSlot; got != want {
		t.Fatalf("registry holds %d conns, poll array holds %d clients", got, want)
	}
	for i := firstClientSlot; i < s.polls.len(); i++ {
		fd := int(s.polls.fds[i].Fd)
		c, ok := s.conns.Get(fd)
		if !ok {
			t.Fatalf("poll slot %d fd=%d not registered", i, fd)
		}
		if c.PollIndex() != i {
			t.Fatalf("fd=%d stored index %d, actual %d", fd, c.PollIndex(), i)
		}
	}
}

func TestAdmitUntrackKeepsIndicesInSync(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig(), nil)
	rng := rand.New(rand.NewSource(7))

	live := []*session.Conn{}
	next := 1000
	for step := 0; step < 2000; step++ {
		if len(live) == 0 || rng.Intn(3) != 0 {
			live = append(live, s.admit(next, "test"))
			next++
		} else {
			i := rng.Intn(len(live))
			s.untrack(live[i])
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
		}
		checkIndexInvariant(t, s)
	}
	if s.Stats().Connections != len(live) {
		t.Fatalf("stats connections=%d want %d", s.Stats().Connections, len(live))
	}
}

func TestUntrackMovesOnlyLastEntry(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig(), nil)
	conns := make([]*session.Conn, 5)
	for i := range conns {
		conns[i] = s.admit(10+i, "test")
	}
	before := make(map[int]int)
	for _, c := range conns {
		before[c.FD()] = c.PollIndex()
	}

	victim := conns[1]
	slot := victim.PollIndex()
	s.untrack(victim)

	if s.conns.Contains(victim.FD()) {
		t.Fatalf("victim still registered")
	}
	if s.conns.Len() != 4 || s.polls.len() != firstClientSlot+4 {
		t.Fatalf("expected exactly one removal, conns=%d polls=%d", s.conns.Len(), s.polls.len())
	}
	last := conns[4]
	if last.PollIndex() != slot {
		t.Fatalf("last conn not relocated into freed slot: %d != %d", last.PollIndex(), slot)
	}
	for _, c := range []*session.Conn{conns[0], conns[2], conns[3]} {
		if c.PollIndex() != before[c.FD()] {
			t.Fatalf("fd=%d index changed %d -> %d", c.FD(), before[c.FD()], c.PollIndex())
		}
	}
	checkIndexInvariant(t, s)
}

func TestUntrackLastEntry(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig(), nil)
	a := s.admit(20, "test")
	b := s.admit(21, "test")
	s.untrack(b)
	if a.PollIndex() != firstClientSlot {
		t.Fatalf("unexpected index for remaining conn: %d", a.PollIndex())
	}
	checkIndexInvariant(t, s)
}

func TestPollSetReservesFixedSlots(t *testing.T) {
	testlog.Start(t)
	p := newPollSet()
	if p.len() != firstClientSlot {
		t.Fatalf("unexpected initial length %d", p.len())
	}
	for i := 0; i < firstClientSlot; i++ {
		if p.fds[i].Fd != -1 {
			t.Fatalf("slot %d should be disabled before Listen", i)
		}
	}
	if idx := p.add(9); idx != firstClientSlot {
		t.Fatalf("first client slot=%d", idx)
	}
	if moved := p.remove(firstClientSlot); moved != -1 {
		t.Fatalf("removing last entry moved fd %d", moved)
	}
}
