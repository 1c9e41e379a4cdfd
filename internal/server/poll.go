package server

import "golang.org/x/sys/unix"

// Fixed poll array slots; clients start at firstClientSlot.
const (
	listenSlot = iota
	wakeSlot
	firstClientSlot
)

// pollSet is the poll array. Negative descriptors are ignored by poll(2), so
// the fixed slots hold -1 until Listen fills them.
type pollSet struct {
	fds []unix.PollFd
}

func newPollSet() pollSet {
	fds := make([]unix.PollFd, firstClientSlot, 16)
	for i := range fds {
		fds[i] = unix.PollFd{Fd: -1, Events: unix.POLLIN}
	}
	return pollSet{fds: fds}
}

func (p *pollSet) set(slot, fd int) {
	p.fds[slot].Fd = int32(fd)
	p.fds[slot].Revents = 0
}

func (p *pollSet) add(fd int) int {
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	return len(p.fds) - 1
}

// remove drops slot by moving the last entry into it and returns the
// descriptor that moved, or -1 when slot was the last entry.
func (p *pollSet) remove(slot int) int {
	last := len(p.fds) - 1
	moved := -1
	if slot != last {
		p.fds[slot] = p.fds[last]
		moved = int(p.fds[slot].Fd)
	}
	p.fds[last] = unix.PollFd{}
	p.fds = p.fds[:last]
	return moved
}

func (p *pollSet) len() int { return len(p.fds) }
