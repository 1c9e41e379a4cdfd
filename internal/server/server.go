// Package server runs the roster protocol on a single goroutine: one poll
// array covers the listener, a wake pipe and every client descriptor, and a
// descriptor-keyed registry holds the protocol state of each client.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/rosterd/internal/observability"
	"github.com/danmuck/rosterd/internal/protocol/session"
	"github.com/danmuck/rosterd/internal/registry"
	"github.com/danmuck/rosterd/internal/roster"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const DefaultBacklog = 128

// Config controls the listener and per-connection limits.
type Config struct {
	ListenAddr string
	Session    session.Config
	// LoadFactor is the registry resize threshold; zero uses the registry default.
	LoadFactor float64
	Backlog    int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: "127.0.0.1:5555",
		Session:    session.DefaultConfig(),
		LoadFactor: registry.DefaultLoadFactor,
		Backlog:    DefaultBacklog,
	}
}

// Server owns the listener, the poll array, the connection registry and the
// roster. Everything except the stats accessors belongs to the goroutine
// running Serve.
type Server struct {
	cfg   Config
	store *roster.Store

	polls pollSet
	conns *registry.Map[*session.Conn]

	listenFD int
	wakeR    int
	wakeW    int

	addr      atomic.Value
	listening atomic.Bool
	active    atomic.Int64
	employees atomic.Int64
	rewrites  atomic.Uint64
}

func New(cfg Config, store *roster.Store) *Server {
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultBacklog
	}
	cfg.Session = cfg.Session.WithDefaults()
	s := &Server{
		cfg:      cfg,
		store:    store,
		polls:    newPollSet(),
		conns:    registry.New[*session.Conn](cfg.LoadFactor),
		listenFD: -1,
		wakeR:    -1,
		wakeW:    -1,
	}
	s.addr.Store("")
	if store != nil {
		s.employees.Store(int64(store.Len()))
		observability.SetEmployees(store.Len())
	}
	return s
}

// Listen binds the IPv4 listener and creates the wake pipe. Serve calls it
// when it has not been called yet.
func (s *Server) Listen() error {
	if s.listenFD >= 0 {
		return nil
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp4", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: resolve %q: %w", s.cfg.ListenAddr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("server: socket: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := setupListener(fd, tcpAddr, s.cfg.Backlog); err != nil {
		_ = unix.Close(fd)
		return err
	}

	pipe := make([]int, 2)
	if err := unix.Pipe(pipe); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("server: wake pipe: %w", err)
	}
	for _, p := range pipe {
		unix.CloseOnExec(p)
		if err := unix.SetNonblock(p, true); err != nil {
			closeFDs(fd, pipe[0], pipe[1])
			return fmt.Errorf("server: wake pipe: %w", err)
		}
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		closeFDs(fd, pipe[0], pipe[1])
		return fmt.Errorf("server: getsockname: %w", err)
	}

	s.listenFD, s.wakeR, s.wakeW = fd, pipe[0], pipe[1]
	s.polls.set(listenSlot, fd)
	s.polls.set(wakeSlot, s.wakeR)
	s.addr.Store(sockaddrString(bound))
	s.listening.Store(true)
	log.Info().Str("addr", s.Addr()).Uint16("version", s.cfg.Session.Version).Msg("listening")
	return nil
}

func setupListener(fd int, addr *net.TCPAddr, backlog int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("server: SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("server: bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("server: nonblock: %w", err)
	}
	return nil
}

// Addr is the bound listener address, empty before Listen.
func (s *Server) Addr() string {
	return s.addr.Load().(string)
}

// Stats may be called from any goroutine.
func (s *Server) Stats() observability.Snapshot {
	return observability.Snapshot{
		Listening:   s.listening.Load(),
		Addr:        s.Addr(),
		Connections: int(s.active.Load()),
		Employees:   int(s.employees.Load()),
		Rewrites:    s.rewrites.Load(),
	}
}

// Serve multiplexes the listener and all clients until ctx is cancelled or a
// fatal error occurs. Client transport failures only evict that client;
// listener, poll and persistence failures end Serve. Every connection and the
// listener are closed before Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			s.wake()
		case <-done:
		}
	}()

	err := s.loop(ctx)
	close(done)
	wg.Wait()
	s.shutdown()
	return err
}

func (s *Server) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := unix.Poll(s.polls.fds, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("server: poll: %w", err)
		}
		if n == 0 {
			continue
		}

		if s.polls.fds[wakeSlot].Revents != 0 {
			s.drainWake()
			continue
		}

		// descending so a swap-with-last eviction only moves an entry that was
		// already visited
		for i := len(s.polls.fds) - 1; i >= firstClientSlot; i-- {
			pfd := s.polls.fds[i]
			if pfd.Revents == 0 {
				continue
			}
			if err := s.serviceClient(int(pfd.Fd), pfd.Revents); err != nil {
				return err
			}
		}

		if s.polls.fds[listenSlot].Revents&unix.POLLIN != 0 {
			if err := s.acceptReady(); err != nil {
				return err
			}
		}
	}
}

func (s *Server) serviceClient(fd int, revents int16) error {
	c, ok := s.conns.Get(fd)
	if !ok {
		log.Warn().Int("fd", fd).Msg("poll entry without registered connection")
		return nil
	}
	if revents&unix.POLLNVAL != 0 {
		s.evict(c, "transport")
		return nil
	}

	status, err := c.Step(fdReader{fd: fd}, fdWriter{fd: fd, wake: s.wakeR}, s)
	switch {
	case err == nil:
		if status == session.StatusClosed {
			log.Info().Int("fd", fd).Str("remote", c.Remote()).Msg("client disconnected")
			s.evict(c, "closed")
		}
	case errors.Is(err, session.ErrHandler):
		return fmt.Errorf("server: %w", err)
	case errors.Is(err, session.ErrPayloadTooLarge):
		log.Warn().Int("fd", fd).Str("remote", c.Remote()).Err(err).Msg("evicting client")
		s.evict(c, "oversize")
	default:
		log.Warn().Int("fd", fd).Str("remote", c.Remote()).Err(err).Msg("client transport failure")
		s.evict(c, "transport")
	}
	return nil
}

func (s *Server) acceptReady() error {
	nfd, sa, err := unix.Accept(s.listenFD)
	if err != nil {
		if transientAcceptErr(err) {
			log.Debug().Err(err).Msg("accept skipped")
			return nil
		}
		return fmt.Errorf("server: accept: %w", err)
	}
	unix.CloseOnExec(nfd)
	remote := sockaddrString(sa)
	if err := unix.SetNonblock(nfd, true); err != nil {
		log.Warn().Str("remote", remote).Err(err).Msg("dropping client: nonblock failed")
		_ = unix.Close(nfd)
		return nil
	}

	s.admit(nfd, remote)
	observability.RecordAccept(s.conns.Len())
	log.Info().Int("fd", nfd).Str("remote", remote).Int("active", s.conns.Len()).Msg("client connected")
	return nil
}

func transientAcceptErr(err error) bool {
	return errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EINTR) ||
		errors.Is(err, unix.ECONNABORTED) ||
		errors.Is(err, unix.EPROTO)
}

// admit registers fd with a fresh connection at the end of the poll array.
func (s *Server) admit(fd int, remote string) *session.Conn {
	idx := s.polls.add(fd)
	c := session.NewConn(fd, idx, remote, s.cfg.Session)
	s.conns.Insert(fd, c)
	s.active.Store(int64(s.conns.Len()))
	return c
}

// untrack removes c from the poll array and the registry, fixing the poll
// index of the connection moved into its slot. The descriptor stays open.
func (s *Server) untrack(c *session.Conn) {
	slot := c.PollIndex()
	if moved := s.polls.remove(slot); moved >= 0 {
		if mc, ok := s.conns.Get(moved); ok {
			mc.SetPollIndex(slot)
		}
	}
	s.conns.Remove(c.FD())
	s.active.Store(int64(s.conns.Len()))
}

func (s *Server) evict(c *session.Conn, reason string) {
	fd := c.FD()
	s.untrack(c)
	if err := unix.Close(fd); err != nil {
		log.Debug().Int("fd", fd).Err(err).Msg("close client")
	}
	observability.RecordEvict(reason, s.conns.Len())
}

func (s *Server) wake() {
	if _, err := unix.Write(s.wakeW, []byte{1}); err != nil && !errors.Is(err, unix.EAGAIN) {
		log.Warn().Err(err).Msg("wake pipe write failed")
	}
}

func (s *Server) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(s.wakeR, buf[:])
		if err != nil || n <= 0 {
			return
		}
	}
}

func (s *Server) shutdown() {
	var open []*session.Conn
	s.conns.Range(func(_ int, c *session.Conn) bool {
		open = append(open, c)
		return true
	})
	for _, c := range open {
		s.evict(c, "shutdown")
	}
	s.listening.Store(false)
	closeFDs(s.listenFD, s.wakeR, s.wakeW)
	s.listenFD, s.wakeR, s.wakeW = -1, -1, -1
	s.polls.set(listenSlot, -1)
	s.polls.set(wakeSlot, -1)
	log.Info().Int("closed_clients", len(open)).Msg("server stopped")
}

func closeFDs(fds ...int) {
	for _, fd := range fds {
		if fd >= 0 {
			_ = unix.Close(fd)
		}
	}
}
