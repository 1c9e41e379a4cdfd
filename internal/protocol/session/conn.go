package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/rosterd/internal/protocol"
	"github.com/danmuck/rosterd/internal/protocol/option"
)

// State is the protocol phase of one connection.
type State uint8

const (
	StateAwaitingHandshake State = iota
	StateReady
	StateReceivingPayload
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateReady:
		return "ready"
	case StateReceivingPayload:
		return "receiving_payload"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Status reports what one Step observed.
type Status uint8

const (
	// StatusPartial means bytes (possibly none) were buffered and no frame completed.
	StatusPartial Status = iota
	// StatusComplete means a frame completed and was answered.
	StatusComplete
	// StatusClosed means the peer closed the stream.
	StatusClosed
)

var (
	// ErrWouldBlock is returned by non-blocking readers with nothing pending.
	ErrWouldBlock = errors.New("session: read would block")
	// ErrPayloadTooLarge ends a connection whose declared payload exceeds the limit.
	ErrPayloadTooLarge = errors.New("session: declared payload too large")
	// ErrHandler wraps failures of the Handler, as opposed to transport failures.
	ErrHandler = errors.New("session: handler failed")
	// ErrRejected may be wrapped by HandleRequest to refuse a request it left
	// unapplied; the client gets invalid-request and the connection stays ready.
	ErrRejected = errors.New("session: request refused")
)

// Handler receives the outcome of complete frames.
type Handler interface {
	// HandleRequest applies one decoded option set and returns the response.
	// Errors other than ErrRejected are fatal to the caller.
	HandleRequest(c *Conn, req option.Request) (protocol.DBResponse, error)
	// HandshakeDone reports the verdict sent for one handshake attempt.
	HandshakeDone(c *Conn, flag protocol.HandshakeFlag)
	// Rejected reports a frame answered with invalid-request.
	Rejected(c *Conn, err error)
}

// Conn is the protocol state of one client socket. The descriptor is
// referenced, never closed, by Conn.
type Conn struct {
	fd     int
	remote string
	cfg    Config

	state     State
	header    [protocol.DBRequestHeaderSize]byte
	headerPos int

	payload    []byte
	payloadPos int

	pollIndex int
}

// NewConn returns a connection awaiting its handshake.
func NewConn(fd, pollIndex int, remote string, cfg Config) *Conn {
	return &Conn{
		fd:        fd,
		remote:    remote,
		cfg:       cfg.WithDefaults(),
		state:     StateAwaitingHandshake,
		pollIndex: pollIndex,
	}
}

func (c *Conn) FD() int            { return c.fd }
func (c *Conn) Remote() string     { return c.remote }
func (c *Conn) State() State       { return c.state }
func (c *Conn) PollIndex() int     { return c.pollIndex }
func (c *Conn) SetPollIndex(i int) { c.pollIndex = i }

// Expected is the size of the frame region currently being assembled.
func (c *Conn) Expected() int {
	switch c.state {
	case StateAwaitingHandshake:
		return protocol.HandshakeRequestSize
	case StateReady:
		return protocol.DBRequestHeaderSize
	default:
		return len(c.payload)
	}
}

// Buffered is the number of bytes already held for the current frame region.
func (c *Conn) Buffered() int {
	if c.state == StateReceivingPayload {
		return c.payloadPos
	}
	return c.headerPos
}

// Destroy releases the payload buffer.
func (c *Conn) Destroy() {
	c.payload = nil
	c.payloadPos = 0
}

// Step performs one read into the active region of the current frame and,
// when that completes it, runs the transition and writes the reply to w.
//
// r must be non-blocking: it returns ErrWouldBlock when nothing is pending and
// io.EOF on an orderly close. Errors wrapping ErrHandler come from h; any other
// error is a transport failure or ErrPayloadTooLarge, which end this
// connection only.
func (c *Conn) Step(r io.Reader, w io.Writer, h Handler) (Status, error) {
	if c.state == StateReceivingPayload {
		return c.stepPayload(r, w, h)
	}
	return c.stepHeader(r, w, h)
}

func (c *Conn) stepHeader(r io.Reader, w io.Writer, h Handler) (Status, error) {
	want := c.Expected()
	n, status, err := readInto(r, c.header[c.headerPos:want])
	c.headerPos += n
	if err != nil || status != StatusComplete {
		return status, err
	}
	if c.state == StateAwaitingHandshake {
		return StatusComplete, c.finishHandshake(w, h)
	}
	return c.finishRequestHeader(r, w, h)
}

func (c *Conn) finishHandshake(w io.Writer, h Handler) error {
	req, err := protocol.DecodeHandshakeRequest(c.header[:protocol.HandshakeRequestSize])
	c.headerPos = 0

	flag := protocol.HandshakeAccepted
	switch {
	case err != nil:
		flag = protocol.HandshakeUnexpectedTag
	case req.Version != c.cfg.Version:
		flag = protocol.HandshakeVersionMismatch
	}
	if err := protocol.WriteAll(w, protocol.EncodeHandshakeResponse(protocol.HandshakeResponse{Flag: flag})); err != nil {
		return err
	}
	if flag == protocol.HandshakeAccepted {
		c.state = StateReady
	}
	h.HandshakeDone(c, flag)
	return nil
}

func (c *Conn) finishRequestHeader(r io.Reader, w io.Writer, h Handler) (Status, error) {
	head, err := protocol.DecodeDBRequestHeader(c.header[:protocol.DBRequestHeaderSize])
	c.headerPos = 0
	if err != nil {
		h.Rejected(c, err)
		return StatusComplete, protocol.WriteAll(w, protocol.EncodeInvalidRequest())
	}
	if head.PayloadLen > c.cfg.MaxPayloadBytes {
		err := fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, head.PayloadLen, c.cfg.MaxPayloadBytes)
		h.Rejected(c, err)
		if werr := protocol.WriteAll(w, protocol.EncodeInvalidRequest()); werr != nil {
			return StatusComplete, werr
		}
		return StatusComplete, err
	}

	c.payload = make([]byte, head.PayloadLen)
	c.payloadPos = 0
	c.state = StateReceivingPayload
	if head.PayloadLen == 0 {
		return StatusComplete, c.finishPayload(w, h)
	}
	// the payload often arrives in the same segment as its header
	return c.stepPayload(r, w, h)
}

func (c *Conn) stepPayload(r io.Reader, w io.Writer, h Handler) (Status, error) {
	n, status, err := readInto(r, c.payload[c.payloadPos:])
	c.payloadPos += n
	if err != nil || status != StatusComplete {
		return status, err
	}
	return StatusComplete, c.finishPayload(w, h)
}

func (c *Conn) finishPayload(w io.Writer, h Handler) error {
	payload := c.payload
	c.Destroy()
	c.headerPos = 0
	c.state = StateReady

	req, err := option.Decode(payload)
	if err != nil {
		h.Rejected(c, err)
		return protocol.WriteAll(w, protocol.EncodeInvalidRequest())
	}
	resp, err := h.HandleRequest(c, req)
	if errors.Is(err, ErrRejected) {
		h.Rejected(c, err)
		return protocol.WriteAll(w, protocol.EncodeInvalidRequest())
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandler, err)
	}
	frame, err := protocol.EncodeDBResponse(resp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandler, err)
	}
	return protocol.WriteAll(w, frame)
}

// readInto performs a single read into dst.
func readInto(r io.Reader, dst []byte) (int, Status, error) {
	n, err := r.Read(dst)
	if n < 0 || n > len(dst) {
		return 0, StatusPartial, io.ErrNoProgress
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrWouldBlock):
	case errors.Is(err, io.EOF):
		if n == 0 {
			return 0, StatusClosed, nil
		}
	default:
		return n, StatusPartial, err
	}
	if n == len(dst) {
		return n, StatusComplete, nil
	}
	return n, StatusPartial, nil
}
