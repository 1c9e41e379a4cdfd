package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"reflect"
	"testing"

	"github.com/danmuck/rosterd/internal/protocol"
	"github.com/danmuck/rosterd/internal/protocol/option"
	"github.com/danmuck/rosterd/internal/protocol/record"
	"github.com/danmuck/rosterd/internal/testutil/testlog"
)

type recordingHandler struct {
	requests   []option.Request
	handshakes []protocol.HandshakeFlag
	rejected   []error
	resp       protocol.DBResponse
	err        error
}

func (h *recordingHandler) HandleRequest(_ *Conn, req option.Request) (protocol.DBResponse, error) {
	h.requests = append(h.requests, req)
	return h.resp, h.err
}

func (h *recordingHandler) HandshakeDone(_ *Conn, flag protocol.HandshakeFlag) {
	h.handshakes = append(h.handshakes, flag)
}

func (h *recordingHandler) Rejected(_ *Conn, err error) {
	h.rejected = append(h.rejected, err)
}

// chunkReader hands out data in the given chunk sizes, then would-block.
type chunkReader struct {
	data  []byte
	sizes []int
	next  int
	eof   bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	n := len(r.data)
	if len(r.sizes) > 0 {
		n = r.sizes[r.next%len(r.sizes)]
		r.next++
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	n = copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func newTestConn() *Conn {
	return NewConn(7, 1, "127.0.0.1:5000", Config{Version: 1})
}

func dbRequest(t *testing.T, req option.Request) []byte {
	t.Helper()
	payload, err := option.Encode(req)
	if err != nil {
		t.Fatalf("encode options: %v", err)
	}
	frame, err := protocol.EncodeDBRequest(payload)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return frame
}

// drive steps c until r is drained.
func drive(t *testing.T, c *Conn, r *chunkReader, w io.Writer, h Handler) {
	t.Helper()
	for i := 0; len(r.data) > 0; i++ {
		if i > 1<<16 {
			t.Fatalf("no progress draining reader")
		}
		status, err := c.Step(r, w, h)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if status == StatusClosed {
			t.Fatalf("unexpected close")
		}
	}
}

func TestHandshakeMatchingVersion(t *testing.T) {
	testlog.Start(t)

	c := newTestConn()
	h := &recordingHandler{}
	var out bytes.Buffer
	status, err := c.Step(&chunkReader{data: protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 1})}, &out, h)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if status != StatusComplete {
		t.Fatalf("expected complete, got %d", status)
	}
	if c.State() != StateReady {
		t.Fatalf("expected ready, got %s", c.State())
	}
	if !bytes.Equal(out.Bytes(), []byte{byte(protocol.MessageHandshakeResponse), 0}) {
		t.Fatalf("unexpected response: %x", out.Bytes())
	}
	if c.Buffered() != 0 {
		t.Fatalf("header cursor not reset: %d", c.Buffered())
	}
}

func TestHandshakeVersionMismatchStaysAwaiting(t *testing.T) {
	testlog.Start(t)

	c := newTestConn()
	h := &recordingHandler{}
	var out bytes.Buffer
	if _, err := c.Step(&chunkReader{data: protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 2})}, &out, h); err != nil {
		t.Fatalf("step: %v", err)
	}
	if c.State() != StateAwaitingHandshake {
		t.Fatalf("expected awaiting_handshake, got %s", c.State())
	}
	resp, err := protocol.ReadHandshakeResponse(&out)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Accepted() || resp.Flag != protocol.HandshakeVersionMismatch {
		t.Fatalf("expected version mismatch, got flag=%d", resp.Flag)
	}
	if c.Buffered() != 0 {
		t.Fatalf("header cursor not reset: %d", c.Buffered())
	}

	// a retry at the right version is accepted
	if _, err := c.Step(&chunkReader{data: protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 1})}, &out, h); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c.State() != StateReady {
		t.Fatalf("expected ready after retry, got %s", c.State())
	}
}

func TestHandshakeWrongTagIsRejected(t *testing.T) {
	testlog.Start(t)

	c := newTestConn()
	h := &recordingHandler{}
	var out bytes.Buffer
	if _, err := c.Step(&chunkReader{data: []byte{byte(protocol.MessageDBAccessRequest), 0, 1}}, &out, h); err != nil {
		t.Fatalf("step: %v", err)
	}
	if c.State() != StateAwaitingHandshake {
		t.Fatalf("expected awaiting_handshake, got %s", c.State())
	}
	if !bytes.Equal(out.Bytes(), []byte{byte(protocol.MessageHandshakeResponse), byte(protocol.HandshakeUnexpectedTag)}) {
		t.Fatalf("unexpected response: %x", out.Bytes())
	}
	if !reflect.DeepEqual(h.handshakes, []protocol.HandshakeFlag{protocol.HandshakeUnexpectedTag}) {
		t.Fatalf("unexpected handshake notifications: %v", h.handshakes)
	}
}

func TestPartialReadsOnlyAdvanceCursor(t *testing.T) {
	testlog.Start(t)

	c := newTestConn()
	h := &recordingHandler{}
	var out bytes.Buffer
	r := &chunkReader{data: protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 1}), sizes: []int{1}}

	for i := 1; i < protocol.HandshakeRequestSize; i++ {
		status, err := c.Step(r, &out, h)
		if err != nil || status != StatusPartial {
			t.Fatalf("step %d: status=%d err=%v", i, status, err)
		}
		if c.Buffered() != i {
			t.Fatalf("expected %d buffered, got %d", i, c.Buffered())
		}
		if out.Len() != 0 {
			t.Fatalf("no response expected before frame completes")
		}
	}
	status, err := c.Step(r, &out, h)
	if err != nil || status != StatusComplete {
		t.Fatalf("final step: status=%d err=%v", status, err)
	}

	status, err = c.Step(r, &out, h)
	if err != nil || status != StatusPartial {
		t.Fatalf("would-block step: status=%d err=%v", status, err)
	}
}

func TestRequestDispatchAndResponse(t *testing.T) {
	testlog.Start(t)

	c := newTestConn()
	h := &recordingHandler{resp: protocol.DBResponse{Status: protocol.StatusOK, Data: []byte{9}}}
	var out bytes.Buffer
	req := option.Request{Add: &record.Employee{Name: "John Doe", Address: "123 Elm", Hours: 40}, List: true}

	stream := append(protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 1}), dbRequest(t, req)...)
	drive(t, c, &chunkReader{data: stream}, &out, h)

	if len(h.requests) != 1 || !reflect.DeepEqual(h.requests[0], req) {
		t.Fatalf("unexpected requests: %+v", h.requests)
	}
	if c.State() != StateReady {
		t.Fatalf("expected ready, got %s", c.State())
	}
	if _, err := protocol.ReadHandshakeResponse(&out); err != nil {
		t.Fatalf("handshake response: %v", err)
	}
	resp, err := protocol.ReadDBResponse(&out, 1024)
	if err != nil {
		t.Fatalf("db response: %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{9}) {
		t.Fatalf("unexpected data: %x", resp.Data)
	}
}

func TestChunkedDeliveryMatchesSingleChunk(t *testing.T) {
	testlog.Start(t)

	reqs := []option.Request{
		{Add: &record.Employee{Name: "John Doe", Address: "123 Elm", Hours: 40}},
		{List: true},
		{},
		{Update: &option.Update{Name: "John Doe", Hours: 41}, Delete: &option.Delete{Name: "Jane"}, List: true},
	}
	stream := protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 1})
	for _, req := range reqs {
		stream = append(stream, dbRequest(t, req)...)
	}

	run := func(sizes []int) ([]option.Request, []byte) {
		c := newTestConn()
		h := &recordingHandler{}
		var out bytes.Buffer
		data := make([]byte, len(stream))
		copy(data, stream)
		drive(t, c, &chunkReader{data: data, sizes: sizes}, &out, h)
		return h.requests, out.Bytes()
	}

	wantReqs, wantOut := run(nil)
	if len(wantReqs) != len(reqs) {
		t.Fatalf("expected %d requests, got %d", len(reqs), len(wantReqs))
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		sizes := make([]int, 1+rng.Intn(8))
		for i := range sizes {
			sizes[i] = 1 + rng.Intn(7)
		}
		gotReqs, gotOut := run(sizes)
		if !reflect.DeepEqual(gotReqs, wantReqs) {
			t.Fatalf("sizes=%v: requests differ", sizes)
		}
		if !bytes.Equal(gotOut, wantOut) {
			t.Fatalf("sizes=%v: responses differ", sizes)
		}
	}
}

func TestWrongTagInReadySendsInvalidRequest(t *testing.T) {
	testlog.Start(t)

	c := newTestConn()
	h := &recordingHandler{}
	var out bytes.Buffer
	stream := append(protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 1}),
		byte(protocol.MessageHandshakeRequest), 0, 0, 0, 0)
	drive(t, c, &chunkReader{data: stream}, &out, h)

	if c.State() != StateReady {
		t.Fatalf("expected ready, got %s", c.State())
	}
	if len(h.rejected) != 1 || !errors.Is(h.rejected[0], protocol.ErrUnexpectedMessage) {
		t.Fatalf("unexpected rejections: %v", h.rejected)
	}
	if _, err := protocol.ReadHandshakeResponse(&out); err != nil {
		t.Fatalf("handshake response: %v", err)
	}
	if _, err := protocol.ReadDBResponse(&out, 1024); !errors.Is(err, protocol.ErrInvalidRequest) {
		t.Fatalf("expected invalid-request frame, got %v", err)
	}
}

func TestMalformedPayloadSendsInvalidRequestAndRecovers(t *testing.T) {
	testlog.Start(t)

	c := newTestConn()
	h := &recordingHandler{}
	var out bytes.Buffer
	bad, _ := protocol.EncodeDBRequest([]byte{'l', 'a'})
	stream := protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 1})
	stream = append(stream, bad...)
	stream = append(stream, dbRequest(t, option.Request{List: true})...)
	drive(t, c, &chunkReader{data: stream}, &out, h)

	if len(h.rejected) != 1 || !errors.Is(h.rejected[0], protocol.ErrFraming) {
		t.Fatalf("unexpected rejections: %v", h.rejected)
	}
	if len(h.requests) != 1 || !h.requests[0].List {
		t.Fatalf("follow-up request not handled: %+v", h.requests)
	}
}

func TestOversizedPayloadEndsConnection(t *testing.T) {
	testlog.Start(t)

	c := NewConn(7, 1, "", Config{Version: 1, MaxPayloadBytes: 16})
	h := &recordingHandler{}
	var out bytes.Buffer
	if _, err := c.Step(&chunkReader{data: protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 1})}, &out, h); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	_, err := c.Step(&chunkReader{data: []byte{byte(protocol.MessageDBAccessRequest), 0, 0, 1, 0}}, &out, h)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if c.Expected() != protocol.DBRequestHeaderSize {
		t.Fatalf("payload must not be allocated, expected=%d", c.Expected())
	}
}

func TestZeroLengthReadIsClose(t *testing.T) {
	testlog.Start(t)

	c := newTestConn()
	status, err := c.Step(&chunkReader{eof: true}, io.Discard, &recordingHandler{})
	if err != nil || status != StatusClosed {
		t.Fatalf("expected closed, got status=%d err=%v", status, err)
	}

	// mid-payload close
	c = newTestConn()
	h := &recordingHandler{}
	frame := dbRequest(t, option.Request{List: true, Delete: &option.Delete{Name: "abc"}})
	stream := append(protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 1}), frame[:len(frame)-2]...)
	drive(t, c, &chunkReader{data: stream}, io.Discard, h)
	if c.State() != StateReceivingPayload {
		t.Fatalf("expected receiving_payload, got %s", c.State())
	}
	status, err = c.Step(&chunkReader{eof: true}, io.Discard, h)
	if err != nil || status != StatusClosed {
		t.Fatalf("expected closed mid-payload, got status=%d err=%v", status, err)
	}
}

func TestHandlerErrorIsDistinguished(t *testing.T) {
	testlog.Start(t)

	c := newTestConn()
	boom := errors.New("disk full")
	h := &recordingHandler{err: boom}
	stream := append(protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 1}), dbRequest(t, option.Request{List: true})...)
	r := &chunkReader{data: stream}
	if _, err := c.Step(r, io.Discard, h); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	_, err := c.Step(r, io.Discard, h)
	if !errors.Is(err, ErrHandler) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
}

func TestRefusedRequestSendsInvalidRequestAndStaysReady(t *testing.T) {
	testlog.Start(t)

	c := newTestConn()
	h := &recordingHandler{err: fmt.Errorf("%w: file full", ErrRejected)}
	var out bytes.Buffer
	stream := append(protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 1}), dbRequest(t, option.Request{List: true})...)
	drive(t, c, &chunkReader{data: stream}, &out, h)

	if c.State() != StateReady {
		t.Fatalf("expected ready, got %s", c.State())
	}
	if len(h.rejected) != 1 || !errors.Is(h.rejected[0], ErrRejected) {
		t.Fatalf("unexpected rejections: %v", h.rejected)
	}
	if _, err := protocol.ReadHandshakeResponse(&out); err != nil {
		t.Fatalf("handshake response: %v", err)
	}
	if _, err := protocol.ReadDBResponse(&out, 1024); !errors.Is(err, protocol.ErrInvalidRequest) {
		t.Fatalf("expected invalid-request frame, got %v", err)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteFailureIsTransportError(t *testing.T) {
	testlog.Start(t)

	c := newTestConn()
	_, err := c.Step(&chunkReader{data: protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: 1})}, failWriter{}, &recordingHandler{})
	if err == nil || errors.Is(err, ErrHandler) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
