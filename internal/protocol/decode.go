package protocol

import (
	"errors"
	"fmt"
	"io"
)

// DecodeHandshakeRequest parses a complete handshake request frame.
func DecodeHandshakeRequest(b []byte) (HandshakeRequest, error) {
	if len(b) != HandshakeRequestSize {
		return HandshakeRequest{}, ErrTruncated
	}
	r := NewReader(b)
	if err := expectTag(r, MessageHandshakeRequest); err != nil {
		return HandshakeRequest{}, err
	}
	version, err := r.Uint16()
	if err != nil {
		return HandshakeRequest{}, err
	}
	return HandshakeRequest{Version: version}, nil
}

// DecodeDBRequestHeader parses the fixed tag+length prefix of a db-access request.
func DecodeDBRequestHeader(b []byte) (DBRequestHeader, error) {
	if len(b) != DBRequestHeaderSize {
		return DBRequestHeader{}, ErrTruncated
	}
	r := NewReader(b)
	if err := expectTag(r, MessageDBAccessRequest); err != nil {
		return DBRequestHeader{}, err
	}
	n, err := r.Uint32()
	if err != nil {
		return DBRequestHeader{}, err
	}
	return DBRequestHeader{PayloadLen: n}, nil
}

// ReadHandshakeResponse reads one handshake response from a blocking stream.
func ReadHandshakeResponse(r io.Reader) (HandshakeResponse, error) {
	var buf [HandshakeResponseSize]byte
	if _, err := io.ReadFull(r, buf[:1]); err != nil {
		return HandshakeResponse{}, readErr(err)
	}
	if tag := MessageType(buf[0]); tag != MessageHandshakeResponse {
		return HandshakeResponse{}, fmt.Errorf("%w: got %s", ErrUnexpectedMessage, tag)
	}
	if _, err := io.ReadFull(r, buf[1:]); err != nil {
		return HandshakeResponse{}, readErr(err)
	}
	return HandshakeResponse{Flag: HandshakeFlag(buf[1])}, nil
}

// ReadDBResponse reads one db-access response from a blocking stream. An
// invalid-request frame is reported as ErrInvalidRequest; data longer than
// maxData is refused before it is allocated.
func ReadDBResponse(r io.Reader, maxData uint32) (DBResponse, error) {
	var head [DBResponseHeaderSize]byte
	if _, err := io.ReadFull(r, head[:1]); err != nil {
		return DBResponse{}, readErr(err)
	}
	switch tag := MessageType(head[0]); tag {
	case MessageDBAccessResponse:
	case MessageInvalidRequest:
		return DBResponse{}, ErrInvalidRequest
	default:
		return DBResponse{}, fmt.Errorf("%w: got %s", ErrUnexpectedMessage, tag)
	}
	if _, err := io.ReadFull(r, head[1:]); err != nil {
		return DBResponse{}, readErr(err)
	}
	view := NewReader(head[1:])
	status, _ := view.Uint8()
	n, _ := view.Uint32()
	if n > maxData {
		return DBResponse{}, fmt.Errorf("%w: response data %d > %d", ErrSizeLimit, n, maxData)
	}
	resp := DBResponse{Status: ResponseStatus(status)}
	if n == 0 {
		return resp, nil
	}
	resp.Data = make([]byte, n)
	if _, err := io.ReadFull(r, resp.Data); err != nil {
		return DBResponse{}, readErr(err)
	}
	return resp, nil
}

func expectTag(r *Reader, want MessageType) error {
	tag, err := r.Uint8()
	if err != nil {
		return err
	}
	if MessageType(tag) != want {
		return fmt.Errorf("%w: got %s want %s", ErrUnexpectedMessage, MessageType(tag), want)
	}
	return nil
}

func readErr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}
