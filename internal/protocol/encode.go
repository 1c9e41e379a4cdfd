package protocol

import (
	"io"
	"math"
)

func EncodeHandshakeRequest(req HandshakeRequest) []byte {
	b := NewBuffer(HandshakeRequestSize)
	b.PutUint8(uint8(MessageHandshakeRequest))
	b.PutUint16(req.Version)
	return b.Bytes()
}

func EncodeHandshakeResponse(resp HandshakeResponse) []byte {
	return []byte{uint8(MessageHandshakeResponse), uint8(resp.Flag)}
}

func EncodeInvalidRequest() []byte {
	return []byte{uint8(MessageInvalidRequest)}
}

// EncodeDBRequest frames an already encoded option payload.
func EncodeDBRequest(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrSizeLimit
	}
	b := NewBuffer(DBRequestHeaderSize + len(payload))
	b.PutUint8(uint8(MessageDBAccessRequest))
	b.PutUint32(uint32(len(payload)))
	b.PutBytes(payload)
	return b.Bytes(), nil
}

func EncodeDBResponse(resp DBResponse) ([]byte, error) {
	if uint64(len(resp.Data)) > math.MaxUint32 {
		return nil, ErrSizeLimit
	}
	b := NewBuffer(DBResponseHeaderSize + len(resp.Data))
	b.PutUint8(uint8(MessageDBAccessResponse))
	b.PutUint8(uint8(resp.Status))
	b.PutUint32(uint32(len(resp.Data)))
	b.PutBytes(resp.Data)
	return b.Bytes(), nil
}

// WriteAll writes p to w, retrying short writes.
func WriteAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
