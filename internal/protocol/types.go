package protocol

import "fmt"

// MessageType is the leading tag byte of every frame.
type MessageType uint8

const (
	MessageHandshakeRequest MessageType = iota
	MessageHandshakeResponse
	MessageDBAccessRequest
	MessageDBAccessResponse
	MessageInvalidRequest
)

func (t MessageType) String() string {
	switch t {
	case MessageHandshakeRequest:
		return "handshake_request"
	case MessageHandshakeResponse:
		return "handshake_response"
	case MessageDBAccessRequest:
		return "db_access_request"
	case MessageDBAccessResponse:
		return "db_access_response"
	case MessageInvalidRequest:
		return "invalid_request"
	default:
		return fmt.Sprintf("message(%d)", uint8(t))
	}
}

// Fixed frame sizes, tag included.
const (
	HandshakeRequestSize  = 1 + 2
	HandshakeResponseSize = 1 + 1
	DBRequestHeaderSize   = 1 + 4
	DBResponseHeaderSize  = 1 + 1 + 4
	InvalidRequestSize    = 1
)

// HandshakeFlag is the handshake-response verdict. Zero accepts; anything else rejects.
type HandshakeFlag uint8

const (
	HandshakeAccepted        HandshakeFlag = 0
	HandshakeVersionMismatch HandshakeFlag = 1
	HandshakeUnexpectedTag   HandshakeFlag = 2
)

func (f HandshakeFlag) String() string {
	switch f {
	case HandshakeAccepted:
		return "accepted"
	case HandshakeVersionMismatch:
		return "version_mismatch"
	case HandshakeUnexpectedTag:
		return "unexpected_tag"
	default:
		return fmt.Sprintf("flag_%d", uint8(f))
	}
}

// ResponseStatus is the db-access-response error flag.
type ResponseStatus uint8

const (
	StatusOK       ResponseStatus = 0
	StatusNotFound ResponseStatus = 1
)

func (s ResponseStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("status_%d", uint8(s))
	}
}

// HandshakeRequest opens a session at a protocol version.
type HandshakeRequest struct {
	Version uint16
}

// HandshakeResponse answers a HandshakeRequest.
type HandshakeResponse struct {
	Flag HandshakeFlag
}

func (r HandshakeResponse) Accepted() bool {
	return r.Flag == HandshakeAccepted
}

// DBRequestHeader precedes an option payload of PayloadLen bytes.
type DBRequestHeader struct {
	PayloadLen uint32
}

// DBResponse answers one db-access request. Data is empty unless the request listed.
type DBResponse struct {
	Status ResponseStatus
	Data   []byte
}
