package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrFraming   = errors.New("protocol: framing error")
	ErrSizeLimit = errors.New("protocol: size limit exceeded")

	ErrTruncated         = fmt.Errorf("%w: truncated data", ErrFraming)
	ErrTrailingBytes     = fmt.Errorf("%w: trailing bytes", ErrFraming)
	ErrUnexpectedMessage = fmt.Errorf("%w: unexpected message type", ErrFraming)

	// ErrInvalidRequest is returned to clients when the server answers with invalid-request.
	ErrInvalidRequest = errors.New("protocol: request rejected by server")
)
