package option

import (
	"fmt"

	"github.com/danmuck/rosterd/internal/protocol"
	"github.com/danmuck/rosterd/internal/protocol/record"
)

// Decode parses a complete db-access payload. An empty payload is an empty request.
func Decode(payload []byte) (Request, error) {
	var req Request
	r := protocol.NewReader(payload)
	last := 0
	for r.Remaining() > 0 {
		tag, _ := r.Uint8()
		kind := Kind(tag)
		rank := kind.rank()
		if rank == 0 {
			return Request{}, fmt.Errorf("%w: unknown option %s at offset %d", protocol.ErrFraming, kind, r.Offset()-1)
		}
		if rank <= last {
			return Request{}, fmt.Errorf("%w: option %s out of canonical order", protocol.ErrFraming, kind)
		}
		last = rank

		var err error
		switch kind {
		case KindAdd:
			req.Add, err = readAdd(r)
		case KindUpdate:
			req.Update, err = readUpdate(r)
		case KindDelete:
			req.Delete, err = readDelete(r)
		case KindList:
			req.List = true
		}
		if err != nil {
			return Request{}, fmt.Errorf("option %s: %w", kind, err)
		}
	}
	return req, nil
}

func readAdd(r *protocol.Reader) (*record.Employee, error) {
	name, err := readName(r)
	if err != nil {
		return nil, err
	}
	address, err := readText(r)
	if err != nil {
		return nil, err
	}
	hours, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return &record.Employee{Name: name, Address: address, Hours: hours}, nil
}

func readUpdate(r *protocol.Reader) (*Update, error) {
	name, err := readName(r)
	if err != nil {
		return nil, err
	}
	hours, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return &Update{Name: name, Hours: hours}, nil
}

func readDelete(r *protocol.Reader) (*Delete, error) {
	name, err := readName(r)
	if err != nil {
		return nil, err
	}
	return &Delete{Name: name}, nil
}

func readName(r *protocol.Reader) (string, error) {
	name, err := readText(r)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty name", protocol.ErrFraming)
	}
	return name, nil
}

func readText(r *protocol.Reader) (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", err
	}
	raw, err := r.Next(int(n))
	if err != nil {
		return "", err
	}
	s := string(raw)
	if err := record.ValidateText(s); err != nil {
		return "", fmt.Errorf("%w: %v", protocol.ErrFraming, err)
	}
	return s, nil
}
