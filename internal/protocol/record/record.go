// Package record encodes employee records. The layout is shared by the wire
// (list responses) and the roster file.
package record

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danmuck/rosterd/internal/protocol"
)

// MaxTextLen is the longest name or address; the terminator must fit the 16-bit length.
const MaxTextLen = math.MaxUint16 - 1

// MinSize is the fixed part of every record: two length prefixes, two
// terminators and hours.
const MinSize = 2 + 1 + 2 + 1 + 4

var (
	ErrEmbeddedNUL  = errors.New("record: text contains NUL byte")
	ErrEmptyName    = errors.New("record: empty name")
	ErrInvalidInput = errors.New("record: invalid employee string")
)

// Employee is one roster entry.
type Employee struct {
	Name    string
	Address string
	Hours   uint32
}

func (e Employee) String() string {
	return fmt.Sprintf("%s %s %d", e.Name, e.Address, e.Hours)
}

// ValidateText checks that s can be carried in a 16-bit length field and a
// NUL-terminated record.
func ValidateText(s string) error {
	if len(s) > MaxTextLen {
		return fmt.Errorf("%w: text length %d > %d", protocol.ErrSizeLimit, len(s), MaxTextLen)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return ErrEmbeddedNUL
	}
	return nil
}

func Validate(e Employee) error {
	if e.Name == "" {
		return ErrEmptyName
	}
	if err := ValidateText(e.Name); err != nil {
		return fmt.Errorf("name: %w", err)
	}
	if err := ValidateText(e.Address); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	return nil
}

// Size is the encoded length of e.
func Size(e Employee) int {
	return MinSize + len(e.Name) + len(e.Address)
}

// Append encodes e onto b.
func Append(b *protocol.Buffer, e Employee) error {
	if err := Validate(e); err != nil {
		return err
	}
	b.Grow(Size(e))
	putText(b, e.Name)
	putText(b, e.Address)
	b.PutUint32(e.Hours)
	return nil
}

// AppendAll encodes every employee in order.
func AppendAll(b *protocol.Buffer, list []Employee) error {
	for i, e := range list {
		if err := Append(b, e); err != nil {
			return fmt.Errorf("record[%d]: %w", i, err)
		}
	}
	return nil
}

// Read decodes one record from r.
func Read(r *protocol.Reader) (Employee, error) {
	name, err := readText(r)
	if err != nil {
		return Employee{}, err
	}
	address, err := readText(r)
	if err != nil {
		return Employee{}, err
	}
	hours, err := r.Uint32()
	if err != nil {
		return Employee{}, err
	}
	return Employee{Name: name, Address: address, Hours: hours}, nil
}

// DecodeAll consumes records until data is exhausted; the count is implied by the length.
func DecodeAll(data []byte) ([]Employee, error) {
	r := protocol.NewReader(data)
	out := make([]Employee, 0)
	for r.Remaining() > 0 {
		e, err := Read(r)
		if err != nil {
			return nil, fmt.Errorf("record[%d] at offset %d: %w", len(out), r.Offset(), err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Parse reads the "name,address,hours" form used on the command line.
func Parse(s string) (Employee, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Employee{}, fmt.Errorf("%w: want name,address,hours got %q", ErrInvalidInput, s)
	}
	hours, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 32)
	if err != nil {
		return Employee{}, fmt.Errorf("%w: hours %q: %v", ErrInvalidInput, parts[2], err)
	}
	e := Employee{
		Name:    strings.TrimSpace(parts[0]),
		Address: strings.TrimSpace(parts[1]),
		Hours:   uint32(hours),
	}
	if err := Validate(e); err != nil {
		return Employee{}, err
	}
	return e, nil
}

func putText(b *protocol.Buffer, s string) {
	b.PutUint16(uint16(len(s) + 1))
	b.PutString(s)
	b.PutUint8(0)
}

func readText(r *protocol.Reader) (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("%w: zero text length", protocol.ErrFraming)
	}
	raw, err := r.Next(int(n))
	if err != nil {
		return "", err
	}
	if raw[n-1] != 0 {
		return "", fmt.Errorf("%w: missing terminator", protocol.ErrFraming)
	}
	text := raw[:n-1]
	for _, c := range text {
		if c == 0 {
			return "", fmt.Errorf("%w: embedded terminator", protocol.ErrFraming)
		}
	}
	return string(text), nil
}
