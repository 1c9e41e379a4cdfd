// Package roster owns the in-memory employee list and its backing file.
//
// File layout: file_size(4) | employee_count(4) | records..., big-endian, with
// records in the protocol/record layout. Every mutation rewrites the whole
// file; a crash mid-rewrite can leave it corrupt.
package roster

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/danmuck/rosterd/internal/protocol"
	"github.com/danmuck/rosterd/internal/protocol/record"
)

// HeaderLen is the size of the file header.
const HeaderLen = 8

var (
	ErrCorrupt      = errors.New("roster: corrupt database file")
	ErrFileTooLarge = errors.New("roster: database file size limit reached")
)

// Header is the persisted file header.
type Header struct {
	FileSize      uint32
	EmployeeCount uint32
}

func EncodeHeader(h Header) []byte {
	b := protocol.NewBuffer(HeaderLen)
	b.PutUint32(h.FileSize)
	b.PutUint32(h.EmployeeCount)
	return b.Bytes()
}

func DecodeHeader(b []byte) (Header, error) {
	r := protocol.NewReader(b)
	size, err := r.Uint32()
	if err != nil {
		return Header{}, err
	}
	count, err := r.Uint32()
	if err != nil {
		return Header{}, err
	}
	return Header{FileSize: size, EmployeeCount: count}, nil
}

// File is the backing storage; *os.File satisfies it.
type File interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Sync() error
}

// Options tune persistence.
type Options struct {
	// SyncWrites fsyncs after every rewrite.
	SyncWrites bool
	// MaxFileSize caps the file; zero or anything above 4 GiB means 4 GiB.
	MaxFileSize int64
}

func (o Options) maxFileSize() int64 {
	if o.MaxFileSize <= 0 || o.MaxFileSize > math.MaxUint32 {
		return math.MaxUint32
	}
	return o.MaxFileSize
}

// Store is the roster. It is not safe for concurrent use.
type Store struct {
	file      File
	opts      Options
	employees []record.Employee
	size      int64
	rewrites  uint64
}

// Init writes the header of an empty roster to f.
func Init(f File) error {
	if _, err := f.WriteAt(EncodeHeader(Header{FileSize: HeaderLen}), 0); err != nil {
		return fmt.Errorf("roster: write header: %w", err)
	}
	if err := f.Truncate(HeaderLen); err != nil {
		return fmt.Errorf("roster: truncate: %w", err)
	}
	return nil
}

// Open loads every record from f after checking the header against the file size.
func Open(f File, opts Options) (*Store, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("roster: stat: %w", err)
	}
	size := st.Size()
	if size < HeaderLen {
		return nil, fmt.Errorf("%w: file is %d bytes, shorter than header", ErrCorrupt, size)
	}
	if size > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, size)
	}

	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("roster: read: %w", err)
	}
	head, err := DecodeHeader(data[:HeaderLen])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if int64(head.FileSize) != size {
		return nil, fmt.Errorf("%w: header size %d does not match file size %d", ErrCorrupt, head.FileSize, size)
	}

	if fit := (size - HeaderLen) / record.MinSize; int64(head.EmployeeCount) > fit {
		return nil, fmt.Errorf("%w: %d employees cannot fit in %d bytes", ErrCorrupt, head.EmployeeCount, size)
	}

	r := protocol.NewReader(data[HeaderLen:])
	employees := make([]record.Employee, 0, head.EmployeeCount)
	for i := uint32(0); i < head.EmployeeCount; i++ {
		e, err := record.Read(r)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrCorrupt, i, err)
		}
		if err := record.Validate(e); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrCorrupt, i, err)
		}
		employees = append(employees, e)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d records", ErrCorrupt, r.Remaining(), head.EmployeeCount)
	}
	return &Store{file: f, opts: opts, employees: employees, size: size}, nil
}

func (s *Store) Len() int { return len(s.employees) }

// Rewrites counts full-file rewrites since Open.
func (s *Store) Rewrites() uint64 { return s.rewrites }

// Header describes the file as last persisted.
func (s *Store) Header() Header {
	return Header{FileSize: uint32(s.size), EmployeeCount: uint32(len(s.employees))}
}

// List returns a copy of the roster in storage order.
func (s *Store) List() []record.Employee {
	out := make([]record.Employee, len(s.employees))
	copy(out, s.employees)
	return out
}

// Add appends e and persists.
func (s *Store) Add(e record.Employee) error {
	if err := record.Validate(e); err != nil {
		return err
	}
	if limit := s.opts.maxFileSize(); s.size+int64(record.Size(e)) > limit {
		return fmt.Errorf("%w: adding %d bytes to %d exceeds %d", ErrFileTooLarge, record.Size(e), s.size, limit)
	}
	s.employees = append(s.employees, e)
	return s.persist()
}

// Update sets the hours of the first employee named name. It reports false,
// without persisting, when no employee matches.
func (s *Store) Update(name string, hours uint32) (bool, error) {
	i := s.find(name)
	if i < 0 {
		return false, nil
	}
	s.employees[i].Hours = hours
	return true, s.persist()
}

// Delete removes the first employee named name by swapping the last entry
// into its slot. It reports false, without persisting, when no employee matches.
func (s *Store) Delete(name string) (bool, error) {
	i := s.find(name)
	if i < 0 {
		return false, nil
	}
	last := len(s.employees) - 1
	s.employees[i] = s.employees[last]
	s.employees[last] = record.Employee{}
	s.employees = s.employees[:last]
	return true, s.persist()
}

func (s *Store) find(name string) int {
	for i := range s.employees {
		if s.employees[i].Name == name {
			return i
		}
	}
	return -1
}

// persist rewrites the header and every record from offset zero.
func (s *Store) persist() error {
	size := int64(HeaderLen)
	for _, e := range s.employees {
		size += int64(record.Size(e))
	}
	if size > math.MaxUint32 {
		return ErrFileTooLarge
	}

	b := protocol.NewBuffer(int(size))
	b.PutBytes(EncodeHeader(Header{FileSize: uint32(size), EmployeeCount: uint32(len(s.employees))}))
	if err := record.AppendAll(b, s.employees); err != nil {
		return err
	}
	if _, err := s.file.WriteAt(b.Bytes(), 0); err != nil {
		return fmt.Errorf("roster: write: %w", err)
	}
	if err := s.file.Truncate(size); err != nil {
		return fmt.Errorf("roster: truncate: %w", err)
	}
	if s.opts.SyncWrites {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("roster: sync: %w", err)
		}
	}
	s.size = size
	s.rewrites++
	return nil
}
