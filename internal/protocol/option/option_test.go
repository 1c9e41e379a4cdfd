package option

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/danmuck/rosterd/internal/protocol"
	"github.com/danmuck/rosterd/internal/protocol/record"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	add := &record.Employee{Name: "John Doe", Address: "123 Elm", Hours: 40}
	upd := &Update{Name: "Jane", Hours: 12}
	del := &Delete{Name: "Max"}
	long := strings.Repeat("x", record.MaxTextLen)

	cases := []struct {
		name string
		req  Request
	}{
		{"empty", Request{}},
		{"add", Request{Add: add}},
		{"update", Request{Update: upd}},
		{"delete", Request{Delete: del}},
		{"list", Request{List: true}},
		{"add+list", Request{Add: add, List: true}},
		{"update+delete", Request{Update: upd, Delete: del}},
		{"all", Request{Add: add, Update: upd, Delete: del, List: true}},
		{"max-length", Request{Add: &record.Employee{Name: long, Address: long, Hours: 1}, Delete: &Delete{Name: long}}},
		{"empty-address", Request{Add: &record.Employee{Name: "a", Hours: 7}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(tc.req)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := Decode(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(got, tc.req) {
				t.Fatalf("round-trip mismatch: got %+v want %+v", got, tc.req)
			}
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	b, err := Encode(Request{
		Add:    &record.Employee{Name: "Al", Address: "B", Hours: 2},
		Update: &Update{Name: "Al", Hours: 3},
		Delete: &Delete{Name: "C"},
		List:   true,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{
		'a', 0, 2, 'A', 'l', 0, 1, 'B', 0, 0, 0, 2,
		'u', 0, 2, 'A', 'l', 0, 0, 0, 3,
		'd', 0, 1, 'C',
		'l',
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("layout mismatch:\n got %q\nwant %q", b, want)
	}
}

func TestKindsCanonicalOrder(t *testing.T) {
	req := Request{List: true, Delete: &Delete{Name: "a"}, Add: &record.Employee{Name: "b"}}
	want := []Kind{KindAdd, KindDelete, KindList}
	if got := req.Kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected kinds: %v", got)
	}
	if !(Request{}).Empty() {
		t.Fatalf("zero request should be empty")
	}
}

func TestDecodeRejectsOutOfOrder(t *testing.T) {
	cases := map[string][]byte{
		"list-before-delete": {'l', 'd', 0, 1, 'a'},
		"repeated-list":      {'l', 'l'},
		"delete-before-add":  {'d', 0, 1, 'a', 'a', 0, 1, 'a', 0, 0, 0, 0, 0, 0},
	}
	for name, payload := range cases {
		if _, err := Decode(payload); !errors.Is(err, protocol.ErrFraming) {
			t.Fatalf("%s: expected ErrFraming, got %v", name, err)
		}
	}
}

func TestDecodeRejectsUnknownOption(t *testing.T) {
	_, err := Decode([]byte{'x'})
	if !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	b, _ := Encode(Request{Add: &record.Employee{Name: "John", Address: "Elm", Hours: 40}})
	for i := 1; i < len(b); i++ {
		if _, err := Decode(b[:i]); !errors.Is(err, protocol.ErrTruncated) {
			t.Fatalf("prefix %d: expected ErrTruncated, got %v", i, err)
		}
	}
}

func TestDecodeRejectsEmptyName(t *testing.T) {
	_, err := Decode([]byte{'d', 0, 0})
	if !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
}

func TestEncodeSizeLimit(t *testing.T) {
	long := strings.Repeat("n", record.MaxTextLen+1)
	cases := []Request{
		{Add: &record.Employee{Name: long}},
		{Add: &record.Employee{Name: "a", Address: long}},
		{Update: &Update{Name: long}},
		{Delete: &Delete{Name: long}},
	}
	for i, req := range cases {
		if _, err := Encode(req); !errors.Is(err, protocol.ErrSizeLimit) {
			t.Fatalf("case %d: expected ErrSizeLimit, got %v", i, err)
		}
	}
}
