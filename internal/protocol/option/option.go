// Package option encodes the sub-operations carried in a db-access request.
//
// Options appear in a fixed canonical order (add, update, delete, list), each
// at most once. Decode rejects anything else.
package option

import (
	"fmt"

	"github.com/danmuck/rosterd/internal/protocol/record"
)

// Kind is the leading byte of one option. It is a separate type from
// protocol.MessageType even though both travel as single bytes.
type Kind uint8

const (
	KindAdd    Kind = 'a'
	KindUpdate Kind = 'u'
	KindDelete Kind = 'd'
	KindList   Kind = 'l'
)

// canonical order rank; zero means unknown.
func (k Kind) rank() int {
	switch k {
	case KindAdd:
		return 1
	case KindUpdate:
		return 2
	case KindDelete:
		return 3
	case KindList:
		return 4
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("option(%#x)", uint8(k))
	}
}

// Update sets the hours of the first employee named Name.
type Update struct {
	Name  string
	Hours uint32
}

// Delete removes the first employee named Name.
type Delete struct {
	Name string
}

// Request is the decoded option set of one db-access request. Nil or false
// members were not present.
type Request struct {
	Add    *record.Employee
	Update *Update
	Delete *Delete
	List   bool
}

// Kinds returns the present options in canonical order.
func (r Request) Kinds() []Kind {
	kinds := make([]Kind, 0, 4)
	if r.Add != nil {
		kinds = append(kinds, KindAdd)
	}
	if r.Update != nil {
		kinds = append(kinds, KindUpdate)
	}
	if r.Delete != nil {
		kinds = append(kinds, KindDelete)
	}
	if r.List {
		kinds = append(kinds, KindList)
	}
	return kinds
}

func (r Request) Empty() bool {
	return len(r.Kinds()) == 0
}
