package option

import (
	"fmt"

	"github.com/danmuck/rosterd/internal/protocol"
	"github.com/danmuck/rosterd/internal/protocol/record"
)

// Encode serializes req into a db-access payload in canonical order.
func Encode(req Request) ([]byte, error) {
	b := protocol.NewBuffer(0)
	if err := Append(b, req); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Append writes the options of req onto b.
func Append(b *protocol.Buffer, req Request) error {
	if req.Add != nil {
		if err := record.Validate(*req.Add); err != nil {
			return fmt.Errorf("option %s: %w", KindAdd, err)
		}
		b.PutUint8(uint8(KindAdd))
		putText(b, req.Add.Name)
		putText(b, req.Add.Address)
		b.PutUint32(req.Add.Hours)
	}
	if req.Update != nil {
		if err := validateName(req.Update.Name); err != nil {
			return fmt.Errorf("option %s: %w", KindUpdate, err)
		}
		b.PutUint8(uint8(KindUpdate))
		putText(b, req.Update.Name)
		b.PutUint32(req.Update.Hours)
	}
	if req.Delete != nil {
		if err := validateName(req.Delete.Name); err != nil {
			return fmt.Errorf("option %s: %w", KindDelete, err)
		}
		b.PutUint8(uint8(KindDelete))
		putText(b, req.Delete.Name)
	}
	if req.List {
		b.PutUint8(uint8(KindList))
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return record.ErrEmptyName
	}
	return record.ValidateText(name)
}

func putText(b *protocol.Buffer, s string) {
	b.PutUint16(uint16(len(s)))
	b.PutString(s)
}
