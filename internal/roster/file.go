package roster

import (
	"errors"
	"fmt"
	"os"
)

// OpenFile opens the roster file at path for reading and writing. With create
// set the file must not exist yet and is initialised with an empty header.
func OpenFile(path string, create bool) (*os.File, error) {
	if !create {
		f, err := os.OpenFile(path, os.O_RDWR, 0o666)
		if err != nil {
			return nil, fmt.Errorf("roster: open %s: %w", path, err)
		}
		return f, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, fmt.Errorf("roster: create %s: %w", path, err)
	}
	if err := Init(f); err != nil {
		return nil, errors.Join(err, f.Close(), os.Remove(path))
	}
	return f, nil
}
