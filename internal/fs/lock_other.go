//go:build !unix

package fs

import (
	"errors"
	"io"
	"os"
)

type exclHandle struct {
	f    *os.File
	name string
}

func lockFile(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrLocked
		}
		return nil, err
	}
	return &exclHandle{f: f, name: name}, nil
}

func (h *exclHandle) Close() error {
	cerr := h.f.Close()
	if err := os.Remove(h.name); err != nil {
		return err
	}
	return cerr
}

func isUnsupportedDirSync(error) bool { return true }
