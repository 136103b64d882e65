//go:build unix

package fs

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

type flockHandle struct {
	f *os.File
}

func lockFile(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, err
	}
	return &flockHandle{f: f}, nil
}

func (h *flockHandle) Close() error {
	uerr := unix.Flock(int(h.f.Fd()), unix.LOCK_UN)
	cerr := h.f.Close()
	if uerr != nil {
		return uerr
	}
	return cerr
}

func isUnsupportedDirSync(err error) bool {
	return errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTSUP)
}
