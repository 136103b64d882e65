package store

import (
	"fmt"

	ihash "github.com/hupe1980/invgo/internal/hash"
)

const (
	// HeaderMagic starts every index file.
	HeaderMagic uint32 = 0x494e5647
	// FooterMagic starts the 16-byte trailer of every index file.
	FooterMagic uint32 = ^HeaderMagic
	// FooterLength is the size of the trailer: magic, algorithm, checksum.
	FooterLength = 16

	checksumAlgorithmCRC32C uint32 = 1
)

// WriteHeader writes the magic, the format name and its version.
func WriteHeader(out DataOutput, format string, version int32) error {
	if len(format) == 0 || len(format) > 127 {
		return fmt.Errorf("store: invalid format name %q", format)
	}
	e := NewEncoder(out)
	e.Uint32(HeaderMagic)
	e.String(format)
	e.Uint32(uint32(version))
	return e.Err()
}

// HeaderLength returns the number of bytes WriteHeader writes for format.
func HeaderLength(format string) int64 {
	return 4 + 1 + int64(len(format)) + 4
}

// CheckHeader reads a header written by WriteHeader and validates the
// format name and version window. It returns the version found.
func CheckHeader(in IndexInput, format string, minVersion, maxVersion int32) (int32, error) {
	d := NewDecoder(in)
	magic := d.Uint32()
	if d.Err() != nil {
		return 0, d.Err()
	}
	if magic != HeaderMagic {
		return 0, Corruptf(in.Name(), "header magic mismatch: actual=%#x expected=%#x", magic, HeaderMagic)
	}
	return CheckHeaderNoMagic(in, format, minVersion, maxVersion)
}

// CheckHeaderNoMagic is CheckHeader for callers that already consumed the
// magic (to distinguish file generations by it).
func CheckHeaderNoMagic(in IndexInput, format string, minVersion, maxVersion int32) (int32, error) {
	d := NewDecoder(in)
	actual := d.String()
	version := int32(d.Uint32())
	if err := d.Err(); err != nil {
		return 0, err
	}
	if actual != format {
		return 0, Corruptf(in.Name(), "format mismatch: actual=%q expected=%q", actual, format)
	}
	if version < minVersion {
		return 0, &IndexFormatTooOldError{Resource: in.Name(), Version: version, MinVersion: minVersion, MaxVersion: maxVersion}
	}
	if version > maxVersion {
		return 0, &IndexFormatTooNewError{Resource: in.Name(), Version: version, MinVersion: minVersion, MaxVersion: maxVersion}
	}
	return version, nil
}

// WriteFooter seals out with the checksum of everything written before it.
func WriteFooter(out IndexOutput) error {
	e := NewEncoder(out)
	e.Uint32(FooterMagic)
	e.Uint32(checksumAlgorithmCRC32C)
	if err := e.Err(); err != nil {
		return err
	}
	e.Uint64(uint64(out.Checksum()))
	return e.Err()
}

// ChecksumEntireFile verifies the footer of in against its contents and
// returns the stored checksum. The input position is left at the end.
func ChecksumEntireFile(in IndexInput) (uint32, error) {
	length := in.Len()
	if length < FooterLength {
		return 0, Corruptf(in.Name(), "file too short (%d bytes) to contain a footer", length)
	}
	if err := in.SeekTo(0); err != nil {
		return 0, err
	}

	var crc uint32
	buf := make([]byte, copyBufferSize)
	remaining := length - 8
	for remaining > 0 {
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		if err := ReadFull(in, buf[:n]); err != nil {
			return 0, err
		}
		crc = ihash.UpdateCRC32C(crc, buf[:n])
		remaining -= n
	}

	expected, err := checkFooterAt(in)
	if err != nil {
		return 0, err
	}
	if uint32(expected) != crc {
		return 0, Corruptf(in.Name(), "checksum failed: actual=%#x expected=%#x", crc, expected)
	}
	return crc, nil
}

// RetrieveChecksum returns the checksum stored in the footer without
// verifying it.
func RetrieveChecksum(in IndexInput) (uint32, error) {
	if in.Len() < FooterLength {
		return 0, Corruptf(in.Name(), "file too short (%d bytes) to contain a footer", in.Len())
	}
	if err := in.SeekTo(in.Len() - FooterLength); err != nil {
		return 0, err
	}
	sum, err := checkFooterAt(in)
	return uint32(sum), err
}

// CheckFooter validates the footer of an input positioned just before it
// and returns the stored checksum. Use ChecksumEntireFile to verify it.
func CheckFooter(in IndexInput) (uint32, error) {
	if remaining := in.Len() - in.Pos(); remaining != FooterLength {
		return 0, Corruptf(in.Name(), "expected footer at pos %d, %d bytes remain", in.Pos(), remaining)
	}
	sum, err := checkFooterAt(in)
	return uint32(sum), err
}

func checkFooterAt(in IndexInput) (uint64, error) {
	if err := in.SeekTo(in.Len() - FooterLength); err != nil {
		return 0, err
	}
	d := NewDecoder(in)
	magic := d.Uint32()
	algo := d.Uint32()
	sum := d.Uint64()
	if err := d.Err(); err != nil {
		return 0, err
	}
	if magic != FooterMagic {
		return 0, Corruptf(in.Name(), "footer magic mismatch: actual=%#x expected=%#x", magic, FooterMagic)
	}
	if algo != checksumAlgorithmCRC32C {
		return 0, Corruptf(in.Name(), "unknown checksum algorithm %d", algo)
	}
	if sum>>32 != 0 {
		return 0, Corruptf(in.Name(), "illegal checksum value %#x", sum)
	}
	return sum, nil
}

// Skip advances in by n bytes.
func Skip(in IndexInput, n int64) error {
	if n < 0 {
		return fmt.Errorf("store: negative skip %d", n)
	}
	return in.SeekTo(in.Pos() + n)
}
