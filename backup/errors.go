package backup

import "errors"

var (
	// ErrNoBackup is returned when the store holds no backup.
	ErrNoBackup = errors.New("backup: no backup found")
	// ErrDirectoryNotEmpty is returned by Restore when the target already
	// holds a commit.
	ErrDirectoryNotEmpty = errors.New("backup: target directory already holds a commit")
	// ErrChecksumMismatch is returned when a restored file differs from
	// the manifest.
	ErrChecksumMismatch = errors.New("backup: checksum mismatch")
	// ErrVerifyFailed is returned when the restored index does not check
	// clean.
	ErrVerifyFailed = errors.New("backup: restored index is not clean")
	// ErrUnsupportedManifest is returned for manifests written by a newer
	// release.
	ErrUnsupportedManifest = errors.New("backup: unsupported manifest version")
)
