package backup

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hupe1980/invgo/blobstore"
)

// ManifestVersion is the manifest layout written by this package.
const ManifestVersion = 1

const (
	filesPrefix     = "files/"
	manifestsPrefix = "manifests/"
	zstdSuffix      = ".zst"
)

// Compression selects how file content is stored.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// File is one index file of a backup.
type File struct {
	Name     string      `msgpack:"name"`
	Size     int64       `msgpack:"size"`
	Checksum uint32      `msgpack:"crc"`
	Key      string      `msgpack:"key"`
	Encoding Compression `msgpack:"enc"`
	// Reused is set when the content was uploaded by an earlier backup.
	Reused bool `msgpack:"-"`
}

// Manifest describes one backed up commit.
type Manifest struct {
	Version      int               `msgpack:"v"`
	ID           string            `msgpack:"id"`
	Generation   int64             `msgpack:"gen"`
	SegmentsFile string            `msgpack:"segments"`
	SegmentCount int               `msgpack:"segcount"`
	UserData     map[string]string `msgpack:"user,omitempty"`
	CommitTime   time.Time         `msgpack:"commit_time"`
	Created      time.Time         `msgpack:"created"`
	Files        []File            `msgpack:"files"`
}

// Size is the sum of the original file sizes.
func (m *Manifest) Size() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

// Uploaded counts the files this backup stored itself.
func (m *Manifest) Uploaded() int {
	n := 0
	for _, f := range m.Files {
		if !f.Reused {
			n++
		}
	}
	return n
}

func (m *Manifest) file(name string) (File, bool) {
	for _, f := range m.Files {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}

func manifestKey(id string) string { return manifestsPrefix + id }

// fileKey names the content of an index file. Index files are never
// rewritten under the same name, so name and checksum identify it.
func fileKey(name string, crc uint32, c Compression) string {
	key := fmt.Sprintf("%s%s.%08x", filesPrefix, name, crc)
	if c == CompressionZstd {
		key += zstdSuffix
	}
	return key
}

func writeManifest(ctx context.Context, bs blobstore.BlobStore, m *Manifest) error {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", m.ID, err)
	}
	return bs.Put(ctx, manifestKey(m.ID), data)
}

func readManifest(ctx context.Context, bs blobstore.BlobStore, id string) (*Manifest, error) {
	data, err := blobstore.Get(ctx, bs, manifestKey(id))
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", id, err)
	}
	m := new(Manifest)
	if err := msgpack.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", id, err)
	}
	if m.Version > ManifestVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedManifest, m.Version)
	}
	return m, nil
}

func manifestIDs(ctx context.Context, bs blobstore.BlobStore) ([]string, error) {
	names, err := bs.List(ctx, manifestsPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(names))
	for _, n := range names {
		if id := strings.TrimPrefix(n, manifestsPrefix); id != "" && path.Base(id) == id {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
