package store

import (
	"sync"
)

// TrackingDirectory records the names of files created through it. The
// segment writer uses it to learn which files make up a new segment.
type TrackingDirectory struct {
	Directory

	mu      sync.Mutex
	created map[string]struct{}
}

// NewTrackingDirectory wraps dir.
func NewTrackingDirectory(dir Directory) *TrackingDirectory {
	return &TrackingDirectory{Directory: dir, created: make(map[string]struct{})}
}

func (d *TrackingDirectory) CreateOutput(name string) (IndexOutput, error) {
	out, err := d.Directory.CreateOutput(name)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.created[name] = struct{}{}
	d.mu.Unlock()
	return out, nil
}

func (d *TrackingDirectory) DeleteFile(name string) error {
	if err := d.Directory.DeleteFile(name); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.created, name)
	d.mu.Unlock()
	return nil
}

func (d *TrackingDirectory) Rename(source, dest string) error {
	if err := d.Directory.Rename(source, dest); err != nil {
		return err
	}
	d.mu.Lock()
	if _, ok := d.created[source]; ok {
		delete(d.created, source)
		d.created[dest] = struct{}{}
	}
	d.mu.Unlock()
	return nil
}

// CreatedFiles returns the sorted names of files created and not deleted.
func (d *TrackingDirectory) CreatedFiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedKeys(d.created)
}
