package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Op names a directory operation a Failure can intercept.
type Op int

const (
	OpCreateOutput Op = iota
	OpOpenInput
	OpWrite
	OpSync
	OpRename
	OpDelete
	OpCloseOutput
)

func (o Op) String() string {
	switch o {
	case OpCreateOutput:
		return "createOutput"
	case OpOpenInput:
		return "openInput"
	case OpWrite:
		return "write"
	case OpSync:
		return "sync"
	case OpRename:
		return "rename"
	case OpDelete:
		return "delete"
	case OpCloseOutput:
		return "closeOutput"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// ErrInjected is the default error of failures injected by FaultyDirectory.
var ErrInjected = errors.New("store: injected failure")

// Failure decides whether an operation on name fails. A nil result lets it
// proceed.
type Failure interface {
	Eval(op Op, name string) error
}

// FailureFunc adapts a function to Failure.
type FailureFunc func(op Op, name string) error

func (f FailureFunc) Eval(op Op, name string) error { return f(op, name) }

// FailOnce fails the first matching operation and then disarms itself.
func FailOnce(match func(op Op, name string) bool, err error) Failure {
	var once sync.Once
	return FailureFunc(func(op Op, name string) error {
		if !match(op, name) {
			return nil
		}
		var fire bool
		once.Do(func() { fire = true })
		if fire {
			return err
		}
		return nil
	})
}

// FaultyDirectory wraps a Directory with failure hooks, a disk size limit,
// open handle tracking and crash simulation for tests.
type FaultyDirectory struct {
	Directory

	mu         sync.Mutex
	failures   []Failure
	maxSize    int64
	used       int64
	unsynced   map[string]struct{}
	openInputs map[string]int
	openOuts   map[string]int
}

// NewFaultyDirectory wraps dir.
func NewFaultyDirectory(dir Directory) *FaultyDirectory {
	return &FaultyDirectory{
		Directory:  dir,
		unsynced:   make(map[string]struct{}),
		openInputs: make(map[string]int),
		openOuts:   make(map[string]int),
	}
}

// FailOn registers a failure hook.
func (d *FaultyDirectory) FailOn(f Failure) {
	d.mu.Lock()
	d.failures = append(d.failures, f)
	d.mu.Unlock()
}

// ClearFailures removes every failure hook.
func (d *FaultyDirectory) ClearFailures() {
	d.mu.Lock()
	d.failures = nil
	d.mu.Unlock()
}

// SetMaxSizeBytes limits the total size of the directory; writes that would
// exceed it fail with a DiskFullError. Zero removes the limit.
func (d *FaultyDirectory) SetMaxSizeBytes(n int64) error {
	var used int64
	if n > 0 {
		var err error
		used, err = DirectorySize(d.Directory)
		if err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.maxSize = n
	d.used = used
	d.mu.Unlock()
	return nil
}

// UsedBytes returns the size accounted against the limit.
func (d *FaultyDirectory) UsedBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

// OpenFiles returns the sorted names of inputs and outputs not yet closed.
func (d *FaultyDirectory) OpenFiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := make(map[string]struct{})
	for n, c := range d.openInputs {
		if c > 0 {
			set[n] = struct{}{}
		}
	}
	for n, c := range d.openOuts {
		if c > 0 {
			set[n] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// UnsyncedFiles returns the sorted names of files written but not synced.
func (d *FaultyDirectory) UnsyncedFiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedKeys(d.unsynced)
}

// Crash simulates losing power: every file that was never synced is
// removed, and the directory keeps working afterwards.
func (d *FaultyDirectory) Crash() error {
	d.mu.Lock()
	names := sortedKeys(d.unsynced)
	d.unsynced = make(map[string]struct{})
	d.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := d.Directory.DeleteFile(name); err != nil && !errors.Is(err, ErrFileNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *FaultyDirectory) eval(op Op, name string) error {
	d.mu.Lock()
	failures := append([]Failure(nil), d.failures...)
	d.mu.Unlock()
	for _, f := range failures {
		if err := f.Eval(op, name); err != nil {
			return fmt.Errorf("%s %s: %w", op, name, err)
		}
	}
	return nil
}

func (d *FaultyDirectory) CreateOutput(name string) (IndexOutput, error) {
	if err := d.eval(OpCreateOutput, name); err != nil {
		return nil, err
	}
	out, err := d.Directory.CreateOutput(name)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.unsynced[name] = struct{}{}
	d.openOuts[name]++
	d.mu.Unlock()
	return &faultyOutput{IndexOutput: out, dir: d}, nil
}

func (d *FaultyDirectory) OpenInput(name string) (IndexInput, error) {
	if err := d.eval(OpOpenInput, name); err != nil {
		return nil, err
	}
	in, err := d.Directory.OpenInput(name)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.openInputs[name]++
	d.mu.Unlock()
	return &faultyInput{IndexInput: in, dir: d}, nil
}

func (d *FaultyDirectory) Sync(names []string) error {
	for _, name := range names {
		if err := d.eval(OpSync, name); err != nil {
			return err
		}
	}
	if err := d.Directory.Sync(names); err != nil {
		return err
	}
	d.mu.Lock()
	for _, name := range names {
		delete(d.unsynced, name)
	}
	d.mu.Unlock()
	return nil
}

func (d *FaultyDirectory) Rename(source, dest string) error {
	if err := d.eval(OpRename, source); err != nil {
		return err
	}
	if err := d.Directory.Rename(source, dest); err != nil {
		return err
	}
	d.mu.Lock()
	if _, ok := d.unsynced[source]; ok {
		delete(d.unsynced, source)
		d.unsynced[dest] = struct{}{}
	}
	d.mu.Unlock()
	return nil
}

func (d *FaultyDirectory) DeleteFile(name string) error {
	if err := d.eval(OpDelete, name); err != nil {
		return err
	}
	length, lerr := d.Directory.FileLength(name)
	if err := d.Directory.DeleteFile(name); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.unsynced, name)
	if d.maxSize > 0 && lerr == nil {
		d.used -= length
	}
	d.mu.Unlock()
	return nil
}

// reserve accounts n more bytes against the size limit.
func (d *FaultyDirectory) reserve(name string, n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.maxSize > 0 && d.used+int64(n) > d.maxSize {
		return &DiskFullError{Resource: name, Err: fmt.Errorf("limit %d bytes, used %d", d.maxSize, d.used)}
	}
	d.used += int64(n)
	return nil
}

type faultyOutput struct {
	IndexOutput
	dir    *FaultyDirectory
	closed bool
}

func (o *faultyOutput) Write(p []byte) (int, error) {
	if err := o.dir.eval(OpWrite, o.Name()); err != nil {
		return 0, err
	}
	if err := o.dir.reserve(o.Name(), len(p)); err != nil {
		return 0, err
	}
	return o.IndexOutput.Write(p)
}

func (o *faultyOutput) WriteByte(b byte) error {
	_, err := o.Write([]byte{b})
	return err
}

func (o *faultyOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	o.dir.mu.Lock()
	o.dir.openOuts[o.Name()]--
	o.dir.mu.Unlock()
	err := o.IndexOutput.Close()
	if ferr := o.dir.eval(OpCloseOutput, o.Name()); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

type faultyInput struct {
	IndexInput
	dir    *FaultyDirectory
	closed bool
}

func (in *faultyInput) Close() error {
	if in.closed {
		return nil
	}
	in.closed = true
	in.dir.mu.Lock()
	in.dir.openInputs[in.IndexInput.Name()]--
	in.dir.mu.Unlock()
	return in.IndexInput.Close()
}
