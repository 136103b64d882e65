package store

import (
	"context"

	"github.com/hupe1980/invgo/internal/resource"
)

// RateLimitedDirectory throttles bytes written through it with the IO
// limiter of a resource controller. Merges write through one so they do
// not starve flushes and searches of disk bandwidth.
type RateLimitedDirectory struct {
	Directory
	ctx context.Context
	rc  *resource.Controller
}

// NewRateLimitedDirectory wraps dir. Throttled writes fail once ctx is done,
// which is how an aborted merge stops writing.
func NewRateLimitedDirectory(ctx context.Context, dir Directory, rc *resource.Controller) *RateLimitedDirectory {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RateLimitedDirectory{Directory: dir, ctx: ctx, rc: rc}
}

func (d *RateLimitedDirectory) CreateOutput(name string) (IndexOutput, error) {
	out, err := d.Directory.CreateOutput(name)
	if err != nil {
		return nil, err
	}
	return &rateLimitedOutput{IndexOutput: out, ctx: d.ctx, rc: d.rc}, nil
}

type rateLimitedOutput struct {
	IndexOutput
	ctx context.Context
	rc  *resource.Controller
}

func (o *rateLimitedOutput) Write(p []byte) (int, error) {
	if err := o.rc.ThrottleIO(o.ctx, len(p)); err != nil {
		return 0, err
	}
	return o.IndexOutput.Write(p)
}

func (o *rateLimitedOutput) WriteByte(b byte) error {
	if err := o.rc.ThrottleIO(o.ctx, 1); err != nil {
		return err
	}
	return o.IndexOutput.WriteByte(b)
}
