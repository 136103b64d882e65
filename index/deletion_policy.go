package index

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// DeletionPolicy decides which commits to remove. Both callbacks receive
// the live commits ordered by ascending generation and delete commits by
// calling IndexCommit.Delete.
type DeletionPolicy interface {
	// OnInit is called once when a writer opens, before its first commit.
	OnInit(commits []IndexCommit) error
	// OnCommit is called after every successful commit.
	OnCommit(commits []IndexCommit) error
}

// KeepOnlyLastCommit removes every commit but the newest. It is the
// default.
type KeepOnlyLastCommit struct{}

func (KeepOnlyLastCommit) OnInit(commits []IndexCommit) error { return KeepOnlyLastCommit{}.OnCommit(commits) }

func (KeepOnlyLastCommit) OnCommit(commits []IndexCommit) error {
	for i := 0; i < len(commits)-1; i++ {
		commits[i].Delete()
	}
	return nil
}

// KeepAll never removes a commit.
type KeepAll struct{}

func (KeepAll) OnInit([]IndexCommit) error   { return nil }
func (KeepAll) OnCommit([]IndexCommit) error { return nil }

// KeepLastN keeps the newest N commits.
type KeepLastN int

func (n KeepLastN) OnInit(commits []IndexCommit) error { return n.OnCommit(commits) }

func (n KeepLastN) OnCommit(commits []IndexCommit) error {
	for i := 0; i < len(commits)-int(n); i++ {
		commits[i].Delete()
	}
	return nil
}

// ExpirationTime removes commits older than the duration, measured from
// the timestamp of the newest commit. The newest commit is always kept.
type ExpirationTime time.Duration

func (d ExpirationTime) OnInit(commits []IndexCommit) error { return d.OnCommit(commits) }

func (d ExpirationTime) OnCommit(commits []IndexCommit) error {
	if len(commits) == 0 {
		return nil
	}
	last := commits[len(commits)-1].Timestamp()
	cutoff := last.Add(-time.Duration(d))
	for _, c := range commits[:len(commits)-1] {
		if c.Timestamp().Before(cutoff) {
			c.Delete()
		}
	}
	return nil
}

// DeletionPolicyFuncs adapts functions to a DeletionPolicy. Nil functions
// keep every commit.
type DeletionPolicyFuncs struct {
	Init   func(commits []IndexCommit) error
	Commit func(commits []IndexCommit) error
}

func (p DeletionPolicyFuncs) OnInit(commits []IndexCommit) error {
	if p.Init == nil {
		return nil
	}
	return p.Init(commits)
}

func (p DeletionPolicyFuncs) OnCommit(commits []IndexCommit) error {
	if p.Commit == nil {
		return nil
	}
	return p.Commit(commits)
}

// SnapshotDeletionPolicy wraps another policy and protects snapshotted
// commits from deletion until they are released. Snapshots are held in
// memory only.
type SnapshotDeletionPolicy struct {
	primary DeletionPolicy

	mu         sync.Mutex
	refCounts  map[int64]int
	snapshots  map[int64]IndexCommit
	last       IndexCommit
	initCalled bool
}

// NewSnapshotDeletionPolicy wraps primary.
func NewSnapshotDeletionPolicy(primary DeletionPolicy) *SnapshotDeletionPolicy {
	if primary == nil {
		primary = KeepOnlyLastCommit{}
	}
	return &SnapshotDeletionPolicy{
		primary:   primary,
		refCounts: make(map[int64]int),
		snapshots: make(map[int64]IndexCommit),
	}
}

func (p *SnapshotDeletionPolicy) OnInit(commits []IndexCommit) error {
	p.mu.Lock()
	p.initCalled = true
	p.mu.Unlock()
	return p.onCommits(commits, p.primary.OnInit)
}

func (p *SnapshotDeletionPolicy) OnCommit(commits []IndexCommit) error {
	return p.onCommits(commits, p.primary.OnCommit)
}

func (p *SnapshotDeletionPolicy) onCommits(commits []IndexCommit, fn func([]IndexCommit) error) error {
	wrapped := make([]IndexCommit, len(commits))
	for i, c := range commits {
		wrapped[i] = &snapshotCommit{IndexCommit: c, policy: p}
	}
	if err := fn(wrapped); err != nil {
		return err
	}
	if len(commits) > 0 {
		p.mu.Lock()
		p.last = commits[len(commits)-1]
		p.mu.Unlock()
	}
	return nil
}

// Snapshot pins the newest commit. Release it when done.
func (p *SnapshotDeletionPolicy) Snapshot() (IndexCommit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initCalled {
		return nil, fmt.Errorf("%w: the policy is not in use by a writer", ErrIllegalState)
	}
	if p.last == nil {
		return nil, fmt.Errorf("%w: no commit to snapshot", ErrIllegalState)
	}
	gen := p.last.Generation()
	p.refCounts[gen]++
	p.snapshots[gen] = p.last
	return p.last, nil
}

// Release unpins a snapshot. Its files are removed by the next commit or
// Writer.DeleteUnusedFiles once the wrapped policy deletes the commit.
func (p *SnapshotDeletionPolicy) Release(commit IndexCommit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	gen := commit.Generation()
	n, ok := p.refCounts[gen]
	if !ok {
		return fmt.Errorf("%w: commit generation %d is not snapshotted", ErrIllegalArgument, gen)
	}
	if n <= 1 {
		delete(p.refCounts, gen)
		delete(p.snapshots, gen)
		return nil
	}
	p.refCounts[gen] = n - 1
	return nil
}

// Snapshots returns the pinned commits ordered by generation.
func (p *SnapshotDeletionPolicy) Snapshots() []IndexCommit {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]IndexCommit, 0, len(p.snapshots))
	for _, c := range p.snapshots {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b IndexCommit) int { return int(a.Generation() - b.Generation()) })
	return out
}

// SnapshotCount is the number of Snapshot calls not yet released.
func (p *SnapshotDeletionPolicy) SnapshotCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.refCounts {
		n += c
	}
	return n
}

func (p *SnapshotDeletionPolicy) pinned(gen int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refCounts[gen] > 0
}

type snapshotCommit struct {
	IndexCommit
	policy *SnapshotDeletionPolicy
}

func (c *snapshotCommit) Delete() {
	if !c.policy.pinned(c.Generation()) {
		c.IndexCommit.Delete()
	}
}
