package matrixstore

import (
	"errors"
	"sync/atomic"
)

// ErrNoSnapshot is returned before the first snapshot has been published.
var ErrNoSnapshot = errors.New("no prescribing snapshot loaded")

// Provider hands out the snapshot queries should read. Callers take one
// snapshot per request and use it throughout.
type Provider interface {
	Snapshot() (*Snapshot, error)
}

// AtomicProvider publishes snapshots with a pointer swap. Readers see the
// old or the new snapshot in full, never a mix.
type AtomicProvider struct {
	current atomic.Pointer[Snapshot]
}

func NewAtomicProvider(initial *Snapshot) *AtomicProvider {
	p := &AtomicProvider{}
	if initial != nil {
		p.current.Store(initial)
	}
	return p
}

func (p *AtomicProvider) Snapshot() (*Snapshot, error) {
	s := p.current.Load()
	if s == nil {
		return nil, ErrNoSnapshot
	}
	return s, nil
}

// Publish replaces the current snapshot and returns the previous one.
func (p *AtomicProvider) Publish(s *Snapshot) *Snapshot {
	return p.current.Swap(s)
}

// Static serves one fixed snapshot. A nil S behaves like an empty
// AtomicProvider.
type Static struct{ S *Snapshot }

func (s Static) Snapshot() (*Snapshot, error) {
	if s.S == nil {
		return nil, ErrNoSnapshot
	}
	return s.S, nil
}
