/*
scheduler.go - Prescribing snapshot reloader

PURPOSE:
  Keeps the in-memory prescribing snapshot in step with the parquet
  extract on disk. A new snapshot is built off to the side and published
  with one pointer swap, so requests never see a half-built snapshot.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Rebuilds only when the extract's modification time moves
  - Practice memberships are re-read from the store on every build
  - A failed build leaves the previous snapshot serving

CONFIGURATION:
  - CheckInterval: How often to stat the extract (default: 5 minutes)
  - Enabled: Whether the background loop runs (default: true)

USAGE:
  reloader := NewSnapshotReloader(path, store, provider, metrics)
  if _, err := reloader.Reload(ctx); err != nil { ... }
  reloader.Start()
  // ... later
  reloader.Stop()

SEE ALSO:
  - handlers.go: ReloadSnapshot endpoint (manual reload)
  - matrixstore/extract.go: LoadSnapshot
*/
package api

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/warp/prescribing-engine/matrixstore"
	"github.com/warp/prescribing-engine/orgs"
)

// SnapshotReloader rebuilds and republishes the prescribing snapshot.
type SnapshotReloader struct {
	Path          string
	Directory     orgs.Directory
	Provider      *matrixstore.AtomicProvider
	Metrics       *Metrics
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex // guards ticker
	buildMu sync.Mutex // one build at a time
	loaded  time.Time  // modification time of the extract last published
}

// NewSnapshotReloader creates a reloader. metrics may be nil.
func NewSnapshotReloader(path string, dir orgs.Directory, provider *matrixstore.AtomicProvider, metrics *Metrics) *SnapshotReloader {
	return &SnapshotReloader{
		Path:          path,
		Directory:     dir,
		Provider:      provider,
		Metrics:       metrics,
		CheckInterval: 5 * time.Minute,
		Enabled:       true,
	}
}

// Start begins polling the extract.
func (sr *SnapshotReloader) Start() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if !sr.Enabled || sr.CheckInterval <= 0 {
		log.Info().Msg("snapshot reloader disabled")
		return
	}
	if sr.ticker != nil {
		return
	}

	sr.ticker = time.NewTicker(sr.CheckInterval)
	sr.stop = make(chan struct{})
	sr.wg.Add(1)
	go sr.run(sr.ticker.C, sr.stop)

	log.Info().Dur("interval", sr.CheckInterval).Str("path", sr.Path).Msg("snapshot reloader started")
}

// Stop stops the polling loop and waits for an in-flight build.
func (sr *SnapshotReloader) Stop() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.ticker != nil {
		sr.ticker.Stop()
		close(sr.stop)
		sr.wg.Wait()
		sr.ticker = nil
		log.Info().Msg("snapshot reloader stopped")
	}
}

func (sr *SnapshotReloader) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer sr.wg.Done()

	for {
		select {
		case <-tick:
			sr.checkAndReload()
		case <-stop:
			return
		}
	}
}

func (sr *SnapshotReloader) checkAndReload() {
	info, err := os.Stat(sr.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", sr.Path).Msg("cannot stat prescribing extract")
		return
	}

	sr.buildMu.Lock()
	changed := info.ModTime().After(sr.loaded)
	sr.buildMu.Unlock()
	if !changed {
		return
	}

	if _, err := sr.Reload(context.Background()); err != nil {
		log.Error().Err(err).Msg("snapshot reload failed, keeping previous snapshot")
	}
}

// Reload builds a snapshot from the extract and publishes it.
func (sr *SnapshotReloader) Reload(ctx context.Context) (*matrixstore.Snapshot, error) {
	sr.buildMu.Lock()
	defer sr.buildMu.Unlock()

	snap, modTime, err := sr.build(ctx)
	if err != nil {
		if sr.Metrics != nil {
			sr.Metrics.SnapshotFailed()
		}
		return nil, err
	}

	sr.Provider.Publish(snap)
	sr.loaded = modTime
	if sr.Metrics != nil {
		sr.Metrics.SnapshotPublished(snap)
	}

	log.Info().
		Int("dates", len(snap.Dates())).
		Int("practices", snap.NumPractices()).
		Int("presentations", snap.NumPresentations()).
		Str("latest", snap.LatestDate().String()).
		Msg("prescribing snapshot published")
	return snap, nil
}

func (sr *SnapshotReloader) build(ctx context.Context) (*matrixstore.Snapshot, time.Time, error) {
	start := time.Now()

	info, err := os.Stat(sr.Path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat extract: %w", err)
	}
	members, err := sr.Directory.Memberships(ctx)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load memberships: %w", err)
	}
	snap, err := matrixstore.LoadSnapshot(ctx, sr.Path, members)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load snapshot: %w", err)
	}

	log.Debug().Dur("took", time.Since(start)).Msg("prescribing snapshot built")
	return snap, info.ModTime(), nil
}
