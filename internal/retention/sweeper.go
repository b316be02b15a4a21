package retention

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/okrama/emailscout/internal/jobs"
	"github.com/okrama/emailscout/pkg/log"
)

// Sweeper evicts expired terminal jobs and orphaned upload files on a
// cron cadence. Overlapping triggers collapse into a single run.
type Sweeper struct {
	manager   *jobs.Manager
	uploadDir string
	cronExpr  string
	maxAge    time.Duration
	cron      *cron.Cron

	mu        sync.Mutex
	lastSweep time.Time
}

var sweepGroup singleflight.Group

func NewSweeper(manager *jobs.Manager, uploadDir, cronExpr string, maxAge time.Duration, c *cron.Cron) *Sweeper {
	return &Sweeper{
		manager:   manager,
		uploadDir: uploadDir,
		cronExpr:  cronExpr,
		maxAge:    maxAge,
		cron:      c,
	}
}

// Schedule registers the sweep on the cron runner. The caller owns
// starting and stopping the runner.
func (s *Sweeper) Schedule(ctx context.Context) error {
	runFunc := func() {
		_, _, _ = sweepGroup.Do("sweep", func() (any, error) {
			s.Sweep(ctx)
			return nil, nil
		})
	}
	_, err := s.cron.AddFunc(s.cronExpr, runFunc)
	return err
}

// Sweep runs one eviction pass immediately.
func (s *Sweeper) Sweep(ctx context.Context) {
	removed := s.manager.PruneTerminalOlderThan(s.maxAge)
	if len(removed) > 0 {
		log.Info("Retention sweep removed %d expired job(s)", len(removed))
	}
	s.cleanOrphanUploads()

	s.mu.Lock()
	s.lastSweep = time.Now()
	s.mu.Unlock()
}

// LastSweep reports when the last pass finished; zero before the first.
func (s *Sweeper) LastSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}

// cleanOrphanUploads removes upload files older than the retention
// window that no live job references anymore.
func (s *Sweeper) cleanOrphanUploads() {
	if s.uploadDir == "" {
		return
	}
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Could not read upload dir %s: %v", s.uploadDir, err)
		}
		return
	}

	referenced := make(map[string]bool)
	for _, job := range s.manager.List() {
		for _, path := range job.FilesProcessed {
			referenced[filepath.Clean(path)] = true
			// Zip extractions live in a per-job directory.
			referenced[filepath.Dir(filepath.Clean(path))] = true
		}
	}

	cutoff := time.Now().Add(-s.maxAge)
	for _, entry := range entries {
		path := filepath.Join(s.uploadDir, entry.Name())
		if referenced[filepath.Clean(path)] {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			log.Warn("Could not remove orphan upload %s: %v", path, err)
			continue
		}
		log.Debug("Removed orphan upload %s", path)
	}
}
