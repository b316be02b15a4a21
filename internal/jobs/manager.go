package jobs

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okrama/emailscout/pkg/log"
)

// Executor runs one job to completion. A nil error marks the job
// completed, anything else marks it failed.
type Executor func(ctx context.Context, job *Job) error

const (
	logRingCap    = 1000
	recentRingCap = 50
)

// ErrNotFound is returned for operations against an unknown job ID.
var ErrNotFound = fmt.Errorf("job not found")

// Manager is the authoritative server-side job registry: an in-memory map
// guarded by a RWMutex, a pending channel drained by worker goroutines,
// and a Store for restart persistence. All reads return snapshots.
type Manager struct {
	workerCount int
	maxJobs     int
	store       Store

	mu         sync.RWMutex
	jobs       map[string]*Job
	logs       map[string][]LogEntry
	recent     map[string][]RecentEmail
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewManager(workerCount, maxJobs int, store Store) *Manager {
	if workerCount <= 0 {
		workerCount = 1
	}
	if maxJobs <= 0 {
		maxJobs = 1000
	}
	m := &Manager{
		workerCount: workerCount,
		maxJobs:     maxJobs,
		store:       store,
		jobs:        make(map[string]*Job),
		logs:        make(map[string][]LogEntry),
		recent:      make(map[string][]RecentEmail),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
	m.hydrateFromStore(context.Background())
	return m
}

// NewID mints a job identifier. Exposed so the transport layer can name
// uploaded files after the job before registering it.
func NewID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("job_%d_%s", time.Now().Unix(), raw[:8])
}

// Create registers a new queued job and hands it to the workers.
func (m *Manager) Create(req CreateRequest) (*Job, error) {
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("no input files")
	}

	id := req.ID
	if id == "" {
		id = NewID()
	}

	job := &Job{
		ID:             id,
		Status:         StatusQueued,
		StartTime:      time.Now().Unix(),
		Errors:         []string{},
		FilesProcessed: append([]string{}, req.Files...),
		JobType:        req.JobType,
		FolderName:     req.FolderName,
		TotalFiles:     len(req.Files),
		OriginalName:   req.OriginalName,
		Config:         req.Config,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	started := m.started
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(snapshot)
	m.AppendLog(job.ID, "INFO", fmt.Sprintf("Job created for %d file(s)", len(req.Files)), map[string]any{
		"files":      req.Files,
		"workers":    req.Config.Workers,
		"batch_size": req.Config.BatchSize,
	})
	if started {
		m.enqueuePendingID(job.ID)
	}
	return snapshot, nil
}

func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns snapshots of all known jobs, newest first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	ret := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		ret = append(ret, cloneJob(job))
	}
	m.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].StartTime != ret[j].StartTime {
			return ret[i].StartTime > ret[j].StartTime
		}
		return ret[i].ID > ret[j].ID
	})
	return ret
}

// Stats recomputes the aggregate snapshot from the current registry.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{TotalJobs: len(m.jobs)}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusRunning:
			stats.ActiveJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
		stats.TotalEmailsFound += job.TotalEmails
	}
	return stats
}

// ActiveCount counts jobs that still occupy the pipeline (queued or running).
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, job := range m.jobs {
		if !job.Status.Terminal() {
			count++
		}
	}
	return count
}

// Delete removes a job, its logs, its discovery preview and its input
// files. Terminal and in-flight jobs alike; an in-flight executor keeps
// running but its subsequent updates are dropped.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	files := append([]string{}, job.FilesProcessed...)
	delete(m.jobs, id)
	delete(m.logs, id)
	delete(m.recent, id)
	m.mu.Unlock()

	for _, path := range files {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("Could not delete file %s: %v", path, err)
		}
	}
	m.deleteJobFromStore(id)
	return nil
}

// UpdateProgress applies a progress report from the executor. Counters and
// progress are clamped monotonically non-decreasing and frozen once the
// job is terminal.
func (m *Manager) UpdateProgress(id string, processed, emails int, progress float64) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusRunning {
		m.mu.Unlock()
		return
	}
	if processed > job.TotalProcessed {
		job.TotalProcessed = processed
	}
	if emails > job.TotalEmails {
		job.TotalEmails = emails
	}
	if progress > 1 {
		progress = 1
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(snapshot)
	m.AppendLog(id, "INFO",
		fmt.Sprintf("Progress update: %d processed, %d emails found", snapshot.TotalProcessed, snapshot.TotalEmails),
		map[string]any{"processed": snapshot.TotalProcessed, "emails": snapshot.TotalEmails})
}

// AppendError records a non-fatal processing error on a running job.
func (m *Manager) AppendError(id, msg string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	job.Errors = append(job.Errors, msg)
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(snapshot)
	m.AppendLog(id, "ERROR", fmt.Sprintf("Job error: %s", msg), nil)
}

// AddDiscovery records one company's mined emails in the bounded
// recent-discoveries preview.
func (m *Manager) AddDiscovery(id, company, domain string, emails []string) {
	entry := RecentEmail{
		Company:   company,
		Domain:    domain,
		Emails:    append([]string{}, emails...),
		Timestamp: time.Now().Unix(),
	}

	m.mu.Lock()
	if _, ok := m.jobs[id]; !ok {
		m.mu.Unlock()
		return
	}
	ring := append(m.recent[id], entry)
	if len(ring) > recentRingCap {
		ring = ring[len(ring)-recentRingCap:]
	}
	m.recent[id] = ring
	m.mu.Unlock()
}

// RecentEmails returns the discovery preview, newest first.
func (m *Manager) RecentEmails(id string) ([]RecentEmail, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.jobs[id]; !ok {
		return nil, false
	}
	ring := m.recent[id]
	ret := make([]RecentEmail, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		ret = append(ret, ring[i])
	}
	return ret, true
}

// AppendLog records a log entry on the job's bounded in-memory ring and
// mirrors it to the store.
func (m *Manager) AppendLog(id, level, message string, details map[string]any) {
	entry := LogEntry{
		Timestamp: time.Now().Unix(),
		Level:     level,
		Message:   message,
		Details:   details,
	}

	m.mu.Lock()
	if _, ok := m.jobs[id]; !ok {
		m.mu.Unlock()
		return
	}
	ring := append(m.logs[id], entry)
	if len(ring) > logRingCap {
		ring = ring[len(ring)-logRingCap:]
	}
	m.logs[id] = ring
	m.mu.Unlock()

	m.persistLog(id, entry)
}

// Logs returns a page of the job's log, newest first, along with the
// total entry count.
func (m *Manager) Logs(id string, limit, offset int) ([]LogEntry, int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.jobs[id]; !ok {
		return nil, 0, false
	}
	ring := m.logs[id]
	total := len(ring)

	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []LogEntry{}, total, true
	}

	// Ring is oldest first; page over the reversed view.
	end := offset + limit
	if end > total {
		end = total
	}
	ret := make([]LogEntry, 0, end-offset)
	for i := offset; i < end; i++ {
		ret = append(ret, ring[total-1-i])
	}
	return ret, total, true
}

// Start launches the worker goroutines and replays queued work.
func (m *Manager) Start(exec Executor) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true

	pending := make([]string, 0)
	for id, job := range m.jobs {
		if job.Status == StatusQueued {
			pending = append(pending, id)
		}
	}
	m.mu.Unlock()

	for _, id := range pending {
		m.enqueuePendingID(id)
	}

	for range m.workerCount {
		m.wg.Add(1)
		go m.worker(exec)
	}
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

func (m *Manager) worker(exec Executor) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case id := <-m.pendingIDs:
			job, ok := m.markRunning(id)
			if !ok {
				continue
			}

			err := exec(context.Background(), job)
			if err != nil {
				m.markFailed(id, err)
				continue
			}
			m.markCompleted(id)
		}
	}
}

func (m *Manager) enqueuePendingID(id string) {
	select {
	case m.pendingIDs <- id:
	default:
		go func() { m.pendingIDs <- id }()
	}
}

func (m *Manager) markRunning(id string) (*Job, bool) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusQueued {
		m.mu.Unlock()
		return nil, false
	}
	job.Status = StatusRunning
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(snapshot)
	m.AppendLog(id, "INFO", "Job status changed to: running", nil)
	return snapshot, true
}

func (m *Manager) markCompleted(id string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	job.Status = StatusCompleted
	job.Progress = 1
	now := time.Now().Unix()
	job.EndTime = &now
	pruned := m.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(snapshot)
	m.AppendLog(id, "INFO", "Job status changed to: completed", nil)
	m.deleteJobsFromStore(pruned)
}

func (m *Manager) markFailed(id string, err error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	job.Status = StatusFailed
	if err != nil {
		job.Errors = append(job.Errors, err.Error())
	}
	now := time.Now().Unix()
	job.EndTime = &now
	pruned := m.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(snapshot)
	m.AppendLog(id, "ERROR", "Job status changed to: failed", nil)
	m.deleteJobsFromStore(pruned)
}

// pruneTerminalJobsLocked trims the oldest terminal jobs once the
// registry grows past maxJobs. Queued and running jobs are never pruned.
func (m *Manager) pruneTerminalJobsLocked() []string {
	if m.maxJobs <= 0 || len(m.jobs) <= m.maxJobs {
		return nil
	}

	type candidate struct {
		id      string
		endTime int64
	}
	terminal := make([]candidate, 0, len(m.jobs))
	for id, job := range m.jobs {
		if job == nil || !job.Status.Terminal() {
			continue
		}
		var end int64
		if job.EndTime != nil {
			end = *job.EndTime
		}
		terminal = append(terminal, candidate{id: id, endTime: end})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].endTime < terminal[j].endTime
	})

	toRemove := len(m.jobs) - m.maxJobs
	if toRemove > len(terminal) {
		toRemove = len(terminal)
	}

	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		id := terminal[i].id
		delete(m.jobs, id)
		delete(m.logs, id)
		delete(m.recent, id)
		pruned = append(pruned, id)
	}
	return pruned
}

// PruneTerminalOlderThan removes terminal jobs whose end time is before
// the cutoff, returning the removed IDs. Used by the retention sweep.
func (m *Manager) PruneTerminalOlderThan(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge).Unix()

	m.mu.Lock()
	removed := make([]string, 0)
	var files []string
	for id, job := range m.jobs {
		if !job.Status.Terminal() || job.EndTime == nil || *job.EndTime >= cutoff {
			continue
		}
		files = append(files, job.FilesProcessed...)
		delete(m.jobs, id)
		delete(m.logs, id)
		delete(m.recent, id)
		removed = append(removed, id)
	}
	m.mu.Unlock()

	for _, path := range files {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("Could not delete file %s: %v", path, err)
		}
	}
	m.deleteJobsFromStore(removed)
	return removed
}

func (m *Manager) deleteJobsFromStore(ids []string) {
	for _, id := range ids {
		m.deleteJobFromStore(id)
	}
}

func (m *Manager) deleteJobFromStore(id string) {
	if m.store == nil {
		return
	}
	if err := m.store.DeleteLogs(context.Background(), id); err != nil {
		log.Error("Failed to delete logs for job %s: %v", id, err)
	}
	if err := m.store.DeleteJob(context.Background(), id); err != nil {
		log.Error("Failed to delete job %s from store: %v", id, err)
	}
}

// hydrateFromStore restores persisted jobs on startup. Jobs caught
// running by a restart are failed: the crawl state is not resumable.
func (m *Manager) hydrateFromStore(ctx context.Context) {
	if m.store == nil {
		return
	}
	loaded, err := m.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	toPersist := make([]*Job, 0)
	m.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusRunning {
			job.Status = StatusFailed
			job.Errors = append(job.Errors, "interrupted by server restart")
			now := time.Now().Unix()
			job.EndTime = &now
			toPersist = append(toPersist, cloneJob(job))
		}
		m.jobs[job.ID] = job
	}
	m.mu.Unlock()

	for _, job := range m.jobs {
		entries, err := m.store.LoadLogs(ctx, job.ID)
		if err != nil {
			log.Error("Failed to load logs for job %s: %v", job.ID, err)
			continue
		}
		if len(entries) > logRingCap {
			entries = entries[len(entries)-logRingCap:]
		}
		m.mu.Lock()
		m.logs[job.ID] = entries
		m.mu.Unlock()
	}

	for _, job := range toPersist {
		m.persistJob(job)
	}
}

func (m *Manager) persistJob(job *Job) {
	if m.store == nil || job == nil {
		return
	}
	if err := m.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func (m *Manager) persistLog(id string, entry LogEntry) {
	if m.store == nil {
		return
	}
	if err := m.store.AppendLog(context.Background(), id, entry); err != nil {
		log.Error("Failed to persist log for job %s: %v", id, err)
	}
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	tmp.Errors = append([]string{}, job.Errors...)
	tmp.FilesProcessed = append([]string{}, job.FilesProcessed...)
	if job.EndTime != nil {
		end := *job.EndTime
		tmp.EndTime = &end
	}
	return &tmp
}
