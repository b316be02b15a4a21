package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/okrama/emailscout/internal/jobs"
	"github.com/okrama/emailscout/pkg/log"
)

const defaultDetailInterval = 5 * time.Second

// Detail keeps one job's view fresh while it is active. Opening the view
// fetches the job in the foreground; while the job is running, a
// background loop refreshes the job and its recent-discoveries preview.
// The first terminal observation triggers exactly one result-summary
// fetch, after which the loop stops for good.
type Detail struct {
	client   *Client
	store    *Store
	jobID    string
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	recent  RecentDiscoveries
	summary *ResultSummary
	done    bool
}

type DetailOption func(*Detail)

func WithDetailInterval(interval time.Duration) DetailOption {
	return func(d *Detail) { d.interval = interval }
}

func NewDetail(client *Client, store *Store, jobID string, opts ...DetailOption) *Detail {
	d := &Detail{
		client:   client,
		store:    store,
		jobID:    jobID,
		interval: defaultDetailInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start performs the foreground fetch. Its error is surfaced to the
// caller; background refreshes after it only log.
func (d *Detail) Start(ctx context.Context) (*jobs.Job, error) {
	job, err := d.client.GetJob(ctx, d.jobID)
	if err != nil {
		return nil, err
	}
	d.store.Dispatch(UpdateJob{Job: job})

	if job.Status.Terminal() {
		d.observeTerminal(ctx, job)
		return job, nil
	}
	if job.Status == jobs.StatusRunning {
		d.refreshRecent(ctx)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.wg.Add(1)
	d.mu.Unlock()
	go d.loop(loopCtx)
	return job, nil
}

// Stop cancels the background loop, as when the view is closed.
func (d *Detail) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// Recent returns the latest discoveries preview fetched so far.
func (d *Detail) Recent() RecentDiscoveries {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recent
}

// Summary returns the final result summary, nil until the job has been
// observed completed.
func (d *Detail) Summary() *ResultSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.summary
}

// Done reports whether the synchronizer has observed a terminal state
// and stopped scheduling refreshes.
func (d *Detail) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Logs fetches one page of the job's log on demand. Never auto-polled.
func (d *Detail) Logs(ctx context.Context, limit, offset int) (LogsPage, error) {
	return d.client.JobLogs(ctx, d.jobID, limit, offset)
}

func (d *Detail) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.refresh(ctx) {
				return
			}
		}
	}
}

// refresh performs one background tick; returns true once the job is
// terminal and no further ticks should run.
func (d *Detail) refresh(ctx context.Context) bool {
	job, err := d.client.GetJob(ctx, d.jobID)
	if err != nil {
		log.Warn("Job %s refresh failed: %v", d.jobID, err)
		return false
	}
	d.store.Dispatch(UpdateJob{Job: job})

	if job.Status.Terminal() {
		d.observeTerminal(ctx, job)
		return true
	}
	if job.Status == jobs.StatusRunning {
		d.refreshRecent(ctx)
	}
	return false
}

func (d *Detail) refreshRecent(ctx context.Context) {
	recent, err := d.client.RecentEmails(ctx, d.jobID)
	if err != nil {
		log.Warn("Job %s recent emails fetch failed: %v", d.jobID, err)
		return
	}
	d.mu.Lock()
	d.recent = recent
	d.mu.Unlock()
}

// observeTerminal runs once per synchronizer: a single result-summary
// fetch for completed jobs, then the loop is done.
func (d *Detail) observeTerminal(ctx context.Context, job *jobs.Job) {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return
	}
	d.done = true
	d.mu.Unlock()

	if job.Status != jobs.StatusCompleted {
		return
	}
	summary, err := d.client.DownloadSummary(ctx, d.jobID)
	if err != nil {
		log.Warn("Job %s result summary fetch failed: %v", d.jobID, err)
		return
	}
	d.mu.Lock()
	d.summary = &summary
	d.mu.Unlock()
}
