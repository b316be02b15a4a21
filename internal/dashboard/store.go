package dashboard

import (
	"sync"

	"github.com/okrama/emailscout/internal/jobs"
)

// Action mutates the Store. The action set is closed: every store change
// flows through Dispatch with one of the types below.
type Action interface {
	apply(*storeState)
}

// SetJobs replaces the job collection wholesale with the latest server
// snapshot. Nothing from the previous collection survives.
type SetJobs struct {
	Jobs []*jobs.Job
}

// UpdateJob replaces the entry matching the job's identifier. Unknown
// identifiers are a no-op; adding goes through SetJobs or AddJob.
type UpdateJob struct {
	Job *jobs.Job
}

// AddJob prepends a freshly submitted job ahead of the next poll.
type AddJob struct {
	Job *jobs.Job
}

// RemoveJob drops the entry with the given identifier. Idempotent.
type RemoveJob struct {
	ID string
}

// SetStats replaces the aggregate snapshot.
type SetStats struct {
	Stats jobs.Stats
}

type storeState struct {
	jobs  []*jobs.Job
	stats jobs.Stats
}

// Store is the client-side source of truth for jobs and stats. All
// mutation goes through Dispatch; reads return copies.
type Store struct {
	mu    sync.RWMutex
	state storeState
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Dispatch(action Action) {
	if action == nil {
		return
	}
	s.mu.Lock()
	action.apply(&s.state)
	s.mu.Unlock()
}

// Jobs returns a copy of the current job list, in store order.
func (s *Store) Jobs() []*jobs.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*jobs.Job{}, s.state.jobs...)
}

// Job looks up one entry by identifier.
func (s *Store) Job(id string) (*jobs.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.state.jobs {
		if job.ID == id {
			return job, true
		}
	}
	return nil, false
}

func (s *Store) Stats() jobs.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.stats
}

func (a SetJobs) apply(st *storeState) {
	st.jobs = append([]*jobs.Job{}, a.Jobs...)
}

func (a UpdateJob) apply(st *storeState) {
	if a.Job == nil {
		return
	}
	for i, job := range st.jobs {
		if job.ID == a.Job.ID {
			st.jobs[i] = a.Job
			return
		}
	}
}

func (a AddJob) apply(st *storeState) {
	if a.Job == nil {
		return
	}
	st.jobs = append([]*jobs.Job{a.Job}, st.jobs...)
}

func (a RemoveJob) apply(st *storeState) {
	for i, job := range st.jobs {
		if job.ID == a.ID {
			st.jobs = append(st.jobs[:i], st.jobs[i+1:]...)
			return
		}
	}
}

func (a SetStats) apply(st *storeState) {
	st.stats = a.Stats
}
