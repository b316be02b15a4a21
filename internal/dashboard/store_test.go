package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okrama/emailscout/internal/jobs"
)

func job(id string, status jobs.Status) *jobs.Job {
	return &jobs.Job{ID: id, Status: status}
}

func jobIDs(list []*jobs.Job) []string {
	ids := make([]string, 0, len(list))
	for _, j := range list {
		ids = append(ids, j.ID)
	}
	return ids
}

func TestSetJobsReplacesWholesale(t *testing.T) {
	store := NewStore()

	store.Dispatch(SetJobs{Jobs: []*jobs.Job{job("a", jobs.StatusQueued), job("b", jobs.StatusRunning)}})
	store.Dispatch(SetJobs{Jobs: []*jobs.Job{job("c", jobs.StatusCompleted)}})

	assert.Equal(t, []string{"c"}, jobIDs(store.Jobs()))

	store.Dispatch(SetJobs{Jobs: nil})
	assert.Empty(t, store.Jobs())
}

func TestUpdateJobUnknownIDIsNoOp(t *testing.T) {
	store := NewStore()
	store.Dispatch(SetJobs{Jobs: []*jobs.Job{job("a", jobs.StatusQueued)}})

	store.Dispatch(UpdateJob{Job: job("ghost", jobs.StatusCompleted)})

	assert.Equal(t, []string{"a"}, jobIDs(store.Jobs()))
	_, ok := store.Job("ghost")
	assert.False(t, ok)
}

func TestUpdateJobReplacesMatchingEntry(t *testing.T) {
	store := NewStore()
	store.Dispatch(SetJobs{Jobs: []*jobs.Job{job("a", jobs.StatusQueued), job("b", jobs.StatusQueued)}})

	updated := job("b", jobs.StatusRunning)
	updated.Progress = 0.5
	store.Dispatch(UpdateJob{Job: updated})

	got, ok := store.Job("b")
	require.True(t, ok)
	assert.Equal(t, jobs.StatusRunning, got.Status)
	assert.Equal(t, 0.5, got.Progress)
	assert.Equal(t, []string{"a", "b"}, jobIDs(store.Jobs()))
}

func TestAddJobPrepends(t *testing.T) {
	store := NewStore()
	store.Dispatch(SetJobs{Jobs: []*jobs.Job{job("old", jobs.StatusCompleted)}})

	store.Dispatch(AddJob{Job: job("new", jobs.StatusQueued)})

	assert.Equal(t, []string{"new", "old"}, jobIDs(store.Jobs()))
}

func TestRemoveJobIsIdempotent(t *testing.T) {
	store := NewStore()
	store.Dispatch(SetJobs{Jobs: []*jobs.Job{job("a", jobs.StatusQueued), job("b", jobs.StatusQueued)}})

	store.Dispatch(RemoveJob{ID: "a"})
	after := jobIDs(store.Jobs())
	store.Dispatch(RemoveJob{ID: "a"})

	assert.Equal(t, after, jobIDs(store.Jobs()))
	assert.Equal(t, []string{"b"}, after)
}

func TestSetStatsReplacesSnapshot(t *testing.T) {
	store := NewStore()

	store.Dispatch(SetStats{Stats: jobs.Stats{TotalJobs: 3, ActiveJobs: 1}})
	store.Dispatch(SetStats{Stats: jobs.Stats{TotalJobs: 4, CompletedJobs: 2}})

	got := store.Stats()
	assert.Equal(t, 4, got.TotalJobs)
	assert.Equal(t, 0, got.ActiveJobs)
	assert.Equal(t, 2, got.CompletedJobs)
}

func TestDispatchNilActionIsNoOp(t *testing.T) {
	store := NewStore()
	store.Dispatch(SetJobs{Jobs: []*jobs.Job{job("a", jobs.StatusQueued)}})

	store.Dispatch(nil)

	assert.Equal(t, []string{"a"}, jobIDs(store.Jobs()))
}
