package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okrama/emailscout/internal/jobs"
)

func TestSubmitRequiresExactlyOneSource(t *testing.T) {
	var requests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer ts.Close()

	g := NewGateway(NewClient(ts.URL), NewStore())

	_, err := g.Submit(context.Background(), SubmitSpec{})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = g.Submit(context.Background(), SubmitSpec{FilePath: "a.csv", ServerPath: "/data"})
	require.ErrorAs(t, err, &validationErr)

	assert.Equal(t, int64(0), requests.Load(), "validation failures never reach the network")
}

func TestSubmitFileAddsOptimisticEntry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/process-file", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "120", r.FormValue("workers"))
		assert.Equal(t, "50", r.FormValue("batch_size"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SubmitResult{
			JobID: "job_77", Status: "queued", TotalFiles: 1,
		})
	}))
	defer ts.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "prospects.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,website\n"), 0o644))

	store := NewStore()
	store.Dispatch(SetJobs{Jobs: []*jobs.Job{job("job_old", jobs.StatusCompleted)}})

	g := NewGateway(NewClient(ts.URL), store)
	result, err := g.Submit(context.Background(), SubmitSpec{
		FilePath: path,
		Config:   jobs.ScrapeConfig{Workers: 120, BatchSize: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, "job_77", result.JobID)

	list := store.Jobs()
	require.Len(t, list, 2)
	assert.Equal(t, "job_77", list[0].ID)
	assert.Equal(t, jobs.StatusQueued, list[0].Status)
}

func TestSubmitSurfacesServerDetailVerbatim(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Workers must be between 1 and 500"}`))
	}))
	defer ts.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "prospects.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,website\n"), 0o644))

	g := NewGateway(NewClient(ts.URL), NewStore())
	_, err := g.Submit(context.Background(), SubmitSpec{FilePath: path})

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "Workers must be between 1 and 500", serverErr.Error())
}

func TestSubmitTransportErrorOnUnreachableServer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prospects.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,website\n"), 0o644))

	g := NewGateway(NewClient("http://127.0.0.1:1"), NewStore())
	_, err := g.Submit(context.Background(), SubmitSpec{FilePath: path})

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestDeleteRemovesFromStoreOnSuccessOnly(t *testing.T) {
	var fail atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		if fail.Load() {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Job not found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "deleted"})
	}))
	defer ts.Close()

	store := NewStore()
	store.Dispatch(SetJobs{Jobs: []*jobs.Job{job("a", jobs.StatusCompleted), job("b", jobs.StatusCompleted)}})
	g := NewGateway(NewClient(ts.URL), store)

	fail.Store(true)
	err := g.Delete(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, jobIDs(store.Jobs()), "failed delete leaves the store untouched")

	fail.Store(false)
	require.NoError(t, g.Delete(context.Background(), "a"))
	assert.Equal(t, []string{"b"}, jobIDs(store.Jobs()))
}

func TestDownloadRejectsIncompleteJob(t *testing.T) {
	var requests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer ts.Close()

	store := NewStore()
	g := NewGateway(NewClient(ts.URL), store)

	// Regardless of progress value.
	for _, status := range []jobs.Status{jobs.StatusQueued, jobs.StatusRunning, jobs.StatusFailed} {
		running := job("job_1", status)
		running.Progress = 1
		store.Dispatch(SetJobs{Jobs: []*jobs.Job{running}})

		_, err := g.Download(context.Background(), "job_1", t.TempDir())
		var preconditionErr *PreconditionError
		require.ErrorAs(t, err, &preconditionErr, string(status))
	}
	assert.Equal(t, int64(0), requests.Load())
}

func TestDownloadSavesWithResultSuffix(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/download/job_1/file", r.URL.Path)
		_, _ = w.Write([]byte("name,website,emails\nACME,acme.example,contact@acme.example\n"))
	}))
	defer ts.Close()

	completed := job("job_1", jobs.StatusCompleted)
	completed.FilesProcessed = []string{"/srv/uploads/job_1_report.csv"}

	store := NewStore()
	store.Dispatch(SetJobs{Jobs: []*jobs.Job{completed}})
	g := NewGateway(NewClient(ts.URL), store)

	dest := t.TempDir()
	saved, err := g.Download(context.Background(), "job_1", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "job_1_report_with_emails.csv"), saved)

	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Contains(t, string(data), "contact@acme.example")
}

func TestDownloadFetchesJobWhenNotInStore(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/jobs/job_1":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(&jobs.Job{
				ID: "job_1", Status: jobs.StatusCompleted, Progress: 1,
				FilesProcessed: []string{"archive"},
			})
		case "/api/download/job_1/file":
			_, _ = w.Write([]byte("payload"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	g := NewGateway(NewClient(ts.URL), NewStore())
	saved, err := g.Download(context.Background(), "job_1", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "archive_with_emails", filepath.Base(saved))
}

func TestRefreshUpdatesStoreEntry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(&jobs.Job{ID: "job_1", Status: jobs.StatusRunning, Progress: 0.6})
	}))
	defer ts.Close()

	store := NewStore()
	store.Dispatch(SetJobs{Jobs: []*jobs.Job{job("job_1", jobs.StatusQueued)}})

	g := NewGateway(NewClient(ts.URL), store)
	refreshed, err := g.Refresh(context.Background(), "job_1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusRunning, refreshed.Status)

	got, ok := store.Job("job_1")
	require.True(t, ok)
	assert.Equal(t, 0.6, got.Progress)
}
