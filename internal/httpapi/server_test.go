package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okrama/emailscout/internal/jobs"
)

func newTestServer(t *testing.T, exec jobs.Executor) (*httptest.Server, *jobs.Manager) {
	t.Helper()

	manager := jobs.NewManager(1, 100, nil)
	if exec == nil {
		exec = func(ctx context.Context, job *jobs.Job) error { return nil }
	}
	manager.Start(exec)
	t.Cleanup(manager.Stop)

	server := NewServer(manager, t.TempDir(),
		WithDefaults(150, 100),
		WithSweepSchedule("0 * * * *"),
	)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, manager
}

func multipartBody(t *testing.T, field, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func errorDetail(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decodeBody(t, resp, &body)
	return body.Detail
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "timestamp")
	assert.Contains(t, body, "active_jobs")
	assert.Contains(t, body, "next_cleanup")
}

func TestProcessFileLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, func(ctx context.Context, job *jobs.Job) error {
		return nil
	})

	body, contentType := multipartBody(t, "file", "companies.csv", "name,website\nACME,acme.example\n", nil)
	resp, err := http.Post(ts.URL+"/api/process-file", contentType, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created jobResponse
	decodeBody(t, resp, &created)
	assert.NotEmpty(t, created.JobID)
	assert.Equal(t, "queued", created.Status)
	assert.Equal(t, 1, created.TotalFiles)
	assert.Contains(t, created.Message, "companies.csv")

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/jobs/" + created.JobID)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		var job jobs.Job
		decodeBody(t, resp, &job)
		return job.Status == jobs.StatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	resp, err = http.Get(ts.URL + "/api/jobs/" + created.JobID)
	require.NoError(t, err)
	var job jobs.Job
	decodeBody(t, resp, &job)
	assert.Equal(t, float64(1), job.Progress)
	require.NotNil(t, job.EndTime)
	assert.GreaterOrEqual(t, *job.EndTime, job.StartTime)
}

func TestProcessFileRejectsUnsupportedExtension(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	body, contentType := multipartBody(t, "file", "report.pdf", "not a spreadsheet", nil)
	resp, err := http.Post(ts.URL+"/api/process-file", contentType, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorDetail(t, resp), "Unsupported file type")
}

func TestProcessFileRejectsBadWorkerCount(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	body, contentType := multipartBody(t, "file", "companies.csv", "name,website\n", map[string]string{
		"workers": "750",
	})
	resp, err := http.Post(ts.URL+"/api/process-file", contentType, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Workers must be between 1 and 500", errorDetail(t, resp))
}

func TestProcessFileRejectsBadBatchSize(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	body, contentType := multipartBody(t, "file", "companies.csv", "name,website\n", map[string]string{
		"batch_size": "5",
	})
	resp, err := http.Post(ts.URL+"/api/process-file", contentType, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Batch size must be between 10 and 2000", errorDetail(t, resp))
}

func TestProcessZipExtractsSupportedFiles(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	for name, content := range map[string]string{
		"north/region1.csv": "name,website\nACME,acme.example\n",
		"south/region2.csv": "name,website\nGlobex,globex.example\n",
		"readme.txt":        "ignored",
	} {
		entry, err := zw.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("folder", "regions.zip")
	require.NoError(t, err)
	_, err = part.Write(archive.Bytes())
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(ts.URL+"/api/process-files-zip", writer.FormDataContentType(), &buf)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created jobResponse
	decodeBody(t, resp, &created)
	assert.Equal(t, 2, created.TotalFiles)

	resp, err = http.Get(ts.URL + "/api/jobs/" + created.JobID)
	require.NoError(t, err)
	var job jobs.Job
	decodeBody(t, resp, &job)
	assert.Equal(t, jobs.JobTypeZip, job.JobType)
	assert.Equal(t, "regions", job.FolderName)
}

func TestProcessZipRejectsEmptyArchive(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	entry, err := zw.Create("notes.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("nothing usable"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("folder", "empty.zip")
	require.NoError(t, err)
	_, err = part.Write(archive.Bytes())
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(ts.URL+"/api/process-files-zip", writer.FormDataContentType(), &buf)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorDetail(t, resp), "no supported files")
}

func TestProcessFolderEnumeratesDirectory(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("name,website\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.ndjson"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("nope"), 0o644))

	payload, err := json.Marshal(processFolderRequest{FilePath: dir})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/process-files-folder", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created jobResponse
	decodeBody(t, resp, &created)
	assert.Equal(t, 2, created.TotalFiles)
}

func TestProcessFolderMissingPath(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	payload, err := json.Marshal(processFolderRequest{FilePath: "/does/not/exist"})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/process-files-folder", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, errorDetail(t, resp), "File not found")
}

func TestJobLogsPagination(t *testing.T) {
	ts, manager := newTestServer(t, nil)

	job, err := manager.Create(jobs.CreateRequest{
		Files:  []string{"/tmp/input.csv"},
		Config: jobs.ScrapeConfig{Workers: 150, BatchSize: 100},
	})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		manager.AppendLog(job.ID, "INFO", fmt.Sprintf("entry %d", i), nil)
	}

	resp, err := http.Get(ts.URL + "/api/jobs/" + job.ID + "/logs?limit=3")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page jobLogsResponse
	decodeBody(t, resp, &page)
	assert.Equal(t, job.ID, page.JobID)
	assert.Equal(t, 6, page.TotalCount) // 5 plus the creation entry
	require.Len(t, page.Logs, 3)
	assert.Equal(t, "entry 4", page.Logs[0].Message)
}

func TestRecentEmailsEndpoint(t *testing.T) {
	ts, manager := newTestServer(t, nil)

	job, err := manager.Create(jobs.CreateRequest{
		Files:  []string{"/tmp/input.csv"},
		Config: jobs.ScrapeConfig{Workers: 150, BatchSize: 100},
	})
	require.NoError(t, err)
	manager.AddDiscovery(job.ID, "ACME", "acme.example", []string{"contact@acme.example"})

	resp, err := http.Get(ts.URL + "/api/jobs/" + job.ID + "/emails/recent")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body recentEmailsResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, job.ID, body.JobID)
	require.Len(t, body.RecentEmails, 1)
	assert.Equal(t, "ACME", body.RecentEmails[0].Company)
}

func TestDeleteJob(t *testing.T) {
	ts, manager := newTestServer(t, nil)

	job, err := manager.Create(jobs.CreateRequest{
		Files:  []string{filepath.Join(t.TempDir(), "absent.csv")},
		Config: jobs.ScrapeConfig{Workers: 150, BatchSize: 100},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/jobs/"+job.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/jobs/" + job.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Job not found", errorDetail(t, resp))
}

func TestDownloadBeforeCompletion(t *testing.T) {
	ts, manager := newTestServer(t, nil)

	job, err := manager.Create(jobs.CreateRequest{
		Files:  []string{"/tmp/input.csv"},
		Config: jobs.ScrapeConfig{Workers: 150, BatchSize: 100},
	})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/download/" + job.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Job not completed yet", errorDetail(t, resp))
}

func TestDownloadCompletedJob(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	body, contentType := multipartBody(t, "file", "prospects.csv", "name,website\n", nil)
	resp, err := http.Post(ts.URL+"/api/process-file", contentType, body)
	require.NoError(t, err)
	var created jobResponse
	decodeBody(t, resp, &created)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/jobs/" + created.JobID)
		if err != nil {
			return false
		}
		var job jobs.Job
		decodeBody(t, resp, &job)
		return job.Status == jobs.StatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	resp, err = http.Get(ts.URL + "/api/download/" + created.JobID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary map[string]any
	decodeBody(t, resp, &summary)
	assert.Equal(t, created.JobID, summary["job_id"])
	assert.NotEmpty(t, summary["files"])

	resp, err = http.Get(ts.URL + "/api/download/" + created.JobID + "/file")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "prospects_with_emails.csv")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "name,website\n", string(data))
}

func TestJobStreamEndsAtTerminalState(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	body, contentType := multipartBody(t, "file", "companies.csv", "name,website\n", nil)
	resp, err := http.Post(ts.URL+"/api/process-file", contentType, body)
	require.NoError(t, err)
	var created jobResponse
	decodeBody(t, resp, &created)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/jobs/" + created.JobID)
		if err != nil {
			return false
		}
		var job jobs.Job
		decodeBody(t, resp, &job)
		return job.Status.Terminal()
	}, 3*time.Second, 20*time.Millisecond)

	resp, err = http.Get(ts.URL + "/api/jobs/" + created.JobID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Terminal job: the stream sends one final snapshot then closes.
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	payload := strings.TrimSpace(strings.TrimPrefix(string(raw), "data: "))
	var job jobs.Job
	require.NoError(t, json.Unmarshal([]byte(payload), &job))
	assert.True(t, job.Status.Terminal())
}

func TestUnknownJobSubresources(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, path := range []string{
		"/api/jobs/job_missing",
		"/api/jobs/job_missing/logs",
		"/api/jobs/job_missing/emails/recent",
		"/api/download/job_missing",
	} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		resp.Body.Close()
	}
}

func TestStatsReflectJobOutcomes(t *testing.T) {
	ts, _ := newTestServer(t, func(ctx context.Context, job *jobs.Job) error {
		if strings.Contains(job.OriginalName, "bad") {
			return fmt.Errorf("boom")
		}
		return nil
	})

	for _, name := range []string{"good.csv", "bad.csv"} {
		body, contentType := multipartBody(t, "file", name, "name,website\n", nil)
		resp, err := http.Post(ts.URL+"/api/process-file", contentType, body)
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/stats")
		if err != nil {
			return false
		}
		var stats jobs.Stats
		decodeBody(t, resp, &stats)
		return stats.TotalJobs == 2 && stats.CompletedJobs == 1 && stats.FailedJobs == 1
	}, 3*time.Second, 20*time.Millisecond)
}
