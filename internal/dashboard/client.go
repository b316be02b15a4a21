package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/okrama/emailscout/internal/jobs"
)

const (
	defaultPollTimeout     = 10 * time.Second
	defaultTransferTimeout = 10 * time.Minute
)

// Client talks to the job API. Status polls and uploads/downloads run on
// separate HTTP clients so a slow transfer never delays a poll.
type Client struct {
	baseURL  string
	poll     *http.Client
	transfer *http.Client
}

type ClientOption func(*Client)

func WithPollTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.poll.Timeout = d }
}

func WithTransferTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.transfer.Timeout = d }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		poll:     &http.Client{Timeout: defaultPollTimeout},
		transfer: &http.Client{Timeout: defaultTransferTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health is the readiness snapshot reported by the server.
type Health struct {
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp"`
	ActiveJobs int    `json:"active_jobs"`
}

// SubmitResult is the server's acknowledgement of a job submission.
type SubmitResult struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	TotalFiles int    `json:"total_files"`
}

// LogsPage is one page of a job's log, newest first.
type LogsPage struct {
	JobID      string          `json:"job_id"`
	Logs       []jobs.LogEntry `json:"logs"`
	TotalCount int             `json:"total_count"`
}

// RecentDiscoveries is the bounded preview of a job's latest finds.
type RecentDiscoveries struct {
	JobID          string             `json:"job_id"`
	RecentEmails   []jobs.RecentEmail `json:"recent_emails"`
	TotalEmails    int                `json:"total_emails"`
	TotalProcessed int                `json:"total_processed"`
	Status         jobs.Status        `json:"status"`
	Timestamp      int64              `json:"timestamp"`
}

// ResultFile describes one downloadable result.
type ResultFile struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// ResultSummary is the completed-job download metadata.
type ResultSummary struct {
	JobID          string       `json:"job_id"`
	Status         jobs.Status  `json:"status"`
	Files          []ResultFile `json:"files"`
	TotalEmails    int          `json:"total_emails"`
	TotalProcessed int          `json:"total_processed"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.getJSON(ctx, c.poll, "/api/health", &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (jobs.Stats, error) {
	var out jobs.Stats
	err := c.getJSON(ctx, c.poll, "/api/stats", &out)
	return out, err
}

func (c *Client) ListJobs(ctx context.Context) ([]*jobs.Job, error) {
	var out []*jobs.Job
	err := c.getJSON(ctx, c.poll, "/api/jobs", &out)
	return out, err
}

func (c *Client) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	var out jobs.Job
	if err := c.getJSON(ctx, c.poll, "/api/jobs/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JobLogs(ctx context.Context, id string, limit, offset int) (LogsPage, error) {
	var out LogsPage
	path := fmt.Sprintf("/api/jobs/%s/logs?limit=%d&offset=%d", id, limit, offset)
	err := c.getJSON(ctx, c.poll, path, &out)
	return out, err
}

func (c *Client) RecentEmails(ctx context.Context, id string) (RecentDiscoveries, error) {
	var out RecentDiscoveries
	err := c.getJSON(ctx, c.poll, "/api/jobs/"+id+"/emails/recent", &out)
	return out, err
}

func (c *Client) DeleteJob(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/jobs/"+id, nil)
	if err != nil {
		return &TransportError{Op: "delete job", Err: err}
	}
	resp, err := c.poll.Do(req)
	if err != nil {
		return &TransportError{Op: "delete job", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return serverError(resp)
	}
	return nil
}

// ProcessFile uploads one spreadsheet and queues a job for it.
func (c *Client) ProcessFile(ctx context.Context, path string, cfg jobs.ScrapeConfig) (SubmitResult, error) {
	return c.upload(ctx, "/api/process-file", "file", path, cfg)
}

// ProcessZip uploads a zip archive of spreadsheets.
func (c *Client) ProcessZip(ctx context.Context, path string, cfg jobs.ScrapeConfig) (SubmitResult, error) {
	return c.upload(ctx, "/api/process-files-zip", "folder", path, cfg)
}

// ProcessFolder queues a job over a path already present on the server.
func (c *Client) ProcessFolder(ctx context.Context, serverPath string, cfg jobs.ScrapeConfig) (SubmitResult, error) {
	payload, err := json.Marshal(map[string]any{
		"file_path":  serverPath,
		"workers":    cfg.Workers,
		"batch_size": cfg.BatchSize,
		"verbose":    cfg.Verbose,
	})
	if err != nil {
		return SubmitResult{}, &TransportError{Op: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/process-files-folder", bytes.NewReader(payload))
	if err != nil {
		return SubmitResult{}, &TransportError{Op: "submit folder", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.transfer.Do(req)
	if err != nil {
		return SubmitResult{}, &TransportError{Op: "submit folder", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return SubmitResult{}, serverError(resp)
	}

	var out SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SubmitResult{}, &TransportError{Op: "decode response", Err: err}
	}
	return out, nil
}

func (c *Client) DownloadSummary(ctx context.Context, id string) (ResultSummary, error) {
	var out ResultSummary
	err := c.getJSON(ctx, c.poll, "/api/download/"+id, &out)
	return out, err
}

// DownloadFile streams the annotated result. The caller owns the reader.
func (c *Client) DownloadFile(ctx context.Context, id string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/download/"+id+"/file", nil)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	resp, err := c.transfer.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, serverError(resp)
	}
	return resp.Body, nil
}

func (c *Client) upload(ctx context.Context, endpoint, field, path string, cfg jobs.ScrapeConfig) (SubmitResult, error) {
	src, err := os.Open(path)
	if err != nil {
		return SubmitResult{}, &TransportError{Op: "open upload", Err: err}
	}
	defer src.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return SubmitResult{}, &TransportError{Op: "encode upload", Err: err}
	}
	if _, err := io.Copy(part, src); err != nil {
		return SubmitResult{}, &TransportError{Op: "encode upload", Err: err}
	}
	fields := map[string]string{
		"workers":    strconv.Itoa(cfg.Workers),
		"batch_size": strconv.Itoa(cfg.BatchSize),
		"verbose":    strconv.FormatBool(cfg.Verbose),
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return SubmitResult{}, &TransportError{Op: "encode upload", Err: err}
		}
	}
	if err := writer.Close(); err != nil {
		return SubmitResult{}, &TransportError{Op: "encode upload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return SubmitResult{}, &TransportError{Op: "upload", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.transfer.Do(req)
	if err != nil {
		return SubmitResult{}, &TransportError{Op: "upload", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return SubmitResult{}, serverError(resp)
	}

	var out SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SubmitResult{}, &TransportError{Op: "decode response", Err: err}
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, hc *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &TransportError{Op: "get " + path, Err: err}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return &TransportError{Op: "get " + path, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return serverError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: "decode " + path, Err: err}
	}
	return nil
}

// serverError lifts a non-2xx response into a ServerError, carrying the
// structured detail message verbatim when the body has one.
func serverError(resp *http.Response) error {
	var body struct {
		Detail string `json:"detail"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &body)
	return &ServerError{StatusCode: resp.StatusCode, Detail: body.Detail}
}
