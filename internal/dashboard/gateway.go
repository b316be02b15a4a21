package dashboard

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/okrama/emailscout/internal/jobs"
	"github.com/okrama/emailscout/pkg/file"
)

// SubmitSpec names the input for a submission. Exactly one of the three
// source fields must be set.
type SubmitSpec struct {
	// FilePath uploads a single local spreadsheet.
	FilePath string
	// ZipPath uploads a local zip archive of spreadsheets.
	ZipPath string
	// ServerPath queues a file or folder already on the server host.
	ServerPath string

	Config jobs.ScrapeConfig
}

// Gateway translates user intents into server calls and store updates.
type Gateway struct {
	client *Client
	store  *Store
}

func NewGateway(client *Client, store *Store) *Gateway {
	return &Gateway{client: client, store: store}
}

// Submit sends the job to the server and optimistically prepends a
// queued entry; the next poll reconciles it with server truth.
func (g *Gateway) Submit(ctx context.Context, spec SubmitSpec) (SubmitResult, error) {
	sources := 0
	for _, src := range []string{spec.FilePath, spec.ZipPath, spec.ServerPath} {
		if src != "" {
			sources++
		}
	}
	if sources == 0 {
		return SubmitResult{}, &ValidationError{Msg: "no input file or folder selected"}
	}
	if sources > 1 {
		return SubmitResult{}, &ValidationError{Msg: "select a single input source"}
	}

	var (
		result SubmitResult
		err    error
		name   string
	)
	switch {
	case spec.FilePath != "":
		name = filepath.Base(spec.FilePath)
		result, err = g.client.ProcessFile(ctx, spec.FilePath, spec.Config)
	case spec.ZipPath != "":
		name = filepath.Base(spec.ZipPath)
		result, err = g.client.ProcessZip(ctx, spec.ZipPath, spec.Config)
	default:
		name = filepath.Base(spec.ServerPath)
		result, err = g.client.ProcessFolder(ctx, spec.ServerPath, spec.Config)
	}
	if err != nil {
		return SubmitResult{}, err
	}

	g.store.Dispatch(AddJob{Job: &jobs.Job{
		ID:             result.JobID,
		Status:         jobs.StatusQueued,
		StartTime:      time.Now().Unix(),
		Errors:         []string{},
		FilesProcessed: []string{name},
		TotalFiles:     result.TotalFiles,
	}})
	return result, nil
}

// Refresh re-fetches one job immediately and updates the store, so a
// user action does not have to wait out the next poll tick.
func (g *Gateway) Refresh(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := g.client.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	g.store.Dispatch(UpdateJob{Job: job})
	return job, nil
}

// Delete removes the job server-side, then from the store. A failed
// request leaves the store untouched.
func (g *Gateway) Delete(ctx context.Context, jobID string) error {
	if err := g.client.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	g.store.Dispatch(RemoveJob{ID: jobID})
	return nil
}

// Download saves the annotated result into destDir. The saved name is
// derived from the job's original input file with the result suffix
// inserted before the extension. Jobs not in a completed state are
// rejected before any request is sent.
func (g *Gateway) Download(ctx context.Context, jobID, destDir string) (string, error) {
	job, ok := g.store.Job(jobID)
	if !ok {
		var err error
		job, err = g.client.GetJob(ctx, jobID)
		if err != nil {
			return "", err
		}
	}
	if job.Status != jobs.StatusCompleted {
		return "", &PreconditionError{
			Msg: fmt.Sprintf("job %s is %s, not completed", jobID, job.Status),
		}
	}

	original := jobID
	if len(job.FilesProcessed) > 0 {
		original = filepath.Base(job.FilesProcessed[0])
	}
	destName := file.ResultFilename(original)

	body, err := g.client.DownloadFile(ctx, jobID)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	destPath := filepath.Join(destDir, destName)
	out, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, body); err != nil {
		_ = os.Remove(destPath)
		return "", err
	}
	return destPath, nil
}
