package httpapi

import (
	"archive/zip"
	"bytes"
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
	"github.com/okrama/emailscout/pkg/file"
	"github.com/okrama/emailscout/pkg/icron"
)

const maxUploadBytes = 256 << 20

type jobResponse struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	TotalFiles int    `json:"total_files"`
}

type jobLogsResponse struct {
	JobID      string          `json:"job_id"`
	Logs       []jobs.LogEntry `json:"logs"`
	TotalCount int             `json:"total_count"`
}

type recentEmailsResponse struct {
	JobID          string             `json:"job_id"`
	RecentEmails   []jobs.RecentEmail `json:"recent_emails"`
	TotalEmails    int                `json:"total_emails"`
	TotalProcessed int                `json:"total_processed"`
	Status         jobs.Status        `json:"status"`
	Timestamp      int64              `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	payload := map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"active_jobs": s.manager.ActiveCount(),
	}
	if s.sweepCron != "" {
		if info, err := icron.GetTriggerInfo(s.sweepCron, time.Now()); err == nil {
			payload["next_cleanup"] = info.Next.Unix()
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.manager.List())
}

// handleJobSubresource routes /api/jobs/{id}[/logs|/emails/recent|/stream].
func (s *Server) handleJobSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	jobID := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch sub {
	case "":
		s.handleJob(w, r, jobID)
	case "logs":
		s.handleJobLogs(w, r, jobID)
	case "emails/recent":
		s.handleRecentEmails(w, r, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, jobID string) {
	switch r.Method {
	case http.MethodGet:
		job, ok := s.manager.Get(jobID)
		if !ok {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		writeJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		if err := s.manager.Delete(jobID); err != nil {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": fmt.Sprintf("Job %s deleted successfully", jobID),
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	entries, total, ok := s.manager.Logs(jobID, limit, offset)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobLogsResponse{
		JobID:      jobID,
		Logs:       entries,
		TotalCount: total,
	})
}

func (s *Server) handleRecentEmails(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	job, ok := s.manager.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	recent, _ := s.manager.RecentEmails(jobID)
	if recent == nil {
		recent = []jobs.RecentEmail{}
	}
	writeJSON(w, http.StatusOK, recentEmailsResponse{
		JobID:          jobID,
		RecentEmails:   recent,
		TotalEmails:    job.TotalEmails,
		TotalProcessed: job.TotalProcessed,
		Status:         job.Status,
		Timestamp:      time.Now().Unix(),
	})
}

func (s *Server) handleProcessFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	upload, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer upload.Close()

	if !file.SupportedExtension(header.Filename) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type: %s", header.Filename))
		return
	}

	cfg, err := s.scrapeConfigFromForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := jobs.NewID()
	savedPath, err := s.saveUpload(upload, jobID, header.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error saving upload: %v", err))
		return
	}

	job, err := s.manager.Create(jobs.CreateRequest{
		ID:           jobID,
		Files:        []string{savedPath},
		OriginalName: header.Filename,
		JobType:      jobs.JobTypeFile,
		Config:       cfg,
	})
	if err != nil {
		_ = os.Remove(savedPath)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error creating job: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, jobResponse{
		JobID:      job.ID,
		Status:     string(job.Status),
		Message:    fmt.Sprintf("File uploaded and job queued for processing: %s", header.Filename),
		TotalFiles: job.TotalFiles,
	})
}

func (s *Server) handleProcessZip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	upload, header, err := r.FormFile("folder")
	if err != nil {
		writeError(w, http.StatusBadRequest, "folder is required")
		return
	}
	defer upload.Close()

	cfg, err := s.scrapeConfigFromForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := jobs.NewID()
	extracted, err := s.extractZip(upload, jobID)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Error extracting archive: %v", err))
		return
	}
	if len(extracted) == 0 {
		writeError(w, http.StatusBadRequest, "archive contains no supported files")
		return
	}

	folderName := strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	job, err := s.manager.Create(jobs.CreateRequest{
		ID:           jobID,
		Files:        extracted,
		OriginalName: header.Filename,
		JobType:      jobs.JobTypeZip,
		FolderName:   folderName,
		Config:       cfg,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error creating job: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, jobResponse{
		JobID:      job.ID,
		Status:     string(job.Status),
		Message:    fmt.Sprintf("Archive uploaded and job queued for processing: %s", header.Filename),
		TotalFiles: job.TotalFiles,
	})
}

type processFolderRequest struct {
	FilePath  string `json:"file_path"`
	Workers   int    `json:"workers"`
	BatchSize int    `json:"batch_size"`
	Verbose   bool   `json:"verbose"`
}

func (s *Server) handleProcessFolder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req processFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "file_path is required")
		return
	}

	cfg, err := s.normalizeScrapeConfig(req.Workers, req.BatchSize, req.Verbose)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := os.Stat(req.FilePath)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("File not found: %s", req.FilePath))
		return
	}

	files := make([]string, 0)
	folderName := ""
	originalName := filepath.Base(req.FilePath)
	jobType := jobs.JobTypeFile
	if info.IsDir() {
		jobType = jobs.JobTypeFolder
		folderName = filepath.Base(req.FilePath)
		entries, err := os.ReadDir(req.FilePath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error reading folder: %v", err))
			return
		}
		for _, entry := range entries {
			if entry.IsDir() || !file.SupportedExtension(entry.Name()) {
				continue
			}
			files = append(files, filepath.Join(req.FilePath, entry.Name()))
		}
		if len(files) == 0 {
			writeError(w, http.StatusBadRequest, "folder contains no supported files")
			return
		}
	} else {
		if !file.SupportedExtension(req.FilePath) {
			writeError(w, http.StatusBadRequest, "Unsupported file type")
			return
		}
		files = append(files, req.FilePath)
	}

	job, err := s.manager.Create(jobs.CreateRequest{
		Files:        files,
		OriginalName: originalName,
		JobType:      jobType,
		FolderName:   folderName,
		Config:       cfg,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error creating job: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, jobResponse{
		JobID:      job.ID,
		Status:     string(job.Status),
		Message:    fmt.Sprintf("Job queued for processing: %s", req.FilePath),
		TotalFiles: job.TotalFiles,
	})
}

// handleDownload routes /api/download/{id} (summary) and
// /api/download/{id}/file (binary).
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/download/"), "/")
	jobID := rest
	wantFile := false
	if strings.HasSuffix(rest, "/file") {
		jobID = strings.TrimSuffix(rest, "/file")
		wantFile = true
	}
	if jobID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	job, ok := s.manager.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if job.Status != jobs.StatusCompleted {
		writeError(w, http.StatusBadRequest, "Job not completed yet")
		return
	}

	if !wantFile {
		type resultFile struct {
			Filename string `json:"filename"`
			Path     string `json:"path"`
			Size     int64  `json:"size"`
		}
		files := make([]resultFile, 0, len(job.FilesProcessed))
		for _, path := range job.FilesProcessed {
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			files = append(files, resultFile{
				Filename: filepath.Base(path),
				Path:     path,
				Size:     info.Size(),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":          job.ID,
			"status":          job.Status,
			"files":           files,
			"total_emails":    job.TotalEmails,
			"total_processed": job.TotalProcessed,
		})
		return
	}

	if len(job.FilesProcessed) == 0 {
		writeError(w, http.StatusNotFound, "No processed files found")
		return
	}
	resultPath := job.FilesProcessed[0]
	if _, err := os.Stat(resultPath); err != nil {
		writeError(w, http.StatusNotFound, "Processed file not found")
		return
	}

	original := job.OriginalName
	if original == "" {
		original = filepath.Base(resultPath)
	}
	downloadName := file.ResultFilename(original)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	http.ServeFile(w, r, resultPath)
}

func (s *Server) scrapeConfigFromForm(r *http.Request) (jobs.ScrapeConfig, error) {
	workers := formInt(r, "workers", 0)
	batchSize := formInt(r, "batch_size", 0)
	verbose, _ := strconv.ParseBool(r.FormValue("verbose"))
	return s.normalizeScrapeConfig(workers, batchSize, verbose)
}

func (s *Server) normalizeScrapeConfig(workers, batchSize int, verbose bool) (jobs.ScrapeConfig, error) {
	if workers == 0 {
		workers = s.defaultWorkers
	}
	if batchSize == 0 {
		batchSize = s.defaultBatchSize
	}
	if workers < 1 || workers > 500 {
		return jobs.ScrapeConfig{}, fmt.Errorf("Workers must be between 1 and 500")
	}
	if batchSize < 10 || batchSize > 2000 {
		return jobs.ScrapeConfig{}, fmt.Errorf("Batch size must be between 10 and 2000")
	}
	return jobs.ScrapeConfig{Workers: workers, BatchSize: batchSize, Verbose: verbose}, nil
}

func (s *Server) saveUpload(upload multipart.File, jobID, originalName string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", err
	}
	savedPath := filepath.Join(s.uploadDir, file.UploadName(jobID, originalName))
	out, err := os.Create(savedPath)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, upload); err != nil {
		_ = os.Remove(savedPath)
		return "", err
	}
	return savedPath, nil
}

// extractZip unpacks the supported files of an uploaded archive into a
// per-job directory under the upload dir.
func (s *Server) extractZip(upload multipart.File, jobID string) ([]string, error) {
	raw, err := io.ReadAll(io.LimitReader(upload, maxUploadBytes))
	if err != nil {
		return nil, err
	}
	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("not a valid zip archive")
	}

	destDir := filepath.Join(s.uploadDir, jobID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}

	extracted := make([]string, 0)
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || !file.SupportedExtension(entry.Name) {
			continue
		}
		// Flatten the archive layout; base names only, so hostile
		// entry paths cannot escape the destination.
		destPath := filepath.Join(destDir, filepath.Base(entry.Name))

		src, err := entry.Open()
		if err != nil {
			return nil, err
		}
		out, err := os.Create(destPath)
		if err != nil {
			src.Close()
			return nil, err
		}
		_, err = io.Copy(out, src)
		src.Close()
		out.Close()
		if err != nil {
			return nil, err
		}
		extracted = append(extracted, destPath)
	}
	return extracted, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func formInt(r *http.Request, key string, fallback int) int {
	if value := r.FormValue(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError emits the API error shape: a non-2xx status with a
// structured {detail} body.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{
		"detail": detail,
	})
}
