package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/okrama/emailscout/internal/jobs"
)

type Server struct {
	manager *jobs.Manager

	uploadDir        string
	defaultWorkers   int
	defaultBatchSize int
	sweepCron        string

	uiEnabled   bool
	uiStaticDir string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

func WithDefaults(workers, batchSize int) Option {
	return func(s *Server) {
		s.defaultWorkers = workers
		s.defaultBatchSize = batchSize
	}
}

// WithSweepSchedule lets the health endpoint report the retention sweep
// cadence.
func WithSweepSchedule(cronExpr string) Option {
	return func(s *Server) {
		s.sweepCron = cronExpr
	}
}

func NewServer(manager *jobs.Manager, uploadDir string, opts ...Option) *Server {
	s := &Server{
		manager:          manager,
		uploadDir:        uploadDir,
		defaultWorkers:   150,
		defaultBatchSize: 100,
		uiEnabled:        false,
		mux:              http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/jobs", s.handleListJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJobSubresource)
	s.mux.HandleFunc("/api/process-file", s.handleProcessFile)
	s.mux.HandleFunc("/api/process-files-zip", s.handleProcessZip)
	s.mux.HandleFunc("/api/process-files-folder", s.handleProcessFolder)
	s.mux.HandleFunc("/api/download/", s.handleDownload)
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// SPA fallback: non-existing static file path returns index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
