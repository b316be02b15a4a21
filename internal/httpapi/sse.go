package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okrama/emailscout/pkg/log"
)

const streamInterval = 2 * time.Second

// handleJobStream pushes job snapshots over Server-Sent Events until the
// job reaches a terminal state or the client disconnects. The terminal
// snapshot is always sent before the stream closes.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if _, ok := s.manager.Get(jobID); !ok {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	send := func() (terminal bool) {
		job, ok := s.manager.Get(jobID)
		if !ok {
			// Deleted mid-stream, nothing left to report.
			return true
		}
		payload, err := json.Marshal(job)
		if err != nil {
			log.Warn("marshal job %s for stream: %v", jobID, err)
			return false
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return job.Status.Terminal()
	}

	if send() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if send() {
				return
			}
		}
	}
}
