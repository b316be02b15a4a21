package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/okrama/emailscout/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, status, progress, total_processed, total_emails, start_time, end_time,
			errors_json, files_json, job_type, folder_name, total_files, original_name,
			workers, batch_size, verbose
		 FROM jobs
		 ORDER BY start_time ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		var item jobs.Job
		var status, jobType, errorsJSON, filesJSON string
		var endTime sql.NullInt64
		var verbose int
		if err := rows.Scan(
			&item.ID,
			&status,
			&item.Progress,
			&item.TotalProcessed,
			&item.TotalEmails,
			&item.StartTime,
			&endTime,
			&errorsJSON,
			&filesJSON,
			&jobType,
			&item.FolderName,
			&item.TotalFiles,
			&item.OriginalName,
			&item.Config.Workers,
			&item.Config.BatchSize,
			&verbose,
		); err != nil {
			return nil, err
		}
		item.Status = jobs.Status(status)
		item.JobType = jobs.JobType(jobType)
		item.Config.Verbose = verbose != 0
		if endTime.Valid {
			end := endTime.Int64
			item.EndTime = &end
		}
		if err := json.Unmarshal([]byte(errorsJSON), &item.Errors); err != nil {
			return nil, fmt.Errorf("decode errors for job %s: %w", item.ID, err)
		}
		if err := json.Unmarshal([]byte(filesJSON), &item.FilesProcessed); err != nil {
			return nil, fmt.Errorf("decode files for job %s: %w", item.ID, err)
		}
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	errorsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return err
	}
	filesJSON, err := json.Marshal(job.FilesProcessed)
	if err != nil {
		return err
	}
	var endTime sql.NullInt64
	if job.EndTime != nil {
		endTime = sql.NullInt64{Int64: *job.EndTime, Valid: true}
	}
	verbose := 0
	if job.Config.Verbose {
		verbose = 1
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, status, progress, total_processed, total_emails, start_time, end_time,
			errors_json, files_json, job_type, folder_name, total_files, original_name,
			workers, batch_size, verbose
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			progress=excluded.progress,
			total_processed=excluded.total_processed,
			total_emails=excluded.total_emails,
			end_time=excluded.end_time,
			errors_json=excluded.errors_json,
			files_json=excluded.files_json,
			job_type=excluded.job_type,
			folder_name=excluded.folder_name,
			total_files=excluded.total_files,
			original_name=excluded.original_name,
			workers=excluded.workers,
			batch_size=excluded.batch_size,
			verbose=excluded.verbose`,
		job.ID,
		string(job.Status),
		job.Progress,
		job.TotalProcessed,
		job.TotalEmails,
		job.StartTime,
		endTime,
		string(errorsJSON),
		string(filesJSON),
		string(job.JobType),
		job.FolderName,
		job.TotalFiles,
		job.OriginalName,
		job.Config.Workers,
		job.Config.BatchSize,
		verbose,
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) AppendLog(ctx context.Context, jobID string, entry jobs.LogEntry) error {
	detailsJSON := "{}"
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return err
		}
		detailsJSON = string(raw)
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_logs (job_id, timestamp, level, message, details_json)
		 VALUES (?, ?, ?, ?, ?)`,
		jobID,
		entry.Timestamp,
		entry.Level,
		entry.Message,
		detailsJSON,
	)
	return err
}

func (s *SQLiteStore) LoadLogs(ctx context.Context, jobID string) ([]jobs.LogEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT timestamp, level, message, details_json
		 FROM job_logs
		 WHERE job_id = ?
		 ORDER BY id ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]jobs.LogEntry, 0)
	for rows.Next() {
		var item jobs.LogEntry
		var detailsJSON string
		if err := rows.Scan(&item.Timestamp, &item.Level, &item.Message, &detailsJSON); err != nil {
			return nil, err
		}
		if detailsJSON != "" && detailsJSON != "{}" {
			if err := json.Unmarshal([]byte(detailsJSON), &item.Details); err != nil {
				return nil, fmt.Errorf("decode log details for job %s: %w", jobID, err)
			}
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteLogs(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_logs WHERE job_id = ?`, jobID)
	return err
}
