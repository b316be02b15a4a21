package file

import (
	"path/filepath"
	"strings"
)

// ResultSuffix is inserted before the extension of a processed file's
// download name.
const ResultSuffix = "_with_emails"

// ResultFilename derives the download name for an annotated result file:
// "report.csv" becomes "report_with_emails.csv". A name without an
// extension gets the suffix appended directly.
func ResultFilename(name string) string {
	if name == "" {
		return name
	}

	base := filepath.Base(name)
	lastDot := strings.LastIndex(base, ".")
	if lastDot <= 0 {
		return base + ResultSuffix
	}
	return base[:lastDot] + ResultSuffix + base[lastDot:]
}

// SupportedExtension reports whether the file name carries one of the
// spreadsheet formats the scraper can read.
func SupportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx", ".xls", ".ndjson", ".json":
		return true
	}
	return false
}

// UploadName builds the on-disk name for an uploaded file, prefixing the
// job ID so concurrent uploads of identically named files never collide.
func UploadName(jobID, original string) string {
	base := filepath.Base(original)
	base = strings.ReplaceAll(base, string(filepath.Separator), "_")
	return jobID + "_" + base
}
