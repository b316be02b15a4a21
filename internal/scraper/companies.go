package scraper

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Company is one row of an uploaded spreadsheet.
type Company struct {
	Name    string
	Website string
}

// Header aliases accepted for the two required columns. The corpus mixes
// exports from several CRMs, including French ones.
var (
	nameAliases    = []string{"name", "company", "company_name", "societe", "société", "raison_sociale"}
	websiteAliases = []string{"website", "url", "domain", "site", "site_web", "web"}
)

// readFileUTF8 reads a file, transparently decoding Windows-1252 content.
// CRM exports from Windows machines regularly arrive in that encoding.
func readFileUTF8(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if utf8.Valid(data) {
		return data, nil
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return decoded, nil
}

// LoadCompanies reads a company list from a CSV, NDJSON or JSON file.
func LoadCompanies(path string) ([]Company, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadCSV(path)
	case ".ndjson":
		return loadNDJSON(path)
	case ".json":
		return loadJSON(path)
	case ".xlsx", ".xls":
		return nil, fmt.Errorf("excel files are not supported yet, export %s as CSV", filepath.Base(path))
	}
	return nil, fmt.Errorf("unsupported file type: %s", filepath.Base(path))
}

func loadCSV(path string) ([]Company, error) {
	data, err := readFileUTF8(path)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", filepath.Base(path), err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s has no data rows", filepath.Base(path))
	}

	nameIdx, websiteIdx := -1, -1
	for i, col := range records[0] {
		normalized := strings.ToLower(strings.TrimSpace(col))
		if nameIdx < 0 && matchesAlias(normalized, nameAliases) {
			nameIdx = i
		}
		if websiteIdx < 0 && matchesAlias(normalized, websiteAliases) {
			websiteIdx = i
		}
	}
	if nameIdx < 0 || websiteIdx < 0 {
		return nil, fmt.Errorf("%s is missing a company or website column", filepath.Base(path))
	}

	ret := make([]Company, 0, len(records)-1)
	for _, row := range records[1:] {
		company := Company{}
		if nameIdx < len(row) {
			company.Name = strings.TrimSpace(row[nameIdx])
		}
		if websiteIdx < len(row) {
			company.Website = strings.TrimSpace(row[websiteIdx])
		}
		ret = append(ret, company)
	}
	return ret, nil
}

func loadNDJSON(path string) ([]Company, error) {
	data, err := readFileUTF8(path)
	if err != nil {
		return nil, err
	}

	ret := make([]Company, 0)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("parse ndjson %s: %w", filepath.Base(path), err)
		}
		ret = append(ret, companyFromRow(row))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("%s has no data rows", filepath.Base(path))
	}
	return ret, nil
}

func loadJSON(path string) ([]Company, error) {
	data, err := readFileUTF8(path)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse json %s: %w", filepath.Base(path), err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s has no data rows", filepath.Base(path))
	}
	ret := make([]Company, 0, len(rows))
	for _, row := range rows {
		ret = append(ret, companyFromRow(row))
	}
	return ret, nil
}

func companyFromRow(row map[string]any) Company {
	return Company{
		Name:    fieldValue(row, nameAliases),
		Website: fieldValue(row, websiteAliases),
	}
}

func fieldValue(row map[string]any, aliases []string) string {
	for key, value := range row {
		if !matchesAlias(strings.ToLower(strings.TrimSpace(key)), aliases) {
			continue
		}
		if s, ok := value.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func matchesAlias(key string, aliases []string) bool {
	for _, alias := range aliases {
		if key == alias {
			return true
		}
	}
	return false
}

// AnnotateFile rewrites the input file in place with a populated "emails"
// column. emailsByRow is indexed like the loaded company list.
func AnnotateFile(path string, emailsByRow [][]string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return annotateCSV(path, emailsByRow)
	case ".ndjson":
		return annotateNDJSON(path, emailsByRow)
	case ".json":
		return annotateJSON(path, emailsByRow)
	}
	return fmt.Errorf("unsupported file type: %s", filepath.Base(path))
}

func annotateCSV(path string, emailsByRow [][]string) error {
	data, err := readFileUTF8(path)
	if err != nil {
		return err
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("%s is empty", filepath.Base(path))
	}

	emailsIdx := -1
	for i, col := range records[0] {
		if strings.EqualFold(strings.TrimSpace(col), "emails") {
			emailsIdx = i
			break
		}
	}
	if emailsIdx < 0 {
		records[0] = append(records[0], "emails")
		emailsIdx = len(records[0]) - 1
	}

	for i := range records[1:] {
		row := records[i+1]
		for len(row) <= emailsIdx {
			row = append(row, "")
		}
		if i < len(emailsByRow) {
			row[emailsIdx] = strings.Join(emailsByRow[i], "; ")
		}
		records[i+1] = row
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(records); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func annotateNDJSON(path string, emailsByRow [][]string) error {
	data, err := readFileUTF8(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	i := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return err
		}
		row["emails"] = rowEmails(emailsByRow, i)
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		buf.WriteByte('\n')
		i++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func annotateJSON(path string, emailsByRow [][]string) error {
	data, err := readFileUTF8(path)
	if err != nil {
		return err
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	for i := range rows {
		rows[i]["emails"] = rowEmails(emailsByRow, i)
	}
	encoded, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, encoded, 0o644)
}

func rowEmails(emailsByRow [][]string, i int) []string {
	if i >= len(emailsByRow) || emailsByRow[i] == nil {
		return []string{}
	}
	return emailsByRow[i]
}
