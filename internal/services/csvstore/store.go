// -----------------------------------------------------------------------
// CSV Store - incremental, schema-preserving lead output files
// -----------------------------------------------------------------------

package csvstore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/models"
)

// Store appends, merges and deduplicates lead CSV files. A file is only ever
// written by the runner of the job that owns it, so no locking is done here.
type Store struct {
	logger arbor.ILogger
}

// NewStore creates a new CSV store
func NewStore(logger arbor.ILogger) *Store {
	return &Store{logger: logger}
}

// UpsertRows appends rows to path using the header already present in the file,
// or creates the file with the preferred header and a BOM. An empty rows slice
// never touches the filesystem.
func (s *Store) UpsertRows(rows []models.Lead, path string) (Schema, error) {
	if len(rows) == 0 {
		return Schema{}, nil
	}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err) || (err == nil && info.Size() == 0):
		return s.create(rows, path)
	case err != nil:
		return Schema{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	header, err := readHeader(path)
	if err != nil {
		return Schema{}, err
	}
	schema := ParseHeader(header)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return schema, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var b strings.Builder
	terminated, err := endsWithNewline(file, info.Size())
	if err != nil {
		return schema, fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	if !terminated {
		b.WriteByte('\n')
	}
	for _, lead := range rows {
		b.WriteString(encodeRow(schema.Row(lead)))
	}
	if _, err := file.WriteString(b.String()); err != nil {
		return schema, fmt.Errorf("failed to append to %s: %w", path, err)
	}

	s.logger.Debug().
		Str("file", path).
		Str("schema", schema.Variant.String()).
		Int("rows", len(rows)).
		Msg("Appended rows to CSV")
	return schema, nil
}

func (s *Store) create(rows []models.Lead, path string) (Schema, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Schema{}, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	schema := ParseHeader(PreferredHeader)
	var b strings.Builder
	b.WriteString(bom)
	b.WriteString(encodeRow(schema.Header))
	for _, lead := range rows {
		b.WriteString(encodeRow(schema.Row(lead)))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return schema, fmt.Errorf("failed to create %s: %w", path, err)
	}

	s.logger.Debug().Str("file", path).Int("rows", len(rows)).Msg("Created CSV")
	return schema, nil
}

// MergeResult summarizes one MergeByKey pass
type MergeResult struct {
	Matched   int
	Unmatched int
	Rows      int
}

// MergeByKey writes the first domain of each enrichment record into the
// consolidated domain column of at most one matching base row (see pickRow).
// Unmatched records are dropped; the row count of the file never changes. Legacy
// numbered domain columns of merged rows are cleared. A file without any domain
// column gains one.
func (s *Store) MergeByKey(baseFile string, records []models.Enrichment, match MatchFunc) (MergeResult, error) {
	if len(records) == 0 {
		return MergeResult{}, nil
	}
	if match == nil {
		match = DefaultMatch
	}

	doc, err := readDocument(baseFile)
	if err != nil {
		if os.IsNotExist(err) {
			return MergeResult{Unmatched: len(records)}, nil
		}
		return MergeResult{}, err
	}

	schema := ParseHeader(doc.header)
	target := schema.DomainColumn()
	columnAdded := false
	if target < 0 {
		columnAdded = true
		doc.header = append(doc.header, "Domain")
		for i := range doc.rows {
			doc.rows[i] = append(doc.rows[i], "")
		}
		schema = ParseHeader(doc.header)
		target = schema.DomainColumn()
	}

	people := make([]Person, len(doc.rows))
	for i, row := range doc.rows {
		people[i] = NewPerson(cell(row, schema.Column(models.FieldFullName)),
			cell(row, schema.Column(models.FieldFirstName)),
			cell(row, schema.Column(models.FieldLastName)),
			cell(row, schema.Column(models.FieldCompany)))
	}

	result := MergeResult{Rows: len(doc.rows)}
	merged := make([]bool, len(doc.rows))
	for _, record := range records {
		domain := firstDomain(record.Domains)
		if domain == "" {
			result.Unmatched++
			continue
		}
		person := NewPerson(record.FullName, record.FirstName, record.LastName, record.Company)

		i := pickRow(person, people, doc.rows, merged, target, match)
		if i < 0 {
			result.Unmatched++
			continue
		}
		doc.rows[i][target] = domain
		for _, col := range schema.LegacyDomainColumns {
			if col != target {
				doc.rows[i][col] = ""
			}
		}
		merged[i] = true
		result.Matched++
	}

	if result.Matched == 0 && !columnAdded {
		return result, nil
	}

	if err := writeDocument(baseFile, doc); err != nil {
		return result, err
	}

	s.logger.Debug().
		Str("file", baseFile).
		Int("matched", result.Matched).
		Int("unmatched", result.Unmatched).
		Msg("Merged enrichment domains")
	return result, nil
}

// mergeTiers orders the candidate passes of pickRow. Rows that already hold a
// domain only accept an exact name match, which refreshes their value.
var mergeTiers = []struct {
	filled bool
	exact  bool
}{
	{filled: false, exact: true},
	{filled: false, exact: false},
	{filled: true, exact: true},
}

// pickRow returns the base row a record merges into, or -1. Empty-domain rows
// are preferred over filled ones, and exact name matches over fuzzy ones.
func pickRow(person Person, people []Person, rows [][]string, merged []bool, target int, match MatchFunc) int {
	for _, tier := range mergeTiers {
		for i := range rows {
			if merged[i] || (strings.TrimSpace(cell(rows[i], target)) != "") != tier.filled {
				continue
			}
			if tier.exact && !ExactMatch(person, people[i]) {
				continue
			}
			if match(person, people[i]) {
				return i
			}
		}
	}
	return -1
}

// DeduplicateByKey keeps the first row per normalized key in the first column
// of aliases present in the header. Rows with an empty key are always kept. The
// file is rewritten only when a row was removed; a missing or unparsable file, or
// no matching alias, is a silent no-op.
func (s *Store) DeduplicateByKey(path string, aliases []string) int {
	doc, err := readDocument(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug().Err(err).Str("file", path).Msg("Skipping dedup of unparsable CSV")
		}
		return 0
	}

	keyCol := -1
	for _, alias := range aliases {
		for i, name := range doc.header {
			if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, bom)), strings.TrimSpace(alias)) {
				keyCol = i
				break
			}
		}
		if keyCol >= 0 {
			break
		}
	}
	if keyCol < 0 {
		return 0
	}

	seen := make(map[string]bool, len(doc.rows))
	kept := doc.rows[:0:0]
	for _, row := range doc.rows {
		key := NormalizeKey(cell(row, keyCol))
		if key != "" {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		kept = append(kept, row)
	}

	removed := len(doc.rows) - len(kept)
	if removed == 0 {
		return 0
	}

	doc.rows = kept
	if err := writeDocument(path, doc); err != nil {
		s.logger.Warn().Err(err).Str("file", path).Msg("Failed to rewrite deduplicated CSV")
		return 0
	}

	s.logger.Debug().Str("file", path).Int("removed", removed).Msg("Removed duplicate rows")
	return removed
}

// NormalizeKey lowercases and trims a key; URLs lose their query, fragment and trailing slash
func NormalizeKey(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	if strings.Contains(value, "://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			u.RawQuery = ""
			u.Fragment = ""
			value = u.Scheme + "://" + u.Host + u.Path
		}
	}
	return strings.TrimRight(value, "/")
}

// NormalizeDomain reduces a website value to its bare host
func NormalizeDomain(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	if !strings.Contains(value, "://") {
		value = "http://" + value
	}
	u, err := url.Parse(value)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}

func firstDomain(domains []string) string {
	for _, d := range domains {
		if normalized := NormalizeDomain(d); normalized != "" {
			return normalized
		}
	}
	return ""
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}
