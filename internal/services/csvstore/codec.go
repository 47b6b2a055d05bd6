package csvstore

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const bom = "\ufeff"

var newlineCollapser = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// encodeRow quotes every field, doubles inner quotes and collapses newlines so one record is one line
func encodeRow(fields []string) string {
	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(newlineCollapser.Replace(field), `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	return b.String()
}

// document is a fully parsed CSV file
type document struct {
	hasBOM bool
	header []string
	rows   [][]string
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

// readDocument parses the whole file. Short rows are padded to the header width.
func readDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc := &document{}
	if bytes.HasPrefix(data, []byte(bom)) {
		doc.hasBOM = true
		data = data[len(bom):]
	}

	records, err := newReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s has no header", filepath.Base(path))
	}

	doc.header = records[0]
	for _, record := range records[1:] {
		if len(record) < len(doc.header) {
			record = append(record, make([]string, len(doc.header)-len(record))...)
		}
		doc.rows = append(doc.rows, record)
	}
	return doc, nil
}

// readHeader parses only the first record of the file
func readHeader(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if prefix, err := reader.Peek(len(bom)); err == nil && string(prefix) == bom {
		if _, err := reader.Discard(len(bom)); err != nil {
			return nil, err
		}
	}

	header, err := newReader(reader).Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", filepath.Base(path), err)
	}
	return header, nil
}

// writeDocument replaces path atomically with the encoded document
func writeDocument(path string, doc *document) error {
	var b strings.Builder
	if doc.hasBOM {
		b.WriteString(bom)
	}
	b.WriteString(encodeRow(doc.header))
	for _, row := range doc.rows {
		b.WriteString(encodeRow(row))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// endsWithNewline reports whether a non-empty file's last byte is '\n'
func endsWithNewline(file *os.File, size int64) (bool, error) {
	if size == 0 {
		return true, nil
	}
	buf := make([]byte, 1)
	if _, err := file.ReadAt(buf, size-1); err != nil {
		return false, err
	}
	return buf[0] == '\n', nil
}
