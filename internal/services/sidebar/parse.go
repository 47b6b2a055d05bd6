package sidebar

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Row is one extracted record: field name to every matched value, in document order
type Row map[string][]string

// First returns the first value of field, or ""
func (r Row) First(field string) string {
	if values := r[field]; len(values) > 0 {
		return values[0]
	}
	return ""
}

type fieldSelector struct {
	css  string
	attr string
}

var attrName = regexp.MustCompile(`^[a-zA-Z_:][-a-zA-Z0-9_:.]*$`)

// parseFieldSpec splits "css@attr || css" into selectors. "@attr" is only taken
// as an attribute suffix when what follows the last "@" is an attribute name.
func parseFieldSpec(spec string) []fieldSelector {
	var selectors []fieldSelector
	for _, alt := range strings.Split(spec, "||") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		sel := fieldSelector{css: alt}
		if at := strings.LastIndex(alt, "@"); at > 0 && attrName.MatchString(alt[at+1:]) {
			sel.css = strings.TrimSpace(alt[:at])
			sel.attr = alt[at+1:]
		}
		selectors = append(selectors, sel)
	}
	return selectors
}

// ParseRows extracts one Row per rowSelector match in html. Values are trimmed
// with whitespace collapsed; empty values are skipped.
func ParseRows(html, rowSelector string, fields map[string]string) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse sidebar html: %w", err)
	}

	specs := make(map[string][]fieldSelector, len(fields))
	for name, spec := range fields {
		specs[name] = parseFieldSpec(spec)
	}

	var rows []Row
	doc.Find(rowSelector).Each(func(_ int, rowSel *goquery.Selection) {
		row := make(Row, len(specs))
		for name, selectors := range specs {
			for _, fs := range selectors {
				rowSel.Find(fs.css).Each(func(_ int, match *goquery.Selection) {
					var value string
					if fs.attr != "" {
						value, _ = match.Attr(fs.attr)
					} else {
						value = match.Text()
					}
					if value = clean(value); value != "" {
						row[name] = append(row[name], value)
					}
				})
			}
		}
		rows = append(rows, row)
	})
	return rows, nil
}

func clean(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
