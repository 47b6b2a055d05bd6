package csvstore

import (
	"regexp"
	"strings"

	"github.com/ternarybob/prospector/internal/models"
)

// Variant is the historical header layout a CSV file was created with
type Variant int

const (
	// Bare has neither a domain nor an email column
	Bare Variant = iota
	// EmailOnly has an email column but no domain column
	EmailOnly
	// Canonical has the single consolidated domain column
	Canonical
	// CanonicalWithEmail has the consolidated domain column and an email column
	CanonicalWithEmail
	// LegacyMultiDomain carries numbered "Domain N"/"Website N" columns
	LegacyMultiDomain
)

func (v Variant) String() string {
	switch v {
	case EmailOnly:
		return "email_only"
	case Canonical:
		return "canonical"
	case CanonicalWithEmail:
		return "canonical_with_email"
	case LegacyMultiDomain:
		return "legacy_multi_domain"
	default:
		return "bare"
	}
}

// PreferredHeader is written to every newly created file
var PreferredHeader = []string{
	"Full Name",
	"First Name",
	"Last Name",
	"Title",
	"Company",
	"Location",
	"Profile URL",
	"Domain",
	"Email",
}

// ProfileKeyAliases are the header names accepted as the unique profile key column
var ProfileKeyAliases = []string{"Profile URL", "LinkedIn URL", "Sales Navigator URL", "profile_url"}

var headerAliases = map[string]models.LeadField{
	"full name":           models.FieldFullName,
	"fullname":            models.FieldFullName,
	"name":                models.FieldFullName,
	"first name":          models.FieldFirstName,
	"firstname":           models.FieldFirstName,
	"last name":           models.FieldLastName,
	"lastname":            models.FieldLastName,
	"title":               models.FieldTitle,
	"job title":           models.FieldTitle,
	"company":             models.FieldCompany,
	"company name":        models.FieldCompany,
	"location":            models.FieldLocation,
	"profile url":         models.FieldProfileURL,
	"profile_url":         models.FieldProfileURL,
	"linkedin url":        models.FieldProfileURL,
	"sales navigator url": models.FieldProfileURL,
	"domain":              models.FieldDomain,
	"website":             models.FieldDomain,
	"company domain":      models.FieldDomain,
	"email":               models.FieldEmail,
	"email address":       models.FieldEmail,
}

var legacyDomainHeader = regexp.MustCompile(`^(domain|website)\s*_?\s*\d+$`)

// Schema is a parsed header: the variant plus where each logical field lives
type Schema struct {
	Variant Variant
	Header  []string
	// Fields maps each column index to its logical field ("" for unrecognized columns)
	Fields []models.LeadField
	// LegacyDomainColumns are the numbered domain columns, in header order
	LegacyDomainColumns []int
}

// ParseHeader classifies a header row once so writes can dispatch on the variant
func ParseHeader(header []string) Schema {
	schema := Schema{
		Header: append([]string(nil), header...),
		Fields: make([]models.LeadField, len(header)),
	}

	hasDomain, hasEmail := false, false
	for i, name := range header {
		key := normalizeHeader(name)
		if legacyDomainHeader.MatchString(key) {
			schema.LegacyDomainColumns = append(schema.LegacyDomainColumns, i)
			continue
		}
		field, ok := headerAliases[key]
		if !ok || schema.Column(field) >= 0 {
			continue
		}
		schema.Fields[i] = field
		switch field {
		case models.FieldDomain:
			hasDomain = true
		case models.FieldEmail:
			hasEmail = true
		}
	}

	switch {
	case len(schema.LegacyDomainColumns) > 0:
		schema.Variant = LegacyMultiDomain
	case hasDomain && hasEmail:
		schema.Variant = CanonicalWithEmail
	case hasDomain:
		schema.Variant = Canonical
	case hasEmail:
		schema.Variant = EmailOnly
	default:
		schema.Variant = Bare
	}
	return schema
}

// Column returns the index of the column holding field, or -1
func (s Schema) Column(field models.LeadField) int {
	for i, f := range s.Fields {
		if f == field {
			return i
		}
	}
	return -1
}

// DomainColumn is where merged domains land: the consolidated column, else the first legacy column, else -1
func (s Schema) DomainColumn() int {
	if col := s.Column(models.FieldDomain); col >= 0 {
		return col
	}
	if len(s.LegacyDomainColumns) > 0 {
		return s.LegacyDomainColumns[0]
	}
	return -1
}

// Row renders a lead in this schema's column order. Absent fields are empty strings.
func (s Schema) Row(lead models.Lead) []string {
	row := make([]string, len(s.Header))
	for i, field := range s.Fields {
		if field != "" {
			row[i] = lead.Get(field)
		}
	}
	if s.Column(models.FieldDomain) < 0 && len(s.LegacyDomainColumns) > 0 {
		row[s.LegacyDomainColumns[0]] = lead.Domain
	}
	return row
}

func normalizeHeader(name string) string {
	name = strings.TrimPrefix(name, bom)
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), " ")
}
