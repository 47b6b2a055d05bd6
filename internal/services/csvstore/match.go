package csvstore

import (
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/gosimple/slug"
)

// Person is the name identity used to pair enrichment records with base rows
type Person struct {
	Tokens  []string // cleaned, lowercased, transliterated name tokens
	Company string   // normalized company, may be empty
}

// MatchFunc decides whether an enrichment record and a base row are the same person
type MatchFunc func(record, row Person) bool

var nameNoise = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "dr": true, "prof": true,
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true,
	"phd": true, "mba": true, "cpa": true, "pmp": true, "md": true,
}

// NewPerson builds a Person from a full name, falling back to first+last when the full name is empty
func NewPerson(fullName, firstName, lastName, company string) Person {
	name := fullName
	if strings.TrimSpace(name) == "" {
		name = strings.TrimSpace(firstName + " " + lastName)
	}
	return Person{Tokens: NameTokens(name), Company: slug.Make(company)}
}

// NameTokens normalizes a display name: credentials after a comma, parenthesized
// nicknames and honorifics are dropped; accents are transliterated.
func NameTokens(name string) []string {
	if i := strings.Index(name, ","); i >= 0 {
		name = name[:i]
	}
	for {
		open := strings.Index(name, "(")
		if open < 0 {
			break
		}
		close := strings.Index(name[open:], ")")
		if close < 0 {
			name = name[:open]
			break
		}
		name = name[:open] + " " + name[open+close+1:]
	}

	var tokens []string
	for _, token := range strings.Split(slug.Make(name), "-") {
		if token == "" || nameNoise[token] {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// jaroWinklerThreshold accepts one-letter typos in typical two-token names
const jaroWinklerThreshold = 0.94

// ExactMatch pairs people whose first and last name tokens agree and whose companies do not conflict
func ExactMatch(record, row Person) bool {
	if len(record.Tokens) == 0 || len(row.Tokens) == 0 || !companiesAgree(record, row) {
		return false
	}
	return record.Tokens[0] == row.Tokens[0] && record.Tokens[len(record.Tokens)-1] == row.Tokens[len(row.Tokens)-1]
}

// DefaultMatch pairs people whose first and last name tokens agree exactly, or
// whose full token strings are Jaro-Winkler close. Known, differing companies veto a match.
func DefaultMatch(record, row Person) bool {
	if len(record.Tokens) == 0 || len(row.Tokens) == 0 || !companiesAgree(record, row) {
		return false
	}
	if ExactMatch(record, row) {
		return true
	}
	a := strings.Join(record.Tokens, " ")
	b := strings.Join(row.Tokens, " ")
	return matchr.JaroWinkler(a, b, false) >= jaroWinklerThreshold
}

func companiesAgree(record, row Person) bool {
	if record.Company == "" || row.Company == "" {
		return true
	}
	return strings.Contains(record.Company, row.Company) || strings.Contains(row.Company, record.Company)
}
