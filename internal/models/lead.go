package models

// LeadField identifies one logical column of the output CSV
type LeadField string

const (
	FieldFullName   LeadField = "full_name"
	FieldFirstName  LeadField = "first_name"
	FieldLastName   LeadField = "last_name"
	FieldTitle      LeadField = "title"
	FieldCompany    LeadField = "company"
	FieldLocation   LeadField = "location"
	FieldProfileURL LeadField = "profile_url"
	FieldDomain     LeadField = "domain"
	FieldEmail      LeadField = "email"
)

// Lead is one scraped person row. ProfileURL is the natural unique key.
type Lead struct {
	FullName   string `json:"full_name"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Title      string `json:"title"`
	Company    string `json:"company"`
	Location   string `json:"location"`
	ProfileURL string `json:"profile_url"`
	Domain     string `json:"domain"`
	Email      string `json:"email"`
}

// Get returns the value of a logical field; unknown fields are empty
func (l Lead) Get(field LeadField) string {
	switch field {
	case FieldFullName:
		return l.FullName
	case FieldFirstName:
		return l.FirstName
	case FieldLastName:
		return l.LastName
	case FieldTitle:
		return l.Title
	case FieldCompany:
		return l.Company
	case FieldLocation:
		return l.Location
	case FieldProfileURL:
		return l.ProfileURL
	case FieldDomain:
		return l.Domain
	case FieldEmail:
		return l.Email
	}
	return ""
}

// LeadFromFields builds a lead from a field map as produced by sidebar extraction
func LeadFromFields(fields map[string]string) Lead {
	return Lead{
		FullName:   fields[string(FieldFullName)],
		FirstName:  fields[string(FieldFirstName)],
		LastName:   fields[string(FieldLastName)],
		Title:      fields[string(FieldTitle)],
		Company:    fields[string(FieldCompany)],
		Location:   fields[string(FieldLocation)],
		ProfileURL: fields[string(FieldProfileURL)],
		Domain:     fields[string(FieldDomain)],
		Email:      fields[string(FieldEmail)],
	}
}

// Enrichment is one record from the enrichment sidebar: a person plus candidate website domains
type Enrichment struct {
	FullName  string   `json:"full_name"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Company   string   `json:"company"`
	Domains   []string `json:"domains"`
}
