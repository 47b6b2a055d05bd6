package sidebar

import (
	"context"
	"strings"

	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/models"
)

// PrimaryOrchestrator extracts leads from the primary sidebar
type PrimaryOrchestrator struct {
	*Orchestrator
}

// NewPrimary wraps an orchestrator for lead extraction
func NewPrimary(o *Orchestrator) *PrimaryOrchestrator {
	return &PrimaryOrchestrator{Orchestrator: o}
}

// Extract returns one lead per sidebar row that carries a name or profile URL
func (p *PrimaryOrchestrator) Extract(ctx context.Context, session interfaces.BrowserSession) ([]models.Lead, error) {
	rows, err := p.Orchestrator.Extract(ctx, session)
	if err != nil {
		return nil, err
	}
	return LeadsFromRows(rows), nil
}

// LeadsFromRows maps parsed rows to leads, completing name parts from each other
func LeadsFromRows(rows []Row) []models.Lead {
	leads := make([]models.Lead, 0, len(rows))
	for _, row := range rows {
		fields := make(map[string]string, len(row))
		for name := range row {
			fields[name] = row.First(name)
		}
		lead := models.LeadFromFields(fields)

		if lead.FullName == "" {
			lead.FullName = strings.TrimSpace(lead.FirstName + " " + lead.LastName)
		}
		if lead.FirstName == "" && lead.LastName == "" && lead.FullName != "" {
			parts := strings.Fields(lead.FullName)
			lead.FirstName = parts[0]
			if len(parts) > 1 {
				lead.LastName = parts[len(parts)-1]
			}
		}
		if lead.FullName == "" && lead.ProfileURL == "" {
			continue
		}
		leads = append(leads, lead)
	}
	return leads
}

// EnrichmentOrchestrator extracts candidate company domains from the enrichment sidebar
type EnrichmentOrchestrator struct {
	*Orchestrator
}

// NewEnrichment wraps an orchestrator for enrichment extraction
func NewEnrichment(o *Orchestrator) *EnrichmentOrchestrator {
	return &EnrichmentOrchestrator{Orchestrator: o}
}

// Extract returns one enrichment record per row that names a person
func (e *EnrichmentOrchestrator) Extract(ctx context.Context, session interfaces.BrowserSession) ([]models.Enrichment, error) {
	rows, err := e.Orchestrator.Extract(ctx, session)
	if err != nil {
		return nil, err
	}
	return EnrichmentsFromRows(rows), nil
}

// EnrichmentsFromRows maps parsed rows to enrichment records; every domain match is kept
func EnrichmentsFromRows(rows []Row) []models.Enrichment {
	records := make([]models.Enrichment, 0, len(rows))
	for _, row := range rows {
		record := models.Enrichment{
			FullName:  row.First(string(models.FieldFullName)),
			FirstName: row.First(string(models.FieldFirstName)),
			LastName:  row.First(string(models.FieldLastName)),
			Company:   row.First(string(models.FieldCompany)),
			Domains:   row[string(models.FieldDomain)],
		}
		if record.FullName == "" && record.FirstName == "" && record.LastName == "" {
			continue
		}
		records = append(records, record)
	}
	return records
}
