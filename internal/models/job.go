// -----------------------------------------------------------------------
// Scrape Job - Persistent, resumable unit of lead scraping work
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

// JobState is the lifecycle state of a Job
type JobState string

const (
	JobStateRunning   JobState = "running"
	JobStatePausing   JobState = "pausing" // stop requested, runner has not yet halted
	JobStatePaused    JobState = "paused"
	JobStateCompleted JobState = "completed"
)

// Machine-readable pause causes stored in Job.StateReason
const (
	ReasonCookieExpired    = "cookie_expired"
	ReasonPrimaryLogin     = "primary_sidebar_login_failed"
	ReasonEnrichmentLogin  = "enrichment_sidebar_login_failed"
	ReasonSessionFailed    = "session_launch_failed"
	ReasonNavigationFailed = "navigation_failed"
	ReasonUnexpectedError  = "unexpected_error"
	ReasonInterrupted      = "interrupted"
)

// Job is one resumable scrape of a search-results URL into one CSV file.
// ID, SourceURL, ListName and OutputFile never change after creation.
type Job struct {
	ID                string   `json:"id"`
	SourceURL         string   `json:"source_url"`
	CurrentURL        string   `json:"current_url"`
	ListName          string   `json:"list_name"`
	OutputFile        string   `json:"output_file"`
	PageIndex         int      `json:"page_index"`
	TotalPrimaryRows  int      `json:"total_primary_rows"`
	TotalEnrichedRows int      `json:"total_enriched_rows"`
	State             JobState `json:"state"`
	StateReason       string   `json:"state_reason,omitempty"`
	Message           string   `json:"message,omitempty"`
}

// NewJob creates a fresh job positioned on page 1 of sourceURL
func NewJob(sourceURL, listName, outputDir string, createdAt time.Time) *Job {
	id := NewJobID(listName, createdAt)
	return &Job{
		ID:         id,
		SourceURL:  sourceURL,
		CurrentURL: sourceURL,
		ListName:   listName,
		OutputFile: outputPath(outputDir, id),
		PageIndex:  1,
		State:      JobStateRunning,
	}
}

// NewJobID derives a job id from the list name and creation time
func NewJobID(listName string, createdAt time.Time) string {
	base := slug.Make(listName)
	if base == "" {
		base = "list"
	}
	return fmt.Sprintf("%s_%d", base, createdAt.UnixMilli())
}

func outputPath(dir, id string) string {
	dir = strings.TrimRight(dir, "/\\")
	if dir == "" {
		return id + ".csv"
	}
	return dir + "/" + id + ".csv"
}

// Clone returns an independent copy
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// IsActive reports whether the job is running or on its way to paused
func (j *Job) IsActive() bool {
	return j.State == JobStateRunning || j.State == JobStatePausing
}

// JobPatch carries the fields of a partial update. Nil fields are left untouched.
type JobPatch struct {
	SourceURL         *string
	CurrentURL        *string
	ListName          *string
	OutputFile        *string
	PageIndex         *int
	TotalPrimaryRows  *int
	TotalEnrichedRows *int
	State             *JobState
	StateReason       *string
	Message           *string
}

// Apply merges the patch onto job
func (p JobPatch) Apply(job *Job) {
	if p.SourceURL != nil {
		job.SourceURL = *p.SourceURL
	}
	if p.CurrentURL != nil {
		job.CurrentURL = *p.CurrentURL
	}
	if p.ListName != nil {
		job.ListName = *p.ListName
	}
	if p.OutputFile != nil {
		job.OutputFile = *p.OutputFile
	}
	if p.PageIndex != nil {
		job.PageIndex = *p.PageIndex
	}
	if p.TotalPrimaryRows != nil {
		job.TotalPrimaryRows = *p.TotalPrimaryRows
	}
	if p.TotalEnrichedRows != nil {
		job.TotalEnrichedRows = *p.TotalEnrichedRows
	}
	if p.State != nil {
		job.State = *p.State
	}
	if p.StateReason != nil {
		job.StateReason = *p.StateReason
	}
	if p.Message != nil {
		job.Message = *p.Message
	}
}

// ProgressPatch builds the patch persisted after every page: cursor and counters land together
func ProgressPatch(job *Job) JobPatch {
	pageIndex := job.PageIndex
	currentURL := job.CurrentURL
	primary := job.TotalPrimaryRows
	enriched := job.TotalEnrichedRows
	return JobPatch{
		PageIndex:         &pageIndex,
		CurrentURL:        &currentURL,
		TotalPrimaryRows:  &primary,
		TotalEnrichedRows: &enriched,
	}
}

// WithState adds a state transition to the patch
func (p JobPatch) WithState(state JobState, reason, message string) JobPatch {
	p.State = &state
	p.StateReason = &reason
	p.Message = &message
	return p
}

// StatePatch is a state-only transition
func StatePatch(state JobState, reason, message string) JobPatch {
	return JobPatch{}.WithState(state, reason, message)
}
