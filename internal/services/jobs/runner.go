// -----------------------------------------------------------------------
// Job Runner - drives one job page by page through the browser session
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/models"
	"github.com/ternarybob/prospector/internal/services/csvstore"
	"github.com/ternarybob/prospector/internal/services/jobstore"
	"github.com/ternarybob/prospector/internal/services/pagination"
)

// LeadSource is the primary sidebar: people listed on the current results page
type LeadSource interface {
	Name() string
	EnsureReady(ctx context.Context, session interfaces.BrowserSession) error
	Extract(ctx context.Context, session interfaces.BrowserSession) ([]models.Lead, error)
}

// EnrichmentSource is the enrichment sidebar: website domains for the same people
type EnrichmentSource interface {
	Name() string
	EnsureReady(ctx context.Context, session interfaces.BrowserSession) error
	Extract(ctx context.Context, session interfaces.BrowserSession) ([]models.Enrichment, error)
}

// Paginator moves the results view forward by one page
type Paginator interface {
	Advance(ctx context.Context, view pagination.ResultView) (pagination.Outcome, error)
}

// Settler paces the session between pages
type Settler interface {
	Settle(ctx context.Context, session interfaces.BrowserSession) error
}

// LeadSink owns the job's output CSV
type LeadSink interface {
	UpsertRows(rows []models.Lead, path string) (csvstore.Schema, error)
	MergeByKey(baseFile string, records []models.Enrichment, match csvstore.MatchFunc) (csvstore.MergeResult, error)
	DeduplicateByKey(path string, aliases []string) int
}

// RunnerConfig is the part of the scraper configuration the runner reads
type RunnerConfig struct {
	PrimaryDomain     string
	LoginWallSelector string
	ResultsSelector   string
	ResultsTimeout    time.Duration
}

// RunnerConfigFrom maps scraper configuration onto the runner
func RunnerConfigFrom(c common.ScraperConfig) RunnerConfig {
	return RunnerConfig{
		PrimaryDomain:     c.PrimaryDomain,
		LoginWallSelector: c.LoginWallSelector,
		ResultsSelector:   c.ResultsSelector,
		ResultsTimeout:    c.ResultsTimeout.Or(20 * time.Second),
	}
}

// Runner executes the per-page loop for whichever job the scheduler hands it
type Runner struct {
	config      RunnerConfig
	store       *jobstore.Store
	scheduler   *Scheduler
	browser     interfaces.BrowserProvider
	credentials interfaces.CredentialProvider
	primary     LeadSource
	enrichment  EnrichmentSource
	paginator   Paginator
	newView     func(interfaces.BrowserSession) pagination.ResultView
	pacer       Settler
	csv         LeadSink
	logger      arbor.ILogger
}

// RunnerDeps wires a Runner
type RunnerDeps struct {
	Config      RunnerConfig
	Store       *jobstore.Store
	Scheduler   *Scheduler
	Browser     interfaces.BrowserProvider
	Credentials interfaces.CredentialProvider
	Primary     LeadSource
	Enrichment  EnrichmentSource
	Paginator   Paginator
	NewView     func(interfaces.BrowserSession) pagination.ResultView
	Pacer       Settler
	CSV         LeadSink
	Logger      arbor.ILogger
}

// NewRunner creates a runner
func NewRunner(deps RunnerDeps) *Runner {
	return &Runner{
		config:      deps.Config,
		store:       deps.Store,
		scheduler:   deps.Scheduler,
		browser:     deps.Browser,
		credentials: deps.Credentials,
		primary:     deps.Primary,
		enrichment:  deps.Enrichment,
		paginator:   deps.Paginator,
		newView:     deps.NewView,
		pacer:       deps.Pacer,
		csv:         deps.CSV,
		logger:      deps.Logger,
	}
}

// errHalted marks a loop that stopped at a checkpoint and already recorded why
var errHalted = errors.New("runner halted")

// execution is the state of one Run while the loop owns it
type execution struct {
	run     *Run
	job     *models.Job
	logger  arbor.ILogger
	session interfaces.BrowserSession
}

// Run drives run's job until it completes, pauses or is superseded.
// Every exit path releases the browser session and leaves the job in a non-running state.
func (r *Runner) Run(ctx context.Context, run *Run) {
	logger := r.logger.WithCorrelationId(run.JobID)

	job, ok := r.store.Get(run.JobID)
	if !ok {
		logger.Warn().Str("job_id", run.JobID).Msg("Job vanished before the runner started")
		return
	}
	exec := &execution{run: run, job: job, logger: logger}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().
				Str("job_id", job.ID).
				Int("page_index", job.PageIndex).
				Str("panic", fmt.Sprintf("%v", rec)).
				Str("stack", common.GetStackTrace()).
				Msg("Runner crashed")
			r.halt(context.Background(), exec, models.JobStatePaused, models.ReasonUnexpectedError,
				fmt.Sprintf("Unexpected error on page %d: %v", job.PageIndex, rec))
		}
	}()

	logger.Info().
		Str("job_id", job.ID).
		Int("page_index", job.PageIndex).
		Str("current_url", job.CurrentURL).
		Msg("Runner started")

	defer r.release(exec)

	if r.interrupted(ctx, exec) {
		return
	}
	if err := r.prepare(ctx, exec); err != nil {
		return
	}
	r.loop(ctx, exec)
}

func (r *Runner) release(exec *execution) {
	if exec.session == nil {
		return
	}
	if err := exec.session.Close(); err != nil {
		exec.logger.Warn().Err(err).Msg("Failed to close browser session")
	}
}

// prepare runs the preconditions in order; the first failure pauses the job with its reason
func (r *Runner) prepare(ctx context.Context, exec *execution) error {
	job := exec.job

	if !r.credentials.HasStoredCredential(ctx, r.config.PrimaryDomain) {
		return r.fail(ctx, exec, models.ReasonCookieExpired,
			fmt.Sprintf("No valid stored session for %s", r.config.PrimaryDomain))
	}

	session, err := r.browser.Launch(ctx)
	if err != nil {
		exec.logger.Error().Err(err).Msg("Browser session launch failed")
		if r.interrupted(ctx, exec) {
			return errHalted
		}
		return r.fail(ctx, exec, models.ReasonSessionFailed, "Browser session could not be launched")
	}
	exec.session = session

	if err := r.credentials.Inject(ctx, session, r.config.PrimaryDomain); err != nil {
		exec.logger.Warn().Err(err).Msg("Cookie injection failed")
		return r.fail(ctx, exec, models.ReasonCookieExpired, "Stored cookies could not be applied")
	}

	if job.PageIndex <= 1 {
		job.PageIndex = 1
		job.TotalPrimaryRows = 0
		job.TotalEnrichedRows = 0
	}
	target := job.CurrentURL
	if target == "" {
		target = job.SourceURL
	}
	if err := session.Navigate(ctx, target); err != nil {
		exec.logger.Warn().Err(err).Str("url", target).Msg("Navigation to resume point failed")
		if r.interrupted(ctx, exec) {
			return errHalted
		}
		return r.fail(ctx, exec, models.ReasonNavigationFailed, "Could not open the results page")
	}
	job.CurrentURL = target
	if live, err := session.CurrentURL(ctx); err == nil && live != "" {
		job.CurrentURL = live
	}

	if r.config.LoginWallSelector != "" {
		if wall, err := session.Exists(ctx, r.config.LoginWallSelector); err == nil && wall {
			return r.fail(ctx, exec, models.ReasonCookieExpired, "Session cookies expired; log in again and re-export")
		}
	}
	if r.config.ResultsSelector != "" {
		if err := session.WaitVisible(ctx, r.config.ResultsSelector, r.config.ResultsTimeout); err != nil {
			exec.logger.Warn().Err(err).Msg("Results list not visible yet")
		}
	}

	if err := r.primary.EnsureReady(ctx, session); err != nil {
		exec.logger.Warn().Err(err).Str("sidebar", r.primary.Name()).Msg("Primary sidebar not ready")
		if r.interrupted(ctx, exec) {
			return errHalted
		}
		return r.fail(ctx, exec, models.ReasonPrimaryLogin,
			fmt.Sprintf("%s sidebar is not logged in", r.primary.Name()))
	}
	if err := r.enrichment.EnsureReady(ctx, session); err != nil {
		exec.logger.Warn().Err(err).Str("sidebar", r.enrichment.Name()).Msg("Enrichment sidebar not ready")
		if r.interrupted(ctx, exec) {
			return errHalted
		}
		return r.fail(ctx, exec, models.ReasonEnrichmentLogin,
			fmt.Sprintf("%s sidebar is not logged in", r.enrichment.Name()))
	}
	return nil
}

func (r *Runner) loop(ctx context.Context, exec *execution) {
	job := exec.job
	view := r.newView(exec.session)

	for {
		if r.checkpoint(ctx, exec) {
			return
		}

		leads, err := r.primary.Extract(ctx, exec.session)
		if err != nil {
			exec.logger.Warn().Err(err).Int("page_index", job.PageIndex).Msg("Primary extraction failed; treating page as empty")
			leads = nil
		}
		// Page counts join the job totals only once the page is left behind
		pagePrimary, pageEnriched := len(leads), 0

		if len(leads) > 0 {
			if _, err := r.csv.UpsertRows(leads, job.OutputFile); err != nil {
				exec.logger.Error().Err(err).Str("file", job.OutputFile).Msg("Failed to write primary rows")
			}

			if r.checkpoint(ctx, exec) {
				return
			}
			pageEnriched = r.enrich(ctx, exec)
			r.csv.DeduplicateByKey(job.OutputFile, csvstore.ProfileKeyAliases)
		} else {
			exec.logger.Info().Int("page_index", job.PageIndex).Msg("No primary rows on page; skipping enrichment")
		}

		if err := r.pacer.Settle(ctx, exec.session); err != nil && ctx.Err() == nil {
			exec.logger.Debug().Err(err).Msg("Pacing interrupted")
		}

		if r.checkpoint(ctx, exec) {
			return
		}

		outcome, err := r.paginator.Advance(ctx, view)
		if err != nil {
			if !r.checkpoint(ctx, exec) {
				r.halt(ctx, exec, models.JobStatePaused, models.ReasonNavigationFailed, err.Error())
			}
			return
		}

		exec.logger.Info().
			Int("page_index", job.PageIndex).
			Int("primary_rows", pagePrimary).
			Int("enriched_rows", pageEnriched).
			Str("outcome", outcome.String()).
			Msg("Page processed")

		if outcome != pagination.Failed {
			job.TotalPrimaryRows += pagePrimary
			job.TotalEnrichedRows += pageEnriched
		}

		switch outcome {
		case pagination.Moved:
			job.PageIndex++
			if url, err := view.CurrentURL(ctx); err == nil && url != "" {
				job.CurrentURL = url
			}
			r.persist(ctx, exec, models.ProgressPatch(job))
		case pagination.Exhausted:
			r.halt(ctx, exec, models.JobStateCompleted, "",
				fmt.Sprintf("Completed after %d pages", job.PageIndex))
			return
		default:
			r.halt(ctx, exec, models.JobStatePaused, models.ReasonNavigationFailed,
				fmt.Sprintf("Could not advance past page %d", job.PageIndex))
			return
		}
	}
}

// enrich runs the enrichment sidebar and merges its records, returning matched rows
func (r *Runner) enrich(ctx context.Context, exec *execution) int {
	records, err := r.enrichment.Extract(ctx, exec.session)
	if err != nil {
		exec.logger.Warn().Err(err).Int("page_index", exec.job.PageIndex).Msg("Enrichment extraction failed")
		return 0
	}
	if len(records) == 0 {
		return 0
	}
	result, err := r.csv.MergeByKey(exec.job.OutputFile, records, nil)
	if err != nil {
		exec.logger.Error().Err(err).Str("file", exec.job.OutputFile).Msg("Failed to merge enrichment")
		return 0
	}
	exec.logger.Debug().
		Int("matched", result.Matched).
		Int("unmatched", result.Unmatched).
		Msg("Enrichment merged")
	return result.Matched
}

// checkpoint reports whether the loop must stop, recording the halt if so
func (r *Runner) checkpoint(ctx context.Context, exec *execution) bool {
	if r.interrupted(ctx, exec) {
		return true
	}
	switch r.scheduler.ShouldStop(exec.run) {
	case PauseRequested:
		exec.logger.Info().Int("page_index", exec.job.PageIndex).Msg("Pause requested; halting")
		r.halt(ctx, exec, models.JobStatePaused, "", fmt.Sprintf("Paused on page %d", exec.job.PageIndex))
		return true
	case Superseded:
		exec.logger.Info().Int("page_index", exec.job.PageIndex).Msg("Job preempted; halting")
		r.halt(ctx, exec, models.JobStatePaused, "", fmt.Sprintf("Preempted on page %d", exec.job.PageIndex))
		return true
	}
	return false
}

// interrupted records an interrupted pause when ctx has ended
func (r *Runner) interrupted(ctx context.Context, exec *execution) bool {
	if ctx.Err() == nil {
		return false
	}
	exec.logger.Info().Int("page_index", exec.job.PageIndex).Msg("Runner interrupted")
	r.halt(context.Background(), exec, models.JobStatePaused, models.ReasonInterrupted,
		fmt.Sprintf("Interrupted on page %d", exec.job.PageIndex))
	return true
}

// fail pauses the job on a failed precondition
func (r *Runner) fail(ctx context.Context, exec *execution, reason, message string) error {
	exec.logger.Warn().Str("reason", reason).Msg(message)
	r.halt(ctx, exec, models.JobStatePaused, reason, message)
	return errHalted
}

// halt persists progress and the final state together, unless a newer run of the same job owns it
func (r *Runner) halt(ctx context.Context, exec *execution, state models.JobState, reason, message string) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	patch := models.ProgressPatch(exec.job).WithState(state, reason, message)
	written := r.scheduler.Guard(exec.run, func() {
		r.persist(ctx, exec, patch)
	})
	if !written {
		exec.logger.Debug().Msg("Newer run owns this job; final state not written")
	}
}

func (r *Runner) persist(ctx context.Context, exec *execution, patch models.JobPatch) {
	if _, err := r.store.Update(ctx, exec.job.ID, patch); err != nil {
		exec.logger.Warn().Err(err).Msg("Failed to persist job progress")
	}
}
