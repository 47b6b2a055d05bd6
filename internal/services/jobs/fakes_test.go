package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/models"
	"github.com/ternarybob/prospector/internal/services/csvstore"
	"github.com/ternarybob/prospector/internal/services/jobstore"
	"github.com/ternarybob/prospector/internal/services/pagination"
	"github.com/ternarybob/prospector/internal/storage/jsonfile"
)

const sourceURL = "https://search.example.test/people?query=cto"

func pageURL(page int) string {
	return fmt.Sprintf("https://search.example.test/people?query=cto&page=%d", page)
}

func pageOf(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 1
	}
	page, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// site is the fake results site shared by every fake in a harness
type site struct {
	mu          sync.Mutex
	url         string
	loginWall   bool
	navigations []string
	extracted   []string
	launches    int
	closes      int
}

func (s *site) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *site) page() int {
	return pageOf(s.current())
}

func (s *site) moveTo(page int) {
	s.mu.Lock()
	s.url = pageURL(page)
	s.mu.Unlock()
}

func (s *site) snapshot() (navigations, extracted []string, launches, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...), append([]string(nil), s.extracted...), s.launches, s.closes
}

func (s *site) resetHistory() {
	s.mu.Lock()
	s.navigations = nil
	s.extracted = nil
	s.mu.Unlock()
}

type fakeSession struct {
	interfaces.BrowserSession
	site *site
}

func (f *fakeSession) ID() string { return "fake" }

// Navigate lands on the canonical page URL, like a site that normalizes its query string
func (f *fakeSession) Navigate(ctx context.Context, raw string) error {
	f.site.mu.Lock()
	f.site.navigations = append(f.site.navigations, raw)
	f.site.mu.Unlock()
	f.site.moveTo(pageOf(raw))
	return nil
}

func (f *fakeSession) Reload(ctx context.Context) error { return nil }

func (f *fakeSession) CurrentURL(ctx context.Context) (string, error) {
	return f.site.current(), nil
}

func (f *fakeSession) Exists(ctx context.Context, selector string) (bool, error) {
	f.site.mu.Lock()
	defer f.site.mu.Unlock()
	return selector == "#login-wall" && f.site.loginWall, nil
}

func (f *fakeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (f *fakeSession) Close() error {
	f.site.mu.Lock()
	f.site.closes++
	f.site.mu.Unlock()
	return nil
}

type fakeBrowser struct {
	site *site
	err  error
}

func (f *fakeBrowser) Launch(ctx context.Context) (interfaces.BrowserSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.site.mu.Lock()
	f.site.launches++
	f.site.mu.Unlock()
	return &fakeSession{site: f.site}, nil
}

type fakeCredentials struct {
	valid     bool
	injectErr error
}

func (f *fakeCredentials) HasStoredCredential(ctx context.Context, domain string) bool {
	return f.valid
}

func (f *fakeCredentials) LoadCredential(ctx context.Context, domain string) (*models.AuthCredentials, error) {
	return &models.AuthCredentials{SiteDomain: domain}, nil
}

func (f *fakeCredentials) Inject(ctx context.Context, session interfaces.BrowserSession, domain string) error {
	return f.injectErr
}

func personName(page, i int) (first, last string) {
	return fmt.Sprintf("Page%dperson%d", page, i), fmt.Sprintf("Sample%d", i)
}

// fakeLeads lists two people per page unless rows overrides it
type fakeLeads struct {
	site      *site
	readyErr  error
	rows      map[int]int
	panicPage int
}

func (f *fakeLeads) Name() string { return "primary" }

func (f *fakeLeads) EnsureReady(ctx context.Context, session interfaces.BrowserSession) error {
	return f.readyErr
}

func (f *fakeLeads) count(page int) int {
	if n, ok := f.rows[page]; ok {
		return n
	}
	return 2
}

func (f *fakeLeads) Extract(ctx context.Context, session interfaces.BrowserSession) ([]models.Lead, error) {
	current := f.site.current()
	f.site.mu.Lock()
	f.site.extracted = append(f.site.extracted, current)
	f.site.mu.Unlock()

	page := pageOf(current)
	if f.panicPage == page {
		panic("sidebar exploded")
	}
	var leads []models.Lead
	for i := 0; i < f.count(page); i++ {
		first, last := personName(page, i)
		leads = append(leads, models.Lead{
			FullName:   first + " " + last,
			FirstName:  first,
			LastName:   last,
			Company:    "Acme",
			ProfileURL: fmt.Sprintf("https://www.linkedin.com/sales/lead/%d-%d", page, i),
		})
	}
	return leads, nil
}

// fakeEnrichment returns a domain for every person on the page
type fakeEnrichment struct {
	site     *site
	readyErr error
	mu       sync.Mutex
	calls    int
	leads    *fakeLeads
}

func (f *fakeEnrichment) Name() string { return "enrichment" }

func (f *fakeEnrichment) EnsureReady(ctx context.Context, session interfaces.BrowserSession) error {
	return f.readyErr
}

func (f *fakeEnrichment) Extract(ctx context.Context, session interfaces.BrowserSession) ([]models.Enrichment, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	page := f.site.page()
	var records []models.Enrichment
	for i := 0; i < f.leads.count(page); i++ {
		first, last := personName(page, i)
		records = append(records, models.Enrichment{
			FullName: first + " " + last,
			Company:  "Acme",
			Domains:  []string{fmt.Sprintf("acme%d-%d.com", page, i)},
		})
	}
	return records, nil
}

func (f *fakeEnrichment) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePaginator moves one page per call until lastPage, which is exhausted
type fakePaginator struct {
	site     *site
	lastPage int
	failAt   int
	onMoved  func(page int)
}

func (f *fakePaginator) Advance(ctx context.Context, view pagination.ResultView) (pagination.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return pagination.Failed, err
	}
	page := f.site.page()
	if page == f.failAt {
		return pagination.Failed, nil
	}
	if page >= f.lastPage {
		return pagination.Exhausted, nil
	}
	f.site.moveTo(page + 1)
	if f.onMoved != nil {
		f.onMoved(page + 1)
	}
	return pagination.Moved, nil
}

type fakePacer struct {
	site     *site
	onSettle func(ctx context.Context, page int)
}

func (f *fakePacer) Settle(ctx context.Context, session interfaces.BrowserSession) error {
	if f.onSettle != nil {
		f.onSettle(ctx, f.site.page())
	}
	return ctx.Err()
}

type sessionView struct {
	pagination.ResultView
	session interfaces.BrowserSession
}

func (v *sessionView) CurrentURL(ctx context.Context) (string, error) {
	return v.session.CurrentURL(ctx)
}

// recordingStorage remembers every persisted snapshot and flags two running jobs at once
type recordingStorage struct {
	*jsonfile.JobStorage
	mu          sync.Mutex
	states      map[string]models.JobState
	pageIndexes map[string][]int
	violations  int
}

func (r *recordingStorage) SaveJob(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	r.states[job.ID] = job.State
	r.pageIndexes[job.ID] = append(r.pageIndexes[job.ID], job.PageIndex)
	running := 0
	for _, state := range r.states {
		if state == models.JobStateRunning {
			running++
		}
	}
	if running > 1 {
		r.violations++
	}
	r.mu.Unlock()
	return r.JobStorage.SaveJob(ctx, job)
}

func (r *recordingStorage) DeleteJob(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.states, id)
	r.mu.Unlock()
	return r.JobStorage.DeleteJob(ctx, id)
}

func (r *recordingStorage) history(id string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.pageIndexes[id]...)
}

func (r *recordingStorage) runningViolations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.violations
}

type harness struct {
	site       *site
	creds      *fakeCredentials
	browser    *fakeBrowser
	primary    *fakeLeads
	enrichment *fakeEnrichment
	paginator  *fakePaginator
	pacer      *fakePacer
	storage    *recordingStorage
	store      *jobstore.Store
	scheduler  *Scheduler
	service    *Service
	outputDir  string
}

func newHarness(t *testing.T, lastPage int) *harness {
	t.Helper()
	logger := arbor.NewLogger()

	fileStorage, err := jsonfile.NewJobStorage(t.TempDir(), logger)
	require.NoError(t, err)
	storage := &recordingStorage{
		JobStorage:  fileStorage,
		states:      make(map[string]models.JobState),
		pageIndexes: make(map[string][]int),
	}

	s := &site{}
	h := &harness{
		site:      s,
		creds:     &fakeCredentials{valid: true},
		browser:   &fakeBrowser{site: s},
		primary:   &fakeLeads{site: s, rows: map[int]int{}},
		paginator: &fakePaginator{site: s, lastPage: lastPage},
		pacer:     &fakePacer{site: s},
		storage:   storage,
		store:     jobstore.NewStore(storage, nil, logger),
		scheduler: NewScheduler(),
		outputDir: t.TempDir(),
	}
	h.enrichment = &fakeEnrichment{site: s, leads: h.primary}

	runner := NewRunner(RunnerDeps{
		Config: RunnerConfig{
			PrimaryDomain:     "linkedin.com",
			LoginWallSelector: "#login-wall",
			ResultsSelector:   "#results",
			ResultsTimeout:    time.Second,
		},
		Store:       h.store,
		Scheduler:   h.scheduler,
		Browser:     h.browser,
		Credentials: h.creds,
		Primary:     h.primary,
		Enrichment:  h.enrichment,
		Paginator:   h.paginator,
		NewView: func(session interfaces.BrowserSession) pagination.ResultView {
			return &sessionView{session: session}
		},
		Pacer:  h.pacer,
		CSV:    csvstore.NewStore(logger),
		Logger: logger,
	})

	h.service = NewService(ServiceConfig{
		OutputDir:         h.outputDir,
		SearchURLPrefixes: []string{"https://search.example.test/people"},
	}, h.store, h.scheduler, runner, logger)

	// Job ids embed the creation millisecond; keep them distinct and ordered
	var tick int64
	h.service.now = func() time.Time {
		tick++
		return time.UnixMilli(1700000000000 + tick)
	}
	return h
}

func (h *harness) create(t *testing.T, listName string) *models.Job {
	t.Helper()
	job, err := h.service.CreateJob(context.Background(), CreateRequest{SourceURL: sourceURL, ListName: listName})
	require.NoError(t, err)
	return job
}

func (h *harness) job(t *testing.T, id string) *models.Job {
	t.Helper()
	job, ok := h.store.Get(id)
	require.True(t, ok)
	return job
}

var errBoom = errors.New("boom")
