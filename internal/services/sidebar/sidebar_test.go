package sidebar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/models"
)

const sidebarHTML = `<html><body>
<div data-sidebar="primary"><div data-results>
  <div data-lead-row>
    <span data-field="full_name"> Jane
      Doe </span>
    <span data-field="title">VP Sales</span>
    <a data-field="profile" href="https://www.linkedin.com/sales/lead/1">Jane</a>
  </div>
  <div data-lead-row>
    <span data-field="first_name">Raj</span><span data-field="last_name">Patel</span>
    <a data-field="profile" href="https://www.linkedin.com/sales/lead/2">Raj</a>
  </div>
  <div data-lead-row><span data-field="title">No name</span></div>
</div></div>
</body></html>`

// fakeSession models a page with a toggleable sidebar and an optional login wall
type fakeSession struct {
	interfaces.BrowserSession
	panelOpen    bool
	loginPrompt  bool
	loginOnRetry bool
	html         string

	clicks   int
	reloads  int
	injected bool
}

func (f *fakeSession) ID() string { return "session-1" }

func (f *fakeSession) Exists(ctx context.Context, selector string) (bool, error) {
	switch selector {
	case "#panel":
		return f.panelOpen, nil
	case "#login":
		return f.loginPrompt, nil
	}
	return false, nil
}

func (f *fakeSession) Click(ctx context.Context, selector string) error {
	f.clicks++
	if selector == "#toggle" {
		f.panelOpen = true
	}
	return nil
}

func (f *fakeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (f *fakeSession) Reload(ctx context.Context) error {
	f.reloads++
	f.panelOpen = false
	if f.injected && !f.loginOnRetry {
		f.loginPrompt = false
	}
	return nil
}

func (f *fakeSession) OuterHTML(ctx context.Context, selector string) (string, error) {
	if f.html == "" {
		return "", errors.New("detached")
	}
	return f.html, nil
}

type fakeCredentials struct {
	has     bool
	session *fakeSession
}

func (c *fakeCredentials) HasStoredCredential(ctx context.Context, domain string) bool { return c.has }

func (c *fakeCredentials) LoadCredential(ctx context.Context, domain string) (*models.AuthCredentials, error) {
	return &models.AuthCredentials{SiteDomain: domain}, nil
}

func (c *fakeCredentials) Inject(ctx context.Context, session interfaces.BrowserSession, domain string) error {
	c.session.injected = true
	return nil
}

func testProfile() common.SidebarProfile {
	return common.SidebarProfile{
		Name:             "primary",
		CredentialDomain: "linkedin.com",
		ToggleSelector:   "#toggle",
		PanelSelector:    "#panel",
		LoginSelector:    "#login",
		RowSelector:      "[data-lead-row]",
		Fields: map[string]string{
			"full_name":   "[data-field='full_name']",
			"first_name":  "[data-field='first_name']",
			"last_name":   "[data-field='last_name']",
			"title":       "[data-field='title']",
			"profile_url": "a[data-field='profile']@href",
		},
		Attempts: 2,
	}
}

func TestParseFieldSpec(t *testing.T) {
	specs := parseFieldSpec("[data-field='domain'] || a[data-field='website']@href")
	require.Len(t, specs, 2)
	assert.Equal(t, fieldSelector{css: "[data-field='domain']"}, specs[0])
	assert.Equal(t, fieldSelector{css: "a[data-field='website']", attr: "href"}, specs[1])

	// An "@" inside an attribute value is not an attribute suffix
	specs = parseFieldSpec("a[href*='mailto:x@y.com']")
	require.Len(t, specs, 1)
	assert.Equal(t, "", specs[0].attr)
}

func TestParseRowsAndLeads(t *testing.T) {
	rows, err := ParseRows(sidebarHTML, "[data-lead-row]", testProfile().Fields)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Jane Doe", rows[0].First("full_name"))

	leads := LeadsFromRows(rows)
	require.Len(t, leads, 2)
	assert.Equal(t, "Jane", leads[0].FirstName)
	assert.Equal(t, "Doe", leads[0].LastName)
	assert.Equal(t, "https://www.linkedin.com/sales/lead/1", leads[0].ProfileURL)
	assert.Equal(t, "Raj Patel", leads[1].FullName)
}

func TestEnrichmentsFromRows_KeepsAllDomains(t *testing.T) {
	html := `<div class="c"><b data-field="name">Jane Doe</b><i data-field="domain">acme.com</i><a data-field="website" href="https://acme.io">site</a></div>
<div class="c"><i data-field="domain">orphan.com</i></div>`
	rows, err := ParseRows(html, "div.c", map[string]string{
		"full_name": "[data-field='name']",
		"domain":    "[data-field='domain'] || a[data-field='website']@href",
	})
	require.NoError(t, err)

	records := EnrichmentsFromRows(rows)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"acme.com", "https://acme.io"}, records[0].Domains)
}

func TestEnsureReady_OpensClosedSidebar(t *testing.T) {
	session := &fakeSession{}
	o := NewOrchestrator(testProfile(), nil, arbor.NewLogger())

	require.NoError(t, o.EnsureReady(context.Background(), session))
	assert.True(t, session.panelOpen)
	assert.Equal(t, 1, session.clicks)

	// Idempotent: already open, nothing clicked
	require.NoError(t, o.EnsureReady(context.Background(), session))
	assert.Equal(t, 1, session.clicks)
}

func TestEnsureReady_ReauthenticatesOnce(t *testing.T) {
	session := &fakeSession{loginPrompt: true}
	creds := &fakeCredentials{has: true, session: session}
	o := NewOrchestrator(testProfile(), creds, arbor.NewLogger())

	require.NoError(t, o.EnsureReady(context.Background(), session))
	assert.True(t, session.injected)
	assert.Equal(t, 1, session.reloads)
}

func TestEnsureReady_NotLoggedInAfterReauth(t *testing.T) {
	session := &fakeSession{loginPrompt: true, loginOnRetry: true}
	creds := &fakeCredentials{has: true, session: session}
	o := NewOrchestrator(testProfile(), creds, arbor.NewLogger())

	err := o.EnsureReady(context.Background(), session)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestEnsureReady_NoCredentials(t *testing.T) {
	session := &fakeSession{loginPrompt: true}
	o := NewOrchestrator(testProfile(), &fakeCredentials{has: false, session: session}, arbor.NewLogger())

	err := o.EnsureReady(context.Background(), session)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.False(t, session.injected)
}

func TestPrimaryExtract(t *testing.T) {
	session := &fakeSession{panelOpen: true, html: sidebarHTML}
	primary := NewPrimary(NewOrchestrator(testProfile(), nil, arbor.NewLogger()))

	leads, err := primary.Extract(context.Background(), session)
	require.NoError(t, err)
	assert.Len(t, leads, 2)
}
