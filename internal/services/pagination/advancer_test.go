package pagination

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// fakeView is a scripted result list. Clicking "next" moves to the next page
// only when clickMoves is set; navigating to a URL always moves.
type fakeView struct {
	page       int
	lastPage   int
	url        string
	clickMoves bool
	hasNext    bool
	banner     bool
	nextErrs   int // NextControl fails this many times before answering

	clicks    int
	reloads   int
	navigated []string
}

func (f *fakeView) Fingerprint(ctx context.Context) (string, error) {
	return "page-" + string(rune('0'+f.page)), nil
}

func (f *fakeView) Exhausted(ctx context.Context) (bool, error) { return f.banner, nil }

func (f *fakeView) NextControl(ctx context.Context) (string, bool, error) {
	if f.nextErrs > 0 {
		f.nextErrs--
		return "", false, errors.New("Execution context was destroyed")
	}
	return "#next", f.hasNext && (f.lastPage == 0 || f.page < f.lastPage), nil
}

func (f *fakeView) Click(ctx context.Context, selector string) error {
	f.clicks++
	if f.clickMoves {
		f.page++
		if f.lastPage > 0 && f.page == f.lastPage {
			f.hasNext = false
		}
	}
	return nil
}

func (f *fakeView) Reload(ctx context.Context) error {
	f.reloads++
	return nil
}

func (f *fakeView) CurrentURL(ctx context.Context) (string, error) { return f.url, nil }

func (f *fakeView) Navigate(ctx context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	f.url = url
	f.page++
	return nil
}

func newTestAdvancer() *Advancer {
	return NewAdvancer(Config{
		MaxAttempts:   3,
		SettleTimeout: 20 * time.Millisecond,
		PollInterval:  2 * time.Millisecond,
		PageParams:    []string{"page"},
		OffsetParams:  []string{"start"},
		PageSize:      25,
	}, arbor.NewLogger())
}

func TestAdvance_Moved(t *testing.T) {
	view := &fakeView{page: 1, hasNext: true, clickMoves: true}

	outcome, err := newTestAdvancer().Advance(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, Moved, outcome)
	assert.Equal(t, 1, view.clicks)
	assert.Equal(t, 2, view.page)
}

func TestAdvance_ExhaustedBanner(t *testing.T) {
	view := &fakeView{page: 3, hasNext: true, banner: true}

	outcome, err := newTestAdvancer().Advance(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, Exhausted, outcome)
	assert.Zero(t, view.clicks)
}

func TestAdvance_MissingNextControlIsExhausted(t *testing.T) {
	view := &fakeView{page: 5, hasNext: false}

	outcome, err := newTestAdvancer().Advance(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, Exhausted, outcome)
	assert.Zero(t, view.clicks)
}

func TestAdvance_NextControlErrorIsNotExhaustion(t *testing.T) {
	view := &fakeView{page: 2, hasNext: true, nextErrs: 100}

	outcome, err := newTestAdvancer().Advance(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, Failed, outcome)
	assert.Zero(t, view.clicks)
	assert.NotZero(t, view.reloads)
}

func TestAdvance_TransientNextControlErrorStillMoves(t *testing.T) {
	view := &fakeView{page: 1, hasNext: true, clickMoves: true, nextErrs: 1}

	outcome, err := newTestAdvancer().Advance(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, Moved, outcome)
	assert.Equal(t, 2, view.page)
}

func TestAdvance_FailedWhenFingerprintNeverChanges(t *testing.T) {
	view := &fakeView{page: 2, hasNext: true, url: "https://example.com/search?q=cto"}

	outcome, err := newTestAdvancer().Advance(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, Failed, outcome)
	// Three attempts plus the reload rescue click
	assert.Equal(t, 4, view.clicks)
	// Two recoveries between attempts plus the rescue reload
	assert.Equal(t, 3, view.reloads)
	assert.Empty(t, view.navigated)
}

func TestAdvance_URLRescue(t *testing.T) {
	view := &fakeView{page: 2, hasNext: true, url: "https://example.com/search?page=2&q=cto"}

	outcome, err := newTestAdvancer().Advance(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, Moved, outcome)
	require.Len(t, view.navigated, 1)
	assert.True(t, strings.Contains(view.navigated[0], "page=3"))
}

func TestAdvance_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	view := &fakeView{page: 1, hasNext: true}

	_, err := newTestAdvancer().Advance(ctx, view)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextPageURL(t *testing.T) {
	config := Config{PageParams: []string{"page"}, OffsetParams: []string{"start", "offset"}, PageSize: 25}

	next, ok := nextPageURL("https://example.com/s?page=4", config)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/s?page=5", next)

	next, ok = nextPageURL("https://example.com/s?offset=50&q=x", config)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/s?offset=75&q=x", next)

	_, ok = nextPageURL("https://example.com/s?q=x", config)
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	assert.Empty(t, fingerprint(resultSummary{}))
	a := fingerprint(resultSummary{Count: 25, First: "/lead/1", Last: "/lead/25"})
	b := fingerprint(resultSummary{Count: 25, First: "/lead/26", Last: "/lead/50"})
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, fingerprint(resultSummary{Count: 25, First: "/lead/1", Last: "/lead/25"}))
}
