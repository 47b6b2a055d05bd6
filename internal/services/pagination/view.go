package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/interfaces"
)

// SessionView adapts a browser session showing a search results page to ResultView
type SessionView struct {
	session interfaces.BrowserSession
	config  common.PaginationConfig
}

// NewSessionView binds the pagination selectors to session
func NewSessionView(session interfaces.BrowserSession, config common.PaginationConfig) *SessionView {
	return &SessionView{session: session, config: config}
}

type resultSummary struct {
	Count int    `json:"count"`
	First string `json:"first"`
	Last  string `json:"last"`
}

const summaryScript = `(() => {
	const items = Array.from(document.querySelectorAll(%s));
	const identity = (el) => {
		if (!el) return "";
		const link = el.querySelector(%s);
		return link ? (link.getAttribute("href") || link.textContent || "").trim() : (el.textContent || "").trim().slice(0, 200);
	};
	return { count: items.length, first: identity(items[0]), last: identity(items[items.length - 1]) };
})()`

// Fingerprint hashes the item count plus the identity of the first and last visible items
func (v *SessionView) Fingerprint(ctx context.Context) (string, error) {
	items, err := json.Marshal(v.config.ItemSelector)
	if err != nil {
		return "", err
	}
	identity, err := json.Marshal(v.config.ItemIdentitySel)
	if err != nil {
		return "", err
	}

	var summary resultSummary
	if err := v.session.Evaluate(ctx, fmt.Sprintf(summaryScript, items, identity), &summary); err != nil {
		return "", err
	}
	return fingerprint(summary), nil
}

func fingerprint(summary resultSummary) string {
	if summary.Count == 0 {
		return ""
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s", summary.Count, summary.First, summary.Last)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Exhausted reports whether the "no more results" banner is present
func (v *SessionView) Exhausted(ctx context.Context) (bool, error) {
	if v.config.ExhaustedSelector == "" {
		return false, nil
	}
	return v.session.Exists(ctx, v.config.ExhaustedSelector)
}

const usableScript = `(() => {
	const el = document.querySelector(%s);
	return !!el && !el.disabled && el.getAttribute("aria-disabled") !== "true" && !el.classList.contains("disabled");
})()`

const activePageScript = `(() => {
	const el = document.querySelector(%s);
	return el ? (parseInt((el.textContent || "").trim(), 10) || 0) : 0;
})()`

// NextControl prefers the numbered button for the page after the active one, else the generic next button
func (v *SessionView) NextControl(ctx context.Context) (string, bool, error) {
	if v.config.PageButtonFormat != "" && v.config.ActivePageSelector != "" {
		active, err := v.activePage(ctx)
		if err == nil && active > 0 {
			selector := fmt.Sprintf(v.config.PageButtonFormat, active+1)
			if ok, err := v.usable(ctx, selector); err == nil && ok {
				return selector, true, nil
			}
		}
	}

	if v.config.NextSelector == "" {
		return "", false, nil
	}
	ok, err := v.usable(ctx, v.config.NextSelector)
	if err != nil {
		return "", false, err
	}
	return v.config.NextSelector, ok, nil
}

func (v *SessionView) activePage(ctx context.Context) (int, error) {
	sel, err := json.Marshal(v.config.ActivePageSelector)
	if err != nil {
		return 0, err
	}
	var page int
	if err := v.session.Evaluate(ctx, fmt.Sprintf(activePageScript, sel), &page); err != nil {
		return 0, err
	}
	return page, nil
}

func (v *SessionView) usable(ctx context.Context, selector string) (bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := v.session.Evaluate(ctx, fmt.Sprintf(usableScript, sel), &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (v *SessionView) Click(ctx context.Context, selector string) error {
	return v.session.Click(ctx, selector)
}

func (v *SessionView) Reload(ctx context.Context) error {
	return v.session.Reload(ctx)
}

func (v *SessionView) CurrentURL(ctx context.Context) (string, error) {
	return v.session.CurrentURL(ctx)
}

func (v *SessionView) Navigate(ctx context.Context, url string) error {
	return v.session.Navigate(ctx, url)
}
