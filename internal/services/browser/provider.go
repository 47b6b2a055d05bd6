// -----------------------------------------------------------------------
// Browser Provider - single chromedp-driven Chrome session
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/common"
	"github.com/ternarybob/prospector/internal/interfaces"
)

// Provider launches the automated Chrome instance
type Provider struct {
	config common.BrowserConfig
	logger arbor.ILogger
}

// NewProvider creates a browser provider
func NewProvider(config common.BrowserConfig, logger arbor.ILogger) *Provider {
	return &Provider{config: config, logger: logger}
}

// allocatorOptions builds the exec allocator flags for config
func allocatorOptions(config common.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", config.DisableGPU),
		chromedp.Flag("no-sandbox", config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
	)
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(config.UserDataDir))
	}
	if config.WindowWidth > 0 && config.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(config.WindowWidth, config.WindowHeight))
	}
	if len(config.ExtensionDirs) > 0 {
		dirs := strings.Join(config.ExtensionDirs, ",")
		// DefaultExecAllocatorOptions disables extensions; the sidebars are extensions
		opts = append(opts,
			chromedp.Flag("disable-extensions", false),
			chromedp.Flag("disable-extensions-except", dirs),
			chromedp.Flag("load-extension", dirs),
		)
	}
	return opts
}

// Launch starts Chrome, verifies it responds and returns the session for its first tab
func (p *Provider) Launch(ctx context.Context) (interfaces.BrowserSession, error) {
	startTime := time.Now()

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(p.config)...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	probeCtx, probeCancel := context.WithTimeout(browserCtx, p.config.LaunchTimeout.Or(45*time.Second))
	stop := context.AfterFunc(ctx, probeCancel)
	err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank"))
	stop()
	probeCancel()
	if err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	session := &Session{
		id:            uuid.NewString(),
		ctx:           browserCtx,
		actionTimeout: p.config.ActionTimeout.Or(30 * time.Second),
		logger:        p.logger,
		owned:         true,
	}
	session.release = func() {
		browserCancel()
		allocatorCancel()
	}

	p.logger.Info().
		Str("session_id", session.id).
		Bool("headless", p.config.Headless).
		Int("extensions", len(p.config.ExtensionDirs)).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session launched")

	return session, nil
}
