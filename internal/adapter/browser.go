package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// browserRenderer renders JS-heavy pages through a headless Chromium
// instance for sources configured with render_js, pooling pages so a
// handful of concurrent scans don't each pay the page-creation cost.
//
// Adapted from the teacher's internal/fetcher/browser.go, trimmed to what
// GenericHTML needs: a rendered-HTML fetch, not a general-purpose Fetcher.
type browserRenderer struct {
	browser  *rod.Browser
	logger   *slog.Logger
	mu       sync.Mutex
	pagePool chan *rod.Page
	maxPages int
}

var (
	sharedRenderer     *browserRenderer
	sharedRendererOnce sync.Once
	sharedRendererErr  error
)

// getBrowserRenderer lazily launches one shared headless browser for the
// process's lifetime; render_js sources are expected to be the exception,
// not the rule, so paying the launch cost once beats one browser per source.
func getBrowserRenderer(logger *slog.Logger) (*browserRenderer, error) {
	sharedRendererOnce.Do(func() {
		sharedRenderer, sharedRendererErr = newBrowserRenderer(logger)
	})
	return sharedRenderer, sharedRendererErr
}

func newBrowserRenderer(logger *slog.Logger) (*browserRenderer, error) {
	const maxPages = 4

	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	launchURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch headless browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect headless browser: %w", err)
	}

	return &browserRenderer{
		browser:  browser,
		logger:   logger.With("component", "browser_renderer"),
		pagePool: make(chan *rod.Page, maxPages),
		maxPages: maxPages,
	}, nil
}

// render navigates to url, waits for the DOM to settle, and returns the
// rendered HTML. waitSelector, if non-empty, is additionally awaited before
// the page content is read (for content that mounts after the initial
// stability window, e.g. infinite-scroll galleries).
func (br *browserRenderer) render(ctx context.Context, rawURL string, userAgent string, waitSelector string) ([]byte, error) {
	page, err := br.getPage()
	if err != nil {
		return nil, fmt.Errorf("acquire browser page: %w", err)
	}
	defer br.putPage(page)

	if userAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
			br.logger.Warn("failed to set user agent", "error", err)
		}
	}

	deadline, ok := ctx.Deadline()
	timeout := 30 * time.Second
	if ok {
		timeout = time.Until(deadline)
	}

	if err := page.Timeout(timeout).Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		br.logger.Warn("page stability timeout, continuing", "url", rawURL, "error", err)
	}
	if waitSelector != "" {
		if err := page.Timeout(10 * time.Second).MustElement(waitSelector).WaitVisible(); err != nil {
			br.logger.Warn("wait selector timeout", "selector", waitSelector, "error", err)
		}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read rendered html %s: %w", rawURL, err)
	}
	return []byte(html), nil
}

func (br *browserRenderer) getPage() (*rod.Page, error) {
	select {
	case page := <-br.pagePool:
		return page, nil
	default:
		return stealth.Page(br.browser)
	}
}

func (br *browserRenderer) putPage(page *rod.Page) {
	_ = page.Navigate("about:blank")
	select {
	case br.pagePool <- page:
	default:
		_ = page.Close()
	}
}

// Close shuts down the browser, if one was launched.
func (br *browserRenderer) Close() error {
	close(br.pagePool)
	for page := range br.pagePool {
		_ = page.Close()
	}
	if br.browser != nil {
		return br.browser.Close()
	}
	return nil
}
