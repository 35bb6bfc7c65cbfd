package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/price-tracker/internal/extract"
	"github.com/playwright-community/playwright-go"
)

// Session is one rendered product page. Closing it tears down the whole
// browser that produced it.
type Session interface {
	extract.Page
	Close() error
}

// Launcher renders a URL in a fresh browser.
type Launcher interface {
	Open(ctx context.Context, url string) (Session, error)
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	Locale         string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-IN,en;q=0.9",
		Locale:         "en-IN",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		},
	}
}

// PlaywrightLauncher starts a headless Chromium per Open call.
type PlaywrightLauncher struct {
	opts   *Options
	logger *slog.Logger
}

func NewPlaywrightLauncher(opts *Options, logger *slog.Logger) *PlaywrightLauncher {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &PlaywrightLauncher{
		opts:   opts,
		logger: logger.With("component", "browser"),
	}
}

// Open launches a browser, navigates to url and waits for DOM readiness. On
// any failure everything started so far is released before returning.
func (l *PlaywrightLauncher) Open(ctx context.Context, url string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, err := l.launch()
	if err != nil {
		return nil, err
	}

	page, err := s.context.NewPage()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(l.opts.Timeout.Milliseconds()))
	s.page = page

	start := time.Now()
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(l.opts.Timeout.Milliseconds())),
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	l.logger.Debug("page rendered", "url", url, "duration", time.Since(start))
	return s, nil
}

func (l *PlaywrightLauncher) launch() (*session, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &l.opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := map[string]string{"Accept-Language": l.opts.AcceptLanguage}
	for k, v := range l.opts.ExtraHeaders {
		headers[k] = v
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         &l.opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &l.opts.Locale,
		Viewport: &playwright.Size{
			Width:  l.opts.ViewportWidth,
			Height: l.opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &session{pw: pw, browser: browser, context: bctx}, nil
}

type session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

func (s *session) First(query, attr string) (string, error) {
	el, err := s.page.QuerySelector(query)
	if err != nil {
		return "", err
	}
	if el == nil {
		return "", extract.ErrNoMatch
	}
	return readElement(el, attr)
}

func (s *session) All(query, attr string) ([]string, error) {
	els, err := s.page.QuerySelectorAll(query)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, extract.ErrNoMatch
	}

	values := make([]string, 0, len(els))
	for _, el := range els {
		v, err := readElement(el, attr)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func readElement(el playwright.ElementHandle, attr string) (string, error) {
	var (
		v   string
		err error
	)
	if attr == "" {
		v, err = el.TextContent()
	} else {
		v, err = el.GetAttribute(attr)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

// Close releases the context (and with it the page), the browser and the
// playwright driver, collecting every failure.
func (s *session) Close() error {
	var errs []error

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}
