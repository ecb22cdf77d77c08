package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/retry"
)

const defaultActionTimeout = 30 * time.Second

// ChromeOptions configure a local headless Chrome.
type ChromeOptions struct {
	Headless  bool   `mapstructure:"headless"`
	UserAgent string `mapstructure:"user-agent"`
	ExecPath  string `mapstructure:"exec-path"`
}

// ChromeBrowser drives Chrome over the DevTools protocol.
type ChromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

var _ Browser = (*ChromeBrowser)(nil)

// NewChromeFactory returns a BrowserFactory starting Chrome with opts.
func NewChromeFactory(opts ChromeOptions, logger *zap.Logger) BrowserFactory {
	return func(ctx context.Context) (Browser, error) {
		return NewChromeBrowser(ctx, opts, logger)
	}
}

// NewChromeBrowser starts Chrome and opens a tab. The session outlives ctx;
// it ends on Close.
func NewChromeBrowser(ctx context.Context, opts ChromeOptions, logger *zap.Logger) (*ChromeBrowser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.Flag("headless", opts.Headless))
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx)

	b := &ChromeBrowser{ctx: tabCtx, cancel: cancel, allocCancel: allocCancel, logger: logger}

	if err := ctx.Err(); err != nil {
		b.Close()
		return nil, err
	}
	// The first Run on the tab context starts the browser process; a derived
	// context here would tie the process lifetime to it.
	if err := chromedp.Run(tabCtx); err != nil {
		b.Close()
		return nil, &retry.BrowserError{Op: "start", Err: err}
	}

	logger.Debug("browser session started", zap.Bool("headless", opts.Headless))
	return b, nil
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (b *ChromeBrowser) run(ctx context.Context, op string, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	opCtx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &retry.BrowserError{Op: op, Err: err}
	}
	return nil
}

func (b *ChromeBrowser) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return b.run(ctx, "navigate", timeout, chromedp.Navigate(url))
}

func (b *ChromeBrowser) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return b.run(ctx, "wait "+selector, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (b *ChromeBrowser) Scroll(ctx context.Context) error {
	return b.run(ctx, "scroll", 0, chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil))
}

func (b *ChromeBrowser) ExtractCards(ctx context.Context, sel CardSelectors) ([]Card, error) {
	script, err := extractScript(sel)
	if err != nil {
		return nil, err
	}

	var cards []Card
	if err := b.run(ctx, "extract", 0, chromedp.Evaluate(script, &cards)); err != nil {
		return nil, err
	}
	return cards, nil
}

func (b *ChromeBrowser) Click(ctx context.Context, selector string) error {
	return b.run(ctx, "click "+selector, 0, chromedp.Click(selector, chromedp.ByQuery))
}

func (b *ChromeBrowser) Type(ctx context.Context, selector, text string) error {
	return b.run(ctx, "type "+selector, 0, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (b *ChromeBrowser) Close() error {
	b.cancel()
	b.allocCancel()
	b.logger.Debug("browser session closed")
	return nil
}

func extractScript(sel CardSelectors) (string, error) {
	quoted := make([]string, 0, 5)
	for _, s := range []string{sel.Card, sel.Link, sel.Title, sel.Company, sel.Location} {
		raw, err := json.Marshal(s)
		if err != nil {
			return "", fmt.Errorf("quote selector: %w", err)
		}
		quoted = append(quoted, string(raw))
	}

	return fmt.Sprintf(`(() => Array.from(document.querySelectorAll(%s)).map(el => {
  const text = s => { const n = s ? el.querySelector(s) : null; return n ? n.textContent.trim() : ""; };
  const link = %s ? el.querySelector(%s) : null;
  return {url: link ? link.href : "", title: text(%s), company: text(%s), location: text(%s)};
}))()`, quoted[0], quoted[1], quoted[1], quoted[2], quoted[3], quoted[4]), nil
}
