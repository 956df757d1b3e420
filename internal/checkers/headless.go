package checkers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/verwatch/verwatch/internal/check"
)

// HeadlessConfig controls the browser-backed checker.
type HeadlessConfig struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Headless resolves versions from pages that only render their version
// string through JavaScript. It drives headless Chrome via chromedp; the
// spec's version_key is a CSS selector and version_pattern narrows the
// selected text (or the rendered DOM when no selector is given).
type Headless struct {
	cfg         HeadlessConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewHeadless creates the checker and its browser allocator. Close must be
// called to tear the allocator down.
func NewHeadless(cfg HeadlessConfig) (*Headless, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Headless{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (h *Headless) Close() {
	h.allocCancel()
}

// Check renders the page and extracts the version from the live DOM.
func (h *Headless) Check(ctx context.Context, _ string, spec check.SourceSpec) (check.VersionInfo, error) {
	const op = "checkers.headless"
	if spec.VersionKey == "" && spec.VersionPattern == "" {
		return check.VersionInfo{}, check.NewError(check.KindConfiguration, op,
			"headless sources need a version_key selector or a version_pattern")
	}
	if err := h.acquire(ctx); err != nil {
		return check.VersionInfo{}, check.WrapError(check.Classify(err), op, err)
	}
	defer h.release()

	taskCtx, taskCancel := chromedp.NewContext(h.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, h.cfg.NavigationTimeout)
	defer cancel()

	// Tie the browser task to the caller so scheduler cancellation unwinds it.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	var rendered string
	actions := []chromedp.Action{
		h.headerAction(spec.Headers),
		chromedp.Navigate(spec.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if spec.VersionKey != "" {
		actions = append(actions, chromedp.Text(spec.VersionKey, &rendered, chromedp.ByQuery))
	} else {
		actions = append(actions, chromedp.OuterHTML("html", &rendered, chromedp.ByQuery))
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return check.VersionInfo{}, fmt.Errorf("render %s: %w", spec.URL, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return check.VersionInfo{}, check.WrapError(check.KindTimeout, op,
				fmt.Errorf("render %s timed out after %s", spec.URL, h.cfg.NavigationTimeout))
		}
		return check.VersionInfo{}, check.WrapError(check.KindNetwork, op,
			fmt.Errorf("render %s: %w", spec.URL, err))
	}

	rendered = strings.TrimSpace(rendered)
	if rendered == "" {
		return check.VersionInfo{}, check.NewError(check.KindParse, op,
			fmt.Sprintf("selector %q rendered nothing on %s", spec.VersionKey, spec.URL))
	}
	raw, err := extractVersion(op, rendered, spec.VersionPattern)
	if err != nil {
		return check.VersionInfo{}, err
	}
	return buildInfo(raw, time.Time{}, map[string]string{"page": spec.URL}), nil
}

func (h *Headless) headerAction(headers map[string]string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if len(headers) == 0 {
			return nil
		}
		extra := make(network.Headers, len(headers))
		for k, v := range headers {
			extra[k] = v
		}
		return network.SetExtraHTTPHeaders(extra).Do(ctx)
	})
}

func (h *Headless) acquire(ctx context.Context) error {
	if h.limiter == nil {
		return nil
	}
	select {
	case h.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Headless) release() {
	if h.limiter != nil {
		<-h.limiter
	}
}
