// Package render drives a headless browser to fetch pages that need
// JavaScript.
//
// The Engine owns one browser process shared by all concurrent renders of
// a session. Each render works on its own page. The process is relaunched
// after a number of pages to bound memory growth, and the engine disables
// itself instead of failing when the browser cannot run. A disabled engine
// returns no result, which makes the caller fall back to a static fetch.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/model"
)

// Navigation timing.
const (
	NetworkIdleTimeout = 45 * time.Second
	DOMReadyTimeout    = 20 * time.Second
	SelectorTimeout    = 10 * time.Second
	SettleDelay        = 750 * time.Millisecond
)

// State is the lifecycle state of an Engine.
type State int32

// Engine states. StateDisabled is absorbing.
const (
	StateUninitialized State = iota
	StateLaunching
	StateReady
	StateRendering
	StateClosed
	StateDisabled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateRendering:
		return "rendering"
	case StateClosed:
		return "closed"
	case StateDisabled:
		return "disabled"
	default:
		return "invalid"
	}
}

// Request describes one page to render.
type Request struct {
	URL       string
	UserAgent string
	Site      config.SiteConfig
	Cookies   []config.Cookie
}

// Navigation is the wait strategy of one render.
type Navigation struct {
	// WaitNetworkIdle waits for network idle instead of DOMContentLoaded.
	WaitNetworkIdle bool
	Timeout         time.Duration
	WaitSelector    string
	SelectorTimeout time.Duration
	Settle          time.Duration
}

// NavigationFor returns the wait strategy for a site.
func NavigationFor(site config.SiteConfig) Navigation {
	nav := Navigation{
		Timeout:         DOMReadyTimeout,
		WaitSelector:    site.WaitSelector,
		SelectorTimeout: SelectorTimeout,
		Settle:          SettleDelay,
	}
	if site.JSHeavy {
		nav.WaitNetworkIdle = true
		nav.Timeout = NetworkIdleTimeout
	}
	return nav
}

// Browser is a running headless browser process.
type Browser interface {
	// Render loads req in a new page and extracts the result.
	Render(ctx context.Context, req Request, nav Navigation) (*model.FetchResult, error)

	// Close terminates the process.
	Close() error
}

// LaunchOptions configures a browser launch.
type LaunchOptions struct {
	// NoSandbox disables the browser sandbox.
	NoSandbox bool

	// Bin is the browser binary. Empty lets the launcher find or download one.
	Bin string

	// Proxy is passed to the browser as --proxy-server when set,
	// e.g. "socks5://127.0.0.1:9050".
	Proxy string
}

// Launcher starts a browser process.
type Launcher func(ctx context.Context, opts LaunchOptions) (Browser, error)

// Engine is the render subsystem of one session.
type Engine struct {
	// mu guards browser. Render holds the read lock for a whole
	// navigation; recycle and Close take the write lock.
	mu      sync.RWMutex
	browser Browser

	stateMu  sync.Mutex
	state    State
	inflight int
	notice   string

	pages  atomic.Int64
	broken atomic.Bool

	launch     Launcher
	probe      MemoryProbe
	env        *Environment
	threshold  int64
	browserBin string
	proxy      string
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLauncher sets the browser launcher.
func WithLauncher(l Launcher) Option {
	return func(e *Engine) {
		e.launch = l
	}
}

// WithMemoryProbe sets the memory probe used by Initialize.
func WithMemoryProbe(p MemoryProbe) Option {
	return func(e *Engine) {
		e.probe = p
	}
}

// WithEnvironment overrides environment detection.
func WithEnvironment(env Environment) Option {
	return func(e *Engine) {
		e.env = &env
	}
}

// WithRecycleThreshold overrides the environment-dependent recycle threshold.
func WithRecycleThreshold(n int64) Option {
	return func(e *Engine) {
		e.threshold = n
	}
}

// WithBrowserBin sets the browser binary.
func WithBrowserBin(bin string) Option {
	return func(e *Engine) {
		e.browserBin = bin
	}
}

// WithProxy routes browser traffic through proxy.
func WithProxy(proxy string) Option {
	return func(e *Engine) {
		e.proxy = proxy
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an uninitialized Engine. It launches the rod browser
// unless WithLauncher is given.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.launch == nil {
		e.launch = RodLauncher(e.logger)
	}
	if e.probe == nil {
		e.probe = ProcMeminfo
	}
	if e.env == nil {
		env := DetectEnvironment(e.probe)
		e.env = &env
	}
	if e.threshold <= 0 {
		e.threshold = e.env.RecycleThreshold()
	}

	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// Notice returns the reason the engine was disabled, if it was.
func (e *Engine) Notice() string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.notice
}

// Initialize checks memory headroom and launches the browser. It never
// fails: when rendering is not possible the engine is disabled and the
// returned notice explains why.
func (e *Engine) Initialize(ctx context.Context) (bool, string) {
	e.stateMu.Lock()
	switch e.state {
	case StateDisabled:
		notice := e.notice
		e.stateMu.Unlock()
		return false, notice
	case StateReady, StateRendering:
		e.stateMu.Unlock()
		return true, ""
	case StateClosed:
		e.stateMu.Unlock()
		return false, "dynamic rendering unavailable: renderer is closed"
	}
	e.state = StateLaunching
	e.stateMu.Unlock()

	if info, err := e.probe(); err == nil && info.Available < minAvailableMemory {
		notice := fmt.Sprintf("dynamic rendering disabled: only %d MiB of memory available", info.Available>>20)
		e.disable(notice)
		return false, notice
	} else if err != nil {
		e.logger.Debug("memory probe failed, skipping headroom check", "error", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.relaunchLocked(ctx); err != nil {
		notice := fmt.Sprintf("dynamic rendering disabled: %v", err)
		e.disable(notice)
		return false, notice
	}

	e.setState(StateReady)
	e.logger.Info("browser launched",
		"no_sandbox", e.env.Isolated,
		"recycle_threshold", e.threshold,
	)
	return true, ""
}

// Render loads req in the browser. A nil result with a nil error means
// "no result": the engine is not usable or the failure was transient, and
// the caller should fetch the page statically.
func (e *Engine) Render(ctx context.Context, req Request) (*model.FetchResult, error) {
	if !e.usable() {
		return nil, nil
	}

	e.recycleIfNeeded(ctx)

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.browser == nil || !e.enterRender() {
		return nil, nil
	}
	defer e.leaveRender()

	res, err := e.browser.Render(ctx, req, NavigationFor(req.Site))
	e.pages.Add(1)

	if err != nil {
		if IsRecoverable(err) {
			e.broken.Store(true)
			e.logger.Debug("render failed, falling back to static fetch", "url", req.URL, "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to render %s: %w", req.URL, err)
	}
	if res == nil {
		return nil, nil
	}

	res.IsDynamic = true
	return res, nil
}

// Close shuts the browser down. It is safe to call more than once and
// never fails.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			e.logger.Debug("failed to close browser", "error", err)
		}
		e.browser = nil
	}

	e.stateMu.Lock()
	if e.state != StateDisabled {
		e.state = StateClosed
	}
	e.stateMu.Unlock()
}

// PagesSinceLaunch returns the number of renders on the current browser.
func (e *Engine) PagesSinceLaunch() int64 {
	return e.pages.Load()
}

// recycleIfNeeded relaunches the browser once the page counter reaches the
// threshold or a render flagged it as broken. A failing close is logged
// and the relaunch goes ahead.
func (e *Engine) recycleIfNeeded(ctx context.Context) {
	if !e.needsRecycle() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.needsRecycle() || !e.usable() {
		return
	}

	e.logger.Debug("recycling browser", "pages", e.pages.Load(), "broken", e.broken.Load())

	if err := e.relaunchLocked(ctx); err != nil {
		e.disable(fmt.Sprintf("dynamic rendering disabled: %v", err))
	}
}

// relaunchLocked replaces the browser. e.mu must be held for writing.
func (e *Engine) relaunchLocked(ctx context.Context) error {
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			e.logger.Warn("failed to close browser before relaunch", "error", err)
		}
		e.browser = nil
	}

	b, err := e.launch(ctx, LaunchOptions{NoSandbox: e.env.Isolated, Bin: e.browserBin, Proxy: e.proxy})
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	e.browser = b
	e.pages.Store(0)
	e.broken.Store(false)
	return nil
}

func (e *Engine) needsRecycle() bool {
	return e.broken.Load() || e.pages.Load() >= e.threshold
}

func (e *Engine) usable() bool {
	s := e.State()
	return s == StateReady || s == StateRendering
}

func (e *Engine) enterRender() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state != StateReady && e.state != StateRendering {
		return false
	}
	e.inflight++
	e.state = StateRendering
	return true
}

func (e *Engine) leaveRender() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.inflight--
	if e.inflight == 0 && e.state == StateRendering {
		e.state = StateReady
	}
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state == StateDisabled {
		return
	}
	e.state = s
}

func (e *Engine) disable(notice string) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state == StateDisabled {
		return
	}
	e.state = StateDisabled
	e.notice = notice
	e.logger.Warn("renderer disabled", "reason", notice)
}
