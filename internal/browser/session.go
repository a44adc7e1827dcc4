// Package browser drives a single headless Chromium page through go-rod.
// A Session owns its browser process end to end: Open launches it, Close
// kills it and removes its profile directory.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"gamegate/internal/logging"
)

var (
	// ErrBrowserNotFound means no Chromium binary is available and downloading is disabled.
	ErrBrowserNotFound = errors.New("browser executable doesn't exist")

	// ErrTimeout is returned when a bounded wait expires.
	ErrTimeout = errors.New("timed out")
)

const (
	pollInterval   = 50 * time.Millisecond
	maxConsoleKeep = 20
)

// Config holds browser configuration.
type Config struct {
	Bin            string
	Headless       bool
	NoSandbox      bool
	Flags          []string
	AllowDownload  bool
	ViewportWidth  int
	ViewportHeight int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		ViewportWidth:  1280,
		ViewportHeight: 720,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1280
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 720
	}
	return c.ViewportHeight
}

// Probe resolves the browser binary without launching anything. An empty path
// with a nil error means the launcher will download a browser on Open.
func Probe(cfg Config) (string, error) {
	if cfg.Bin != "" {
		if _, err := os.Stat(cfg.Bin); err != nil {
			return "", fmt.Errorf("%w: %s", ErrBrowserNotFound, cfg.Bin)
		}
		return cfg.Bin, nil
	}
	if bin, ok := launcher.LookPath(); ok {
		return bin, nil
	}
	if cfg.AllowDownload {
		return "", nil
	}
	return "", ErrBrowserNotFound
}

// Session is one browser process with a single incognito page.
type Session struct {
	ID string

	launcher *launcher.Launcher
	launched bool
	browser  *rod.Browser
	page     *rod.Page

	stopEvents context.CancelFunc
	eventsDone chan struct{}

	mu      sync.Mutex
	console []string

	closeOnce sync.Once
	closeErr  error
}

// Open launches a browser and opens a blank page. On error everything already
// started is torn down.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	bin, err := Probe(cfg)
	if err != nil {
		return nil, err
	}

	l := launcher.New().Context(ctx).Headless(cfg.Headless).NoSandbox(cfg.NoSandbox)
	if bin != "" {
		l = l.Bin(bin)
	}
	for _, rawFlag := range cfg.Flags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	s := &Session{ID: uuid.NewString(), launcher: l}
	if err := s.start(ctx, cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	logging.Get(logging.CategoryBrowser).Debug("[session:%s] opened (bin=%q)", s.ID, bin)
	return s, nil
}

func (s *Session) start(ctx context.Context, cfg Config) error {
	controlURL, err := s.launcher.Launch()
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}
	s.launched = true

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	s.browser = b

	incognito, err := b.Incognito()
	if err != nil {
		return fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	s.page = page

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.GetViewportWidth(),
		Height:            cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.Get(logging.CategoryBrowser).Warn("[session:%s] set viewport: %v", s.ID, err)
	}

	s.startConsoleStream(ctx)
	return nil
}

// startConsoleStream keeps the most recent console errors and uncaught
// exceptions so a failed run can say what the page complained about.
func (s *Session) startConsoleStream(ctx context.Context) {
	evCtx, cancel := context.WithCancel(ctx)
	s.stopEvents = cancel
	s.eventsDone = make(chan struct{})

	wait := s.page.Context(evCtx).EachEvent(
		func(ev *proto.RuntimeConsoleAPICalled) {
			if ev.Type != proto.RuntimeConsoleAPICalledTypeError {
				return
			}
			s.remember("console.error: " + stringifyConsoleArgs(ev.Args))
		},
		func(ev *proto.RuntimeExceptionThrown) {
			if ev.ExceptionDetails == nil {
				return
			}
			text := ev.ExceptionDetails.Text
			if ex := ev.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
				text = ex.Description
			}
			s.remember("uncaught: " + firstLine(text))
		},
	)
	go func() {
		defer close(s.eventsDone)
		wait()
	}()
}

func (s *Session) remember(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.console) == maxConsoleKeep {
		s.console = s.console[1:]
	}
	s.console = append(s.console, line)
}

// Console returns the recent console errors and uncaught exceptions, oldest first.
func (s *Session) Console() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.console...)
}

// Navigate loads url, bounded by timeout.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.page.Context(ctx).Navigate(url); err != nil {
		return wrapDeadline(ctx, fmt.Errorf("navigate %s: %w", url, err))
	}
	return nil
}

// Evaluate runs a JS function expression in the page, awaiting a returned promise.
func (s *Session) Evaluate(ctx context.Context, js string, args ...interface{}) error {
	_, err := s.page.Context(ctx).Evaluate(rod.Eval(js, args...).ByPromise())
	if err != nil {
		return wrapDeadline(ctx, fmt.Errorf("evaluate: %w", err))
	}
	return nil
}

// WaitFor polls the JS predicate until it returns true or timeout expires.
// Evaluation errors while polling are treated as transient (the page may be
// mid-navigation) and reported only if the wait times out.
func (s *Session) WaitFor(ctx context.Context, js string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		res, err := s.page.Context(ctx).Eval(js)
		if err == nil && res.Value.Bool() {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			if lastErr != nil && !errors.Is(lastErr, context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s (last error: %v)", ErrTimeout, timeout, lastErr)
			}
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-ticker.C:
		}
	}
}

// Read evaluates a JS function expression and decodes its JSON value into dst.
func (s *Session) Read(ctx context.Context, js string, dst interface{}) error {
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return wrapDeadline(ctx, fmt.Errorf("read: %w", err))
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}

// Close shuts the page, the browser and the browser process down and removes
// the profile directory. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.stopEvents != nil {
			s.stopEvents()
		}
		if s.page != nil {
			if err := s.page.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close page: %w", err))
			}
		}
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
		}
		if s.eventsDone != nil {
			<-s.eventsDone
		}
		// Cleanup blocks until the process exits, so only after a successful launch.
		if s.launched {
			s.launcher.Kill()
			s.launcher.Cleanup()
		}
		s.closeErr = errors.Join(errs...)
		logging.Get(logging.CategoryBrowser).Debug("[session:%s] closed", s.ID)
	})
	return s.closeErr
}

func wrapDeadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
