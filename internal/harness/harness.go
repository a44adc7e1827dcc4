// Package harness runs one simulated play session of a candidate in a headless
// page and classifies the result as Ok, Failed or Unavailable.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gamegate/internal/artifact"
	"gamegate/internal/assets"
	"gamegate/internal/browser"
	"gamegate/internal/logging"
	"gamegate/internal/rules"
)

// Classification is the tri-state runtime verdict.
type Classification int

const (
	Ok Classification = iota
	Failed
	Unavailable
)

func (c Classification) String() string {
	switch c {
	case Ok:
		return "ok"
	case Failed:
		return "failed"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("Classification(%d)", int(c))
	}
}

// Outcome is the result of one runtime check.
type Outcome struct {
	Classification Classification
	ElapsedMs      int       // set when Ok
	Scores         []float64 // first four scores, set when Ok
	Message        string
	Fault          EnvFault // set when Unavailable
}

// Page is the browser surface the harness drives. *browser.Session implements it.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Evaluate(ctx context.Context, js string, args ...interface{}) error
	WaitFor(ctx context.Context, js string, timeout time.Duration) error
	Read(ctx context.Context, js string, dst interface{}) error
	Console() []string
	Close() error
}

// Driver probes for and opens browser pages.
type Driver interface {
	Probe() error
	Open(ctx context.Context) (Page, error)
}

// Options are the harness timings and layout.
type Options struct {
	SDKPath           string // empty: <candidate dir>/../public/maribro-sdk.js
	EntryName         string
	SimulatedDuration time.Duration
	SDKWaitTimeout    time.Duration
	CompletionTimeout time.Duration
	NavigationTimeout time.Duration
}

const evalTimeout = 5 * time.Second

// Harness executes runtime checks. It holds no per-run state and may be
// reused; every Run owns its own server, directory and browser.
type Harness struct {
	opts   Options
	driver Driver
}

// New builds a harness driving real Chromium through go-rod.
func New(opts Options, cfg browser.Config) *Harness {
	return NewWithDriver(opts, rodDriver{cfg: cfg})
}

// NewWithDriver builds a harness over any page driver.
func NewWithDriver(opts Options, d Driver) *Harness {
	if opts.EntryName == "" {
		opts.EntryName = "game.html"
	}
	return &Harness{opts: opts, driver: d}
}

// SDKPathFor resolves the SDK asset for a candidate: the configured path, or
// public/maribro-sdk.js one level above the candidate's directory.
func SDKPathFor(candidatePath, configured string) string {
	if configured != "" {
		return configured
	}
	return filepath.Join(filepath.Dir(filepath.Dir(candidatePath)), "public", rules.SDKReference)
}

// Run performs the full runtime check. It never returns an error: every
// failure mode becomes an Outcome. All resources are released before return.
func (h *Harness) Run(ctx context.Context, a *artifact.Artifact) Outcome {
	log := logging.Get(logging.CategoryRuntime)

	if err := h.driver.Probe(); err != nil {
		return fromError(err)
	}

	if !strings.Contains(a.Lower, rules.SDKReference) {
		return Outcome{
			Classification: Failed,
			Message:        "candidate does not include " + rules.SDKReference + "; runtime check skipped",
		}
	}

	sdkPath := SDKPathFor(a.Path, h.opts.SDKPath)
	srv, err := assets.Start(assets.Options{
		CandidatePath: a.Path,
		Candidate:     a.Raw,
		SDKPath:       sdkPath,
		SDKName:       rules.SDKReference,
		EntryName:     h.opts.EntryName,
	})
	if err != nil {
		if errors.Is(err, assets.ErrSDKMissing) {
			return Outcome{Classification: Failed, Message: "missing SDK file: " + sdkPath}
		}
		return fromError(err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Warn("asset server cleanup: %v", err)
		}
	}()

	page, err := h.driver.Open(ctx)
	if err != nil {
		return fromError(err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Warn("browser cleanup: %v", err)
		}
	}()

	out := h.play(ctx, page, srv)
	if out.Classification != Ok {
		for _, line := range page.Console() {
			log.Warn("page: %s", line)
		}
	}
	log.Debug("%s: %s %s", a.Path, out.Classification, out.Message)
	return out
}

func (h *Harness) play(ctx context.Context, page Page, srv *assets.Server) Outcome {
	if err := page.Navigate(ctx, srv.EntryURL(), h.opts.NavigationTimeout); err != nil {
		return fromError(err)
	}

	if err := page.WaitFor(ctx, sdkReadyJS, h.opts.SDKWaitTimeout); err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			return h.diagnoseSDKTimeout(ctx, page, srv)
		}
		return fromError(err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	err := page.Evaluate(evalCtx, controllerJS, h.opts.SimulatedDuration.Milliseconds())
	cancel()
	if err != nil {
		return fromError(err)
	}

	if err := page.WaitFor(ctx, doneJS, h.opts.CompletionTimeout); err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			return Outcome{Classification: Failed, Message: "game did not call endGame before timeout"}
		}
		return fromError(err)
	}

	var observed struct {
		Done         bool            `json:"done"`
		ElapsedMs    float64         `json:"elapsedMs"`
		ScoresBySlot json.RawMessage `json:"scoresBySlot"`
	}
	evalCtx, cancel = context.WithTimeout(ctx, evalTimeout)
	err = page.Read(evalCtx, resultJS, &observed)
	cancel()
	if err != nil {
		return fromError(err)
	}

	scores, err := ValidateScores(observed.ScoresBySlot)
	if err != nil {
		return Outcome{Classification: Failed, Message: err.Error()}
	}
	elapsed := int(observed.ElapsedMs)
	return Outcome{
		Classification: Ok,
		ElapsedMs:      elapsed,
		Scores:         scores,
		Message:        fmt.Sprintf("endGame observed in %dms", elapsed),
	}
}

// diagnoseSDKTimeout separates "the page never loaded" (environment) from
// "the page loaded but the SDK never initialised" (the game).
func (h *Harness) diagnoseSDKTimeout(ctx context.Context, page Page, srv *assets.Server) Outcome {
	if srv.Served(h.opts.EntryName) == 0 {
		return Outcome{
			Classification: Unavailable,
			Message:        "browser never requested the page from the local asset server",
		}
	}

	var state struct {
		ReadyState string `json:"readyState"`
	}
	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()
	if err := page.Read(evalCtx, pageStateJS, &state); err != nil {
		return Outcome{
			Classification: Failed,
			Message:        "page became unresponsive while waiting for window.Maribro: " + firstLine(err.Error()),
		}
	}

	if !srv.SDKServed() {
		return Outcome{
			Classification: Failed,
			Message:        "window.Maribro never appeared: page did not request " + rules.SDKReference,
		}
	}
	return Outcome{
		Classification: Failed,
		Message:        fmt.Sprintf("window.Maribro never appeared (document %s)", state.ReadyState),
	}
}

// fromError classifies an unanticipated error.
func fromError(err error) Outcome {
	msg := err.Error()
	fault := ClassifyFault(msg)
	if fault.Unavailable() {
		logging.Get(logging.CategoryRuntime).Debug("environment fault %s: %s", fault.Kind, firstLine(msg))
		return Outcome{Classification: Unavailable, Message: fault.Remediation, Fault: fault}
	}
	return Outcome{Classification: Failed, Message: "runtime check error: " + firstLine(msg)}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown runtime error"
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

type rodDriver struct {
	cfg browser.Config
}

func (d rodDriver) Probe() error {
	_, err := browser.Probe(d.cfg)
	return err
}

func (d rodDriver) Open(ctx context.Context) (Page, error) {
	s, err := browser.Open(ctx, d.cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
