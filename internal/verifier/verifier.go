// Package verifier runs the full contract pipeline over one candidate: static
// rules, then the runtime check, then aggregation into a report.
package verifier

import (
	"context"

	"gamegate/internal/artifact"
	"gamegate/internal/browser"
	"gamegate/internal/config"
	"gamegate/internal/harness"
	"gamegate/internal/logging"
	"gamegate/internal/report"
	"gamegate/internal/rules"
)

// RuntimeCheckName is the name of the single runtime check in every report.
const RuntimeCheckName = "runtime_end_to_end"

// Runtime performs the live check. *harness.Harness implements it.
type Runtime interface {
	Run(ctx context.Context, a *artifact.Artifact) harness.Outcome
}

// Policy decides how an Unavailable runtime is reported.
type Policy struct {
	AllowNoRuntime bool
	StrictRuntime  bool
}

// RuntimeCheck translates a runtime outcome into the runtime_end_to_end
// result. Unavailable is FAIL unless AllowNoRuntime is set and StrictRuntime
// is not.
func (p Policy) RuntimeCheck(o harness.Outcome) report.CheckResult {
	switch o.Classification {
	case harness.Ok:
		return report.Pass(RuntimeCheckName, o.Message)
	case harness.Unavailable:
		if p.AllowNoRuntime && !p.StrictRuntime {
			return report.Warn(RuntimeCheckName, o.Message+" (static checks still ran)")
		}
		return report.Fail(RuntimeCheckName, o.Message)
	default:
		return report.Fail(RuntimeCheckName, o.Message)
	}
}

// Verifier is the configured pipeline. It is safe for sequential reuse; each
// Verify call is independent.
type Verifier struct {
	engine  *rules.Engine
	runtime Runtime
	policy  Policy
}

// New builds a verifier from explicit parts.
func New(engine *rules.Engine, runtime Runtime, policy Policy) *Verifier {
	return &Verifier{engine: engine, runtime: runtime, policy: policy}
}

// FromConfig wires the verifier from configuration. rt overrides the real
// browser harness when non-nil.
func FromConfig(cfg *config.Config, rt Runtime) *Verifier {
	v := cfg.Verify
	engine := rules.NewEngine(rules.Params{
		MaxBytes:                  v.MaxBytes,
		RenderTextThreshold:       v.RenderTextThreshold,
		EnforceMultiplayerMarkers: v.EnforceMultiplayerMarkers,
	})
	if rt == nil {
		rt = harness.New(HarnessOptions(cfg), BrowserConfig(cfg))
	}
	return New(engine, rt, Policy{AllowNoRuntime: v.AllowNoRuntime, StrictRuntime: v.StrictRuntime})
}

// Verify runs every static rule, then the runtime check, and aggregates. It
// never fails: every anticipated problem is a check result.
func (v *Verifier) Verify(ctx context.Context, a *artifact.Artifact) *report.Report {
	log := logging.Get(logging.CategoryVerify)
	log.Info("verifying %s (%d bytes)", a.Path, a.Size())

	contract := v.engine.Contract(a)
	outcome := v.runtime.Run(ctx, a)
	runtimeCheck := v.policy.RuntimeCheck(outcome)
	metadata := v.engine.Metadata(a)

	rep := report.Aggregate(contract, runtimeCheck, metadata)
	log.Info("%s: runtime %s, failed=%t", a.Path, outcome.Classification, rep.Failed())
	return rep
}

// HarnessOptions maps configuration onto harness timings.
func HarnessOptions(cfg *config.Config) harness.Options {
	return harness.Options{
		SDKPath:           cfg.Verify.SDKPath,
		EntryName:         cfg.Verify.EntryFilename,
		SimulatedDuration: cfg.GetSimulatedDuration(),
		SDKWaitTimeout:    cfg.GetSDKWaitTimeout(),
		CompletionTimeout: cfg.GetCompletionTimeout(),
		NavigationTimeout: cfg.GetNavigationTimeout(),
	}
}

// BrowserConfig maps configuration onto the go-rod launcher settings.
func BrowserConfig(cfg *config.Config) browser.Config {
	b := cfg.Browser
	return browser.Config{
		Bin:            b.Bin,
		Headless:       b.Headless,
		NoSandbox:      b.NoSandbox,
		Flags:          b.Flags,
		AllowDownload:  b.AllowDownload,
		ViewportWidth:  b.ViewportWidth,
		ViewportHeight: b.ViewportHeight,
	}
}
