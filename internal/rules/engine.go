// Package rules implements the static contract checks run over a candidate's
// bytes and text. Every rule is a total function of the artifact: rules never
// return errors, never touch the network and never depend on each other.
//
// Matching is deliberately textual. Authors hand in loosely structured markup,
// so each predicate below is a substring test or a regular expression over the
// raw text rather than a walk over a parsed DOM.
package rules

import (
	"gamegate/internal/artifact"
	"gamegate/internal/logging"
	"gamegate/internal/report"
)

// Check names, in report order.
const (
	NameFileSize           = "file_size"
	NameUTF8Decode         = "utf8_decode"
	NameHTMLStructure      = "html_structure"
	NameNoExternalHTTP     = "no_external_http"
	NameNoProtocolRelative = "no_protocol_relative"
	NameSelfContained      = "self_contained"
	NameRenderTarget       = "render_target"
	NameUsesSDK            = "uses_sdk"
	NameScoreReporting     = "score_reporting"
	NameSupports4Players   = "supports_4_players"
)

// MetadataTags are the meta names whose absence is reported as a warning.
var MetadataTags = []string{"title", "description", "author", "maxDurationSec"}

// Params carries the policy knobs of the engine. Call sites choose their own
// size cap: uploads are stricter than CLI verification.
type Params struct {
	MaxBytes                  int64
	RenderTextThreshold       int
	EnforceMultiplayerMarkers bool
}

// Rule is a single named contract check.
type Rule struct {
	Name  string
	Check func(a *artifact.Artifact, p Params) report.CheckResult
}

// Engine runs the rules in fixed order.
type Engine struct {
	params   Params
	contract []Rule
}

// NewEngine builds an engine with the full contract rule set.
func NewEngine(p Params) *Engine {
	return &Engine{
		params: p,
		contract: []Rule{
			{NameFileSize, checkFileSize},
			{NameUTF8Decode, checkUTF8},
			{NameHTMLStructure, checkHTMLStructure},
			{NameNoExternalHTTP, checkNoExternalHTTP},
			{NameNoProtocolRelative, checkNoProtocolRelative},
			{NameSelfContained, checkSelfContained},
			{NameRenderTarget, checkRenderTarget},
			{NameUsesSDK, checkUsesSDK},
			{NameScoreReporting, checkScoreReporting},
			{NameSupports4Players, checkSupports4Players},
		},
	}
}

// Params returns the engine's parameters.
func (e *Engine) Params() Params {
	return e.params
}

// Names lists the contract rule names in execution order.
func (e *Engine) Names() []string {
	names := make([]string, len(e.contract))
	for i, r := range e.contract {
		names[i] = r.Name
	}
	return names
}

// Contract runs every contract rule and returns one result per rule, in order.
func (e *Engine) Contract(a *artifact.Artifact) []report.CheckResult {
	return e.run(a, e.contract)
}

// Only runs the named contract rules, keeping engine order.
func (e *Engine) Only(a *artifact.Artifact, names ...string) []report.CheckResult {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var subset []Rule
	for _, r := range e.contract {
		if want[r.Name] {
			subset = append(subset, r)
		}
	}
	return e.run(a, subset)
}

func (e *Engine) run(a *artifact.Artifact, rules []Rule) []report.CheckResult {
	log := logging.Get(logging.CategoryRules)
	results := make([]report.CheckResult, 0, len(rules))
	for _, r := range rules {
		res := r.Check(a, e.params)
		log.Debug("%s: %s %s", a.Path, res.Status, r.Name)
		results = append(results, res)
	}
	return results
}

// Metadata reports one result per tag in MetadataTags: PASS when present, WARN
// when missing. Missing metadata never fails a report.
func (e *Engine) Metadata(a *artifact.Artifact) []report.CheckResult {
	results := make([]report.CheckResult, 0, len(MetadataTags))
	for _, tag := range MetadataTags {
		name := "meta:" + tag
		if hasMetaTag(a.Text, tag) {
			results = append(results, report.Pass(name, ""))
		} else {
			results = append(results, report.Warn(name, "missing <meta name=...>"))
		}
	}
	return results
}
