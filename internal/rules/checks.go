package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gamegate/internal/artifact"
	"gamegate/internal/report"
)

// SDKReference is the host SDK file every game must include.
const SDKReference = "maribro-sdk.js"

// maxListedRefs caps how many offending references self_contained lists.
const maxListedRefs = 8

var (
	// src= or href= whose quoted value starts with "//" (leading spaces allowed).
	protocolRelativeRe = regexp.MustCompile(`(?i)(?:src|href)\s*=\s*['"]\s*//`)

	// Quoted src=/href= values. Empty quotes are not captured.
	attrValueRe = regexp.MustCompile(`(?i)(?:src|href)\s*=\s*['"]([^'"]+)['"]`)

	// Non-greedy script blocks, spanning lines.
	scriptBlockRe = regexp.MustCompile(`(?s)<script.*?</script>`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Completion markers: the SDK call, the structured message name, or any
// cross-frame postMessage.
var scoreMarkers = []string{"maribro.endgame", "maribro:game_end", "postmessage"}

// Four-player markers: SDK slot APIs, four zeroed slots, or slot bounds.
var multiplayerMarkers = []string{
	"getactiveslots",
	"playersbyslot",
	"[0, 0, 0, 0]",
	"[0,0,0,0]",
	"slot < 4",
	"slot<=3",
}

func checkFileSize(a *artifact.Artifact, p Params) report.CheckResult {
	if a.Size() > p.MaxBytes {
		return report.Fail(NameFileSize, fmt.Sprintf("%d bytes > %d", a.Size(), p.MaxBytes))
	}
	return report.Pass(NameFileSize, fmt.Sprintf("%d bytes", a.Size()))
}

func checkUTF8(a *artifact.Artifact, _ Params) report.CheckResult {
	if a.Lossy {
		return report.Warn(NameUTF8Decode, "non-utf8 bytes replaced")
	}
	return report.Pass(NameUTF8Decode, "")
}

func checkHTMLStructure(a *artifact.Artifact, _ Params) report.CheckResult {
	if strings.Contains(a.Lower, "<!doctype html") &&
		strings.Contains(a.Lower, "<html") &&
		strings.Contains(a.Lower, "</html>") {
		return report.Pass(NameHTMLStructure, "")
	}
	return report.Fail(NameHTMLStructure, "missing doctype/html tags")
}

// checkNoExternalHTTP is a plain substring test: any "http://" or "https://",
// including inside comments or strings, fails.
func checkNoExternalHTTP(a *artifact.Artifact, _ Params) report.CheckResult {
	if HasExternalHTTP(a) {
		return report.Fail(NameNoExternalHTTP, "found http(s)://")
	}
	return report.Pass(NameNoExternalHTTP, "")
}

// HasExternalHTTP reports whether the text mentions an http(s) URL anywhere.
func HasExternalHTTP(a *artifact.Artifact) bool {
	return strings.Contains(a.Lower, "http://") || strings.Contains(a.Lower, "https://")
}

func checkNoProtocolRelative(a *artifact.Artifact, _ Params) report.CheckResult {
	if protocolRelativeRe.MatchString(a.Text) {
		return report.Fail(NameNoProtocolRelative, `found src/href="//..."`)
	}
	return report.Pass(NameNoProtocolRelative, "")
}

func checkSelfContained(a *artifact.Artifact, _ Params) report.CheckResult {
	bad := NonInlineRefs(a)
	if len(bad) == 0 {
		return report.Pass(NameSelfContained, "")
	}
	listed := bad
	suffix := ""
	if len(bad) > maxListedRefs {
		listed = bad[:maxListedRefs]
		suffix = " ..."
	}
	return report.Fail(NameSelfContained, "non-inline refs: "+strings.Join(listed, ", ")+suffix)
}

// NonInlineRefs returns every src/href value, trimmed, that is not empty, a
// fragment, a data: URI or the SDK reference (bare or root-absolute).
func NonInlineRefs(a *artifact.Artifact) []string {
	var bad []string
	for _, m := range attrValueRe.FindAllStringSubmatch(a.Text, -1) {
		v := strings.TrimSpace(m[1])
		switch {
		case v == "":
		case strings.HasPrefix(v, "#"):
		case strings.HasPrefix(v, "data:"):
		case v == SDKReference || v == "/"+SDKReference:
		default:
			bad = append(bad, v)
		}
	}
	return bad
}

// checkRenderTarget passes on any "<canvas", or when the markup outside
// script blocks has more than RenderTextThreshold non-whitespace characters.
func checkRenderTarget(a *artifact.Artifact, p Params) report.CheckResult {
	if strings.Contains(a.Lower, "<canvas") {
		return report.Pass(NameRenderTarget, "")
	}
	visible := whitespaceRe.ReplaceAllString(scriptBlockRe.ReplaceAllString(a.Lower, ""), "")
	if utf8.RuneCountInString(visible) > p.RenderTextThreshold {
		return report.Pass(NameRenderTarget, "")
	}
	return report.Fail(NameRenderTarget, "missing canvas or substantial DOM")
}

func checkUsesSDK(a *artifact.Artifact, _ Params) report.CheckResult {
	if strings.Contains(a.Lower, SDKReference) {
		return report.Pass(NameUsesSDK, "")
	}
	return report.Fail(NameUsesSDK, `SDK is required: include <script src="/`+SDKReference+`"></script>`)
}

func checkScoreReporting(a *artifact.Artifact, _ Params) report.CheckResult {
	if containsAny(a.Lower, scoreMarkers) {
		return report.Pass(NameScoreReporting, "")
	}
	return report.Fail(NameScoreReporting, "missing Maribro.endGame or postMessage game_end")
}

func checkSupports4Players(a *artifact.Artifact, p Params) report.CheckResult {
	if containsAny(a.Lower, multiplayerMarkers) {
		return report.Pass(NameSupports4Players, "")
	}
	if !p.EnforceMultiplayerMarkers {
		return report.Warn(NameSupports4Players, "missing obvious 4-player markers (not enforced)")
	}
	return report.Fail(NameSupports4Players, "missing obvious 4-player markers")
}

func hasMetaTag(text, tag string) bool {
	re := regexp.MustCompile(`(?i)<meta\s+[^>]*name\s*=\s*['"]` + regexp.QuoteMeta(tag) + `['"]`)
	return re.MatchString(text)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
