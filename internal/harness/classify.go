package harness

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
)

// FaultKind is the environment fault a raw error description points at.
type FaultKind int

const (
	FaultUnknown FaultKind = iota
	FaultMissingAutomationLibrary
	FaultMissingBrowserBinary
	FaultMissingSharedLibrary
)

func (k FaultKind) String() string {
	switch k {
	case FaultMissingAutomationLibrary:
		return "missing-automation-library"
	case FaultMissingBrowserBinary:
		return "missing-browser-binary"
	case FaultMissingSharedLibrary:
		return "missing-shared-library"
	default:
		return "unknown"
	}
}

// EnvFault is the classifier's verdict. Library is set only for
// FaultMissingSharedLibrary when the name could be extracted.
type EnvFault struct {
	Kind        FaultKind
	Library     string
	Remediation string
}

// Unavailable reports whether the fault means the environment, not the game,
// is broken.
func (f EnvFault) Unavailable() bool {
	return f.Kind != FaultUnknown
}

var sharedLibRe = regexp.MustCompile(`error while loading shared libraries:\s*([^\s:]+)`)

// Debian/Ubuntu packages for the libraries headless Chromium most often lacks.
var aptPackages = map[string]string{
	"libasound.so.2":         "libasound2",
	"libgbm.so.1":            "libgbm1",
	"libnss3.so":             "libnss3",
	"libatk-bridge-2.0.so.0": "libatk-bridge2.0-0",
	"libxkbcommon.so.0":      "libxkbcommon0",
}

const aptAll = "sudo apt-get install -y libasound2 libgbm1 libnss3 libatk-bridge2.0-0 libxkbcommon0"

// ClassifyFault inspects a raw error description for environment-fault
// signatures. It is string matching on lower-level error text and therefore
// best effort: an unrecognised message is FaultUnknown, which callers treat
// as a real failure.
func ClassifyFault(msg string) EnvFault {
	return classifyFor(runtime.GOOS, msg)
}

func classifyFor(goos, msg string) EnvFault {
	if m := sharedLibRe.FindStringSubmatch(msg); m != nil {
		return EnvFault{
			Kind:        FaultMissingSharedLibrary,
			Library:     m[1],
			Remediation: sharedLibHint(goos, m[1]),
		}
	}
	switch {
	case strings.Contains(msg, "Executable doesn't exist"),
		strings.Contains(msg, "chromium_headless_shell"),
		strings.Contains(msg, "executable file not found"),
		strings.Contains(msg, "browser executable doesn't exist"):
		return EnvFault{Kind: FaultMissingBrowserBinary, Remediation: browserHint(goos)}
	case strings.Contains(msg, "libgbm.so.1"),
		strings.Contains(msg, "Host system is missing dependencies"):
		return EnvFault{Kind: FaultMissingSharedLibrary, Remediation: sharedLibHint(goos, "")}
	case strings.Contains(msg, "leakless"),
		strings.Contains(msg, "devtools handshake"):
		return EnvFault{
			Kind: FaultMissingAutomationLibrary,
			Remediation: "browser automation helper could not start. " +
				"Check that the leakless helper may run from the temp dir, or add browser.flags to the config.",
		}
	}
	return EnvFault{Kind: FaultUnknown}
}

func browserHint(goos string) string {
	const tail = " or point browser.bin (GAMEGATE_BROWSER_BIN) at an existing Chrome/Chromium, or set browser.allow_download: true."
	switch goos {
	case "linux":
		return "chromium binary is missing. Install it (`sudo apt-get install -y chromium`)" + tail
	case "darwin":
		return "chromium binary is missing. Install it (`brew install --cask chromium`)" + tail
	default:
		return "chromium binary is missing. Install Google Chrome or Chromium" + tail
	}
}

func sharedLibHint(goos, lib string) string {
	if goos != "linux" {
		if lib != "" {
			return fmt.Sprintf("browser runtime dependency missing: %s. Install the system package that provides it.", lib)
		}
		return "browser runtime dependencies are missing. Reinstall Chrome/Chromium for this platform."
	}
	if lib == "" {
		return "browser runtime dependencies are missing. On Ubuntu/WSL: `" + aptAll + "`."
	}
	cmd := aptAll
	if pkg, ok := aptPackages[lib]; ok {
		cmd = "sudo apt-get install -y " + pkg
	}
	return fmt.Sprintf("browser runtime dependency missing: %s. On Ubuntu/WSL, run `%s`.", lib, cmd)
}
