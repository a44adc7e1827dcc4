// Package report holds contract check results and renders verification reports.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Status is the outcome of a single contract check.
type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

// CheckResult is one named, independently evaluated rule outcome.
type CheckResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Pass builds a passing result.
func Pass(name, msg string) CheckResult { return CheckResult{Name: name, Status: StatusPass, Message: msg} }

// Warn builds a warning result.
func Warn(name, msg string) CheckResult { return CheckResult{Name: name, Status: StatusWarn, Message: msg} }

// Fail builds a failing result.
func Fail(name, msg string) CheckResult { return CheckResult{Name: name, Status: StatusFail, Message: msg} }

// Line renders the result as "<STATUS> <name>[ — <message>]".
func (c CheckResult) Line() string {
	if c.Message == "" {
		return fmt.Sprintf("%s %s", c.Status, c.Name)
	}
	return fmt.Sprintf("%s %s — %s", c.Status, c.Name, c.Message)
}

// Report is the ordered result of one verification.
type Report struct {
	Checks []CheckResult `json:"checks"`
}

// Aggregate concatenates contract results, the runtime check and the metadata
// results in that order. It applies no policy of its own.
func Aggregate(contract []CheckResult, runtime CheckResult, metadata []CheckResult) *Report {
	checks := make([]CheckResult, 0, len(contract)+1+len(metadata))
	checks = append(checks, contract...)
	checks = append(checks, runtime)
	checks = append(checks, metadata...)
	return &Report{Checks: checks}
}

// Add appends results in order.
func (r *Report) Add(results ...CheckResult) {
	r.Checks = append(r.Checks, results...)
}

// Failed reports whether any check has status FAIL. Warnings never fail a report.
func (r *Report) Failed() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return true
		}
	}
	return false
}

// Get returns the check with the given name.
func (r *Report) Get(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// ExitCode is 1 when the report failed, 0 otherwise.
func (r *Report) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}

// WriteText writes one line per check. Status tags are colored only when w is
// a terminal; any other writer gets plain text.
func (r *Report) WriteText(w io.Writer) error {
	renderer := lipgloss.NewRenderer(w)
	styles := map[Status]lipgloss.Style{
		StatusPass: renderer.NewStyle().Foreground(lipgloss.Color("2")),
		StatusWarn: renderer.NewStyle().Foreground(lipgloss.Color("3")),
		StatusFail: renderer.NewStyle().Foreground(lipgloss.Color("1")),
	}

	for _, c := range r.Checks {
		tag := string(c.Status)
		if st, ok := styles[c.Status]; ok {
			tag = st.Render(tag)
		}
		line := tag + " " + c.Name
		if c.Message != "" {
			line += " — " + c.Message
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes the report with its derived failure flag.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Checks []CheckResult `json:"checks"`
		Failed bool          `json:"failed"`
	}{Checks: r.Checks, Failed: r.Failed()})
}
