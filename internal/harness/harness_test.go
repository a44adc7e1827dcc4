package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gamegate/internal/artifact"
	"gamegate/internal/browser"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const game = `<!doctype html><html><script src="/maribro-sdk.js"></script><canvas></canvas></html>`

// fakePage stands in for a browser. Navigate really fetches from the asset
// server so request accounting behaves as with a real page.
type fakePage struct {
	fetchEntry bool
	fetchSDK   bool
	navErr     error
	sdkReady   bool
	done       bool
	evalErr    error
	readErr    error
	result     string
	readyState string

	evalArgs []interface{}
	closed   bool
}

func (p *fakePage) fetch(url string) error {
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if p.navErr != nil {
		return p.navErr
	}
	if p.fetchEntry {
		if err := p.fetch(url); err != nil {
			return err
		}
	}
	if p.fetchSDK {
		return p.fetch(strings.TrimSuffix(url, "game.html") + "maribro-sdk.js")
	}
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, js string, args ...interface{}) error {
	p.evalArgs = args
	return p.evalErr
}

func (p *fakePage) WaitFor(ctx context.Context, js string, timeout time.Duration) error {
	ok := false
	switch js {
	case sdkReadyJS:
		ok = p.sdkReady
	case doneJS:
		ok = p.done
	}
	if !ok {
		return fmt.Errorf("%w after %s", browser.ErrTimeout, timeout)
	}
	return nil
}

func (p *fakePage) Read(ctx context.Context, js string, dst interface{}) error {
	if p.readErr != nil {
		return p.readErr
	}
	switch js {
	case resultJS:
		return json.Unmarshal([]byte(p.result), dst)
	case pageStateJS:
		return json.Unmarshal([]byte(fmt.Sprintf(`{"readyState":%q}`, p.readyState)), dst)
	}
	return errors.New("unexpected read")
}

func (p *fakePage) Console() []string { return []string{"uncaught: ReferenceError: x is not defined"} }

func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

type fakeDriver struct {
	probeErr error
	openErr  error
	page     *fakePage
	opened   int
}

func (d *fakeDriver) Probe() error { return d.probeErr }

func (d *fakeDriver) Open(ctx context.Context) (Page, error) {
	d.opened++
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.page, nil
}

func healthyPage(result string) *fakePage {
	return &fakePage{fetchEntry: true, fetchSDK: true, sdkReady: true, done: true, result: result}
}

func fixture(t *testing.T, body string) *artifact.Artifact {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "games", "pong.html")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "public"), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "public", "maribro-sdk.js"), []byte("window.Maribro={}"), 0o644))
	a, err := artifact.Load(path)
	require.NoError(t, err)
	return a
}

func testOptions() Options {
	return Options{
		EntryName:         "game.html",
		SimulatedDuration: 9 * time.Second,
		SDKWaitTimeout:    time.Second,
		CompletionTimeout: 2 * time.Second,
		NavigationTimeout: time.Second,
	}
}

func runWith(t *testing.T, d *fakeDriver, body string) Outcome {
	t.Helper()
	return NewWithDriver(testOptions(), d).Run(context.Background(), fixture(t, body))
}

func TestRun_Ok(t *testing.T) {
	page := healthyPage(`{"done":true,"elapsedMs":1234.9,"scoresBySlot":[5,5,5,5]}`)
	d := &fakeDriver{page: page}

	out := runWith(t, d, game)

	assert.Equal(t, Ok, out.Classification)
	assert.Equal(t, "endGame observed in 1234ms", out.Message)
	assert.Equal(t, 1234, out.ElapsedMs)
	assert.Equal(t, []float64{5, 5, 5, 5}, out.Scores)
	assert.Equal(t, []interface{}{int64(9000)}, page.evalArgs)
	assert.True(t, page.closed)
}

func TestRun_CustomSDKFileName(t *testing.T) {
	a := fixture(t, game)
	custom := filepath.Join(t.TempDir(), "sdk-v2.js")
	require.NoError(t, os.WriteFile(custom, []byte("window.Maribro={}"), 0o644))

	opts := testOptions()
	opts.SDKPath = custom
	page := healthyPage(`{"done":true,"elapsedMs":10,"scoresBySlot":[1,2,3,4]}`)

	out := NewWithDriver(opts, &fakeDriver{page: page}).Run(context.Background(), a)
	assert.Equal(t, Ok, out.Classification, out.Message)
}

func TestRun_ScoreViolations(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`[11,0,0,0]`, "endGame scores must be within 0..10 (host-effective range)"},
		{`["a",0,0,0]`, "first 4 endGame scores must be numeric"},
		{`[1,2,3]`, "endGame payload too short: 3 (expected 4)"},
		{`{"0":1}`, "endGame payload is not an array"},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			page := healthyPage(`{"done":true,"elapsedMs":10,"scoresBySlot":` + tt.payload + `}`)
			out := runWith(t, &fakeDriver{page: page}, game)
			assert.Equal(t, Failed, out.Classification)
			assert.Equal(t, tt.want, out.Message)
			assert.True(t, page.closed)
		})
	}
}

func TestRun_MissingScoresField(t *testing.T) {
	out := runWith(t, &fakeDriver{page: healthyPage(`{"done":true,"elapsedMs":10}`)}, game)
	assert.Equal(t, Failed, out.Classification)
	assert.Equal(t, "endGame payload is not an array", out.Message)
}

func TestRun_BrowserMissingIsUnavailable(t *testing.T) {
	d := &fakeDriver{probeErr: browser.ErrBrowserNotFound}

	out := runWith(t, d, game)

	assert.Equal(t, Unavailable, out.Classification)
	assert.Equal(t, FaultMissingBrowserBinary, out.Fault.Kind)
	assert.Contains(t, out.Message, "chromium binary is missing")
	assert.Zero(t, d.opened, "no browser work after a failed probe")
}

func TestRun_SharedLibraryMissingIsUnavailable(t *testing.T) {
	d := &fakeDriver{openErr: errors.New("launch chrome: chrome: error while loading shared libraries: libnss3.so: cannot open shared object file")}

	out := runWith(t, d, game)

	assert.Equal(t, Unavailable, out.Classification)
	assert.Equal(t, FaultMissingSharedLibrary, out.Fault.Kind)
	assert.Equal(t, "libnss3.so", out.Fault.Library)
}

func TestRun_NeverFinishedIsFailed(t *testing.T) {
	page := healthyPage("")
	page.done = false

	out := runWith(t, &fakeDriver{page: page}, game)

	assert.Equal(t, Failed, out.Classification)
	assert.Equal(t, "game did not call endGame before timeout", out.Message)
	assert.True(t, page.closed)
}

func TestRun_ClassificationSeparation(t *testing.T) {
	missing := runWith(t, &fakeDriver{probeErr: browser.ErrBrowserNotFound}, game)

	page := healthyPage("")
	page.done = false
	stuck := runWith(t, &fakeDriver{page: page}, game)

	assert.NotEqual(t, missing.Classification, stuck.Classification)
}

func TestRun_MissingSDKFile(t *testing.T) {
	a := fixture(t, game)
	sdk := filepath.Join(filepath.Dir(filepath.Dir(a.Path)), "public", "maribro-sdk.js")
	require.NoError(t, os.Remove(sdk))
	d := &fakeDriver{page: healthyPage("")}

	out := NewWithDriver(testOptions(), d).Run(context.Background(), a)

	assert.Equal(t, Failed, out.Classification)
	assert.Equal(t, "missing SDK file: "+sdk, out.Message)
	assert.Zero(t, d.opened)
}

func TestRun_CandidateWithoutSDKReference(t *testing.T) {
	d := &fakeDriver{page: healthyPage("")}
	out := runWith(t, d, `<!doctype html><html><canvas></canvas></html>`)

	assert.Equal(t, Failed, out.Classification)
	assert.Contains(t, out.Message, "does not include maribro-sdk.js")
	assert.Zero(t, d.opened)
}

func TestRun_SDKNeverRequested(t *testing.T) {
	page := &fakePage{fetchEntry: true, readyState: "complete"}

	out := runWith(t, &fakeDriver{page: page}, game)

	assert.Equal(t, Failed, out.Classification)
	assert.Equal(t, "window.Maribro never appeared: page did not request maribro-sdk.js", out.Message)
}

func TestRun_SDKNeverInitialised(t *testing.T) {
	page := &fakePage{fetchEntry: true, fetchSDK: true, readyState: "complete"}

	out := runWith(t, &fakeDriver{page: page}, game)

	assert.Equal(t, Failed, out.Classification)
	assert.Equal(t, "window.Maribro never appeared (document complete)", out.Message)
}

func TestRun_PageNeverLoadedIsUnavailable(t *testing.T) {
	page := &fakePage{}

	out := runWith(t, &fakeDriver{page: page}, game)

	assert.Equal(t, Unavailable, out.Classification)
	assert.True(t, page.closed)
}

func TestRun_UnknownErrorIsFailedWithFirstLine(t *testing.T) {
	page := &fakePage{navErr: errors.New("navigate: net::ERR_ABORTED\nstack trace")}

	out := runWith(t, &fakeDriver{page: page}, game)

	assert.Equal(t, Failed, out.Classification)
	assert.Equal(t, "runtime check error: navigate: net::ERR_ABORTED", out.Message)
	assert.True(t, page.closed)
}

func TestRun_ControllerInstallFails(t *testing.T) {
	page := healthyPage("")
	page.evalErr = errors.New("evaluate: TypeError: Cannot read properties of undefined (reading 'bind')")

	out := runWith(t, &fakeDriver{page: page}, game)

	assert.Equal(t, Failed, out.Classification)
	assert.True(t, strings.HasPrefix(out.Message, "runtime check error: evaluate: TypeError"))
}

func TestSDKPathFor(t *testing.T) {
	assert.Equal(t, filepath.Join("proj", "public", "maribro-sdk.js"),
		SDKPathFor(filepath.Join("proj", "games", "pong.html"), ""))
	assert.Equal(t, "/opt/sdk.js", SDKPathFor("games/pong.html", "/opt/sdk.js"))
}

func TestClassification_String(t *testing.T) {
	assert.Equal(t, "ok", Ok.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unavailable", Unavailable.String())
}
