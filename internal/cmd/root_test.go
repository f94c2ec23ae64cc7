package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/testrender/errext/exitcodes"
	"github.com/liuxd6825/testrender/internal/cmd/tests"
	"github.com/liuxd6825/testrender/tests/ws"
)

func TestRootCommandHelp(t *testing.T) {
	t.Parallel()

	for _, arg := range []string{"-h", "--help"} {
		t.Run(arg, func(t *testing.T) {
			t.Parallel()

			ts := tests.NewGlobalTestState(t)
			ts.CmdArgs = []string{"testrender", arg}
			newRootCommand(ts.GlobalState).execute()

			assert.Equal(t, 0, ts.ExitCode())
			stdout := ts.Stdout.String()
			assert.Contains(t, stdout, "Render a page off-screen with an embedded Chromium")
			assert.Contains(t, stdout, "testrender [url [width [height]]]")
			assert.Contains(t, stdout, "TESTRENDER_REMOTE_URL")
			assert.Contains(t, stdout, "--log-format")
		})
	}
}

func TestRootCommandSubProcess(t *testing.T) {
	t.Parallel()

	ts := tests.NewGlobalTestState(t)
	ts.CmdArgs = []string{"testrender", "--type=renderer", "--lang=en"}
	ts.ExpectedExitCode = int(exitcodes.SubProcess)
	newRootCommand(ts.GlobalState).execute()

	assert.Contains(t, ts.Stdout.String(), "OnBeforeCommandLineProcessing: renderer ")
}

func TestRootCommandErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		args     []string
		env      map[string]string
		exitCode exitcodes.ExitCode
		logMsg   string
	}{
		{
			name:     "bad_width",
			args:     []string{"about:blank", "wide"},
			exitCode: exitcodes.InvalidConfig,
			logMsg:   `invalid width "wide"`,
		},
		{
			name:     "bad_log_format",
			args:     []string{"--log-format", "xml"},
			exitCode: exitcodes.InvalidConfig,
			logMsg:   "unsupported log format 'xml'",
		},
		{
			name:     "bad_log_level",
			args:     []string{"--log-level", "loud"},
			exitCode: exitcodes.InvalidConfig,
			logMsg:   `invalid log level "loud"`,
		},
		{
			name:     "bad_category_filter",
			args:     []string{"--log-category-filter", "(("},
			exitCode: exitcodes.InvalidConfig,
		},
		{
			name:     "engine_not_found",
			env:      map[string]string{"TESTRENDER_EXECUTABLE_PATH": filepath.Join("no", "such", "chrome")},
			exitCode: exitcodes.EngineLaunch,
			logMsg:   "engine executable not found",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := tests.NewGlobalTestState(t)
			ts.CmdArgs = append([]string{"testrender"}, tc.args...)
			for k, v := range tc.env {
				ts.Env[k] = v
			}
			ts.ExpectedExitCode = int(tc.exitCode)
			newRootCommand(ts.GlobalState).execute()

			entries := ts.LoggerHook.AllEntries()
			require.NotEmpty(t, entries)
			last := entries[len(entries)-1]
			assert.Equal(t, logrus.ErrorLevel, last.Level)
			if tc.logMsg != "" {
				assert.Contains(t, last.Message, tc.logMsg)
			}
		})
	}
}

func TestRootCommandEngineHint(t *testing.T) {
	t.Parallel()

	ts := tests.NewGlobalTestState(t)
	ts.CmdArgs = []string{"testrender"}
	ts.Env["TESTRENDER_EXECUTABLE_PATH"] = filepath.Join("no", "such", "chrome")
	ts.ExpectedExitCode = int(exitcodes.EngineLaunch)
	newRootCommand(ts.GlobalState).execute()

	entries := ts.LoggerHook.AllEntries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "install Chromium or set TESTRENDER_EXECUTABLE_PATH", entries[len(entries)-1].Data["hint"])
}

// navigationRecorder wraps the default fake browser and keeps the page
// URLs and view sizes it was asked for.
type navigationRecorder struct {
	mu        sync.Mutex
	navigated []string
	sizes     [][2]int64
}

func (r *navigationRecorder) handle(
	conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{},
) {
	switch msg.Method {
	case cdproto.MethodType(cdproto.CommandPageNavigate):
		r.mu.Lock()
		r.navigated = append(r.navigated, gjson.GetBytes(msg.Params, "url").String())
		r.mu.Unlock()
	case cdproto.MethodType(cdproto.CommandEmulationSetDeviceMetricsOverride):
		r.mu.Lock()
		r.sizes = append(r.sizes, [2]int64{
			gjson.GetBytes(msg.Params, "width").Int(),
			gjson.GetBytes(msg.Params, "height").Int(),
		})
		r.mu.Unlock()
	}
	ws.CDPDefaultHandler(conn, msg, writeCh, done)
}

func (r *navigationRecorder) snapshot() (navigated []string, sizes [][2]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.navigated...), append([][2]int64(nil), r.sizes...)
}

func TestRootCommandRenderRemote(t *testing.T) {
	t.Parallel()

	var (
		rec          navigationRecorder
		cmdsReceived []cdproto.MethodType
	)
	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", rec.handle, &cmdsReceived))

	ts := tests.NewGlobalTestState(t)
	ts.CmdArgs = []string{"testrender", "https://example.com/", "640", "480"}
	ts.Env["TESTRENDER_REMOTE_URL"] = server.WebSocketURL("/cdp")
	ts.Env["TESTRENDER_TIMEOUT"] = "5s"
	sigC := tests.FakeSignals(ts)

	done := make(chan struct{})
	go func() {
		defer close(done)
		newRootCommand(ts.GlobalState).execute()
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(ts.Stdout.String(), "Press Ctrl+C at any time to end the program.")
	}, 10*time.Second, 10*time.Millisecond)

	sigC <- os.Interrupt

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("the command did not stop after the interrupt")
	}
	assert.Equal(t, 0, ts.ExitCode())

	navigated, sizes := rec.snapshot()
	assert.Equal(t, []string{"https://example.com/"}, navigated)
	assert.Contains(t, sizes, [2]int64{640, 480})

	received := server.Received(&cmdsReceived)
	assert.Contains(t, received, cdproto.MethodType(cdproto.CommandTargetCreateTarget))
	assert.Contains(t, received, cdproto.MethodType(cdproto.CommandBrowserClose))
}

// commitGatedEngine holds back the reply to Page.navigate until the paused
// document request of the navigation is answered, as Chromium does before
// it commits a navigation.
type commitGatedEngine struct {
	mu       sync.Mutex
	navReply *cdproto.Message
	answers  []cdproto.MethodType
}

func (e *commitGatedEngine) handle(
	conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{},
) {
	const requestPaused = `{
		"requestId": "interception-job-1",
		"request": {
			"url": "https://example.com/",
			"method": "GET",
			"headers": {},
			"initialPriority": "VeryHigh",
			"referrerPolicy": "strict-origin-when-cross-origin"
		},
		"frameId": "main",
		"resourceType": "Document"
	}`

	switch msg.Method {
	case cdproto.MethodType(cdproto.CommandPageNavigate):
		e.mu.Lock()
		e.navReply = &cdproto.Message{
			ID:        msg.ID,
			SessionID: msg.SessionID,
			Result:    easyjson.RawMessage([]byte("{}")),
		}
		e.mu.Unlock()
		writeCh <- cdproto.Message{
			SessionID: msg.SessionID,
			Method:    cdproto.EventFetchRequestPaused,
			Params:    easyjson.RawMessage([]byte(requestPaused)),
		}
		return
	case cdproto.MethodType(cdproto.CommandFetchFulfillRequest),
		cdproto.MethodType(cdproto.CommandFetchFailRequest),
		cdproto.MethodType(cdproto.CommandFetchContinueRequest):
		e.mu.Lock()
		e.answers = append(e.answers, msg.Method)
		navReply := e.navReply
		e.navReply = nil
		e.mu.Unlock()

		ws.CDPDefaultHandler(conn, msg, writeCh, done)
		if navReply != nil {
			writeCh <- *navReply
		}
		return
	}
	ws.CDPDefaultHandler(conn, msg, writeCh, done)
}

func (e *commitGatedEngine) answered() []cdproto.MethodType {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]cdproto.MethodType(nil), e.answers...)
}

func TestRootCommandRenderSingleThreadedIntercept(t *testing.T) {
	t.Parallel()

	var (
		engine       commitGatedEngine
		cmdsReceived []cdproto.MethodType
	)
	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", engine.handle, &cmdsReceived))

	ts := tests.NewGlobalTestState(t)
	contentPath := filepath.Join(ts.TempDir(), "page.html")
	require.NoError(t, afero.WriteFile(ts.FS, contentPath, []byte("<p>local</p>"), 0o644))

	ts.CmdArgs = []string{"testrender", "https://example.com/"}
	ts.Env["TESTRENDER_REMOTE_URL"] = server.WebSocketURL("/cdp")
	ts.Env["TESTRENDER_MULTI_THREADED_MESSAGE_LOOP"] = "false"
	ts.Env["TESTRENDER_INTERCEPT"] = "true"
	ts.Env["TESTRENDER_CONTENT_PATH"] = contentPath
	ts.Env["TESTRENDER_TIMEOUT"] = "5s"
	sigC := tests.FakeSignals(ts)

	done := make(chan struct{})
	go func() {
		defer close(done)
		newRootCommand(ts.GlobalState).execute()
	}()

	require.Eventually(t, func() bool {
		return len(engine.answered()) > 0
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, []cdproto.MethodType{cdproto.MethodType(cdproto.CommandFetchFulfillRequest)}, engine.answered())

	sigC <- os.Interrupt

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("the command did not stop after the interrupt")
	}
	assert.Equal(t, 0, ts.ExitCode())
	assert.Contains(t, server.Received(&cmdsReceived), cdproto.MethodType(cdproto.CommandBrowserClose))
}
