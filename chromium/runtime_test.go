package chromium

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/testrender/common"
	"github.com/liuxd6825/testrender/errext/exitcodes"
	"github.com/liuxd6825/testrender/log"
	"github.com/liuxd6825/testrender/tests/ws"
)

func TestPrepareFlags(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		flag                      string
		changeSettings            *common.Settings
		expInitVal, expChangedVal any
		post                      func(t *testing.T, flags map[string]any)
	}{
		{
			flag:           "browser-arg",
			expInitVal:     nil,
			changeSettings: &common.Settings{Args: []string{"browser-arg=value"}},
			expChangedVal:  "value",
		},
		{
			flag:           "browser-arg-flag",
			expInitVal:     nil,
			changeSettings: &common.Settings{Args: []string{"--browser-arg-flag"}},
			expChangedVal:  "",
		},
		{
			flag:       "browser-arg-trim-double-quote",
			expInitVal: nil,
			changeSettings: &common.Settings{Args: []string{
				`   browser-arg-trim-double-quote =  "value  "  `,
			}},
			expChangedVal: "value  ",
		},
		{
			flag:       "browser-arg-trim-single-quote",
			expInitVal: nil,
			changeSettings: &common.Settings{Args: []string{
				`   browser-arg-trim-single-quote=' value '`,
			}},
			expChangedVal: " value ",
		},
		{
			flag:       "browser-args",
			expInitVal: nil,
			changeSettings: &common.Settings{Args: []string{
				"browser-arg1='value1", "browser-arg2=''value2''", "browser-flag",
			}},
			post: func(t *testing.T, flags map[string]any) {
				t.Helper()
				assert.Equal(t, "'value1", flags["browser-arg1"])
				assert.Equal(t, "'value2'", flags["browser-arg2"])
				assert.Equal(t, "", flags["browser-flag"])
			},
		},
		{
			flag:           "headless",
			expInitVal:     false,
			changeSettings: &common.Settings{WindowlessRenderingEnabled: true},
			expChangedVal:  true,
			post: func(t *testing.T, flags map[string]any) {
				t.Helper()
				for _, f := range []string{"hide-scrollbars", "mute-audio"} {
					assert.Contains(t, flags, f)
				}
			},
		},
		{
			flag:           "single-process",
			expInitVal:     false,
			changeSettings: &common.Settings{SingleProcess: true},
			expChangedVal:  true,
			post: func(t *testing.T, flags map[string]any) {
				t.Helper()
				assert.Equal(t, true, flags["no-zygote"])
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.flag, func(t *testing.T) {
			t.Parallel()

			flags := prepareFlags(common.Settings{})
			if tc.expInitVal != nil {
				require.Contains(t, flags, tc.flag)
				assert.Equal(t, tc.expInitVal, flags[tc.flag])
			} else {
				require.NotContains(t, flags, tc.flag)
			}

			if tc.changeSettings != nil {
				flags = prepareFlags(*tc.changeSettings)
				if tc.expChangedVal != nil {
					assert.Equal(t, tc.expChangedVal, flags[tc.flag])
				} else {
					assert.NotContains(t, flags, tc.flag)
				}
			}

			if tc.post != nil {
				tc.post(t, flags)
			}
		})
	}
}

func TestCommandLine(t *testing.T) {
	t.Parallel()

	t.Run("sorted", func(t *testing.T) {
		t.Parallel()

		cl, err := commandLine("chrome", map[string]any{
			"zeta":  true,
			"alpha": "1",
			"off":   false,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"chrome", "--alpha=1", "--zeta", "--remote-debugging-port=0",
		}, cl.Argv())
	})
	t.Run("debugging_port", func(t *testing.T) {
		t.Parallel()

		cl, err := commandLine("chrome", map[string]any{"remote-debugging-port": "9222"})
		require.NoError(t, err)
		assert.Equal(t, "9222", cl.SwitchValue("remote-debugging-port"))
		assert.Len(t, cl.Switches(), 1)
	})
	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		_, err := commandLine("chrome", map[string]any{"bad": 1})
		require.ErrorContains(t, err, `invalid browser command line flag: "bad=1"`)
	})
}

type recordingApp struct {
	processTypes []string
	launched     []*common.CommandLine
	onLaunch     func(cl *common.CommandLine)
}

func (a *recordingApp) OnBeforeCommandLineProcessing(processType string, cl *common.CommandLine) {
	a.processTypes = append(a.processTypes, processType)
	cl.AppendSwitchWithValue("from-app", processType)
}

func (a *recordingApp) BrowserProcessHandler() common.BrowserProcessHandler { return a }

func (a *recordingApp) RenderProcessHandler() common.RenderProcessHandler { return nil }

func (a *recordingApp) OnBeforeChildProcessLaunch(cl *common.CommandLine) {
	a.launched = append(a.launched, cl.Copy())
	if a.onLaunch != nil {
		a.onLaunch(cl)
	}
}

func TestRuntimeExecuteProcess(t *testing.T) {
	t.Parallel()

	r := New(log.NewNullLogger())

	var app recordingApp
	assert.Equal(t, -1, r.ExecuteProcess([]string{"testrender", "https://example.com"}, &app))
	assert.Empty(t, app.processTypes)

	code := r.ExecuteProcess([]string{"testrender", "--type=renderer", "--lang=en"}, &app)
	assert.Equal(t, int(exitcodes.SubProcess), code)
	assert.Equal(t, []string{"renderer"}, app.processTypes)

	assert.Equal(t, int(exitcodes.SubProcess), r.ExecuteProcess([]string{"testrender", "--type=gpu-process"}, nil))
}

func TestRuntimeLoad(t *testing.T) {
	t.Parallel()

	r := New(log.NewNullLogger())
	err := r.Load(filepath.Join(t.TempDir(), "no-such-engine"))
	require.ErrorIs(t, err, ErrEngineNotFound)
	assert.Empty(t, r.ExecutablePath())

	err = r.Initialize(context.Background(), common.Settings{}, nil)
	require.ErrorIs(t, err, ErrNotLoaded)

	_, err = r.CreateBrowser(context.Background(), common.WindowInfo{}, nil, common.BrowserSettings{}, "about:blank")
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestRuntimeConnect(t *testing.T) {
	t.Parallel()

	var cmdsReceived []cdproto.MethodType
	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", ws.CDPDefaultHandler, &cmdsReceived))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(log.NewNullLogger())
	settings := common.Settings{MultiThreadedMessageLoop: true, Timeout: 5 * time.Second}
	require.NoError(t, r.Connect(ctx, server.WebSocketURL("/cdp"), settings, nil))
	require.ErrorIs(t, r.Connect(ctx, server.WebSocketURL("/cdp"), settings, nil), ErrAlreadyInitialized)

	_, err := r.CreateBrowser(ctx, common.WindowInfo{}, nil, common.BrowserSettings{}, "https://example.com")
	require.ErrorIs(t, err, common.ErrWindowed)

	var window common.WindowInfo
	window.SetAsWindowless(false)
	v, err := r.CreateBrowser(ctx, window, nil, common.BrowserSettings{}, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, ws.DefaultTargetID, string(v.ID()))
	w, h := v.Size()
	assert.Equal(t, int(common.DefaultViewWidth), w)
	assert.Equal(t, int(common.DefaultViewHeight), h)

	_, err = r.CreateBrowser(ctx, window, nil, common.BrowserSettings{}, "")
	require.ErrorIs(t, err, common.ErrSessionActive)

	require.NoError(t, r.Shutdown(ctx))
	require.NoError(t, r.Shutdown(ctx))

	assert.Contains(t, server.Received(&cmdsReceived), cdproto.MethodType(cdproto.CommandPageNavigate))
	assert.Contains(t, server.Received(&cmdsReceived), cdproto.MethodType(cdproto.CommandTargetCreateTarget))
}

// fakeEngine writes an executable that announces the DevTools URL wsURL on
// stderr, records its arguments in argsPath and waits to be killed.
func fakeEngine(t *testing.T, wsURL string) (path, argsPath string) {
	t.Helper()

	dir := t.TempDir()
	path = filepath.Join(dir, "fake-chrome")
	argsPath = filepath.Join(dir, "args")
	script := fmt.Sprintf("#!/bin/sh\necho \"$@\" > %q\necho \"DevTools listening on %s\" >&2\nexec sleep 30\n", argsPath, wsURL)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700)) //nolint:gosec

	return path, argsPath
}

func TestRuntimeInitialize(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("the fake engine is a shell script")
	}

	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", ws.CDPDefaultHandler, nil))
	path, argsPath := fakeEngine(t, server.WebSocketURL("/cdp"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(log.NewNullLogger())
	require.NoError(t, r.Load(path))
	assert.Equal(t, path, r.ExecutablePath())

	app := recordingApp{
		onLaunch: func(cl *common.CommandLine) { cl.AppendSwitch("from-launch-handler") },
	}
	userDataDir := t.TempDir()
	settings := common.Settings{
		WindowlessRenderingEnabled: true,
		MultiThreadedMessageLoop:   true,
		UserDataDir:                userDataDir,
		Timeout:                    10 * time.Second,
		Args:                       []string{"lang=en"},
	}
	require.NoError(t, r.Initialize(ctx, settings, &app))
	require.ErrorIs(t, r.Initialize(ctx, settings, &app), ErrAlreadyInitialized)
	require.NotNil(t, r.Browser())
	assert.True(t, r.Browser().IsConnected())

	assert.Equal(t, []string{""}, app.processTypes)
	require.Len(t, app.launched, 1)
	launched := app.launched[0]
	assert.Equal(t, path, launched.Program())
	assert.True(t, launched.HasSwitch("headless"))
	assert.Equal(t, "en", launched.SwitchValue("lang"))
	assert.Equal(t, userDataDir, launched.SwitchValue("user-data-dir"))
	assert.Equal(t, "0", launched.SwitchValue("remote-debugging-port"))

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(argsPath) //nolint:gosec
		return err == nil && strings.Contains(string(b), "--from-launch-handler")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Shutdown(ctx))
	assert.DirExists(t, userDataDir)
}
