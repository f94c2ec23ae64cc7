// Package tests contains the GlobalState used by the command tests.
package tests

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/testrender/cmd/state"
)

// GlobalTestState is a wrapper around GlobalState for use in tests.
type GlobalTestState struct {
	*state.GlobalState
	Cancel func()

	Stdout, Stderr *Buffer
	LoggerHook     *logtest.Hook

	ExpectedExitCode int
	exitCode         atomic.Int64
	osExitCalled     atomic.Bool
}

// NewGlobalTestState returns an initialized GlobalTestState, mocking all
// GlobalState fields for use in tests. Files go to an in-memory file system.
func NewGlobalTestState(tb testing.TB) *GlobalTestState {
	tb.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.Out = io.Discard
	hook := logtest.NewLocal(logger)

	outMutex := &sync.Mutex{}
	ts := &GlobalTestState{
		Cancel:     cancel,
		Stdout:     &Buffer{mu: outMutex},
		Stderr:     &Buffer{mu: outMutex},
		LoggerHook: hook,
	}

	defaultOsExitHandle := func(exitCode int) {
		cancel()
		ts.exitCode.Store(int64(exitCode))
		ts.osExitCalled.Store(true)
		assert.Equal(tb, ts.ExpectedExitCode, exitCode)
	}

	defaultFlags := state.GetDefaultFlags()
	defaultFlags.NoColor = true

	stdout := &state.ConsoleWriter{RawOut: &ts.Stdout.buf, Mutex: outMutex, Writer: &ts.Stdout.buf}
	stderr := &state.ConsoleWriter{RawOut: &ts.Stderr.buf, Mutex: outMutex, Writer: &ts.Stderr.buf}

	tempDir := tb.TempDir()
	ts.GlobalState = &state.GlobalState{
		Ctx:          ctx,
		FS:           afero.NewMemMapFs(),
		Getwd:        func() (string, error) { return tempDir, nil },
		TempDir:      func() string { return tempDir },
		BinaryName:   "testrender",
		CmdArgs:      []string{},
		Env:          map[string]string{},
		DefaultFlags: defaultFlags,
		Flags:        defaultFlags,
		OutMutex:     outMutex,
		Stdout:       stdout,
		Stderr:       stderr,
		Stdin:        new(bytes.Buffer),
		OSExit:       defaultOsExitHandle,
		SignalNotify: signal.Notify,
		SignalStop:   signal.Stop,
		Logger:       logger,
		FallbackLogger: &logrus.Logger{
			Out:       stderr,
			Formatter: new(logrus.TextFormatter),
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
	}

	tb.Cleanup(func() {
		if ts.ExpectedExitCode > 0 {
			// Ensure that, if we expected to receive an error, our `os.Exit()` mock
			// function was actually called.
			require.True(tb, ts.osExitCalled.Load())
		}
	})

	return ts
}

// ExitCode returns the code the command exited with, -1 before it exited.
func (ts *GlobalTestState) ExitCode() int {
	if !ts.osExitCalled.Load() {
		return -1
	}
	return int(ts.exitCode.Load())
}

// Buffer is the output of the command, readable while the command writes to
// it from other goroutines.
type Buffer struct {
	mu  *sync.Mutex
	buf bytes.Buffer
}

// String returns the output written so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

// FakeSignals replaces the signal handling of ts with a channel the test
// can send signals through.
func FakeSignals(ts *GlobalTestState) chan<- os.Signal {
	sigC := make(chan os.Signal, 1)
	var mu sync.Mutex
	var subscribers []chan<- os.Signal

	ts.SignalNotify = func(c chan<- os.Signal, _ ...os.Signal) {
		mu.Lock()
		defer mu.Unlock()
		subscribers = append(subscribers, c)
	}
	ts.SignalStop = func(c chan<- os.Signal) {
		mu.Lock()
		defer mu.Unlock()
		for i, s := range subscribers {
			if s == c {
				subscribers = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
	}
	go func() {
		for sig := range sigC {
			mu.Lock()
			for _, s := range subscribers {
				s <- sig
			}
			mu.Unlock()
		}
	}()

	return sigC
}
