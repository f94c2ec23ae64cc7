package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testLogFormatter struct{}

func (f *testLogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(entry.Data["category"].(string) + ":" + entry.Message + "\n"), nil //nolint:forcetypeassert
}

func newTestLogger(level logrus.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	lg := logrus.New()
	lg.SetOutput(&buf)
	lg.SetFormatter(&testLogFormatter{})
	lg.SetLevel(level)

	return New(lg, nil), &buf
}

func TestLoggerLevels(t *testing.T) {
	t.Parallel()

	l, buf := newTestLogger(logrus.InfoLevel)
	l.Debugf("View:paint", "hidden %d", 1)
	l.Infof("View:paint", "shown %d", 2)
	l.Errorf("View:load", "failed %s", "here")

	assert.Equal(t, "View:paint:shown 2\nView:load:failed here\n", buf.String())
	assert.False(t, l.DebugMode())

	require.NoError(t, l.SetLevel("debug"))
	assert.True(t, l.DebugMode())
	require.Error(t, l.SetLevel("loud"))
}

func TestLoggerCategoryFilter(t *testing.T) {
	t.Parallel()

	l, buf := newTestLogger(logrus.DebugLevel)
	require.NoError(t, l.SetCategoryFilter("^cdp"))

	l.Debugf("cdp:send", "-> %s", "{}")
	l.Debugf("View:paint", "dropped")

	assert.Equal(t, "cdp:send:-> {}\n", buf.String())
	assert.Error(t, l.SetCategoryFilter("(["))
}

func TestNullLogger(t *testing.T) {
	t.Parallel()

	l := NewNullLogger()
	assert.NotPanics(t, func() { l.Errorf("any", "%d", 1) })

	var nl *Logger
	assert.NotPanics(t, func() { nl.Errorf("any", "%d", 1) })
}
