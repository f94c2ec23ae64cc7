// Package cmd implements the testrender command line.
package cmd

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/testrender/chromium"
	"github.com/liuxd6825/testrender/cmd/state"
	"github.com/liuxd6825/testrender/errext"
	"github.com/liuxd6825/testrender/errext/exitcodes"
	"github.com/liuxd6825/testrender/handlers"
	"github.com/liuxd6825/testrender/log"
)

const usageTemplate = `Usage:
  {{.UseLine}}

Arguments:
  url      page to render (default "about:blank")
  width    view width in pixels (default 1280)
  height   view height in pixels (default 768)

Environment:
  TESTRENDER_EXECUTABLE_PATH   Chromium executable, looked up when empty
  TESTRENDER_REMOTE_URL        DevTools WebSocket URL of a running Chromium
  TESTRENDER_PAINT_PATH        PNG file overwritten on every paint
  TESTRENDER_CONTENT_PATH      local file served for every request when intercepting
  TESTRENDER_INTERCEPT         serve TESTRENDER_CONTENT_PATH instead of the network
  TESTRENDER_DUMP_MESSAGES     print every process message the render process receives
  TESTRENDER_SEND_ON_LOAD      message sent to the render process after each main frame load
  TESTRENDER_INTERPRETER       wrapper program engine processes are launched through
  TESTRENDER_TIMEOUT           engine start up and command timeout

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}
`

// ExecuteWithGlobalState runs the root command with an existing GlobalState.
// It is called by main.main().
func ExecuteWithGlobalState(gs *state.GlobalState) {
	newRootCommand(gs).execute()
}

// This is to keep all fields needed for the main/root testrender command
type rootCommand struct {
	globalState *state.GlobalState

	cmd    *cobra.Command
	logger *log.Logger
	rt     *chromium.Runtime
}

func newRootCommand(gs *state.GlobalState) *rootCommand {
	logger := log.New(gs.Logger, nil)
	c := &rootCommand{
		globalState: gs,
		logger:      logger,
		rt:          chromium.New(logger),
	}

	rootCmd := &cobra.Command{
		Use:               gs.BinaryName + " [url [width [height]]]",
		Short:             "Render a page off-screen with an embedded Chromium",
		Args:              cobra.MaximumNArgs(3),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
		RunE:              c.render,
	}
	rootCmd.Flags().AddFlagSet(rootCmdPersistentFlagSet(gs))
	rootCmd.SetArgs(gs.CmdArgs[1:])
	rootCmd.SetOut(gs.Stdout)
	rootCmd.SetErr(gs.Stderr)
	rootCmd.SetIn(gs.Stdin)
	rootCmd.SetUsageTemplate(usageTemplate)

	c.cmd = rootCmd
	return c
}

func (c *rootCommand) persistentPreRunE(_ *cobra.Command, _ []string) error {
	if err := c.setupLoggers(); err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	c.logger.Debugf("testrender", "args:%q", c.globalState.CmdArgs)

	return nil
}

func (c *rootCommand) execute() {
	ctx, cancel := context.WithCancel(c.globalState.Ctx)
	c.globalState.Ctx = ctx

	exitCode := -1
	defer func() {
		cancel()
		c.globalState.OSExit(exitCode)
	}()

	defer func() {
		if r := recover(); r != nil {
			exitCode = int(exitcodes.GoPanic)
			err := fmt.Errorf("unexpected testrender panic: %s\n%s", r, debug.Stack())
			c.globalState.Logger.Error(err)
		}
	}()

	// Engine sub-processes never reach the command line parser, their
	// switches are not ours.
	app := handlers.NewDemoApp(handlers.AppOptions{Out: c.globalState.Stdout})
	if code := c.rt.ExecuteProcess(c.globalState.CmdArgs, app); code != -1 {
		exitCode = code
		return
	}

	err := c.cmd.Execute()
	if err == nil {
		exitCode = 0
		return
	}

	if code, ok := errext.ExitCode(err); ok {
		exitCode = int(code)
	}

	errText, fields := errext.Format(err)
	c.globalState.Logger.WithFields(fields).Error(errText)
}

func rootCmdPersistentFlagSet(gs *state.GlobalState) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)

	flags.StringVar(&gs.Flags.LogFormat, "log-format", gs.Flags.LogFormat, "log output format, one of: text, json, raw")
	flags.Lookup("log-format").DefValue = gs.DefaultFlags.LogFormat

	flags.StringVar(&gs.Flags.LogLevel, "log-level", gs.Flags.LogLevel, "log level")
	flags.Lookup("log-level").DefValue = gs.DefaultFlags.LogLevel

	flags.StringVar(&gs.Flags.CategoryFilter, "log-category-filter", gs.Flags.CategoryFilter,
		"only log the categories matching this regular expression")

	flags.BoolVar(&gs.Flags.NoColor, "no-color", gs.Flags.NoColor, "disable colored output")
	flags.Lookup("no-color").DefValue = strconv.FormatBool(gs.DefaultFlags.NoColor)

	flags.BoolVarP(&gs.Flags.Verbose, "verbose", "v", gs.DefaultFlags.Verbose, "enable verbose logging")

	return flags
}

// RawFormatter it does nothing with the message just prints it
type RawFormatter struct{}

// Format renders a single log entry
func (f RawFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}

func (c *rootCommand) setupLoggers() error {
	gs := c.globalState

	level, err := logrus.ParseLevel(gs.Flags.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", gs.Flags.LogLevel, err)
	}
	if gs.Flags.Verbose {
		level = logrus.DebugLevel
	}
	gs.Logger.SetLevel(level)

	if err := c.logger.SetCategoryFilter(gs.Flags.CategoryFilter); err != nil {
		return err
	}

	switch gs.Flags.LogFormat {
	case "raw":
		gs.Logger.SetFormatter(&RawFormatter{})
		gs.Logger.Debug("Logger format: RAW")
	case "json":
		gs.Logger.SetFormatter(&logrus.JSONFormatter{})
		gs.Logger.Debug("Logger format: JSON")
	case "", "text":
		gs.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !gs.Flags.NoColor && gs.Stderr.IsTTY,
			DisableColors: gs.Flags.NoColor,
		})
		gs.Logger.Debug("Logger format: TEXT")
	default:
		return fmt.Errorf("unsupported log format '%s'", gs.Flags.LogFormat)
	}

	return nil
}

// getColor returns the requested color, or an uncolored object, depending on
// the value of noColor.
func getColor(noColor bool, attributes ...color.Attribute) *color.Color {
	if noColor {
		c := color.New()
		c.DisableColor()
		return c
	}

	c := color.New(attributes...)
	c.EnableColor()
	return c
}
