/*
 *
 * k6 - a next-generation load testing tool
 * Copyright (C) 2016 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/testrender/common"
	"github.com/liuxd6825/testrender/errext"
	"github.com/liuxd6825/testrender/errext/exitcodes"
)

// Config is the configuration of one render run. Every field is
// consolidated from the defaults, the TESTRENDER_* environment variables and
// the positional arguments, in that order.
type Config struct {
	URL    null.String `ignored:"true"`
	Width  null.Int    `ignored:"true"`
	Height null.Int    `ignored:"true"`

	ExecutablePath null.String  `envconfig:"TESTRENDER_EXECUTABLE_PATH"`
	RemoteURL      null.String  `envconfig:"TESTRENDER_REMOTE_URL"`
	PaintPath      null.String  `envconfig:"TESTRENDER_PAINT_PATH"`
	ContentPath    null.String  `envconfig:"TESTRENDER_CONTENT_PATH"`
	Intercept      null.Bool    `envconfig:"TESTRENDER_INTERCEPT"`
	DumpMessages   null.Bool    `envconfig:"TESTRENDER_DUMP_MESSAGES"`
	SingleProcess  null.Bool    `envconfig:"TESTRENDER_SINGLE_PROCESS"`
	MessageLoop    null.Bool    `envconfig:"TESTRENDER_MULTI_THREADED_MESSAGE_LOOP"`
	Interpreter    null.String  `envconfig:"TESTRENDER_INTERPRETER"`
	SendOnLoad     null.String  `envconfig:"TESTRENDER_SEND_ON_LOAD"`
	UserDataDir    null.String  `envconfig:"TESTRENDER_USER_DATA_DIR"`
	Timeout        NullDuration `envconfig:"TESTRENDER_TIMEOUT"`
}

// NullDuration is a time.Duration that knows whether it was set.
type NullDuration struct {
	Duration time.Duration
	Valid    bool
}

// NullDurationFrom returns a new valid NullDuration from a time.Duration.
func NullDurationFrom(d time.Duration) NullDuration {
	return NullDuration{Duration: d, Valid: true}
}

// UnmarshalText converts text data to a valid NullDuration.
func (d *NullDuration) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = NullDuration{}
		return nil
	}
	v, err := time.ParseDuration(string(data))
	if err != nil {
		return err //nolint:wrapcheck
	}
	*d = NullDurationFrom(v)
	return nil
}

// defaultConfig returns the configuration used when nothing is set.
// Output files go to tempDir.
func defaultConfig(tempDir string) Config {
	return Config{
		URL:         null.NewString(common.DefaultURL, false),
		Width:       null.NewInt(common.DefaultViewWidth, false),
		Height:      null.NewInt(common.DefaultViewHeight, false),
		PaintPath:   null.NewString(filepath.Join(tempDir, "LastOnPaint.png"), false),
		ContentPath: null.NewString(filepath.Join(tempDir, "sportscar.svg"), false),
		MessageLoop: null.NewBool(true, false),
		Timeout:     NullDuration{Duration: common.DefaultTimeout},
	}
}

// Apply overwrites the fields of c with the valid fields of cfg.
func (c Config) Apply(cfg Config) Config {
	if cfg.URL.Valid {
		c.URL = cfg.URL
	}
	if cfg.Width.Valid {
		c.Width = cfg.Width
	}
	if cfg.Height.Valid {
		c.Height = cfg.Height
	}
	if cfg.ExecutablePath.Valid {
		c.ExecutablePath = cfg.ExecutablePath
	}
	if cfg.RemoteURL.Valid {
		c.RemoteURL = cfg.RemoteURL
	}
	if cfg.PaintPath.Valid {
		c.PaintPath = cfg.PaintPath
	}
	if cfg.ContentPath.Valid {
		c.ContentPath = cfg.ContentPath
	}
	if cfg.Intercept.Valid {
		c.Intercept = cfg.Intercept
	}
	if cfg.DumpMessages.Valid {
		c.DumpMessages = cfg.DumpMessages
	}
	if cfg.SingleProcess.Valid {
		c.SingleProcess = cfg.SingleProcess
	}
	if cfg.MessageLoop.Valid {
		c.MessageLoop = cfg.MessageLoop
	}
	if cfg.Interpreter.Valid {
		c.Interpreter = cfg.Interpreter
	}
	if cfg.SendOnLoad.Valid {
		c.SendOnLoad = cfg.SendOnLoad
	}
	if cfg.UserDataDir.Valid {
		c.UserDataDir = cfg.UserDataDir
	}
	if cfg.Timeout.Valid {
		c.Timeout = cfg.Timeout
	}
	return c
}

// configFromArgs parses the positional arguments [url [width [height]]].
func configFromArgs(args []string) (Config, error) {
	var conf Config
	if len(args) > 0 {
		conf.URL = null.StringFrom(args[0])
	}
	for i, dst := range []*null.Int{&conf.Width, &conf.Height} {
		if len(args) <= i+1 {
			break
		}
		v, err := strconv.ParseInt(args[i+1], 10, 32)
		if err != nil {
			return conf, fmt.Errorf("invalid %s %q: %w", [...]string{"width", "height"}[i], args[i+1], err)
		}
		*dst = null.IntFrom(v)
	}
	return conf, nil
}

// getConsolidatedConfig combines the defaults, env and args into the
// configuration of the run and validates it.
func getConsolidatedConfig(tempDir string, env map[string]string, args []string) (Config, error) {
	envConf := Config{}
	if err := envconfig.Process("", &envConf, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return Config{}, errext.WithExitCodeIfNone(fmt.Errorf("parsing environment: %w", err), exitcodes.InvalidConfig)
	}
	argConf, err := configFromArgs(args)
	if err != nil {
		return Config{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	conf := defaultConfig(tempDir).Apply(envConf).Apply(argConf)
	if err := conf.Validate(); err != nil {
		return Config{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	return conf, nil
}

// Validate checks the consolidated configuration.
func (c Config) Validate() error {
	var errs []error
	if c.URL.String == "" {
		errs = append(errs, errors.New("url must not be empty"))
	}
	if c.Width.Int64 <= 0 {
		errs = append(errs, fmt.Errorf("width must be positive, got %d", c.Width.Int64))
	}
	if c.Height.Int64 <= 0 {
		errs = append(errs, fmt.Errorf("height must be positive, got %d", c.Height.Int64))
	}
	if c.Timeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout.Duration))
	}
	if c.Intercept.Bool && c.ContentPath.String == "" {
		errs = append(errs, errors.New("interception needs a content path"))
	}
	return errors.Join(errs...)
}

// settings returns the engine settings of the run.
func (c Config) settings() common.Settings {
	return common.Settings{
		SingleProcess:              c.SingleProcess.Bool,
		MultiThreadedMessageLoop:   c.MessageLoop.Bool,
		WindowlessRenderingEnabled: true,
		ExecutablePath:             c.ExecutablePath.String,
		UserDataDir:                c.UserDataDir.String,
		Timeout:                    c.Timeout.Duration,
	}
}
