package common

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Switch is a single "--name[=value]" command line switch.
type Switch struct {
	Name  string
	Value string
}

func (s Switch) String() string {
	if s.Value == "" {
		return "--" + s.Name
	}
	return "--" + s.Name + "=" + s.Value
}

// CommandLine describes the command line of a process to be launched:
// an optional wrapper prefix, the program, its switches in insertion order
// and positional arguments.
type CommandLine struct {
	wrapper  []string
	program  string
	switches []Switch
	args     []string
}

// NewCommandLine returns an empty command line for program.
func NewCommandLine(program string) *CommandLine {
	return &CommandLine{program: program}
}

// ParseCommandLine parses argv, where argv[0] is the program.
// Arguments after a bare "--" are positional.
func ParseCommandLine(argv []string) *CommandLine {
	cl := &CommandLine{}
	if len(argv) == 0 {
		return cl
	}
	cl.program = argv[0]

	positional := false
	for _, a := range argv[1:] {
		switch {
		case positional:
			cl.args = append(cl.args, a)
		case a == "--":
			positional = true
		case strings.HasPrefix(a, "--") && len(a) > 2:
			name, value, _ := strings.Cut(a[2:], "=")
			cl.AppendSwitchWithValue(name, value)
		default:
			cl.args = append(cl.args, a)
		}
	}

	return cl
}

// Program returns the program to launch.
func (c *CommandLine) Program() string {
	return c.program
}

// SetProgram replaces the program to launch.
func (c *CommandLine) SetProgram(program string) {
	c.program = program
}

// PrependWrapper puts wrapper in front of the program, so that the launched
// process is "wrapper program switches... args...". Wrappers prepended later
// come first.
func (c *CommandLine) PrependWrapper(wrapper string) {
	c.wrapper = append([]string{wrapper}, c.wrapper...)
}

// HasSwitch reports whether the switch name is present.
func (c *CommandLine) HasSwitch(name string) bool {
	_, ok := c.lookup(name)
	return ok
}

// SwitchValue returns the value of the switch name, "" when absent.
func (c *CommandLine) SwitchValue(name string) string {
	if i, ok := c.lookup(name); ok {
		return c.switches[i].Value
	}
	return ""
}

// AppendSwitch adds a switch without a value.
func (c *CommandLine) AppendSwitch(name string) {
	c.AppendSwitchWithValue(name, "")
}

// AppendSwitchWithValue adds a switch, replacing the value of an existing
// switch with the same name.
func (c *CommandLine) AppendSwitchWithValue(name, value string) {
	if i, ok := c.lookup(name); ok {
		c.switches[i].Value = value
		return
	}
	c.switches = append(c.switches, Switch{Name: name, Value: value})
}

// RemoveSwitch deletes the switch name.
func (c *CommandLine) RemoveSwitch(name string) {
	if i, ok := c.lookup(name); ok {
		c.switches = append(c.switches[:i], c.switches[i+1:]...)
	}
}

// Switches returns the switches in insertion order.
func (c *CommandLine) Switches() []Switch {
	return append([]Switch(nil), c.switches...)
}

// AppendArgument adds a positional argument.
func (c *CommandLine) AppendArgument(arg string) {
	c.args = append(c.args, arg)
}

// Arguments returns the positional arguments.
func (c *CommandLine) Arguments() []string {
	return append([]string(nil), c.args...)
}

// ProcessType returns the engine process role, empty for the main process.
func (c *CommandLine) ProcessType() string {
	return c.SwitchValue("type")
}

// Argv returns the full argument vector, wrapper first.
func (c *CommandLine) Argv() []string {
	argv := make([]string, 0, len(c.wrapper)+1+len(c.switches)+len(c.args))
	argv = append(argv, c.wrapper...)
	argv = append(argv, c.program)
	for _, s := range c.switches {
		argv = append(argv, s.String())
	}
	argv = append(argv, c.args...)

	return argv
}

// Copy returns an independent copy of c.
func (c *CommandLine) Copy() *CommandLine {
	return &CommandLine{
		wrapper:  append([]string(nil), c.wrapper...),
		program:  c.program,
		switches: c.Switches(),
		args:     c.Arguments(),
	}
}

func (c *CommandLine) String() string {
	argv := c.Argv()
	for i, a := range argv {
		if strings.ContainsAny(a, " \t\"") {
			argv[i] = fmt.Sprintf("%q", a)
		}
	}
	return strings.Join(argv, " ")
}

func (c *CommandLine) lookup(name string) (int, bool) {
	for i, s := range c.switches {
		if s.Name == name {
			return i, true
		}
	}
	return -1, false
}

// ResolveProgram returns program as an absolute path, looking it up in
// PATH when it has no path separator.
func ResolveProgram(program string) (string, error) {
	if !strings.ContainsRune(program, filepath.Separator) {
		p, err := exec.LookPath(program)
		if err != nil {
			return "", fmt.Errorf("looking up %q: %w", program, err)
		}
		program = p
	}
	abs, err := filepath.Abs(program)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", program, err)
	}
	return abs, nil
}
