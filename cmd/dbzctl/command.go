package main

import (
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// command defines one dbzctl command with unified help generation,
// adapted from agent-task's internal/cli.Command -- the signal-handling
// and LLM-facing warning machinery that type also carries has no
// counterpart here, since this is a synchronous, interactive debug tool.
type command struct {
	Flags *flag.FlagSet
	Usage string
	Short string
	Exec  func(sess *session, io *ioHandle, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

func (c *command) HelpLine() string {
	return fmt.Sprintf("  %-28s %s", c.Usage, c.Short)
}

func (c *command) PrintHelp(io *ioHandle) {
	io.Println("usage:", c.Usage)
	if c.Flags != nil && c.Flags.HasFlags() {
		io.Println()
		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		io.Printf("%s", buf.String())
	}
}

// Run parses flags and executes the command against sess.
func (c *command) Run(sess *session, io *ioHandle, args []string) error {
	if c.Flags != nil {
		c.Flags.SetOutput(&strings.Builder{})
		if err := c.Flags.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				c.PrintHelp(io)
				return nil
			}
			return err
		}
		args = c.Flags.Args()
	}
	return c.Exec(sess, io, args)
}

// registry dispatches a command line to one of commands by its first
// word, per agent-task's run.go commandMap pattern.
type registry struct {
	commands []*command
	byName   map[string]*command
}

func newRegistry(commands []*command) *registry {
	r := &registry{commands: commands, byName: make(map[string]*command, len(commands))}
	for _, c := range commands {
		r.byName[c.Name()] = c
	}
	return r
}

func (r *registry) dispatch(sess *session, io *ioHandle, line []string) error {
	if len(line) == 0 {
		return nil
	}
	name := line[0]
	c, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try 'help')", name)
	}
	return c.Run(sess, io, line[1:])
}

func (r *registry) printUsage(io *ioHandle) {
	io.Println("dbzctl - interactive inspector for a dbzero-style prefix store")
	io.Println()
	io.Println("commands:")
	for _, c := range r.commands {
		io.Println(c.HelpLine())
	}
}
