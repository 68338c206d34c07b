package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestCommandNameIsFirstUsageWord(t *testing.T) {
	c := &command{Usage: "stat <name>"}
	if got := c.Name(); got != "stat" {
		t.Fatalf("Name() = %q, want %q", got, "stat")
	}
}

func TestRegistryDispatchUnknownCommand(t *testing.T) {
	reg := newRegistry(nil)
	var out, errOut bytes.Buffer
	io := newIO(&out, &errOut)

	err := reg.dispatch(nil, io, []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("dispatch returned %v, want an unknown command error", err)
	}
}

func TestRegistryDispatchEmptyLineIsNoOp(t *testing.T) {
	reg := newRegistry(nil)
	var out, errOut bytes.Buffer
	io := newIO(&out, &errOut)

	if err := reg.dispatch(nil, io, nil); err != nil {
		t.Fatalf("dispatch(nil) returned %v, want nil", err)
	}
}

func TestCommandRunReportsFlagHelpWithoutError(t *testing.T) {
	ran := false
	c := openCmd()
	var out, errOut bytes.Buffer
	io := newIO(&out, &errOut)
	c.Exec = func(sess *session, io *ioHandle, args []string) error {
		ran = true
		return nil
	}

	if err := c.Run(nil, io, []string{"--help"}); err != nil {
		t.Fatalf("Run with --help returned %v, want nil", err)
	}
	if ran {
		t.Fatalf("--help should print usage and not invoke Exec")
	}
	if !strings.Contains(out.String(), "usage:") {
		t.Fatalf("expected usage output, got %q", out.String())
	}
}

func TestRegistryPrintUsageListsEveryCommand(t *testing.T) {
	reg := newRegistry([]*command{openCmd(), closeCmd()})
	var out, errOut bytes.Buffer
	io := newIO(&out, &errOut)

	reg.printUsage(io)

	if !strings.Contains(out.String(), "open") || !strings.Contains(out.String(), "close") {
		t.Fatalf("printUsage output missing a command: %q", out.String())
	}
}
