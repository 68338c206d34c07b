package main

import (
	"fmt"
	"io"
)

// ioHandle is a small stdout/stderr pair every command writes through, per
// internal/cli's IO pattern in the agent-task example.
type ioHandle struct {
	out    io.Writer
	errOut io.Writer
}

func newIO(out, errOut io.Writer) *ioHandle { return &ioHandle{out: out, errOut: errOut} }

func (o *ioHandle) Println(a ...any) { _, _ = fmt.Fprintln(o.out, a...) }

func (o *ioHandle) Printf(format string, a ...any) { _, _ = fmt.Fprintf(o.out, format, a...) }

func (o *ioHandle) ErrPrintln(a ...any) { _, _ = fmt.Fprintln(o.errOut, a...) }
