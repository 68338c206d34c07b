package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// repl is the interactive command loop dbzctl falls into when invoked with
// no command-line arguments, grounded on sloty's liner-based REPL shape
// (prompt, persistent history file, Fields-split dispatch).
type repl struct {
	sess  *session
	io    *ioHandle
	reg   *registry
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dbzctl_history")
}

func (r *repl) completer(line string) []string {
	var out []string
	for _, c := range r.reg.commands {
		if strings.HasPrefix(c.Name(), line) {
			out = append(out, c.Name())
		}
	}
	return out
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()
	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		f.Close()
	}

	r.io.Println("dbzctl - interactive inspector, type 'help' for commands")

	for {
		line, err := r.liner.Prompt("dbzctl> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				r.io.Println("bye")
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if line == "exit" || line == "quit" || line == "q" {
			break
		}

		if err := r.reg.dispatch(r.sess, r.io, strings.Fields(line)); err != nil {
			r.io.ErrPrintln("error:", err)
		}
	}

	r.saveHistory()
	return nil
}

func (r *repl) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}
	if f, err := os.Create(path); err == nil {
		_, _ = r.liner.WriteHistory(f)
		f.Close()
	}
}
