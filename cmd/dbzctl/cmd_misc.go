package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"

	"github.com/dbzero-io/corestore/fixture"
	"github.com/dbzero-io/corestore/prefix"
)

func closeCmd() *command {
	return &command{
		Usage: "close <name>",
		Short: "commit and close one open prefix",
		Exec: func(sess *session, io *ioHandle, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("close: expected <name>")
			}
			f, err := sess.fixture(args[0])
			if err != nil {
				return err
			}
			sess.ws.Remove(args[0])
			delete(sess.indexes, args[0])
			if err := f.Close(); err != nil {
				return err
			}
			io.Printf("closed %q\n", args[0])
			return nil
		},
	}
}

func listCmd() *command {
	return &command{
		Usage: "list",
		Short: "list every open prefix",
		Exec: func(sess *session, io *ioHandle, args []string) error {
			names := sess.names()
			table := tablewriter.NewWriter(io.out)
			table.SetHeader([]string{"name", "state", "access"})
			for _, name := range names {
				f, err := sess.fixture(name)
				if err != nil {
					return err
				}
				access := "rw"
				if fixture.IsReadOnly(f.Prefix()) {
					access = "ro"
				}
				table.Append([]string{name, fmt.Sprintf("%d", f.Prefix().GetStateNum()), access})
			}
			table.Render()
			return nil
		},
	}
}

func statCmd() *command {
	return &command{
		Usage: "stat <name>",
		Short: "show detailed state for one open prefix",
		Exec: func(sess *session, io *ioHandle, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("stat: expected <name>")
			}
			f, err := sess.fixture(args[0])
			if err != nil {
				return err
			}
			p := f.Prefix()
			table := tablewriter.NewWriter(io.out)
			table.SetHeader([]string{"field", "value"})
			table.Append([]string{"name", f.Name()})
			table.Append([]string{"uuid", fmt.Sprintf("%016x", f.UUID())})
			table.Append([]string{"state", fmt.Sprintf("%d", p.GetStateNum())})
			table.Append([]string{"storage state", fmt.Sprintf("%d", p.StorageStateNum())})
			table.Append([]string{"page size", fmt.Sprintf("%d", p.GetPageSize())})
			table.Append([]string{"access", fmt.Sprintf("%v", p.AccessType())})
			table.Render()
			return nil
		},
	}
}

func commitCmd() *command {
	return &command{
		Usage: "commit <name>",
		Short: "commit one open prefix now, ignoring the auto-commit poller",
		Exec: func(sess *session, io *ioHandle, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("commit: expected <name>")
			}
			f, err := sess.fixture(args[0])
			if err != nil {
				return err
			}
			state, err := f.Commit()
			if err != nil {
				return err
			}
			io.Printf("%q committed at state %d\n", args[0], state)
			return nil
		},
	}
}

func refreshCmd() *command {
	return &command{
		Usage: "refresh <name>",
		Short: "refresh one open prefix to the latest committed state on disk",
		Exec: func(sess *session, io *ioHandle, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("refresh: expected <name>")
			}
			f, err := sess.fixture(args[0])
			if err != nil {
				return err
			}
			state, err := f.Refresh()
			if err != nil {
				return err
			}
			io.Printf("%q refreshed to state %d\n", args[0], state)
			return nil
		},
	}
}

func dumpCmd() *command {
	return &command{
		Usage: "dump <name> <addr> <size>",
		Short: "hex-dump size bytes starting at addr from one open prefix",
		Exec: func(sess *session, io *ioHandle, args []string) error {
			if len(args) != 3 {
				return fmt.Errorf("dump: expected <name> <addr> <size>")
			}
			f, err := sess.fixture(args[0])
			if err != nil {
				return err
			}
			var a, n int64
			if _, err := fmt.Sscanf(args[1], "%d", &a); err != nil {
				return fmt.Errorf("dump: bad addr %q: %w", args[1], err)
			}
			if _, err := fmt.Sscanf(args[2], "%d", &n); err != nil {
				return fmt.Errorf("dump: bad size %q: %w", args[2], err)
			}
			lock, err := f.Prefix().MapRange(a, n, prefix.Read)
			if err != nil {
				return err
			}
			io.Printf("%s", hexDump(a, lock.Buffer))
			return nil
		},
	}
}

func hexDump(base int64, buf []byte) string {
	var out []byte
	for off := 0; off < len(buf); off += 16 {
		end := off + 16
		if end > len(buf) {
			end = len(buf)
		}
		chunk := buf[off:end]
		out = append(out, []byte(fmt.Sprintf("%08x  ", base+int64(off)))...)
		for i := 0; i < 16; i++ {
			if i < len(chunk) {
				out = append(out, []byte(fmt.Sprintf("%02x ", chunk[i]))...)
			} else {
				out = append(out, []byte("   ")...)
			}
		}
		out = append(out, ' ')
		for _, b := range chunk {
			if b >= 0x20 && b < 0x7f {
				out = append(out, b)
			} else {
				out = append(out, '.')
			}
		}
		out = append(out, '\n')
	}
	return string(out)
}

func helpCmd(reg *registry) *command {
	return &command{
		Usage: "help",
		Short: "list every command",
		Exec: func(sess *session, io *ioHandle, args []string) error {
			reg.printUsage(io)
			return nil
		},
	}
}
