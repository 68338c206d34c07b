package main

import (
	"fmt"

	flag "github.com/spf13/pflag"
)

func openCmd() *command {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	readOnly := fs.Bool("ro", false, "open read-only")
	create := fs.Bool("create", false, "create a new prefix file instead of opening an existing one")
	pageSize := fs.Int64("page-size", 4096, "page size in bytes, only used with --create")
	blockSize := fs.Int64("block-size", 1<<20, "block size in bytes, only used with --create")

	return &command{
		Flags: fs,
		Usage: "open <name> <path> [--ro] [--create] [--page-size N] [--block-size N]",
		Short: "open or create a prefix file and register it with the workspace",
		Exec: func(sess *session, io *ioHandle, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("open: expected <name> <path>")
			}
			f, err := sess.openPrefix(args[0], args[1], *readOnly, *create, *pageSize, *blockSize)
			if err != nil {
				return err
			}
			io.Printf("opened %q at state %d (uuid %016x)\n", f.Name(), f.Prefix().GetStateNum(), f.UUID())
			return nil
		},
	}
}
