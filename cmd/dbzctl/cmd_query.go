package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"

	flag "github.com/spf13/pflag"

	"github.com/dbzero-io/corestore/ft"
)

func tagCmd() *command {
	return &command{
		Usage: "tag <name> <add|remove> <tag> <id>",
		Short: "add or remove one id from a tag's posting list",
		Exec: func(sess *session, io *ioHandle, args []string) error {
			if len(args) != 4 {
				return fmt.Errorf("tag: expected <name> <add|remove> <tag> <id>")
			}
			ix, err := sess.index(args[0])
			if err != nil {
				return err
			}
			id, err := strconv.ParseUint(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("tag: bad id %q: %w", args[3], err)
			}

			b := ix.AcquireBatch()
			defer b.Release()
			switch args[1] {
			case "add":
				b.Add(args[2], id)
			case "remove":
				b.Remove(args[2], id)
			default:
				return fmt.Errorf("tag: unknown operation %q, want add or remove", args[1])
			}
			b.Flush()
			io.Printf("%s %s -> %d\n", args[1], args[2], id)
			return nil
		},
	}
}

func queryCmd() *command {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	limit := fs.Int("limit", 100, "maximum number of results to print, 0 for unlimited")
	descending := fs.Bool("desc", false, "walk results in descending order")

	return &command{
		Flags: fs,
		Usage: "query <name> <tag-query>",
		Short: "evaluate a boolean tag query (a AND (b OR c) ANDNOT d) against one open prefix's index",
		Exec: func(sess *session, io *ioHandle, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("query: expected <name> <tag-query>")
			}
			ix, err := sess.index(args[0])
			if err != nil {
				return err
			}
			q, err := parseTagQuery(args[1])
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			dir := ft.Ascending
			if *descending {
				dir = ft.Descending
			}
			it := buildIterator(q, ix, dir)
			results := collectResults(it, dir, *limit)

			table := tablewriter.NewWriter(io.out)
			table.SetHeader([]string{"id"})
			for _, id := range results {
				table.Append([]string{fmt.Sprintf("%d", id)})
			}
			table.Render()
			io.Printf("%d result(s)\n", len(results))
			return nil
		},
	}
}
