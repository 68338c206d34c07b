package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/dbzero-io/corestore/fixture"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut *os.File) int {
	globalFlags := flag.NewFlagSet("dbzctl", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	flagHelp := globalFlags.BoolP("help", "h", false, "show help")
	flagConfig := globalFlags.String("workspace-config", "", "path to a HuJSON workspace config file")
	flagVerbose := globalFlags.BoolP("verbose", "v", false, "enable debug logging")
	flagMetricsAddr := globalFlags.String("metrics-addr", "", "if set, serve Prometheus metrics (recycler/storage counters and gauges) on this address")

	if err := globalFlags.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	level := zerolog.InfoLevel
	if *flagVerbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: errOut}).With().Timestamp().Logger().Level(level)

	cfg := fixture.Config{}
	if *flagConfig != "" {
		data, err := os.ReadFile(*flagConfig)
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}
		cfg, err = fixture.LoadConfig(data)
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}
	}

	var registry *prometheus.Registry
	if *flagMetricsAddr != "" {
		registry = prometheus.NewRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *flagMetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("dbzctl: metrics server stopped")
			}
		}()
	}

	sess := newSession(cfg, log, registry)
	defer func() {
		if err := sess.closeAll(); err != nil {
			fmt.Fprintln(errOut, "error closing session:", err)
		}
	}()

	reg := newRegistry(commands())
	help := helpCmd(reg)
	reg.commands = append(reg.commands, help)
	reg.byName[help.Name()] = help

	io := newIO(out, errOut)
	commandAndArgs := globalFlags.Args()

	if *flagHelp || len(commandAndArgs) == 0 {
		if *flagHelp {
			reg.printUsage(io)
			return 0
		}
		r := &repl{sess: sess, io: io, reg: reg}
		if err := r.run(); err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}
		return 0
	}

	if err := reg.dispatch(sess, io, commandAndArgs); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

// commands builds every command but help, which is appended separately
// once the registry it prints exists, per agent-task's allCommands.
func commands() []*command {
	return []*command{
		openCmd(),
		closeCmd(),
		listCmd(),
		statCmd(),
		commitCmd(),
		refreshCmd(),
		dumpCmd(),
		tagCmd(),
		queryCmd(),
	}
}
