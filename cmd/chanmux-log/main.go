// Command chanmux-log views and analyzes channel client protocol traces.
//
// Trace files are written by the client when a protocol logger is configured,
// for example by running chanmux-listen with -protocol-log.
//
// Usage:
//
//	chanmux-log <command> [flags] <file.clog>
//
// Commands:
//
//	view     Print a trace one event per block
//	export   Convert a trace to JSON lines or CSV
//	filter   Copy matching events into a new trace
//	stats    Summarize connections and channels
//
// Examples:
//
//	# View only wire-layer events of one channel
//	chanmux-log view -layer wire -channel 6f1c2b9e-3d4a-4f5b-8c7d-9e0a1b2c3d4e client.clog
//
//	# Export to CSV
//	chanmux-log export -format csv -o client.csv client.clog
//
//	# Keep one connection only
//	chanmux-log filter -conn-id abc12345 -o filtered.clog client.clog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chanmux/chanmux-go/cmd/chanmux-log/commands"
)

const usage = `chanmux-log - channel client trace analyzer

Usage:
  chanmux-log <command> [flags] <file.clog>

Commands:
  view     Print a trace one event per block
  export   Convert a trace to JSON lines or CSV
  filter   Copy matching events into a new trace
  stats    Summarize connections and channels

Use "chanmux-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// parsePath parses args into fs and returns the single log file argument.
func parsePath(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func newFlagSet(name, summary, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "chanmux-log %s - %s\n\nUsage:\n  chanmux-log %s\n\nFlags:\n", name, summary, synopsis)
		fs.PrintDefaults()
	}
	return fs
}

func runView(args []string) {
	fs := newFlagSet("view", "Print a trace one event per block", "view [flags] <file.clog>")
	layer := fs.String("layer", "", "Filter by layer (transport, wire, client)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	channel := fs.String("channel", "", "Filter by channel ID")
	path := parsePath(fs, args)

	filter := commands.ViewFilter{ChannelID: *channel}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Convert a trace to JSON lines or CSV", "export [flags] <file.clog>")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := parsePath(fs, args)

	if err := commands.RunExport(path, *format, *output, os.Stdout); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Copy matching events into a new trace", "filter [flags] <file.clog>")
	output := fs.String("o", "", "Output file (required)")
	connID := fs.String("conn-id", "", "Filter by connection ID")
	channel := fs.String("channel", "", "Filter by channel ID")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	layer := fs.String("layer", "", "Filter by layer (transport, wire, client)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	path := parsePath(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, commands.FilterOptions{
		Output:    *output,
		ConnID:    *connID,
		ChannelID: *channel,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Layer:     *layer,
		Direction: *direction,
		Category:  *category,
	})
	if err != nil {
		fail(err)
	}
	fmt.Fprintf(os.Stderr, "%d events written to %s\n", n, *output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Summarize connections and channels", "stats <file.clog>")
	path := parsePath(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
