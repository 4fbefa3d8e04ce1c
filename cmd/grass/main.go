// grass CLI - runs the demo counter programs through the tracing engine
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"gopkg.in/yaml.v3"

	"github.com/chazu/grass/demo"
	"github.com/chazu/grass/driver"
	"github.com/chazu/grass/manifest"
	"github.com/chazu/grass/pkg/bytecode"
	"github.com/chazu/grass/tracestore"
	"github.com/chazu/grass/vm"
)

var programs = map[string][]uint64{
	"counter":     demo.Counter,
	"interleaved": demo.Interleaved,
}

func main() {
	configDir := flag.String("config", ".", "Directory to search upwards for grass.toml")
	program := flag.String("program", "counter", "Demo program to run: counter, interleaved")
	cell := flag.Uint64("cell", 10, "Initial cell value")
	noTrace := flag.Bool("no-trace", false, "Disable tracing; every merge point is a no-op")
	dump := flag.Bool("dump", false, "Print the engine program and the recorded traces")
	stats := flag.Bool("stats", false, "Print engine statistics as YAML")
	journal := flag.String("journal", "", "Trace journal database (overrides grass.toml)")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides grass.toml)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: grass [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a demo counter program natively with the engine called at its loop header.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  grass -program interleaved -cell 10\n")
		fmt.Fprintf(os.Stderr, "  grass -journal traces.db -stats   # journal traces, print counters\n")
		fmt.Fprintf(os.Stderr, "  grass -dump -no-trace             # show the engine bytecode only\n")
	}
	flag.Parse()

	user, ok := programs[*program]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown program %q\n", *program)
		flag.Usage()
		os.Exit(2)
	}

	m, err := loadManifest(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *verbosity >= 0 {
		m.Log.Verbosity = *verbosity
	}
	if *journal != "" {
		m.Journal.Path = *journal
	}
	configureLog(m)

	opts := m.DriverOptions()
	if *noTrace {
		opts.Disabled = true
	}
	d := driver.New(driver.WithOptions(opts))

	if path := m.JournalPath(); path != "" {
		store, err := tracestore.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		if m.Journal.Load {
			traces, err := store.Latest()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: cannot warm from %s: %v\n", path, err)
			} else {
				d.Warm(traces)
			}
		}
		d.WithJournal(store)
	}

	got, pc, err := demo.Run(d, user, *cell)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: cell=%d pc=%d\n", *program, got, pc)

	if want, wantPC := demo.RunNative(user, *cell); want != got || wantPC != pc {
		fmt.Fprintf(os.Stderr, "Error: engine diverged from native run (cell=%d pc=%d)\n", want, wantPC)
		os.Exit(1)
	}

	if *dump {
		printDump(os.Stdout, d.Traces())
	}
	if *stats {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(d.Stats()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		enc.Close()
	}
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

func configureLog(m *manifest.Manifest) {
	if path := m.LogPath(); path != "" {
		commonlog.Configure(m.Log.Verbosity, &path)
		return
	}
	commonlog.Configure(m.Log.Verbosity, nil)
}

func printDump(w io.Writer, traces []*vm.Trace) {
	color := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	fmt.Fprintln(w, heading("engine program", color))
	fmt.Fprint(w, demo.Program().Disassemble())

	for _, t := range traces {
		title := fmt.Sprintf("trace %016x from %s (%d ops, %d guards)", uint64(t.Key), t.Start, len(t.Code), t.Guards())
		fmt.Fprintln(w)
		fmt.Fprintln(w, heading(title, color))
		fmt.Fprint(w, bytecode.Disassemble(t.Code))
	}
}

func heading(s string, color bool) string {
	line := "# " + s + " " + strings.Repeat("-", max(0, 60-len(s)))
	if !color {
		return line
	}
	return "\033[1;36m" + line + "\033[0m"
}
