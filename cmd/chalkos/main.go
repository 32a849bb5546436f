// Chalkos CLI - the main entry point for running Chalk scripts
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/xyproto/env/v2"

	"github.com/minoca/chalkos/compiler"
	"github.com/minoca/chalkos/manifest"
	"github.com/minoca/chalkos/vm"
)

const (
	promptMain = "chalk> "
	promptCont = "   ... "
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	interactive := flag.Bool("i", false, "Start interactive REPL")
	noManifest := flag.Bool("no-manifest", false, "Skip chalkos.toml discovery")
	manifestDir := flag.String("manifest", env.Str("CHALKOS_MANIFEST"), "Directory to search for chalkos.toml (default: working directory)")
	boot := flag.Bool("boot", false, "Run the manifest's script phases inside a simulated process system")
	acctPath := flag.String("acct", "", "Print accounting records from a database and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: chalkos [options] [scripts...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs Chalk scripts, optionally configured by a chalkos.toml manifest.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  chalkos -i                # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  chalkos build.ck          # Run one script\n")
		fmt.Fprintf(os.Stderr, "  chalkos --manifest ./os   # Run the manifest's script phases\n")
		fmt.Fprintf(os.Stderr, "  chalkos --boot            # Run the phases inside a simulated process system\n")
		fmt.Fprintf(os.Stderr, "  chalkos --acct var/acct.db  # Inspect process accounting records\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)
	log := commonlog.GetLogger("cli")

	if *acctPath != "" {
		os.Exit(inspectAccounting(*acctPath))
	}

	interp := vm.NewInterpreter()
	defer interp.Destroy()

	ranSomething := false
	if !*noManifest {
		dir := *manifestDir
		if dir == "" {
			dir = "."
		}
		m, err := manifest.FindAndLoad(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if *boot {
			if m == nil {
				fmt.Fprintf(os.Stderr, "Error: --boot requires a chalkos.toml manifest\n")
				os.Exit(1)
			}
			os.Exit(runBoot(m, *verbose))
		}
		if m != nil {
			log.Debugf("using manifest in %s", m.Dir)
			ran, err := runManifest(interp, m, *verbose)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			ranSomething = ranSomething || ran
		}
	}

	for _, path := range flag.Args() {
		if err := runFile(interp, path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		ranSomething = true
	}

	if *interactive || !ranSomething {
		os.Exit(repl(interp))
	}
}

// runManifest loads every script the manifest names and executes the
// phases in order, then the entry script. Reports whether anything ran.
func runManifest(interp *vm.Interpreter, m *manifest.Manifest, verbose bool) (bool, error) {
	orderOf := func(dir string) int {
		for i, name := range m.Scripts.Order {
			if name == filepath.Base(dir) {
				return i
			}
		}
		return len(m.Scripts.Order)
	}

	ran := false
	orders := make(map[int]bool)
	for _, dir := range m.ScriptDirPaths() {
		paths, err := filepath.Glob(filepath.Join(dir, "*.ck"))
		if err != nil {
			return ran, err
		}
		sort.Strings(paths)
		order := orderOf(dir)
		for generation, path := range paths {
			if _, err := interp.LoadScriptFile(path, order, generation); err != nil {
				return ran, err
			}
			orders[order] = true
			if verbose {
				fmt.Printf("Loaded %s (phase %d)\n", path, order)
			}
		}
	}

	sorted := make([]int, 0, len(orders))
	for order := range orders {
		sorted = append(sorted, order)
	}
	sort.Ints(sorted)
	for _, order := range sorted {
		if err := interp.ExecuteDeferredScripts(order); err != nil {
			return ran, err
		}
		ran = true
	}

	if entry := m.EntryPath(); entry != "" {
		if err := runFile(interp, entry); err != nil {
			return ran, err
		}
		ran = true
	}
	return ran, nil
}

func runFile(interp *vm.Interpreter, path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = interp.Interpret(path, source)
	return err
}

func repl(interp *vm.Interpreter) int {
	home, _ := os.UserHomeDir()
	histPath := env.Str("CHALKOS_HISTORY", filepath.Join(home, ".chalk_history"))

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		code, ok := readByParseProbe(ln, promptMain, promptCont)
		if !ok {
			fmt.Println()
			return 0
		}
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		if trimmed == ":quit" {
			return 0
		}

		value, err := interp.Interpret("<repl>", []byte(code))
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			continue
		}
		if value != nil {
			fmt.Println(vm.FormatObject(value))
		}
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))
	}
}

// readByParseProbe gathers lines until the buffer parses, continuing on
// an unexpected end of input so block statements span prompts.
func readByParseProbe(ln *liner.State, prompt, cont string) (string, bool) {
	var b strings.Builder

	for {
		var line string
		var err error
		if b.Len() == 0 {
			line, err = ln.Prompt(prompt)
		} else {
			line, err = ln.Prompt(cont)
		}
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", true
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if _, perr := compiler.Parse("<repl>", []byte(src)); perr == nil {
			return src, true
		} else if isIncomplete(perr) {
			continue
		}
		return src, true
	}
}

func isIncomplete(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unexpected EOF") || strings.Contains(msg, "got EOF")
}
