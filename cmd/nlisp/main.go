package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/agenthands/nlisp/pkg/compiler"
	"github.com/agenthands/nlisp/pkg/compiler/ast"
	"github.com/agenthands/nlisp/pkg/compiler/emitter"
	"github.com/agenthands/nlisp/pkg/compiler/lexer"
	"github.com/agenthands/nlisp/pkg/core/diag"
	"github.com/agenthands/nlisp/pkg/vm"
	"github.com/agenthands/nlisp/pkg/watch"
)

const usage = `Usage: nlisp <command> [arguments]

Commands:
  run <file> [-gas N] [-tokens] [-ast] [-dis] [-time] [-json] [-watch]
  eval <code> [-gas N] [-tokens] [-ast] [-dis] [-time] [-json]
  build <file> [-o out.nlc]
  exec <unit.nlc> [-gas N] [-time] [-json]
  check [-j N] <file>...`

// errReported marks a failure whose diagnostic has already been printed.
var errReported = errors.New("reported")

func main() {
	log.SetFlags(0)
	log.SetPrefix("nlisp: ")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	c := &cli{stdout: os.Stdout, stderr: os.Stderr, colour: isTerminal(os.Stderr)}

	var err error
	switch os.Args[1] {
	case "run":
		err = c.run(os.Args[2:])
	case "eval":
		err = c.eval(os.Args[2:])
	case "build":
		err = c.build(os.Args[2:])
	case "exec":
		err = c.exec(os.Args[2:])
	case "check":
		err = c.check(os.Args[2:])
	case "help", "-h", "-help", "--help":
		fmt.Fprintln(os.Stdout, usage)
	default:
		fmt.Fprintln(os.Stderr, "Unknown command:", os.Args[1])
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	if err != nil {
		if !errors.Is(err, errReported) {
			log.Print(err)
		}
		os.Exit(1)
	}
}

type cli struct {
	stdout io.Writer
	stderr io.Writer
	colour bool
}

// execOptions are the flags shared by run, eval and exec.
type execOptions struct {
	gas        int
	showTokens bool
	showAST    bool
	showDis  bool
	timing   bool
	jsonDiag bool
}

func (o *execOptions) register(fs *flag.FlagSet, compiles bool) {
	fs.IntVar(&o.gas, "gas", vm.DefaultGas, "Maximum instruction limit")
	fs.BoolVar(&o.timing, "time", false, "Report compile and run times")
	fs.BoolVar(&o.jsonDiag, "json", false, "Print diagnostics as JSON")
	if compiles {
		fs.BoolVar(&o.showTokens, "tokens", false, "Print the token stream")
		fs.BoolVar(&o.showAST, "ast", false, "Print the syntax tree")
		fs.BoolVar(&o.showDis, "dis", false, "Print the compiled unit")
	}
}

func (c *cli) run(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var opts execOptions
	opts.register(fs, true)
	watchFile := fs.Bool("watch", false, "Rerun whenever the file changes")

	pos := parseInterspersed(fs, args)
	if len(pos) != 1 {
		return errors.New("usage: nlisp run <file> [-gas N] [-tokens] [-ast] [-dis] [-time] [-json] [-watch]")
	}
	path := pos[0]

	runOnce := func() error {
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return c.execute(path, src, opts)
	}

	if !*watchFile {
		return runOnce()
	}

	if err := runOnce(); err != nil && !errors.Is(err, errReported) {
		return err
	}

	w, err := watch.NewFSWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	defer w.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("watching %s", path)
	err = watch.File(ctx, w, path, watch.DefaultDebounce, func() {
		log.Printf("%s changed, rerunning", path)
		if err := runOnce(); err != nil && !errors.Is(err, errReported) {
			log.Print(err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *cli) eval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	var opts execOptions
	opts.register(fs, true)

	pos := parseInterspersed(fs, args)
	if len(pos) != 1 {
		return errors.New("usage: nlisp eval <code> [-gas N] [-tokens] [-ast] [-dis] [-time] [-json]")
	}
	return c.execute("", []byte(pos[0]), opts)
}

func (c *cli) build(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	out := fs.String("o", "", "Output unit path (default: <file>.nlc)")
	jsonDiag := fs.Bool("json", false, "Print diagnostics as JSON")

	pos := parseInterspersed(fs, args)
	if len(pos) != 1 {
		return errors.New("usage: nlisp build <file> [-o out.nlc]")
	}
	path := pos[0]
	if *out == "" {
		*out = strings.TrimSuffix(path, filepath.Ext(path)) + ".nlc"
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	u, err := compiler.Compile(src)
	if err != nil {
		return c.report(path, err, *jsonDiag)
	}
	return writeUnit(*out, u)
}

func writeUnit(path string, u *vm.Unit) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return u.Encode(f)
}

func (c *cli) exec(args []string) error {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	var opts execOptions
	opts.register(fs, false)

	pos := parseInterspersed(fs, args)
	if len(pos) != 1 {
		return errors.New("usage: nlisp exec <unit.nlc> [-gas N] [-time] [-json]")
	}
	path := pos[0]

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	u, err := vm.DecodeUnit(f)
	if err != nil {
		return c.report(path, err, opts.jsonDiag)
	}
	return c.invoke(path, u, opts)
}

func (c *cli) check(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	jobs := fs.Int("j", runtime.NumCPU(), "Number of files compiled in parallel")
	jsonDiag := fs.Bool("json", false, "Print diagnostics as JSON")

	paths := parseInterspersed(fs, args)
	if len(paths) == 0 {
		return errors.New("usage: nlisp check [-j N] <file>...")
	}

	results, err := compiler.CompileFiles(context.Background(), paths, *jobs)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			c.report(r.Path, r.Err, *jsonDiag)
			continue
		}
		fmt.Fprintf(c.stdout, "%s: ok (%d functions)\n", r.Path, len(r.Unit.Functions))
	}
	if failed > 0 {
		log.Printf("%d of %d files failed", failed, len(results))
		return errReported
	}
	return nil
}

// execute compiles and runs one program. path is empty for eval.
func (c *cli) execute(path string, src []byte, opts execOptions) error {
	start := time.Now()

	var root ast.Expr
	var err error
	if opts.showTokens {
		toks := lexer.Tokenize(src)
		for _, tok := range toks {
			fmt.Fprintf(c.stdout, "%-6s %-9s %q\n", tok.Pos(), tok.Kind, tok.Text(src))
		}
		root, err = compiler.ParseTokens(src, toks)
	} else {
		root, err = compiler.Parse(src)
	}
	if err != nil {
		return c.report(path, err, opts.jsonDiag)
	}
	if opts.showAST {
		fmt.Fprintln(c.stdout, root.String())
	}

	u, err := emitter.Emit(root)
	if err != nil {
		return c.report(path, err, opts.jsonDiag)
	}
	if opts.showDis {
		fmt.Fprint(c.stdout, u.Disassemble())
	}
	if opts.timing {
		log.Printf("compiled in %s", time.Since(start))
	}

	return c.invoke(path, u, opts)
}

func (c *cli) invoke(path string, u *vm.Unit, opts execOptions) error {
	start := time.Now()
	v, err := vm.Invoke(u, opts.gas)
	if opts.timing {
		log.Printf("ran in %s", time.Since(start))
	}
	if err != nil {
		return c.report(path, err, opts.jsonDiag)
	}
	fmt.Fprintln(c.stdout, u.Format(v))
	return nil
}

// report prints err as a diagnostic and returns errReported.
func (c *cli) report(path string, err error, asJSON bool) error {
	fmt.Fprintln(c.stderr, c.renderDiagnostic(path, err, asJSON))
	return errReported
}

func (c *cli) renderDiagnostic(path string, err error, asJSON bool) string {
	if asJSON {
		return diag.Format(err, false)
	}

	out := diag.Format(err, true)
	if path != "" {
		var de *diag.Error
		if errors.As(err, &de) && de.Pos.IsValid() {
			out = strings.Replace(out, "--> ", "--> "+path+":", 1)
		} else {
			out = strings.Replace(out, "--> "+diag.Pos{}.String(), "--> "+path, 1)
		}
	}
	if c.colour {
		out = "\x1b[1;31merror\x1b[0m" + strings.TrimPrefix(out, "error")
	}
	return out
}

// parseInterspersed parses fs from args, allowing flags both before and
// after positional arguments, and returns the positional ones.
func parseInterspersed(fs *flag.FlagSet, args []string) []string {
	var pos []string
	for {
		fs.Parse(args)
		args = fs.Args()
		if len(args) == 0 {
			return pos
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}
