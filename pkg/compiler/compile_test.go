package compiler_test

import (
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/agenthands/nlisp/pkg/compiler"
	"github.com/agenthands/nlisp/pkg/compiler/lexer"
	"github.com/agenthands/nlisp/pkg/compiler/parser"
	"github.com/agenthands/nlisp/pkg/core/diag"
	"github.com/agenthands/nlisp/pkg/core/value"
	"github.com/agenthands/nlisp/pkg/vm"
)

var update = flag.Bool("update", false, "rewrite golden files")

// render compiles and runs src the way the CLI does and returns what it
// would print.
func render(src []byte) string {
	u, err := compiler.Compile(src)
	if err != nil {
		return diag.Format(err, true) + "\n"
	}
	v, err := vm.Invoke(u, vm.DefaultGas)
	if err != nil {
		return diag.Format(err, true) + "\n"
	}
	return u.Format(v) + "\n"
}

func TestGoldenPrograms(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.nl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no programs under testdata")
	}

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".nl")
		t.Run(name, func(t *testing.T) {
			src, err := os.ReadFile(file)
			if err != nil {
				t.Fatal(err)
			}
			got := render(src)

			goldenPath := strings.TrimSuffix(file, ".nl") + ".golden"
			if *update {
				if err := os.WriteFile(goldenPath, []byte(got), 0o644); err != nil {
					t.Fatal(err)
				}
				return
			}
			want, err := os.ReadFile(goldenPath)
			if err != nil {
				t.Fatalf("missing golden file (run with -update): %v", err)
			}
			if got != string(want) {
				t.Errorf("output mismatch\ngot:\n%s\nwant:\n%s", got, want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	root, err := compiler.Parse([]byte("(fn square (x) (* x x))"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := `FunctionDef("square", ["x"], BinaryExpr("*", Identifier("x"), Identifier("x")))`
	if root.String() != want {
		t.Errorf("expected %s, got %s", want, root.String())
	}

	if _, err := compiler.Parse(nil); !errors.Is(err, diag.ErrEmptyProgram) {
		t.Errorf("expected empty program error, got %v", err)
	}
	if _, err := compiler.Parse([]byte("  ; only a comment\n")); !errors.Is(err, diag.ErrEmptyProgram) {
		t.Errorf("expected empty program error for a comment, got %v", err)
	}
}

func TestParseTokens(t *testing.T) {
	src := []byte("(let (x 2) (* x 3))")
	toks := lexer.Tokenize(src)

	fromTokens, err := compiler.ParseTokens(src, toks)
	if err != nil {
		t.Fatalf("ParseTokens failed: %v", err)
	}
	direct, err := compiler.Parse(src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if fromTokens.String() != direct.String() {
		t.Errorf("token replay parsed differently:\n%s\n%s", fromTokens, direct)
	}
}

func TestParseConcurrent(t *testing.T) {
	srcs := []string{"(+ 1 2)", "(fn f (x) x)", "(let (s \"a\") s)", "(while 0 1)"}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			want, _ := parser.NewParser(lexer.NewScanner([]byte(src)), []byte(src)).Parse()
			got, err := compiler.Parse([]byte(src))
			if err != nil || got.String() != want.String() {
				t.Errorf("Parse(%q) = %v, %v", src, got, err)
			}
		}(srcs[i%len(srcs)])
	}
	wg.Wait()
}

func TestCompileAndCall(t *testing.T) {
	u, err := compiler.Compile([]byte("(fn square (x) (* x x)) (square 5)"))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	v, err := vm.Invoke(u, vm.DefaultGas)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if v != value.Int(25) {
		t.Errorf("expected 25, got %s", u.Format(v))
	}

	// The unit stays callable by name from the host.
	v, err = vm.Call(u, "square", vm.DefaultGas, value.Float(1.5))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if v != value.Float(2.25) {
		t.Errorf("expected 2.25, got %s", u.Format(v))
	}
}

func TestCompileFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	paths := []string{
		write("a.nl", "(fn f () 1) (f)"),
		write("b.nl", "(g)"),
		filepath.Join(dir, "missing.nl"),
		write("c.nl", "(fn f () 3) (f)"),
	}

	results, err := compiler.CompileFiles(context.Background(), paths, 2)
	if err != nil {
		t.Fatalf("CompileFiles failed: %v", err)
	}
	if len(results) != len(paths) {
		t.Fatalf("expected %d results, got %d", len(paths), len(results))
	}
	for i, r := range results {
		if r.Path != paths[i] {
			t.Errorf("result %d: expected path %s, got %s", i, paths[i], r.Path)
		}
	}

	// Each file is its own unit, so both may define f.
	for _, i := range []int{0, 3} {
		if results[i].Err != nil {
			t.Fatalf("%s: %v", paths[i], results[i].Err)
		}
	}
	v, err := vm.Invoke(results[3].Unit, 100)
	if err != nil || v != value.Int(3) {
		t.Errorf("c.nl: expected 3, got %v (%v)", v, err)
	}

	if !errors.Is(results[1].Err, diag.ErrUndefinedFunction) {
		t.Errorf("b.nl: expected undefined function, got %v", results[1].Err)
	}
	if !errors.Is(results[2].Err, os.ErrNotExist) || results[2].Unit != nil {
		t.Errorf("missing.nl: expected a not-exist error, got %v", results[2].Err)
	}
}

func TestCompileFilesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := compiler.CompileFiles(ctx, []string{"testdata/square.nl"}, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func FuzzCompile(f *testing.F) {
	seeds, _ := filepath.Glob(filepath.Join("testdata", "*.nl"))
	for _, path := range seeds {
		if src, err := os.ReadFile(path); err == nil {
			f.Add(src)
		}
	}
	f.Add([]byte(`(let (x "a" y 2.5) (set x (! (- y))))`))
	f.Add([]byte("((("))

	f.Fuzz(func(t *testing.T, src []byte) {
		u, err := compiler.Compile(src)
		if err != nil {
			if diag.Code(err) == "" {
				t.Fatalf("compile error is not a diagnostic: %v", err)
			}
			return
		}
		if err := u.Validate(); err != nil {
			t.Fatalf("compiler produced an invalid unit: %v", err)
		}
		if _, err := vm.Invoke(u, 10_000); err != nil && diag.Code(err) == "" {
			t.Fatalf("runtime error is not a diagnostic: %v", err)
		}
	})
}
