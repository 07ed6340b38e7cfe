// Package compiler chains the scanner, parser and emitter into a single
// source-to-unit pipeline.
package compiler

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agenthands/nlisp/pkg/compiler/ast"
	"github.com/agenthands/nlisp/pkg/compiler/emitter"
	"github.com/agenthands/nlisp/pkg/compiler/lexer"
	"github.com/agenthands/nlisp/pkg/compiler/parser"
	"github.com/agenthands/nlisp/pkg/vm"
)

var scannerPool = sync.Pool{
	New: func() any { return lexer.NewScanner(nil) },
}

// Parse builds the syntax tree of src.
func Parse(src []byte) (ast.Expr, error) {
	s := scannerPool.Get().(*lexer.Scanner)
	defer func() {
		s.Reset(nil)
		scannerPool.Put(s)
	}()
	s.Reset(src)
	return parser.NewParser(s, src).Parse()
}

// ParseTokens builds the syntax tree from toks, the already scanned tokens
// of src.
func ParseTokens(src []byte, toks []lexer.Token) (ast.Expr, error) {
	return parser.NewParser(lexer.NewTokens(toks), src).Parse()
}

// Compile parses src and generates its unit.
func Compile(src []byte) (*vm.Unit, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return emitter.Emit(root)
}

// FileResult is the outcome of compiling one file. Err holds read and
// compile errors; the unit is nil when Err is set.
type FileResult struct {
	Path string
	Unit *vm.Unit
	Err  error
}

// CompileFiles compiles each file into its own unit, at most limit at a
// time (no limit when limit <= 0). Results are in the order of paths.
// A failing file does not stop the others; the returned error is only set
// when ctx is cancelled.
func CompileFiles(ctx context.Context, paths []string, limit int) ([]FileResult, error) {
	results := make([]FileResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, path := range paths {
		i, path := i, path

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			results[i].Path = path
			src, err := os.ReadFile(path)
			if err != nil {
				results[i].Err = fmt.Errorf("read %s: %w", path, err)
				return nil
			}
			results[i].Unit, results[i].Err = Compile(src)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
