//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package opa compiles and evaluates the operator-supplied Rego rules that extend the built-in modules.
package opa

import (
	"context"
	"fmt"
	"strings"

	"github.com/manetu/toolgate/internal/logging"
	"github.com/manetu/toolgate/pkg/common"
	"github.com/mohae/deepcopy"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/pkg/errors"
)

var logger = logging.GetLogger("opa")

const agent = "opa"

// Builtins is a set of builtin function names
type Builtins map[string]struct{}

// ParseBuiltins splits a comma-separated builtin list, ignoring blanks.
func ParseBuiltins(list string) Builtins {
	b := Builtins{}
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			b[name] = struct{}{}
		}
	}
	return b
}

// ParseRegoVersion maps "v0"/"v1" (empty means v1) to the OPA parser version.
func ParseRegoVersion(s string) (ast.RegoVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "v1":
		return ast.RegoV1, nil
	case "v0":
		return ast.RegoV0, nil
	}
	return ast.RegoUndefined, errors.Errorf("unknown rego version %q", s)
}

// Compiler turns Rego source into evaluable ASTs.
type Compiler struct {
	options *CompilerOptions
}

// Ast is a compiled module set, safe for concurrent evaluation.
type Ast struct {
	name     string
	compiler *ast.Compiler
	trace    bool
}

// Modules maps a module file name to its source.
type Modules map[string]string

// CompilerOptions contains configuration options for the compiler.
type CompilerOptions struct {
	regoVersion  ast.RegoVersion
	capabilities *ast.Capabilities
	trace        bool
}

// CompilerOptionFunc is a function that modifies CompilerOptions.
type CompilerOptionFunc func(*CompilerOptions)

// WithRegoVersion sets the rego version for the compiler.
func WithRegoVersion(regoVersion ast.RegoVersion) CompilerOptionFunc {
	return func(o *CompilerOptions) {
		o.regoVersion = regoVersion
	}
}

// WithCapabilities replaces the capability set.  Apply it before WithUnsafeBuiltins.
func WithCapabilities(capabilities *ast.Capabilities) CompilerOptionFunc {
	return func(o *CompilerOptions) {
		o.capabilities = capabilities
	}
}

// WithDefaultCapabilities resets the capabilities back to the default
func WithDefaultCapabilities() CompilerOptionFunc {
	return func(o *CompilerOptions) {
		o.capabilities = ast.CapabilitiesForThisVersion()
	}
}

// WithUnsafeBuiltins removes the named builtins from the capability set, so rules that call them fail to
// compile.  Apply it after WithCapabilities.
func WithUnsafeBuiltins(unsafe Builtins) CompilerOptionFunc {
	return func(o *CompilerOptions) {
		kept := make([]*ast.Builtin, 0, len(o.capabilities.Builtins))
		for _, b := range o.capabilities.Builtins {
			if _, drop := unsafe[b.Name]; !drop {
				kept = append(kept, b)
			}
		}
		o.capabilities.Builtins = kept
	}
}

// WithDefaultTracing enables rego tracing for every evaluation that does not override it with WithTrace.
func WithDefaultTracing(trace bool) CompilerOptionFunc {
	return func(o *CompilerOptions) {
		o.trace = trace
	}
}

// NewCompiler creates a new Compiler with the specified options.
func NewCompiler(options ...CompilerOptionFunc) *Compiler {
	opts := &CompilerOptions{
		regoVersion:  ast.RegoV1,
		capabilities: ast.CapabilitiesForThisVersion(),
		trace:        logger.IsTraceEnabled(),
	}
	for _, o := range options {
		o(opts)
	}

	return &Compiler{options: opts}
}

// Clone copies the compiler configuration, then applies options to the copy.
func (c *Compiler) Clone(options ...CompilerOptionFunc) *Compiler {
	opts := &CompilerOptions{
		regoVersion:  c.options.regoVersion,
		capabilities: deepcopy.Copy(c.options.capabilities).(*ast.Capabilities),
		trace:        c.options.trace,
	}
	for _, o := range options {
		o(opts)
	}

	return &Compiler{options: opts}
}

// Compile parses and compiles modules as one unit.
func (c *Compiler) Compile(name string, modules Modules) (*Ast, error) {
	parsed := make(map[string]*ast.Module, len(modules))

	for file, src := range modules {
		m, err := ast.ParseModuleWithOpts(file, src, ast.ParserOptions{RegoVersion: c.options.regoVersion})
		if err != nil {
			return nil, err
		}
		parsed[file] = m
	}

	compiler := ast.NewCompiler().WithCapabilities(c.options.capabilities)
	compiler.Compile(parsed)
	if compiler.Failed() {
		return nil, compiler.Errors
	}

	return &Ast{
		name:     name,
		compiler: compiler,
		trace:    c.options.trace,
	}, nil
}

// Name returns the name given at compile time.
func (p *Ast) Name() string {
	return p.name
}

// EvalOptions contains configuration options for policy evaluation.
type EvalOptions struct {
	trace bool
}

// EvalOptionFunc is a function that modifies EvalOptions.
type EvalOptionFunc func(*EvalOptions)

// WithTrace overrides tracing for a single evaluation.
func WithTrace(trace bool) EvalOptionFunc {
	return func(o *EvalOptions) {
		o.trace = trace
	}
}

// Evaluate runs queryStr against input and returns the first result.  An undefined query is an error.
func (p *Ast) Evaluate(ctx context.Context, queryStr string, input interface{}, options ...EvalOptionFunc) (rego.Result, *common.PolicyError) {
	opts := &EvalOptions{trace: p.trace}
	for _, o := range options {
		o(opts)
	}

	if logger.IsDebugEnabled() {
		logger.Debugf(agent, "Evaluate", "%s: query %s input %+v", p.name, queryStr, input)
	}

	query := rego.New(
		rego.Query(queryStr),
		rego.Compiler(p.compiler),
		rego.Input(input),
		rego.Trace(opts.trace),
	)

	results, err := query.Eval(ctx)
	if err != nil {
		return rego.Result{}, common.Errorf(common.EvaluationError, "%s: %v", p.name, err)
	}
	if len(results) == 0 {
		return rego.Result{}, common.Errorf(common.EvaluationError, "%s: query %s is undefined", p.name, queryStr)
	}

	if opts.trace {
		var buf strings.Builder
		rego.PrintTraceWithLocation(&buf, query)
		fmt.Println(buf.String())
	}

	return results[0], nil
}
