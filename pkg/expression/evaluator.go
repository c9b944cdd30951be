// Package expression evaluates condition expressions against run variables.
//
// Expressions use the expr language. The environment exposes every run
// variable twice: under "variables" with numeric-looking values converted to
// numbers, and under "raw" exactly as stored. Variables whose names are valid
// identifiers are also available at the top level, so "amount > 100" and
// "variables.amount > 100" are equivalent.
package expression

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	// ErrCompile is returned for expressions that do not parse.
	ErrCompile = errors.New("expression does not compile")

	// ErrEvaluate is returned when evaluation fails at runtime.
	ErrEvaluate = errors.New("expression evaluation failed")

	// ErrNotBoolean is returned when a condition yields a non-boolean value.
	ErrNotBoolean = errors.New("expression did not evaluate to a boolean")
)

const (
	variablesKey = "variables"
	rawKey       = "raw"
)

var functions = []expr.Option{
	expr.Function("defined", func(params ...any) (any, error) {
		return params[0] != nil, nil
	}, new(func(any) bool)),
}

// Evaluator compiles and caches expressions.
type Evaluator struct {
	programs sync.Map
}

// NewEvaluator creates an evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Compile checks that the expression parses. Unknown identifiers are allowed
// because variables only exist at run time.
func (e *Evaluator) Compile(expression string) error {
	_, err := e.program(expression)

	return err
}

// Eval evaluates the expression and returns its raw result.
func (e *Evaluator) Eval(expression string, variables map[string]string) (any, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	out, err := expr.Run(program, Env(variables))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrEvaluate, expression, err)
	}

	return out, nil
}

// EvalBool evaluates a condition expression.
func (e *Evaluator) EvalBool(expression string, variables map[string]string) (bool, error) {
	out, err := e.Eval(expression, variables)
	if err != nil {
		return false, err
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q returned %T", ErrNotBoolean, expression, out)
	}

	return result, nil
}

func (e *Evaluator) program(expression string) (*vm.Program, error) {
	if cached, ok := e.programs.Load(expression); ok {
		return cached.(*vm.Program), nil
	}

	if strings.TrimSpace(expression) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrCompile)
	}

	// expr.Env must come before AllowUndefinedVariables.
	opts := []expr.Option{
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	}
	opts = append(opts, functions...)

	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrCompile, expression, err)
	}

	e.programs.Store(expression, program)

	return program, nil
}

// Env builds the evaluation environment for a set of run variables.
func Env(variables map[string]string) map[string]any {
	typed := make(map[string]any, len(variables))
	raw := make(map[string]any, len(variables))

	for name, value := range variables {
		typed[name] = coerce(value)
		raw[name] = value
	}

	env := make(map[string]any, len(variables)+2)

	for name, value := range typed {
		if isIdentifier(name) {
			env[name] = value
		}
	}

	env[variablesKey] = typed
	env[rawKey] = raw

	return env
}

func coerce(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}

	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return n
	}

	return value
}

func isIdentifier(name string) bool {
	if name == "" || name == variablesKey || name == rawKey {
		return false
	}

	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}

	return true
}
