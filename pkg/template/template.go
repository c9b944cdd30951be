// Package template interpolates {{placeholders}} in action parameters.
//
// A placeholder naming a run variable ("{{email}}") is replaced by its value.
// Anything else inside the braces is evaluated as an expression against the
// same environment used by condition nodes, so "{{variables.first_name}}" and
// "{{upper(name)}}" also work. Missing values render as the empty string.
package template

import (
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/nexuspro/flows/pkg/expression"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Renderer renders parameter templates.
type Renderer struct {
	evaluator *expression.Evaluator
}

// NewRenderer creates a renderer that shares the given evaluator's program cache.
func NewRenderer(evaluator *expression.Evaluator) *Renderer {
	if evaluator == nil {
		evaluator = expression.NewEvaluator()
	}

	return &Renderer{evaluator: evaluator}
}

// Render interpolates every placeholder in input.
func (r *Renderer) Render(input string, variables map[string]string) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}

	var renderErr error

	out := placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]

		if value, ok := variables[name]; ok {
			return value
		}

		value, err := r.evaluator.Eval(name, variables)
		if err != nil {
			if renderErr == nil {
				renderErr = fmt.Errorf("placeholder %q: %w", match, err)
			}

			return ""
		}

		if value == nil {
			return ""
		}

		return fmt.Sprint(value)
	})

	if renderErr != nil {
		return "", renderErr
	}

	return out, nil
}

// RenderParams renders every value of params and returns a new map.
func (r *Renderer) RenderParams(params map[string]string, variables map[string]string) (map[string]string, error) {
	rendered := maps.Clone(params)
	if rendered == nil {
		return map[string]string{}, nil
	}

	for key, value := range params {
		out, err := r.Render(value, variables)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", key, err)
		}

		rendered[key] = out
	}

	return rendered, nil
}
