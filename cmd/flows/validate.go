package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nexuspro/flows/pkg/graph"
	"github.com/nexuspro/flows/pkg/services"
	"github.com/urfave/cli/v3"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a graph document without saving it",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Document format (json, yaml); taken from the file extension when empty",
			},
		},
		Action: runValidate,
	}
}

func runValidate(_ context.Context, command *cli.Command) error {
	path := command.Args().First()
	if path == "" {
		return cli.Exit("missing graph file", 2)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read graph file: %w", err)
	}

	format := command.String("format")
	if format == "" {
		format = formatFromPath(path)
	}

	valid, err := validateDocument(command.Root().Writer, data, format)
	if err != nil {
		return err
	}

	if !valid {
		return cli.Exit("graph is invalid", 1)
	}

	return nil
}

// validateDocument prints the report for one graph document and whether it
// is valid. Schema mismatches are reported as violations.
func validateDocument(w io.Writer, data []byte, format string) (bool, error) {
	candidate, err := services.Decode(data, format)

	var result graph.ValidationResult

	var validationErr *graph.ValidationError

	switch {
	case err == nil:
		result = graph.Validate(candidate)
	case errors.As(err, &validationErr):
		result.Violations = validationErr.Violations
	default:
		return false, err
	}

	for _, violation := range result.Violations {
		fmt.Fprintf(w, "violation  %s\n", violation)
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "warning    %s\n", warning)
	}

	if !result.Valid() {
		return false, nil
	}

	reachable, unreachable := graph.Topology(candidate)
	fmt.Fprintf(w, "valid      %d reachable node(s): %s\n", len(reachable), strings.Join(reachable, " -> "))

	if len(unreachable) > 0 {
		fmt.Fprintf(w, "unreachable %s\n", strings.Join(unreachable, ", "))
	}

	return true, nil
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return services.FormatYAML
	case ".json":
		return services.FormatJSON
	default:
		return ""
	}
}
