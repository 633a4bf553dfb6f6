// Command configmigrate migrates a chart configuration or app state file
// between schema versions without a running server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/visualize-admin/visualization-tool-sub010/internal/appstate"
	"github.com/visualize-admin/visualization-tool-sub010/internal/chartconfig"
	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
	"github.com/visualize-admin/visualization-tool-sub010/internal/resolver"
)

// errStale is returned by -check when the document is below the current version.
var errStale = errors.New("document is not at the current version")

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "configmigrate: %v\n", err)
		}
		if errors.Is(err, errStale) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("configmigrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	family := fs.String("family", chartconfig.Family, "Document family: chart-config or app-state")
	to := fs.String("to", "", "Target version (default: current)")
	check := fs.Bool("check", false, "Only report whether the document is at the current version")
	dimensions := fs.String("dimensions", "", "JSON file of dimension metadata used by best-effort steps")
	timeout := fs.Duration("timeout", migrate.DefaultLookupTimeout, "Per-lookup timeout for dimension metadata")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: configmigrate [options] [file]

Migrate a configuration document read from file (or stdin) and print it.
Warnings are written to stderr.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := []migrate.Option{migrate.WithLookupTimeout(*timeout)}
	if *dimensions != "" {
		static, err := loadDimensions(*dimensions)
		if err != nil {
			return err
		}
		opts = append(opts, migrate.WithResolver(static))
	}

	var runner *migrate.Runner
	switch *family {
	case chartconfig.Family:
		runner = chartconfig.NewRunner(opts...)
	case appstate.Family:
		runner = appstate.NewRunner(opts...)
	default:
		return fmt.Errorf("unknown family %q", *family)
	}

	raw, err := readInput(fs.Arg(0), stdin)
	if err != nil {
		return err
	}
	doc, err := migrate.Parse(raw)
	if err != nil {
		return err
	}

	current := runner.Registry().CurrentVersion()
	if *check {
		v, _ := doc.Version()
		if v == current {
			fmt.Fprintf(stdout, "%s is current\n", current)
			return nil
		}
		fmt.Fprintf(stdout, "%q is behind %s\n", v, current)
		return errStale
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	result, err := runner.Migrate(ctx, doc, migrate.Options{ToVersion: *to})
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(stderr, "warning: %s %s: %s\n", w.Step, w.Code, w.Message)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result.Document); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return raw, nil
}

func loadDimensions(path string) (*resolver.Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dimensions %q: %w", path, err)
	}
	defer f.Close()
	return resolver.LoadStatic(f)
}
