package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/woozymasta/geosync/internal/geo"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

type Options struct {
	Input  string `short:"i" long:"in"     description:"Input GeoJSON file. Reads from stdin if empty"`
	Output string `short:"o" long:"out"    description:"Output file path. Writes to stdout if empty"`
	Format string `short:"f" long:"format" description:"Output format" choice:"text" choice:"json" choice:"yaml" default:"text"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Read Input
	var inputData []byte
	var err error

	if opts.Input != "" {
		inputData, err = os.ReadFile(opts.Input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input file: %v\n", err)
			os.Exit(1)
		}
	} else {
		inputData, err = io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading stdin: %v\n", err)
			os.Exit(1)
		}
	}

	fc, err := geo.Validate(inputData)
	if err != nil {
		var verr *geo.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "Invalid GeoJSON (%s): %v\n", verr.Kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "Invalid GeoJSON: %v\n", err)
		}
		os.Exit(2)
	}

	summary := geo.Summarize(fc)

	// marshal
	var outputData []byte
	switch opts.Format {
	case "yaml":
		outputData, err = yaml.Marshal(summary)
	case "json":
		outputData, err = json.MarshalIndent(summary, "", "  ")
	default:
		outputData = []byte(summary.String() + "\n")
		for _, c := range summary.ByGeometryType {
			outputData = fmt.Appendf(outputData, "  %-20s %d\n", c.Type, c.Count)
		}
		if b := summary.Bounds; b != nil {
			outputData = fmt.Appendf(outputData, "  bounds               [%g, %g, %g, %g]\n",
				b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling summary: %v\n", err)
		os.Exit(1)
	}

	if opts.Output != "" {
		err = os.WriteFile(opts.Output, outputData, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Summarized %d features to %s (format: %s)\n", summary.TotalFeatures, opts.Output, opts.Format)
	} else {
		fmt.Print(string(outputData))
	}
}
